package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yukkuri-studio/workflow-core/pkg/demo"
	"github.com/yukkuri-studio/workflow-core/pkg/logger"
	"github.com/yukkuri-studio/workflow-core/pkg/project"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/progress"
)

var (
	runProjectID string
	runSubject   string
	runTargetLen float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register the demo workflow and execute it against a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := ensureProject(ctx, a, runProjectID, runSubject, runTargetLen); err != nil {
			return err
		}
		for _, def := range demo.PipelineStepDefinitions() {
			_ = a.repo.CreateWorkflowStep(ctx, runProjectID, def.StepID, def.StepName, workflow.StatusPending, map[string]any{})
		}

		sub := progress.NewChannelSubscriber(runProjectID+"-cli", 32, map[string]bool{runProjectID: true})
		a.monitor.Subscribe(sub)
		defer sub.Close()
		go func() {
			for ev := range sub.Events() {
				logger.InfoS(ctx, "progress event", "type", ev.Type, "project_id", ev.ProjectID, "step", ev.StepName)
			}
		}()

		cb := a.monitor.CreateProgressCallback(runProjectID, DemoWorkflowName)
		result, err := a.engine.ExecuteWorkflow(ctx, DemoWorkflowName, runProjectID, map[string]any{}, cb)
		if err != nil {
			return fmt.Errorf("execute workflow: %w", err)
		}

		for name, stepResult := range result.StepResults {
			_ = a.repo.SaveStepResult(ctx, runProjectID, name, stepResult.OutputData, stepResult.Status)
		}

		finalStatus := project.StatusCompleted
		if result.HasFailures() {
			finalStatus = project.StatusFailed
		}
		if err := a.repo.UpdateProject(ctx, runProjectID, map[string]any{"status": string(finalStatus)}); err != nil {
			return fmt.Errorf("update project status: %w", err)
		}

		fmt.Printf("workflow %s: status=%s completed=%d failed=%d skipped=%d\n",
			result.WorkflowName, result.Status, result.CompletedSteps, result.FailedSteps, result.SkippedSteps)
		if result.ErrorSummary != nil {
			fmt.Printf("error: %s (%s)\n", result.ErrorSummary.Error, result.ErrorSummary.Type)
		}
		return nil
	},
}

func ensureProject(ctx context.Context, a *app, id, subject string, targetLen float64) error {
	existing, err := a.repo.GetProject(ctx, id)
	if err != nil {
		return fmt.Errorf("look up project: %w", err)
	}
	if existing == nil {
		if _, err := a.repo.CreateProject(ctx, id, subject, targetLen, nil, project.StatusInProgress); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		if err := a.fs.CreateProjectDirectory(ctx, id); err != nil {
			return fmt.Errorf("create project directory: %w", err)
		}
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runProjectID, "project-id", "demo-project", "project identifier to run the workflow against")
	runCmd.Flags().StringVar(&runSubject, "subject", "a day in the life of two forest spirits", "project subject, used only when the project doesn't exist yet")
	runCmd.Flags().Float64Var(&runTargetLen, "target-length-minutes", 5, "target video length in minutes, used only when the project doesn't exist yet")
}
