package demo

import (
	"context"
	"testing"
	"time"

	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/engine"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/resources"
)

func TestPipelineRunsToCompletion(t *testing.T) {
	e := engine.New(resources.New().WithCapacity("cpu", 2), 3, 30*time.Second)

	if err := e.RegisterWorkflow("yukkuri_demo", PipelineStepDefinitions()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	for _, step := range PipelineSteps() {
		e.RegisterStepProcessor(step.Name(), step)
	}

	result, err := e.ExecuteWorkflow(context.Background(), "yukkuri_demo", "proj-demo", map[string]any{}, nil)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if result.Status != workflow.WorkflowCompleted {
		t.Fatalf("expected workflow to complete, got %v (errors: %+v)", result.Status, result.ErrorSummary)
	}
	if result.CompletedSteps != 4 {
		t.Fatalf("expected 4 completed steps, got %d", result.CompletedSteps)
	}

	final := result.StepResults["video_composition"]
	if final == nil || final.Status != workflow.StatusCompleted {
		t.Fatalf("expected video_composition to complete, got %+v", final)
	}
	if final.OutputData["video_path"] != "files/final/output.mp4" {
		t.Fatalf("unexpected final output: %+v", final.OutputData)
	}
}

func TestPlanExecutionOrdersPhases(t *testing.T) {
	e := engine.New(resources.New(), 3, 30*time.Second)
	if err := e.RegisterWorkflow("yukkuri_demo", PipelineStepDefinitions()); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	for _, step := range PipelineSteps() {
		e.RegisterStepProcessor(step.Name(), step)
	}

	plan, err := e.PlanExecution("yukkuri_demo", "proj-demo")
	if err != nil {
		t.Fatalf("PlanExecution: %v", err)
	}
	if len(plan.Phases) != 3 {
		t.Fatalf("expected 3 phases (theme; script+title; composition), got %d: %+v", len(plan.Phases), plan.Phases)
	}
	if len(plan.Phases[0]) != 1 || plan.Phases[0][0] != "theme_selection" {
		t.Fatalf("expected theme_selection alone in phase 0, got %+v", plan.Phases[0])
	}
}
