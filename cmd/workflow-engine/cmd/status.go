package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusProjectID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a project's persisted status, step records, and file references",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		st, err := a.repo.GetProjectStatus(ctx, statusProjectID)
		if err != nil {
			return fmt.Errorf("get project status: %w", err)
		}
		if st == nil || st.Project == nil {
			return fmt.Errorf("project %q not found", statusProjectID)
		}

		fmt.Printf("project %s: subject=%q status=%s\n", st.Project.ID, st.Project.Subject, st.Project.Status)
		fmt.Printf("steps (%d):\n", len(st.Steps))
		for _, s := range st.Steps {
			fmt.Printf("  %2d. %-20s %s\n", s.StepNumber, s.StepName, s.Status)
		}
		fmt.Printf("files (%d):\n", len(st.Files))
		for _, f := range st.Files {
			fmt.Printf("  %-10s %-10s %s\n", f.FileType, f.FileCategory, f.FilePath)
		}

		if live, ok := a.engine.GetExecutionStatus(statusProjectID); ok {
			fmt.Printf("live execution: completed=%d failed=%d running=%d pending=%d\n",
				live.Completed, live.Failed, live.Running, live.Pending)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusProjectID, "project-id", "demo-project", "project identifier to report status for")
}
