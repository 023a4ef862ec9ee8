package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var planProjectID string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the phase plan the demo workflow would execute, without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.engine.PlanExecution(DemoWorkflowName, planProjectID)
		if err != nil {
			return fmt.Errorf("plan execution: %w", err)
		}
		fmt.Printf("%d phase(s):\n", plan.TotalPhases)
		for i, phase := range plan.Phases {
			fmt.Printf("  phase %d: %v\n", i+1, phase)
		}
		if !a.engine.CheckResourceAvailability(plan) {
			fmt.Println("warning: one or more required resources are currently unavailable")
		}
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planProjectID, "project-id", "demo-project", "project identifier the plan is computed for")
}
