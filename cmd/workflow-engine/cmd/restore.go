package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	restoreBackupPath string
	restoreProjectID  string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a project from a ZIP backup into a (new) project id",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.integ.RestoreProjectFromBackup(cmd.Context(), restoreBackupPath, restoreProjectID); err != nil {
			return fmt.Errorf("restore backup: %w", err)
		}
		fmt.Printf("restored %s into project %s\n", restoreBackupPath, restoreProjectID)
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreBackupPath, "backup", "", "path to the backup ZIP to restore")
	restoreCmd.Flags().StringVar(&restoreProjectID, "project-id", "", "project identifier to restore into")
	restoreCmd.MarkFlagRequired("backup")
	restoreCmd.MarkFlagRequired("project-id")
}
