package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	backupProjectID string
	backupOutPath   string
	backupIncr      bool
	backupBasePath  string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a ZIP backup of a project's files and metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		path := backupOutPath
		if path == "" {
			path = fmt.Sprintf("%s/%s_full.zip", a.cfg.BackupDirectory, backupProjectID)
		}

		ctx := cmd.Context()
		if backupIncr {
			if err := a.integ.CreateIncrementalBackup(ctx, backupProjectID, path, backupBasePath); err != nil {
				return fmt.Errorf("create incremental backup: %w", err)
			}
		} else {
			if err := a.integ.CreateProjectBackup(ctx, backupProjectID, path); err != nil {
				return fmt.Errorf("create backup: %w", err)
			}
		}
		fmt.Printf("backup written to %s\n", path)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupProjectID, "project-id", "demo-project", "project identifier to back up")
	backupCmd.Flags().StringVar(&backupOutPath, "out", "", "backup output path (defaults under the backup directory)")
	backupCmd.Flags().BoolVar(&backupIncr, "incremental", false, "produce an incremental backup against --base")
	backupCmd.Flags().StringVar(&backupBasePath, "base", "", "path to the prior full backup an incremental backup diffs against")
}
