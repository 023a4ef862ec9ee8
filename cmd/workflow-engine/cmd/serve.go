package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yukkuri-studio/workflow-core/pkg/logger"
)

// serveCmd is a placeholder long-running mode: it wires the same
// dependencies the other subcommands use and blocks until a shutdown
// signal arrives, the way a future HTTP/RPC front end would. No transport
// is implemented here; a real deployment would register one against
// a.monitor and a.engine before this select.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Wire the engine and block, ready for a front end to be attached",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		logger.InfoS(ctx, "workflow-engine serving", "base_directory", a.cfg.BaseDirectory, "database_path", a.cfg.DatabasePath)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.InfoS(ctx, "shutdown signal received, stopping")
		for _, projectID := range a.engine.ListActiveExecutions() {
			a.engine.CancelWorkflow(projectID, "server shutdown")
		}
		return nil
	},
}
