package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yukkuri-studio/workflow-core/pkg/config"
	"github.com/yukkuri-studio/workflow-core/pkg/logger"
)

var (
	configFile   string
	dbPath       string
	baseDir      string
	backupDir    string
	logLevel     string
	maxConcurrent int
)

var rootCmd = &cobra.Command{
	Use:   "workflow-engine",
	Short: "Drives Yukkuri production workflows through the execution engine",
	Long: `workflow-engine registers and executes DAGs of production steps against
a project, backed by a SQLite metadata store and a project-scoped filesystem.`,
}

// Execute is the CLI entry point.
func Execute() {
	rootCmd.AddCommand(runCmd, planCmd, statusCmd, backupCmd, restoreCmd, serveCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override the SQLite database path")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "override the project filesystem base directory")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "override the backup output directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().IntVar(&maxConcurrent, "max-concurrent-steps", 0, "override max_concurrent_steps")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if baseDir != "" {
		cfg.BaseDirectory = baseDir
	}
	if backupDir != "" {
		cfg.BackupDirectory = backupDir
	}
	if maxConcurrent > 0 {
		cfg.MaxConcurrentSteps = maxConcurrent
	}
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger() *slog.Logger {
	sc := logger.DefaultSlogConfig()
	sc.Level = parseLevel(logLevel)
	l := logger.NewSlogLogger(sc)
	logger.InitGlobalSlogger(sc)
	return l
}
