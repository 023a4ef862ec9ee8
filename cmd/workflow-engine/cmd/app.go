package cmd

import (
	"fmt"

	"github.com/yukkuri-studio/workflow-core/pkg/config"
	"github.com/yukkuri-studio/workflow-core/pkg/demo"
	"github.com/yukkuri-studio/workflow-core/pkg/filesystem"
	"github.com/yukkuri-studio/workflow-core/pkg/integration"
	"github.com/yukkuri-studio/workflow-core/pkg/persistence/sqlite"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/engine"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/progress"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/resources"
)

// DemoWorkflowName is the workflow registered under for the CLI's run/plan
// subcommands; it is the only workflow this build ships.
const DemoWorkflowName = "yukkuri_demo"

// app bundles the wired dependencies a subcommand needs. Built fresh per
// invocation and closed by the caller.
type app struct {
	cfg     config.Config
	repo    *sqlite.Repository
	fs      *filesystem.Manager
	integ   *integration.Manager
	monitor *progress.Monitor
	engine  *engine.Engine
}

func newApp() (*app, error) {
	newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	repo, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	fs, err := filesystem.New(cfg.BaseDirectory)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("open project filesystem: %w", err)
	}

	integ := integration.New(repo, fs)
	monitor := progress.New(cfg.MaxEventHistory, cfg.SubscriberCleanupInterval())

	e := engine.New(resources.New().WithCapacity("cpu", cfg.MaxConcurrentSteps), cfg.MaxConcurrentSteps, cfg.DefaultTimeout())
	if err := e.RegisterWorkflow(DemoWorkflowName, demo.PipelineStepDefinitions()); err != nil {
		repo.Close()
		return nil, fmt.Errorf("register demo workflow: %w", err)
	}
	for _, step := range demo.PipelineSteps() {
		e.RegisterStepProcessor(step.Name(), step)
	}

	return &app{cfg: cfg, repo: repo, fs: fs, integ: integ, monitor: monitor, engine: e}, nil
}

func (a *app) Close() {
	a.monitor.Close()
	a.repo.Close()
}
