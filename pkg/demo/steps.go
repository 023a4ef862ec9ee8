// Package demo provides small in-memory Step implementations that
// exercise the engine end to end: enough of the Yukkuri pipeline's shape
// to drive a workflow through several phases without any real TTS,
// rendering, or upload backend wired in.
package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
)

// Func adapts a plain function into a workflow.Step, the way the
// teacher's worker service wraps handler functions for registration.
type Func struct {
	StepName     string
	Dependencies []string
	Estimate     time.Duration
	Run          func(ctx context.Context, input map[string]any) (map[string]any, error)
}

func (f *Func) Name() string { return f.StepName }

func (f *Func) Execute(ctx context.Context, stepCtx *workflow.StepExecutionContext, input map[string]any) (*workflow.StepResult, error) {
	start := time.Now()
	out, err := f.Run(ctx, input)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return &workflow.StepResult{
			Status:               workflow.StatusFailed,
			ErrorMessage:         err.Error(),
			ExecutionTimeSeconds: elapsed,
		}, err
	}
	return &workflow.StepResult{
		Status:               workflow.StatusCompleted,
		OutputData:           out,
		ExecutionTimeSeconds: elapsed,
	}, nil
}

func (f *Func) ValidateInput(input map[string]any) bool { return true }

func (f *Func) RequiredDependencies() []string { return f.Dependencies }

func (f *Func) CanRunConcurrentlyWith(other string) bool { return true }

func (f *Func) EstimateExecutionTime(input map[string]any) time.Duration { return f.Estimate }

// PipelineStepDefinitions returns a small four-step Yukkuri-shaped demo
// workflow: theme selection runs first, script generation and title
// generation then run in parallel, and video composition depends on both
// script and title.
func PipelineStepDefinitions() []workflow.StepDefinition {
	return []workflow.StepDefinition{
		{StepID: 1, StepName: "theme_selection", DisplayName: "Theme Selection", Priority: workflow.PriorityNormal, CanRunParallel: true},
		{StepID: 2, StepName: "script_generation", DisplayName: "Script Generation", Dependencies: []string{"theme_selection"}, Priority: workflow.PriorityNormal},
		{StepID: 3, StepName: "title_generation", DisplayName: "Title Generation", Dependencies: []string{"theme_selection"}, Priority: workflow.PriorityNormal},
		{StepID: 4, StepName: "video_composition", DisplayName: "Video Composition", Dependencies: []string{"script_generation", "title_generation"}, Priority: workflow.PriorityHigh, RequiredResources: []string{"cpu"}},
	}
}

// PipelineSteps returns the Func implementations matching
// PipelineStepDefinitions, each producing deterministic placeholder output
// from its input.
func PipelineSteps() []*Func {
	return []*Func{
		{
			StepName: "theme_selection",
			Estimate: 2 * time.Second,
			Run: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"theme": "daily life of two forest spirits"}, nil
			},
		},
		{
			StepName:     "script_generation",
			Dependencies: []string{"theme_selection"},
			Estimate:     5 * time.Second,
			Run: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				theme, _ := input["theme"].(string)
				return map[string]any{"script": fmt.Sprintf("A script about %s", theme)}, nil
			},
		},
		{
			StepName:     "title_generation",
			Dependencies: []string{"theme_selection"},
			Estimate:     1 * time.Second,
			Run: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				theme, _ := input["theme"].(string)
				return map[string]any{"title": fmt.Sprintf("Episode: %s", theme)}, nil
			},
		},
		{
			StepName:     "video_composition",
			Dependencies: []string{"script_generation", "title_generation"},
			Estimate:     10 * time.Second,
			Run: func(ctx context.Context, input map[string]any) (map[string]any, error) {
				script, _ := input["script"].(string)
				title, _ := input["title"].(string)
				return map[string]any{
					"video_path": "files/final/output.mp4",
					"summary":    fmt.Sprintf("%s | %s", title, script),
				}, nil
			},
		},
	}
}
