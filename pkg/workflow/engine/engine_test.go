package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/resources"
)

type recordingStep struct {
	name    string
	deps    []string
	fail    bool
	output  map[string]any
}

func (s *recordingStep) Name() string { return s.name }

func (s *recordingStep) Execute(ctx context.Context, stepCtx *workflow.StepExecutionContext, input map[string]any) (*workflow.StepResult, error) {
	if s.fail {
		return nil, errors.New("step failed")
	}
	out := map[string]any{s.name: true}
	for k, v := range s.output {
		out[k] = v
	}
	return &workflow.StepResult{Status: workflow.StatusCompleted, OutputData: out}, nil
}

func (s *recordingStep) ValidateInput(map[string]any) bool                 { return true }
func (s *recordingStep) RequiredDependencies() []string                   { return s.deps }
func (s *recordingStep) CanRunConcurrentlyWith(string) bool                { return true }
func (s *recordingStep) EstimateExecutionTime(map[string]any) time.Duration { return time.Millisecond }

func defsFor(steps ...*recordingStep) []workflow.StepDefinition {
	defs := make([]workflow.StepDefinition, len(steps))
	for i, s := range steps {
		defs[i] = workflow.StepDefinition{StepID: i + 1, StepName: s.name, Dependencies: s.deps}
	}
	return defs
}

func TestRegisterWorkflow(t *testing.T) {
	t.Run("rejects a cyclic workflow", func(t *testing.T) {
		e := New(resources.New(), 2, 30*time.Second)
		defs := []workflow.StepDefinition{
			{StepID: 1, StepName: "a", Dependencies: []string{"b"}},
			{StepID: 2, StepName: "b", Dependencies: []string{"a"}},
		}
		err := e.RegisterWorkflow("cyclic", defs)
		var taxErr *taxonomy.Error
		if !errors.As(err, &taxErr) || taxErr.Code != "CIRCULAR_DEPENDENCY" {
			t.Fatalf("expected CIRCULAR_DEPENDENCY, got %v", err)
		}
	})

	t.Run("rejects an invalid step definition", func(t *testing.T) {
		e := New(resources.New(), 2, 30*time.Second)
		err := e.RegisterWorkflow("bad", []workflow.StepDefinition{{StepID: 0, StepName: "x"}})
		if err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestExecuteWorkflow(t *testing.T) {
	t.Run("runs a diamond workflow to completion in the right phases", func(t *testing.T) {
		a := &recordingStep{name: "a"}
		b := &recordingStep{name: "b", deps: []string{"a"}}
		c := &recordingStep{name: "c", deps: []string{"a"}}
		d := &recordingStep{name: "d", deps: []string{"b", "c"}}

		e := New(resources.New(), 2, 30*time.Second)
		if err := e.RegisterWorkflow("diamond", defsFor(a, b, c, d)); err != nil {
			t.Fatalf("register: %v", err)
		}
		for _, s := range []*recordingStep{a, b, c, d} {
			e.RegisterStepProcessor(s.name, s)
		}

		result, err := e.ExecuteWorkflow(context.Background(), "diamond", "proj-1", nil, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if result.Status != workflow.WorkflowCompleted {
			t.Errorf("expected completed, got %s", result.Status)
		}
		if result.CompletedSteps != 4 || result.FailedSteps != 0 {
			t.Errorf("unexpected counts: completed=%d failed=%d", result.CompletedSteps, result.FailedSteps)
		}
		if _, active := e.GetExecutionStatus("proj-1"); active {
			t.Error("expected execution state to be removed once finished")
		}
	})

	t.Run("a failing step marks the workflow failed but lets siblings finish", func(t *testing.T) {
		a := &recordingStep{name: "a"}
		b := &recordingStep{name: "b", deps: []string{"a"}, fail: true}
		c := &recordingStep{name: "c", deps: []string{"a"}}

		e := New(resources.New(), 2, 30*time.Second)
		_ = e.RegisterWorkflow("partial-fail", defsFor(a, b, c))
		for _, s := range []*recordingStep{a, b, c} {
			e.RegisterStepProcessor(s.name, s)
		}

		result, err := e.ExecuteWorkflow(context.Background(), "partial-fail", "proj-2", nil, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if result.Status != workflow.WorkflowFailed {
			t.Errorf("expected failed, got %s", result.Status)
		}
		if result.FailedSteps != 1 || result.CompletedSteps != 2 {
			t.Errorf("unexpected counts: completed=%d failed=%d", result.CompletedSteps, result.FailedSteps)
		}
	})

	t.Run("a step that exceeds its timeout budget is reported failed with a TimeoutError", func(t *testing.T) {
		slow := &slowStep{name: "slow", sleep: 200 * time.Millisecond}

		e := New(resources.New(), 2, 30*time.Millisecond)
		_ = e.RegisterWorkflow("slow-wf", defsFor(&recordingStep{name: slow.name}))
		e.RegisterStepProcessor(slow.name, slow)

		result, err := e.ExecuteWorkflow(context.Background(), "slow-wf", "proj-timeout", nil, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if result.Status != workflow.WorkflowFailed || result.FailedSteps != 1 {
			t.Fatalf("expected the slow step to fail the workflow, got status=%s failed=%d", result.Status, result.FailedSteps)
		}
		msg := result.StepResults[slow.name].ErrorMessage
		if !strings.Contains(msg, "timed out") {
			t.Fatalf("expected a timeout error message, got %q", msg)
		}
	})

	t.Run("a per-step TimeoutSeconds override takes precedence over the engine default", func(t *testing.T) {
		slow := &slowStep{name: "slow-override", sleep: 200 * time.Millisecond}
		def := workflow.StepDefinition{StepID: 1, StepName: slow.name, TimeoutSeconds: 1}

		e := New(resources.New(), 2, time.Nanosecond)
		_ = e.RegisterWorkflow("slow-override-wf", []workflow.StepDefinition{def})
		e.RegisterStepProcessor(slow.name, slow)

		result, err := e.ExecuteWorkflow(context.Background(), "slow-override-wf", "proj-timeout-2", nil, nil)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if result.Status != workflow.WorkflowCompleted || result.CompletedSteps != 1 {
			t.Fatalf("expected the 1s override to outlast a 200ms sleep despite a near-zero engine default, got status=%s completed=%d", result.Status, result.CompletedSteps)
		}
	})

	t.Run("fails fast with PROCESSOR_NOT_FOUND when a step has no registered implementation", func(t *testing.T) {
		a := &recordingStep{name: "a"}
		e := New(resources.New(), 2, 30*time.Second)
		_ = e.RegisterWorkflow("unregistered", defsFor(a))

		_, err := e.ExecuteWorkflow(context.Background(), "unregistered", "proj-3", nil, nil)
		var taxErr *taxonomy.Error
		if !errors.As(err, &taxErr) || taxErr.Code != "PROCESSOR_NOT_FOUND" {
			t.Fatalf("expected PROCESSOR_NOT_FOUND, got %v", err)
		}
	})

	t.Run("merges step outputs into the shared input for later phases", func(t *testing.T) {
		seen := make(map[string]any)
		a := &recordingStep{name: "a", output: map[string]any{"shared": "from-a"}}
		capture := &recordingStep{name: "b", deps: []string{"a"}}

		e := New(resources.New(), 2, 30*time.Second)
		_ = e.RegisterWorkflow("merge", defsFor(a, capture))
		e.RegisterStepProcessor("a", a)
		e.RegisterStepProcessor("b", &captureStep{recordingStep: capture, seen: seen})

		if _, err := e.ExecuteWorkflow(context.Background(), "merge", "proj-4", nil, nil); err != nil {
			t.Fatalf("execute: %v", err)
		}
		if seen["shared"] != "from-a" {
			t.Errorf("expected downstream step to observe merged output, got %v", seen["shared"])
		}
	})

	t.Run("progress callback observes completion reaching 100 percent", func(t *testing.T) {
		a := &recordingStep{name: "a"}
		e := New(resources.New(), 2, 30*time.Second)
		_ = e.RegisterWorkflow("progress", defsFor(a))
		e.RegisterStepProcessor("a", a)

		var lastPct float64
		_, err := e.ExecuteWorkflow(context.Background(), "progress", "proj-5", nil, func(state *workflow.ExecutionState) {
			lastPct = state.CompletionPercentage()
		})
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if lastPct != 100 {
			t.Errorf("expected final progress callback to observe 100%%, got %v", lastPct)
		}
	})
}

type captureStep struct {
	*recordingStep
	seen map[string]any
}

func (s *captureStep) Execute(ctx context.Context, stepCtx *workflow.StepExecutionContext, input map[string]any) (*workflow.StepResult, error) {
	for k, v := range input {
		s.seen[k] = v
	}
	return s.recordingStep.Execute(ctx, stepCtx, input)
}

// slowStep sleeps for a fixed duration before returning, ignoring ctx
// entirely, so that only the executor's own ctx-vs-done race can cut it off
// early.
type slowStep struct {
	name  string
	sleep time.Duration
}

func (s *slowStep) Name() string { return s.name }

func (s *slowStep) Execute(ctx context.Context, stepCtx *workflow.StepExecutionContext, input map[string]any) (*workflow.StepResult, error) {
	time.Sleep(s.sleep)
	return &workflow.StepResult{Status: workflow.StatusCompleted, OutputData: map[string]any{s.name: true}}, nil
}

func (s *slowStep) ValidateInput(map[string]any) bool                    { return true }
func (s *slowStep) RequiredDependencies() []string                       { return nil }
func (s *slowStep) CanRunConcurrentlyWith(string) bool                   { return true }
func (s *slowStep) EstimateExecutionTime(map[string]any) time.Duration   { return s.sleep }

func TestCancelPauseResumeWorkflow(t *testing.T) {
	t.Run("cancel/pause/resume report false for an unknown project", func(t *testing.T) {
		e := New(resources.New(), 2, 30*time.Second)
		if e.CancelWorkflow("ghost", "n/a") {
			t.Error("expected false for unknown project")
		}
		if e.PauseWorkflow("ghost") {
			t.Error("expected false for unknown project")
		}
		if e.ResumeWorkflow("ghost") {
			t.Error("expected false for unknown project")
		}
	})

	t.Run("pausing after phase one suspends the workflow until resumed", func(t *testing.T) {
		a := &recordingStep{name: "a"}
		b := &recordingStep{name: "b", deps: []string{"a"}}

		e := New(resources.New(), 2, 30*time.Second)
		if err := e.RegisterWorkflow("pausable", defsFor(a, b)); err != nil {
			t.Fatalf("register: %v", err)
		}
		e.RegisterStepProcessor("a", a)
		e.RegisterStepProcessor("b", b)

		paused := make(chan struct{})
		var sawPaused bool
		resumed := false
		progress := func(state *workflow.ExecutionState) {
			if state.Completed == 1 && !resumed {
				e.PauseWorkflow("proj-pause")
				close(paused)
			}
		}

		go func() {
			<-paused
			time.Sleep(100 * time.Millisecond)
			if status, ok := e.GetExecutionStatus("proj-pause"); ok {
				sawPaused = status.IsPaused()
			}
			resumed = true
			e.ResumeWorkflow("proj-pause")
		}()

		result, err := e.ExecuteWorkflow(context.Background(), "pausable", "proj-pause", nil, progress)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if !sawPaused {
			t.Error("expected the workflow to observably suspend while paused")
		}
		if result.Status != workflow.WorkflowCompleted || result.CompletedSteps != 2 {
			t.Fatalf("expected a completed 2-step workflow after resume, got status=%s completed=%d", result.Status, result.CompletedSteps)
		}
	})
}

func TestPlanExecution(t *testing.T) {
	t.Run("rejects planning an unregistered workflow with a configuration error", func(t *testing.T) {
		e := New(resources.New(), 2, 30*time.Second)
		_, err := e.PlanExecution("nope", "p1")
		var taxErr *taxonomy.Error
		if !errors.As(err, &taxErr) || taxErr.Code != "CONFIGURATION_ERROR" {
			t.Fatalf("expected CONFIGURATION_ERROR, got %v", err)
		}
	})

	t.Run("phases match the resolver's ordering", func(t *testing.T) {
		a := &recordingStep{name: "a"}
		b := &recordingStep{name: "b", deps: []string{"a"}}
		e := New(resources.New(), 2, 30*time.Second)
		_ = e.RegisterWorkflow("chain", defsFor(a, b))

		plan, err := e.PlanExecution("chain", "p1")
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		if plan.TotalPhases != 2 {
			t.Fatalf("expected 2 phases, got %d", plan.TotalPhases)
		}
	})
}
