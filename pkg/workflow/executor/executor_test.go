package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
)

type fakeStep struct {
	name    string
	delay   time.Duration
	fail    bool
	running *int32
	peak    *int32
}

func (s *fakeStep) Name() string { return s.name }

func (s *fakeStep) Execute(ctx context.Context, stepCtx *workflow.StepExecutionContext, input map[string]any) (*workflow.StepResult, error) {
	if s.running != nil {
		n := atomic.AddInt32(s.running, 1)
		defer atomic.AddInt32(s.running, -1)
		for {
			p := atomic.LoadInt32(s.peak)
			if n <= p || atomic.CompareAndSwapInt32(s.peak, p, n) {
				break
			}
		}
	}
	time.Sleep(s.delay)
	if s.fail {
		return nil, fmt.Errorf("boom")
	}
	return &workflow.StepResult{Status: workflow.StatusCompleted, OutputData: map[string]any{"step": s.name}}, nil
}

func (s *fakeStep) ValidateInput(map[string]any) bool               { return true }
func (s *fakeStep) RequiredDependencies() []string                  { return nil }
func (s *fakeStep) CanRunConcurrentlyWith(string) bool               { return true }
func (s *fakeStep) EstimateExecutionTime(map[string]any) time.Duration { return s.delay }

func taskFor(step workflow.Step) Task {
	return Task{
		Step:    step,
		StepCtx: &workflow.StepExecutionContext{ProjectID: "p1", StepName: step.Name(), ExecutionID: "e1", StartedAt: time.Now()},
		Input:   map[string]any{},
	}
}

func TestExecuteStepsParallel(t *testing.T) {
	t.Run("results come back in input order regardless of completion order", func(t *testing.T) {
		tasks := []Task{
			taskFor(&fakeStep{name: "slow", delay: 30 * time.Millisecond}),
			taskFor(&fakeStep{name: "fast", delay: 1 * time.Millisecond}),
		}
		outcomes := New(2).ExecuteStepsParallel(context.Background(), tasks)
		if outcomes[0].StepName != "slow" || outcomes[1].StepName != "fast" {
			t.Errorf("expected outcomes in input order, got %s, %s", outcomes[0].StepName, outcomes[1].StepName)
		}
	})

	t.Run("concurrency is bounded by maxConcurrent", func(t *testing.T) {
		var running, peak int32
		tasks := make([]Task, 6)
		for i := range tasks {
			tasks[i] = taskFor(&fakeStep{name: fmt.Sprintf("s%d", i), delay: 15 * time.Millisecond, running: &running, peak: &peak})
		}
		New(2).ExecuteStepsParallel(context.Background(), tasks)
		if peak > 2 {
			t.Errorf("observed peak concurrency %d, want <= 2", peak)
		}
	})

	t.Run("a failing task does not cancel its siblings", func(t *testing.T) {
		tasks := []Task{
			taskFor(&fakeStep{name: "B", fail: true}),
			taskFor(&fakeStep{name: "C"}),
		}
		outcomes := New(2).ExecuteStepsParallel(context.Background(), tasks)
		if outcomes[0].Err == nil {
			t.Errorf("expected B to fail")
		}
		if outcomes[1].Err != nil || outcomes[1].Result == nil {
			t.Errorf("expected C to succeed, got err=%v result=%v", outcomes[1].Err, outcomes[1].Result)
		}
	})

	t.Run("non-taxonomy errors are wrapped into a StepExecutionError", func(t *testing.T) {
		outcomes := New(1).ExecuteStepsParallel(context.Background(), []Task{taskFor(&fakeStep{name: "B", fail: true})})
		taxErr, ok := outcomes[0].Err.(*taxonomy.Error)
		if !ok {
			t.Fatalf("expected a *taxonomy.Error, got %T", outcomes[0].Err)
		}
		if taxErr.Code != "STEP_EXECUTION_FAILED" {
			t.Errorf("unexpected code %s", taxErr.Code)
		}
	})
}

func TestExecuteStepsSequential(t *testing.T) {
	t.Run("forces concurrency to one even when asked for more", func(t *testing.T) {
		var running, peak int32
		tasks := []Task{
			taskFor(&fakeStep{name: "a", delay: 10 * time.Millisecond, running: &running, peak: &peak}),
			taskFor(&fakeStep{name: "b", delay: 10 * time.Millisecond, running: &running, peak: &peak}),
		}
		New(4).ExecuteStepsSequential(context.Background(), tasks)
		if peak > 1 {
			t.Errorf("observed peak concurrency %d in sequential mode, want 1", peak)
		}
	})
}
