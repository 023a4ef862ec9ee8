// Package executor provides the bounded-concurrency executor that drives a
// single phase's steps: a counting semaphore caps in-flight step attempts,
// results are returned in input order, and a single task's failure never
// cancels its siblings.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
)

// Task bundles everything one step attempt needs.
type Task struct {
	Step     workflow.Step
	StepCtx  *workflow.StepExecutionContext
	Input    map[string]any
}

// Outcome pairs a task's step name with its result or error. Exactly one of
// Result/Err is set.
type Outcome struct {
	StepName string
	Result   *workflow.StepResult
	Err      error
}

// Manager is a semaphore-bounded parallel/sequential step executor.
type Manager struct {
	maxConcurrent int
}

// New returns a manager capped at maxConcurrent simultaneous step attempts.
// A value <= 0 is treated as 1.
func New(maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{maxConcurrent: maxConcurrent}
}

// ExecuteStepsParallel runs every task, at most m.maxConcurrent at a time,
// and returns outcomes in the same order as tasks. Every permit acquired is
// released on every exit path via defer; a task's own failure does not
// cancel sibling tasks still in flight.
func (m *Manager) ExecuteStepsParallel(ctx context.Context, tasks []Task) []Outcome {
	return m.run(ctx, tasks, m.maxConcurrent)
}

// ExecuteStepsSequential is ExecuteStepsParallel with concurrency forced to
// 1, for callers that need deterministic ordering guarantees.
func (m *Manager) ExecuteStepsSequential(ctx context.Context, tasks []Task) []Outcome {
	return m.run(ctx, tasks, 1)
}

func (m *Manager) run(ctx context.Context, tasks []Task, concurrency int) []Outcome {
	outcomes := make([]Outcome, len(tasks))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	// Permits are taken in input order here, before each goroutine starts,
	// so tasks begin in input order (strictly one after another when
	// concurrency is 1).
	for i, task := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			outcomes[i] = Outcome{StepName: task.Step.Name(), Err: ctx.Err()}
			continue
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer func() { <-sem }()

			outcomes[i] = m.invoke(ctx, task)
		}(i, task)
	}

	wg.Wait()
	return outcomes
}

// invoke calls the step (async path preferred), times it, and wraps
// non-taxonomy failures into a StepExecutionError carrying project id, step
// name, execution id, and elapsed time. It runs the step against
// task.StepCtx.Context rather than the phase-wide ctx passed to
// ExecuteStepsParallel, so a per-step timeout budget the engine attached to
// StepExecutionContext (see StepDefinition.TimeoutSeconds) is what actually
// races the step, not just the ambient phase/workflow context.
func (m *Manager) invoke(ctx context.Context, task Task) Outcome {
	name := task.Step.Name()
	start := time.Now()

	stepCtx := ctx
	if task.StepCtx != nil && task.StepCtx.Context != nil {
		stepCtx = task.StepCtx.Context
	}

	result, err := m.callStep(stepCtx, task)
	elapsed := time.Since(start)

	if err != nil {
		return Outcome{StepName: name, Err: wrapStepError(task, err, elapsed)}
	}
	if result != nil {
		result.ExecutionTimeSeconds = elapsed.Seconds()
	}
	return Outcome{StepName: name, Result: result}
}

func (m *Manager) callStep(ctx context.Context, task Task) (*workflow.StepResult, error) {
	if async, ok := task.Step.(workflow.AsyncStep); ok {
		return async.ExecuteAsync(ctx, task.StepCtx, task.Input)
	}
	// Synchronous steps are offloaded onto their own goroutine so the
	// scheduler (the semaphore loop above) is never blocked by a step
	// that performs blocking I/O; the semaphore permit is already held
	// by the caller for the duration of this call.
	type res struct {
		r   *workflow.StepResult
		err error
	}
	done := make(chan res, 1)
	go func() {
		r, err := task.Step.Execute(ctx, task.StepCtx, task.Input)
		done <- res{r, err}
	}()

	select {
	case out := <-done:
		return out.r, out.err
	case <-ctx.Done():
		elapsed := time.Since(task.StepCtx.StartedAt)
		var budget time.Duration
		if deadline, ok := ctx.Deadline(); ok {
			budget = elapsed + time.Until(deadline)
		}
		return nil, taxonomy.NewTimeoutError(task.Step.Name(), budget, elapsed)
	}
}

func wrapStepError(task Task, err error, elapsed time.Duration) error {
	if _, ok := err.(*taxonomy.Error); ok {
		return err
	}
	return taxonomy.NewStepExecutionError(task.Step.Name(), fmt.Sprintf("step %q failed after %.3fs: %v", task.Step.Name(), elapsed.Seconds(), err), err).
		WithContext(taxonomy.Context{
			"project_id":   task.StepCtx.ProjectID,
			"execution_id": task.StepCtx.ExecutionID,
			"elapsed_seconds": elapsed.Seconds(),
		})
}
