// Package engine ties the resolver, resource manager (availability
// preflight only), and parallel execution manager together into the
// workflow engine; it holds a deadlock detector but does not call it. It
// is the component that registers workflows, plans their execution, and drives
// them phase by phase to completion.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/deadlock"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/executor"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/resolver"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow/resources"
)

// pausePollInterval is how often ExecuteWorkflow rechecks a paused state's
// flags between phases while waiting to be resumed or cancelled.
const pausePollInterval = 50 * time.Millisecond

// Plan is the immutable result of planning a workflow's execution.
type Plan struct {
	ProjectID         string
	WorkflowName      string
	Phases            [][]string
	TotalPhases       int
	EstimatedTotal    time.Duration
	RequiredResources map[string][]string
}

// ProgressCallback is invoked with the live state twice per phase: once
// its steps are marked running, and again after their results are recorded.
type ProgressCallback func(*workflow.ExecutionState)

// Engine registers workflow definitions and step processors, plans
// execution, and runs workflows to completion.
type Engine struct {
	resolver *resolver.Resolver
	deadlock *deadlock.Detector
	res      *resources.Manager

	mu         sync.RWMutex
	workflows  map[string][]workflow.StepDefinition
	processors map[string]workflow.Step

	statesMu sync.RWMutex
	states   map[string]*workflow.ExecutionState

	// StrictMerge rejects a step output key that already holds a different
	// value in the merged input (from the initial input, an earlier phase,
	// or an earlier step of the same phase) instead of silently letting the
	// later step win (see the shallow-union design note).
	StrictMerge bool

	maxConcurrentSteps int
	defaultTimeout     time.Duration
}

// New builds an engine with the given default parallel-execution ceiling
// and default per-step timeout (config.Config.DefaultTimeout() normally
// supplies the latter). A StepDefinition.TimeoutSeconds override, when
// set, takes precedence over defaultTimeout for that step; defaultTimeout
// <= 0 disables the ambient budget (a step only ever times out via the
// caller's own ctx or its own TimeoutSeconds override).
func New(resourceManager *resources.Manager, maxConcurrentSteps int, defaultTimeout time.Duration) *Engine {
	if maxConcurrentSteps <= 0 {
		maxConcurrentSteps = 3
	}
	return &Engine{
		resolver:           resolver.New(),
		deadlock:           deadlock.New(),
		res:                resourceManager,
		workflows:          make(map[string][]workflow.StepDefinition),
		processors:         make(map[string]workflow.Step),
		states:             make(map[string]*workflow.ExecutionState),
		maxConcurrentSteps: maxConcurrentSteps,
		defaultTimeout:     defaultTimeout,
	}
}

// RegisterWorkflow validates every definition, rejects cyclic graphs with a
// CircularDependencyError, and stores the definitions under name.
func (e *Engine) RegisterWorkflow(name string, defs []workflow.StepDefinition) error {
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return taxonomy.NewValidationError(d.StepName, d.StepID, err.Error())
		}
	}
	if cycles := e.resolver.FindCircularDependencies(defs); len(cycles) > 0 {
		return taxonomy.NewCircularDependencyError(cycles[0])
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[name] = defs
	return nil
}

// RegisterStepProcessor associates a step implementation with a step name,
// globally across all workflows.
func (e *Engine) RegisterStepProcessor(stepName string, impl workflow.Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processors[stepName] = impl
}

func (e *Engine) getWorkflow(name string) ([]workflow.StepDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs, ok := e.workflows[name]
	return defs, ok
}

func (e *Engine) getProcessor(stepName string) (workflow.Step, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.processors[stepName]
	return p, ok
}

// PlanExecution resolves phases for workflowName and estimates total time
// from every known step implementation's EstimateExecutionTime(nil); steps
// with no registered implementation contribute zero.
func (e *Engine) PlanExecution(workflowName, projectID string) (*Plan, error) {
	defs, ok := e.getWorkflow(workflowName)
	if !ok {
		return nil, taxonomy.NewConfigurationError("workflow_name", "registered workflow").
			WithContext(taxonomy.Context{"workflow_name": workflowName})
	}

	phases, err := e.resolver.ResolveExecutionOrder(defs)
	if err != nil {
		return nil, err
	}

	var estimated time.Duration
	required := make(map[string][]string, len(defs))
	for _, d := range defs {
		required[d.StepName] = d.RequiredResources
		if impl, ok := e.getProcessor(d.StepName); ok {
			estimated += impl.EstimateExecutionTime(nil)
		}
	}

	return &Plan{
		ProjectID:         projectID,
		WorkflowName:      workflowName,
		Phases:            phases,
		TotalPhases:       len(phases),
		EstimatedTotal:    estimated,
		RequiredResources: required,
	}, nil
}

// CheckResourceAvailability reports false if any required resource of any
// step in the plan is currently unavailable. Informational only.
func (e *Engine) CheckResourceAvailability(plan *Plan) bool {
	if e.res == nil {
		return true
	}
	for _, names := range plan.RequiredResources {
		for _, name := range names {
			if !e.res.IsResourceAvailable(name) {
				return false
			}
		}
	}
	return true
}

// ExecuteWorkflowDryRun plans, verifies resource availability, re-runs
// cycle detection defensively, and returns the plan without executing any
// step.
func (e *Engine) ExecuteWorkflowDryRun(workflowName, projectID string, _ map[string]any) (*Plan, error) {
	plan, err := e.PlanExecution(workflowName, projectID)
	if err != nil {
		return nil, err
	}
	if !e.CheckResourceAvailability(plan) {
		return nil, taxonomy.NewResourceLimitError("workflow_preflight", "all required", "partial")
	}

	defs, _ := e.getWorkflow(workflowName)
	if cycles := e.resolver.FindCircularDependencies(defs); len(cycles) > 0 {
		return nil, taxonomy.NewCircularDependencyError(cycles[0])
	}
	return plan, nil
}

// ExecuteWorkflow runs workflowName against projectID starting from
// initialInput, phase by phase, and returns the aggregated result. progress
// (which may be nil) is invoked when a phase's steps are marked running and
// again after the phase's results are recorded.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowName, projectID string, initialInput map[string]any, progress ProgressCallback) (*workflow.ExecutionResult, error) {
	plan, err := e.ExecuteWorkflowDryRun(workflowName, projectID, initialInput)
	if err != nil {
		return nil, err
	}
	defs, _ := e.getWorkflow(workflowName)
	defsByName := make(map[string]workflow.StepDefinition, len(defs))
	for _, d := range defs {
		defsByName[d.StepName] = d
	}

	state := workflow.NewExecutionState(projectID, workflowName, len(defs))
	e.statesMu.Lock()
	e.states[projectID] = state
	e.statesMu.Unlock()
	defer func() {
		e.statesMu.Lock()
		delete(e.states, projectID)
		e.statesMu.Unlock()
	}()

	currentOutput := make(map[string]any, len(initialInput))
	for k, v := range initialInput {
		currentOutput[k] = v
	}

	results := make(map[string]*workflow.StepResult, len(defs))
	parallelManager := executor.New(e.maxConcurrentSteps)

	for _, phaseNames := range plan.Phases {
		for state.IsPaused() && !state.IsCancelled() {
			select {
			case <-ctx.Done():
				state.Cancel("context cancelled while paused")
			case <-time.After(pausePollInterval):
			}
		}
		if state.IsCancelled() {
			break
		}

		tasks := make([]executor.Task, 0, len(phaseNames))
		cancels := make([]context.CancelFunc, 0, len(phaseNames))
		for _, name := range phaseNames {
			impl, ok := e.getProcessor(name)
			if !ok {
				for _, cancel := range cancels {
					cancel()
				}
				return e.finalizeResult(state, results, &workflow.ErrorSummary{
					Error: fmt.Sprintf("no step processor registered for %q", name),
					Type:  "PROCESSOR_NOT_FOUND",
				}), taxonomy.NewProcessorNotFoundError(name)
			}

			budget := e.defaultTimeout
			if d, ok := defsByName[name]; ok && d.TimeoutSeconds > 0 {
				budget = time.Duration(d.TimeoutSeconds) * time.Second
			}
			stepExecCtx := ctx
			if budget > 0 {
				var cancel context.CancelFunc
				stepExecCtx, cancel = context.WithTimeout(ctx, budget)
				cancels = append(cancels, cancel)
			}

			stepCtx := &workflow.StepExecutionContext{
				ProjectID:   projectID,
				StepName:    name,
				ExecutionID: uuid.NewString(),
				StartedAt:   time.Now(),
				Context:     stepExecCtx,
			}
			tasks = append(tasks, executor.Task{Step: impl, StepCtx: stepCtx, Input: cloneMap(currentOutput)})
			state.StartStep(name)
		}

		if progress != nil {
			progress(state)
		}

		outcomes := parallelManager.ExecuteStepsParallel(ctx, tasks)
		for _, cancel := range cancels {
			cancel()
		}

		for _, outcome := range outcomes {
			if outcome.Err != nil {
				state.FailStep(outcome.StepName, outcome.Err.Error())
				results[outcome.StepName] = &workflow.StepResult{Status: workflow.StatusFailed, ErrorMessage: outcome.Err.Error()}
				continue
			}
			if outcome.Result == nil || outcome.Result.Status != workflow.StatusCompleted {
				msg := fmt.Sprintf("step %q returned no result", outcome.StepName)
				if outcome.Result != nil {
					msg = fmt.Sprintf("step %q finished with status %q: %s", outcome.StepName, outcome.Result.Status, outcome.Result.ErrorMessage)
				}
				state.FailStep(outcome.StepName, msg)
				results[outcome.StepName] = &workflow.StepResult{Status: workflow.StatusFailed, ErrorMessage: msg}
				continue
			}
			duration := time.Duration(outcome.Result.ExecutionTimeSeconds * float64(time.Second))
			state.CompleteStep(outcome.StepName, duration)
			results[outcome.StepName] = outcome.Result
			if err := mergeOutput(currentOutput, outcome.Result.OutputData, e.StrictMerge); err != nil {
				return e.finalizeResult(state, results, &workflow.ErrorSummary{Error: err.Error(), Type: "MERGE_CONFLICT"}), err
			}
		}

		if progress != nil {
			progress(state)
		}

		if state.IsCancelled() {
			break
		}
	}

	return e.finalizeResult(state, results, nil), nil
}

func (e *Engine) finalizeResult(state *workflow.ExecutionState, results map[string]*workflow.StepResult, errSummary *workflow.ErrorSummary) *workflow.ExecutionResult {
	state.MarkCompletedAt()

	status := workflow.WorkflowCompleted
	if state.Failed > 0 || errSummary != nil {
		status = workflow.WorkflowFailed
	} else if state.IsCancelled() {
		status = workflow.WorkflowCancelled
	}

	return &workflow.ExecutionResult{
		ProjectID:      state.ProjectID,
		WorkflowName:   state.WorkflowName,
		Status:         status,
		TotalSteps:     state.Total,
		CompletedSteps: state.Completed,
		FailedSteps:    state.Failed,
		SkippedSteps:   state.Skipped,
		StepResults:    results,
		StartedAt:      state.StartedAt,
		CompletedAt:    state.CompletedAt,
		ErrorSummary:   errSummary,
	}
}

// CancelWorkflow marks projectID's active execution cancelled, if any.
func (e *Engine) CancelWorkflow(projectID, reason string) bool {
	e.statesMu.RLock()
	state, ok := e.states[projectID]
	e.statesMu.RUnlock()
	if !ok {
		return false
	}
	state.Cancel(reason)
	return true
}

// PauseWorkflow marks projectID's active execution paused, if any. Paused
// execution suspends between phases only — an in-flight step is never
// interrupted.
func (e *Engine) PauseWorkflow(projectID string) bool {
	e.statesMu.RLock()
	state, ok := e.states[projectID]
	e.statesMu.RUnlock()
	if !ok {
		return false
	}
	state.Pause()
	return true
}

// ResumeWorkflow clears the paused flag for projectID's active execution,
// if any.
func (e *Engine) ResumeWorkflow(projectID string) bool {
	e.statesMu.RLock()
	state, ok := e.states[projectID]
	e.statesMu.RUnlock()
	if !ok {
		return false
	}
	state.Resume()
	return true
}

// GetExecutionStatus returns the live state for projectID, if active.
func (e *Engine) GetExecutionStatus(projectID string) (*workflow.ExecutionState, bool) {
	e.statesMu.RLock()
	defer e.statesMu.RUnlock()
	state, ok := e.states[projectID]
	return state, ok
}

// ListActiveExecutions returns the project ids with an in-flight execution.
func (e *Engine) ListActiveExecutions() []string {
	e.statesMu.RLock()
	defer e.statesMu.RUnlock()
	out := make([]string, 0, len(e.states))
	for id := range e.states {
		out = append(out, id)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeOutput folds output into target. In shallow-union mode (the
// default) later keys win silently; in strict mode a key already present in
// target with a different value, whichever earlier input, phase, or step
// supplied it, is rejected with a ValidationError.
func mergeOutput(target, output map[string]any, strict bool) error {
	for k, v := range output {
		if strict {
			if existing, ok := target[k]; ok && existing != v {
				return taxonomy.NewValidationError(k, v, "output key collision with an earlier value")
			}
		}
		target[k] = v
	}
	return nil
}
