// Package workflow defines the data model and capability interfaces that
// step implementations satisfy: step definitions, execution context, step
// results, and the per-project execution state the engine maintains while
// a workflow runs.
package workflow

import (
	"context"
	"time"
)

// StepStatus is the lifecycle state of a single step attempt.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusCancelled StepStatus = "cancelled"
)

// StepPriority is informational only; the resolver never reorders phases
// based on it (see the reserved-field design note).
type StepPriority int

const (
	PriorityLow StepPriority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// StepDefinition is the immutable, registration-time description of a step
// within a workflow.
type StepDefinition struct {
	StepID            int
	StepName          string
	DisplayName       string
	Description       string
	Dependencies      []string
	Priority          StepPriority
	TimeoutSeconds    int // 0 means "use engine default"
	RetryCount        int
	CanSkip           bool
	CanRunParallel    bool
	RequiredResources []string
}

// Validate enforces the invariants the distilled spec assigns to
// WorkflowStepDefinition's constructor (__post_init__).
func (d StepDefinition) Validate() error {
	if d.StepID < 1 {
		return &validationFieldError{field: "step_id", rule: "must be positive"}
	}
	if d.StepName == "" {
		return &validationFieldError{field: "step_name", rule: "cannot be empty"}
	}
	if d.RetryCount < 0 {
		return &validationFieldError{field: "retry_count", rule: "cannot be negative"}
	}
	return nil
}

type validationFieldError struct {
	field string
	rule  string
}

func (e *validationFieldError) Error() string {
	return "invalid step definition field " + e.field + ": " + e.rule
}

// StepExecutionContext is created fresh per step attempt and is read-only
// to the step implementation; Context carries cancellation and, via
// context.WithTimeout, the per-step execution budget.
type StepExecutionContext struct {
	ProjectID       string
	StepName        string
	ExecutionID     string
	StartedAt       time.Time
	UserContext     map[string]any
	EnvironmentVars map[string]string
	ResourceLimits  map[string]any
	Context         context.Context
}

// StepResult is what a step implementation returns for a single attempt.
type StepResult struct {
	Status             StepStatus
	OutputData         map[string]any
	ErrorMessage        string
	ExecutionTimeSeconds float64
	ResourceUsage       map[string]any
	Artifacts           []string
}

// ToMap renders the result as a JSON-friendly map, mirroring StepResult.to_dict.
func (r StepResult) ToMap() map[string]any {
	return map[string]any{
		"status":                 string(r.Status),
		"output_data":            r.OutputData,
		"error_message":          r.ErrorMessage,
		"execution_time_seconds": r.ExecutionTimeSeconds,
		"resource_usage":         r.ResourceUsage,
		"artifacts":              r.Artifacts,
	}
}

// Step is the capability interface a step implementation satisfies. Execute
// is always offered; AsyncStep is an optional marker interface the engine
// checks for with a type assertion before falling back to offloading
// Execute onto the worker pool.
type Step interface {
	Name() string
	Execute(ctx context.Context, stepCtx *StepExecutionContext, input map[string]any) (*StepResult, error)
	ValidateInput(input map[string]any) bool
	RequiredDependencies() []string
	CanRunConcurrentlyWith(other string) bool
	EstimateExecutionTime(input map[string]any) time.Duration
}

// AsyncStep is implemented by steps that supply their own natively
// asynchronous execution path; the engine prefers it over offloading
// Execute to the worker pool.
type AsyncStep interface {
	Step
	ExecuteAsync(ctx context.Context, stepCtx *StepExecutionContext, input map[string]any) (*StepResult, error)
}

// WorkflowStepRecord is the persisted per-project-per-step record tracked by
// the metadata repository.
type WorkflowStepRecord struct {
	StepNumber  int
	StepName    string
	Status      StepStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	InputData   map[string]any
	OutputData  map[string]any
	ErrorMessage string
	RetryCount  int
}
