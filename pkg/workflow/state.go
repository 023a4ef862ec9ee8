package workflow

import (
	"sync"
	"time"
)

// ExecutionState is the mutable per-project record of a running workflow.
// Writes are single-writer (the engine); reads may happen concurrently from
// progress-callback goroutines, so every method goes through mu.
type ExecutionState struct {
	mu sync.RWMutex

	ProjectID   string
	WorkflowName string

	Total     int
	Completed int
	Failed    int
	Running   int
	Pending   int
	Skipped   int

	StartedAt   time.Time
	CompletedAt time.Time

	Cancelled       bool
	CancelReason    string
	Paused          bool

	statuses  map[string]StepStatus
	durations map[string]float64
	startedAt map[string]time.Time
}

// NewExecutionState allocates state for a workflow with the given total step
// count; every step starts out pending.
func NewExecutionState(projectID, workflowName string, total int) *ExecutionState {
	return &ExecutionState{
		ProjectID:    projectID,
		WorkflowName: workflowName,
		Total:        total,
		Pending:      total,
		StartedAt:    time.Now(),
		statuses:     make(map[string]StepStatus, total),
		durations:    make(map[string]float64, total),
		startedAt:    make(map[string]time.Time, total),
	}
}

// StartStep transitions a step pending -> running and records its start time.
func (s *ExecutionState) StartStep(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[name] = StatusRunning
	s.startedAt[name] = time.Now()
	s.Running++
	if s.Pending > 0 {
		s.Pending--
	}
}

// CompleteStep transitions a step to completed. If duration is zero it is
// computed from the recorded start time.
func (s *ExecutionState) CompleteStep(name string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := s.statuses[name]
	s.statuses[name] = StatusCompleted
	s.adjustCountersForTerminal(prior)
	s.Completed++

	d := duration.Seconds()
	if d == 0 {
		if start, ok := s.startedAt[name]; ok {
			d = time.Since(start).Seconds()
		}
	}
	s.durations[name] = d
}

// FailStep transitions a step to failed.
func (s *ExecutionState) FailStep(name, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := s.statuses[name]
	s.statuses[name] = StatusFailed
	s.adjustCountersForTerminal(prior)
	s.Failed++
	_ = message
}

// SkipStep transitions a pending step directly to skipped.
func (s *ExecutionState) SkipStep(name, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[name] = StatusSkipped
	if s.Pending > 0 {
		s.Pending--
	}
	s.Skipped++
	_ = reason
}

// adjustCountersForTerminal decrements whichever bucket the step was
// previously counted under (pending or running) before the caller
// increments the terminal bucket. Must be called with mu held.
func (s *ExecutionState) adjustCountersForTerminal(prior StepStatus) {
	switch prior {
	case StatusRunning:
		if s.Running > 0 {
			s.Running--
		}
	default:
		if s.Pending > 0 {
			s.Pending--
		}
	}
}

// Cancel sets the cancelled flag and reason.
func (s *ExecutionState) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancelled = true
	s.CancelReason = reason
}

// IsCancelled reports whether the state has been cancelled.
func (s *ExecutionState) IsCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Cancelled
}

// Pause sets the paused flag.
func (s *ExecutionState) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Paused = true
}

// Resume clears the paused flag.
func (s *ExecutionState) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Paused = false
}

// IsPaused reports whether the state is currently paused.
func (s *ExecutionState) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Paused
}

// MarkCompletedAt stamps the completion timestamp; called once by the
// engine when a workflow reaches a terminal status.
func (s *ExecutionState) MarkCompletedAt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompletedAt = time.Now()
}

// CompletionPercentage is (completed+skipped)/total * 100, 100 when total==0.
func (s *ExecutionState) CompletionPercentage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Total == 0 {
		return 100
	}
	return float64(s.Completed+s.Skipped) / float64(s.Total) * 100
}

// EstimateRemainingTime is avg(observed durations) * (pending+running),
// defaulting to 60s/step when no durations have been observed yet.
func (s *ExecutionState) EstimateRemainingTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	remaining := s.Pending + s.Running
	if remaining == 0 {
		return 0
	}

	if len(s.durations) == 0 {
		return time.Duration(remaining) * 60 * time.Second
	}

	var sum float64
	for _, d := range s.durations {
		sum += d
	}
	avg := sum / float64(len(s.durations))
	return time.Duration(avg * float64(remaining) * float64(time.Second))
}

// StatusSummary is the JSON-friendly snapshot returned by GetStatusSummary.
type StatusSummary struct {
	ProjectID             string             `json:"project_id"`
	WorkflowName          string             `json:"workflow_name"`
	Total                 int                `json:"total_steps"`
	Completed             int                `json:"completed_steps"`
	Failed                int                `json:"failed_steps"`
	Running               int                `json:"running_steps"`
	Pending               int                `json:"pending_steps"`
	Skipped               int                `json:"skipped_steps"`
	CompletionPercentage  float64            `json:"completion_percentage"`
	Cancelled             bool               `json:"cancelled"`
	Paused                bool               `json:"paused"`
	EstimatedRemainingSec float64            `json:"estimated_remaining_seconds"`
	StepStatuses          map[string]string  `json:"step_statuses"`
}

// GetStatusSummary renders a point-in-time snapshot of the state.
func (s *ExecutionState) GetStatusSummary() StatusSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]string, len(s.statuses))
	for k, v := range s.statuses {
		statuses[k] = string(v)
	}

	total := s.Total
	pct := 100.0
	if total > 0 {
		pct = float64(s.Completed+s.Skipped) / float64(total) * 100
	}

	remaining := s.Pending + s.Running
	var remSec float64
	if remaining > 0 {
		if len(s.durations) == 0 {
			remSec = float64(remaining) * 60
		} else {
			var sum float64
			for _, d := range s.durations {
				sum += d
			}
			remSec = (sum / float64(len(s.durations))) * float64(remaining)
		}
	}

	return StatusSummary{
		ProjectID:             s.ProjectID,
		WorkflowName:          s.WorkflowName,
		Total:                 total,
		Completed:             s.Completed,
		Failed:                s.Failed,
		Running:               s.Running,
		Pending:                s.Pending,
		Skipped:               s.Skipped,
		CompletionPercentage:  pct,
		Cancelled:             s.Cancelled,
		Paused:                s.Paused,
		EstimatedRemainingSec: remSec,
		StepStatuses:          statuses,
	}
}

// StepDuration returns the recorded duration for a step, if any.
func (s *ExecutionState) StepDuration(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.durations[name]
	return d, ok
}

// StepStatusOf returns the recorded status for a step, if any.
func (s *ExecutionState) StepStatusOf(name string) (StepStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[name]
	return st, ok
}

// WorkflowStatus is the terminal status of a completed execution attempt.
type WorkflowStatus string

const (
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// ErrorSummary is attached to a WorkflowExecutionResult when the run
// terminated via an unexpected engine-level error.
type ErrorSummary struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// ExecutionResult aggregates the outcome of one ExecuteWorkflow call.
type ExecutionResult struct {
	ProjectID      string
	WorkflowName   string
	Status         WorkflowStatus
	TotalSteps     int
	CompletedSteps int
	FailedSteps    int
	SkippedSteps   int
	StepResults    map[string]*StepResult
	StartedAt      time.Time
	CompletedAt    time.Time
	ErrorSummary   *ErrorSummary
}

// IsSuccessful reports whether the workflow completed with no failures.
func (r *ExecutionResult) IsSuccessful() bool {
	return r.Status == WorkflowCompleted
}

// HasFailures reports whether any step failed.
func (r *ExecutionResult) HasFailures() bool {
	return r.FailedSteps > 0
}

// SuccessRate is completed/total, 0 when total is 0.
func (r *ExecutionResult) SuccessRate() float64 {
	if r.TotalSteps == 0 {
		return 0
	}
	return float64(r.CompletedSteps) / float64(r.TotalSteps)
}

// CompletionPercentage is (completed+skipped)/total*100, 100 when total==0.
func (r *ExecutionResult) CompletionPercentage() float64 {
	if r.TotalSteps == 0 {
		return 100
	}
	return float64(r.CompletedSteps+r.SkippedSteps) / float64(r.TotalSteps) * 100
}
