// Package progress implements an in-process publish/subscribe hub for
// workflow lifecycle and progress events. Streaming transports (WebSocket,
// SSE) are out of scope; Subscriber is the abstract seam those transports
// would bind to.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
)

// EventType enumerates the lifecycle and progress events the monitor emits.
type EventType string

const (
	EventWorkflowStarted    EventType = "workflow_started"
	EventWorkflowCompleted  EventType = "workflow_completed"
	EventWorkflowFailed     EventType = "workflow_failed"
	EventWorkflowCancelled  EventType = "workflow_cancelled"
	EventWorkflowPaused     EventType = "workflow_paused"
	EventWorkflowResumed    EventType = "workflow_resumed"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventStepSkipped        EventType = "step_skipped"
	EventProgressUpdate     EventType = "progress_update"
	EventTimeEstimateUpdate EventType = "time_estimate_update"
	EventResourceUpdate     EventType = "resource_update"
	EventErrorOccurred      EventType = "error_occurred"
)

// Event is the payload delivered to subscribers.
type Event struct {
	ID           string
	Type         EventType
	ProjectID    string
	WorkflowName string
	StepName     string
	Timestamp    time.Time
	Data         map[string]any
}

// Subscriber is the language-agnostic seam a transport adapter implements.
type Subscriber interface {
	ID() string
	OnEvent(Event)
	IsActive() bool
	// ProjectFilter, if non-nil, restricts delivery to the listed project
	// ids; nil means "receive everything."
	ProjectFilter() map[string]bool
}

// Monitor is the pub/sub hub: bounded event history, periodic pruning of
// inactive subscribers, and a detailed-report generator.
type Monitor struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	history     []Event
	maxHistory  int

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// New returns a monitor with the given bounded history size and cleanup
// interval (per §6's max_event_history / subscriber_cleanup_interval_seconds
// configuration keys).
func New(maxHistory int, cleanupInterval time.Duration) *Monitor {
	if maxHistory < 0 {
		maxHistory = 0
	}
	m := &Monitor{
		subscribers:     make(map[string]Subscriber),
		maxHistory:      maxHistory,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.cleanupLoop()
	}
	return m
}

// Close stops the periodic cleanup goroutine.
func (m *Monitor) Close() {
	m.cleanupOnce.Do(func() { close(m.stopCleanup) })
}

func (m *Monitor) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.pruneInactive()
		case <-m.stopCleanup:
			return
		}
	}
}

// Subscribe registers a subscriber.
func (m *Monitor) Subscribe(s Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[s.ID()] = s
}

// Unsubscribe removes a subscriber by id.
func (m *Monitor) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

// PublishEvent stamps an id/timestamp if missing, appends to history, and
// delivers to every active subscriber whose filter accepts the event.
// Subscribers that report inactive, or whose OnEvent panics, are
// unsubscribed after delivery.
func (m *Monitor) PublishEvent(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	m.mu.Lock()
	if m.maxHistory > 0 {
		m.history = append(m.history, e)
		if len(m.history) > m.maxHistory {
			m.history = m.history[len(m.history)-m.maxHistory:]
		}
	}
	// Copy the subscriber slice before releasing the lock so delivery
	// tolerates concurrent Subscribe/Unsubscribe.
	subs := make([]Subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	var dead []string
	for _, s := range subs {
		if filter := s.ProjectFilter(); filter != nil && e.ProjectID != "" && !filter[e.ProjectID] {
			continue
		}
		if !s.IsActive() {
			dead = append(dead, s.ID())
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					dead = append(dead, s.ID())
				}
			}()
			s.OnEvent(e)
		}()
	}

	if len(dead) > 0 {
		m.mu.Lock()
		for _, id := range dead {
			delete(m.subscribers, id)
		}
		m.mu.Unlock()
	}
}

func (m *Monitor) pruneInactive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.subscribers {
		if !s.IsActive() {
			delete(m.subscribers, id)
		}
	}
}

// CreateProgressCallback returns an adapter the engine can pass as its
// progress callback: each invocation wraps the execution state's summary
// into a progress_update event.
func (m *Monitor) CreateProgressCallback(projectID, workflowName string) func(*workflow.ExecutionState) {
	return func(state *workflow.ExecutionState) {
		summary := state.GetStatusSummary()
		m.PublishEvent(Event{
			Type:         EventProgressUpdate,
			ProjectID:    projectID,
			WorkflowName: workflowName,
			Data: map[string]any{
				"completion_percentage": summary.CompletionPercentage,
				"completed_steps":       summary.Completed,
				"failed_steps":          summary.Failed,
				"running_steps":         summary.Running,
				"pending_steps":         summary.Pending,
				"skipped_steps":         summary.Skipped,
			},
		})
	}
}

// GetEventHistory returns history entries matching the given (optional)
// project id and event types, most-recent-limited by limit (0 means "no
// limit").
func (m *Monitor) GetEventHistory(projectID string, types []EventType, limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeSet := make(map[EventType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	var out []Event
	for _, e := range m.history {
		if projectID != "" && e.ProjectID != projectID {
			continue
		}
		if len(typeSet) > 0 && !typeSet[e.Type] {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// DetailedReport is the structured report produced by GenerateDetailedReport.
type DetailedReport struct {
	ProjectID            string
	WorkflowName         string
	TotalSteps           int
	CompletedSteps       int
	FailedSteps          int
	CompletionPercentage float64
	FastestStep          string
	FastestStepSeconds   float64
	SlowestStep          string
	SlowestStepSeconds   float64
	StepStatuses         map[string]string
	StepDurations        map[string]float64
}

// GenerateDetailedReport builds a report from the live execution state: the
// monitor itself holds no step-level data, so it is handed the state to
// summarize.
func GenerateDetailedReport(state *workflow.ExecutionState, stepNames []string) DetailedReport {
	summary := state.GetStatusSummary()
	report := DetailedReport{
		ProjectID:            summary.ProjectID,
		WorkflowName:         summary.WorkflowName,
		TotalSteps:           summary.Total,
		CompletedSteps:       summary.Completed,
		FailedSteps:          summary.Failed,
		CompletionPercentage: summary.CompletionPercentage,
		StepStatuses:         summary.StepStatuses,
		StepDurations:        map[string]float64{},
	}

	first := true
	for _, name := range stepNames {
		d, ok := state.StepDuration(name)
		if !ok {
			continue
		}
		report.StepDurations[name] = d
		if first || d < report.FastestStepSeconds {
			report.FastestStep, report.FastestStepSeconds = name, d
		}
		if first || d > report.SlowestStepSeconds {
			report.SlowestStep, report.SlowestStepSeconds = name, d
		}
		first = false
	}
	return report
}
