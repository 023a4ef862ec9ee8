// Package project defines the Project and FileReference domain types
// persisted by the metadata repository and reconciled by the data
// integration layer. The fluent WithX setters follow the copy-on-write
// style the teacher's session domain type uses.
package project

import "time"

// Status is a project's lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Project is a Yukkuri production project: a caller-chosen id, a subject
// and target length, a lifecycle status, and two free-form maps the
// pipeline steps read and write as they progress.
type Project struct {
	ID                string
	Subject           string
	TargetLengthMin   float64
	Status            Status
	Config            map[string]any
	OutputSummary     map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// New returns a Project in StatusCreated with empty config/output maps.
func New(id, subject string, targetLengthMin float64) *Project {
	now := time.Now()
	return &Project{
		ID:              id,
		Subject:         subject,
		TargetLengthMin: targetLengthMin,
		Status:          StatusCreated,
		Config:          map[string]any{},
		OutputSummary:   map[string]any{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// WithStatus returns a copy of p with Status replaced.
func (p Project) WithStatus(s Status) Project {
	p.Status = s
	p.UpdatedAt = time.Now()
	return p
}

// WithConfig returns a copy of p with Config replaced.
func (p Project) WithConfig(cfg map[string]any) Project {
	p.Config = cfg
	p.UpdatedAt = time.Now()
	return p
}

// WithOutputSummary returns a copy of p with OutputSummary replaced.
func (p Project) WithOutputSummary(summary map[string]any) Project {
	p.OutputSummary = summary
	p.UpdatedAt = time.Now()
	return p
}
