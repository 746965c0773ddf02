// Package imports models knowledge import jobs and their forward-only lifecycle.
package imports

import (
	"time"

	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
	"github.com/Steake/GodelOS-sub005/pkg/validation"
)

// Status is the lifecycle state of an import job
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	// StatusLost is local only: polling gave up and the outcome is unknown
	StatusLost Status = "lost"
)

// ParseStatus validates a status reported by the server
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", pkgerrors.NewProtocolError("unknown import status").WithDetail("status", s)
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusLost:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	default:
		return 2
	}
}

// CanAdvance reports whether from may move to to. Statuses never regress
// and a terminal status is final.
func CanAdvance(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// Source describes what to import
type Source struct {
	Kind     string `json:"type" validate:"required,oneof=url file text"`
	Location string `json:"location,omitempty" validate:"required_unless=Kind text"`
	Content  string `json:"content,omitempty" validate:"required_if=Kind text"`
	Name     string `json:"name,omitempty"`
}

// Validate checks the source
func (s Source) Validate() error {
	if err := validation.Struct(s); err != nil {
		return pkgerrors.NewValidationError("invalid import source: " + err.Error())
	}
	return nil
}

// Progress is one status report for a job, polled or pushed
type Progress struct {
	ImportID        string  `json:"importId"`
	Status          Status  `json:"status"`
	ProgressPercent float64 `json:"progressPercent"`
	Error           string  `json:"error,omitempty"`
}

// Job is the client-side view of an import
type Job struct {
	ID              string    `json:"id"`
	Source          Source    `json:"source"`
	Status          Status    `json:"status"`
	ProgressPercent float64   `json:"progressPercent"`
	Error           string    `json:"error,omitempty"`
	Cancelling      bool      `json:"cancelling"`
	PollFailures    int       `json:"pollFailures"`
	SubmittedAt     time.Time `json:"submittedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	FinishedAt      time.Time `json:"finishedAt,omitempty"`
}

// NewJob creates a queued job
func NewJob(id string, source Source, now time.Time) *Job {
	return &Job{
		ID:          id,
		Source:      source,
		Status:      StatusQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// Apply merges a report into the job. It returns whether anything changed and
// whether the status advanced. Regressions are ignored and progress never decreases.
func (j *Job) Apply(p Progress, now time.Time) (changed, advanced bool) {
	if j.Status.Terminal() {
		return false, false
	}

	if p.Status != j.Status && CanAdvance(j.Status, p.Status) {
		j.Status = p.Status
		advanced = true
		changed = true
	}
	if p.ProgressPercent > j.ProgressPercent {
		j.ProgressPercent = min(p.ProgressPercent, 100)
		changed = true
	}
	if p.Error != "" && p.Error != j.Error {
		j.Error = p.Error
		changed = true
	}
	if j.Status == StatusCompleted && j.ProgressPercent < 100 {
		j.ProgressPercent = 100
	}
	if j.Status.Terminal() {
		j.Cancelling = false
		j.FinishedAt = now
	}
	if changed {
		j.UpdatedAt = now
	}
	return changed, advanced
}

// Force moves the job to a local terminal status such as lost or cancelled
func (j *Job) Force(status Status, reason string, now time.Time) bool {
	if !CanAdvance(j.Status, status) {
		return false
	}
	j.Status = status
	if reason != "" {
		j.Error = reason
	}
	j.Cancelling = false
	j.UpdatedAt = now
	if status.Terminal() {
		j.FinishedAt = now
	}
	return true
}
