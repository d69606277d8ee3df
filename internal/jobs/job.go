// Package jobs runs uploaded meter photos through the reading pipeline in the
// background and keeps their state until the janitor reclaims them.
package jobs

import (
	"fmt"
	"slices"
	"time"
)

// State is the lifecycle position of a job.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Client-facing status strings.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ClientStatus maps the internal state to the status reported to clients.
func (s State) ClientStatus() string {
	switch s {
	case StateCompleted:
		return StatusProcessed
	case StateFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

var transitions = map[State][]State{
	StateQueued:     {StateProcessing},
	StateProcessing: {StateCompleted, StateFailed},
}

// ValidateTransition returns ErrInvalidTransition unless from → to is allowed.
func ValidateTransition(from, to State) error {
	if slices.Contains(transitions[from], to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Job is one uploaded image and what became of it.
type Job struct {
	ID          string    `json:"uuid"`
	State       State     `json:"state"`
	InputPath   string    `json:"-"`
	OutputPath  string    `json:"-"`
	Values      []string  `json:"values,omitempty"`
	Err         string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

func (j *Job) clone() Job {
	c := *j
	if j.Values != nil {
		c.Values = slices.Clone(j.Values)
	}
	return c
}
