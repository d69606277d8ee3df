package jobs

import (
	"errors"
	"fmt"
)

// Messages returned to clients for unknown or unfinished jobs.
const (
	MsgImageNotFound  = "Image not found."
	MsgResultNotReady = "Image not processed or not found."
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrDuplicateJob      = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrQueueFull         = errors.New("queue is full")
	ErrQueueClosed       = errors.New("queue is closed")
	ErrShuttingDown      = errors.New("service is shutting down")
	ErrInvalidImage      = errors.New("invalid image")
)

// NotFoundError carries the client-facing message for a missing job or result.
type NotFoundError struct {
	ID      string
	Message string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s (id=%s)", e.Message, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InferenceError reports a pipeline failure for a job, including recovered panics.
type InferenceError struct {
	JobID string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for job %s: %v", e.JobID, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IOError reports a failed file operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
