package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidState is returned when an operation is not legal for the job's current status
	ErrInvalidState = errors.New("invalid job state")

	// ErrRetriesExhausted is returned when a job has used up its attempt ceiling
	ErrRetriesExhausted = errors.New("max retries exceeded")

	// ErrHandlerNotFound is returned when no handler is registered under a job's name
	ErrHandlerNotFound = errors.New("no handler registered")

	// ErrLeaseLost is returned when a processor no longer holds the lease on a running job
	ErrLeaseLost = errors.New("job lease lost")
)

// StateError carries the status that made a transition illegal
type StateError struct {
	JobID  int64
	Status Status
	Event  Event
}

func (e *StateError) Error() string {
	return fmt.Sprintf("job #%d cannot %s: current status %s", e.JobID, e.Event, e.Status)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// NewStateError creates a new StateError
func NewStateError(jobID int64, status Status, event Event) error {
	return &StateError{JobID: jobID, Status: status, Event: event}
}

// PermanentError marks a handler failure that must not be retried automatically
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err so the processor skips its automatic retry
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
