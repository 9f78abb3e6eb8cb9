// Package jobs defines the background job runner contract and an
// in-process implementation.
//
// Handlers never block on job completion: a job is submitted, its handle is
// persisted on the owning entity, and later requests poll its status with a
// bounded wait.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job kinds submitted by the tasked resources.
const (
	KindImportVariation = "import_variation"
	KindImportCoverage  = "import_coverage"
	KindWriteAnnotation = "write_annotation"
)

// State of a submitted job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Error is the recognized job failure type. Executors return it to surface
// a machine-readable code; any other error is normalized to the
// "unexpected_error" code before clients see it.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeCancelled marks a job cancelled before completion.
const CodeCancelled = "cancelled"

// CodeUnexpected marks a failure the runner could not classify.
const CodeUnexpected = "unexpected_error"

// Status is a point-in-time snapshot of a job.
type Status struct {
	State    State
	Progress int // percentage, meaningful while running
	Err      *Error
}

// Payload carries a job's arguments. Values must be plain data (ids,
// strings, bools); executors re-load entities through their repositories.
type Payload map[string]any

var (
	// ErrUnknownJob is returned for handles the runner has no record of.
	ErrUnknownJob = errors.New("unknown job handle")

	// ErrUnknownKind is returned when no executor is registered for a kind.
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrCannotCancel is returned when a running job could not be
	// confirmed cancelled.
	ErrCannotCancel = errors.New("job cannot be cancelled")
)

// Runner is the background job execution contract.
type Runner interface {
	// Submit schedules a job and returns its opaque handle.
	Submit(ctx context.Context, kind string, payload Payload) (uuid.UUID, error)

	// Status reports the job's current status, waiting at most timeout for
	// it to reach a terminal state. On timeout the current (non-terminal)
	// snapshot is returned, never an error.
	Status(ctx context.Context, handle uuid.UUID, timeout time.Duration) (Status, error)

	// Cancel stops a running job, best effort. Cancelling an already
	// terminal job is a no-op.
	Cancel(ctx context.Context, handle uuid.UUID) error
}

// Normalize coerces an executor failure into the recognized Error type.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeCancelled, Message: "job was cancelled"}
	}
	return &Error{Code: CodeUnexpected, Message: "unexpected error"}
}
