package testhelpers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vardalab/varda-engine/pkg/jobs"
)

// Submission records one job handed to the fake runner.
type Submission struct {
	Handle  uuid.UUID
	Kind    string
	Payload jobs.Payload
}

// Runner is a jobs.Runner that records submissions instead of executing
// them. Jobs start in the running state; tests drive transitions with
// SetStatus.
type Runner struct {
	mu        sync.Mutex
	statuses  map[uuid.UUID]jobs.Status
	Submitted []Submission
	Cancelled []uuid.UUID

	// SubmitErr, if set, fails the next Submit call.
	SubmitErr error

	// CancelErr, if set, fails every Cancel call.
	CancelErr error
}

// NewRunner creates an empty fake runner.
func NewRunner() *Runner {
	return &Runner{statuses: make(map[uuid.UUID]jobs.Status)}
}

func (r *Runner) Submit(ctx context.Context, kind string, payload jobs.Payload) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SubmitErr != nil {
		err := r.SubmitErr
		r.SubmitErr = nil
		return uuid.Nil, err
	}
	handle := uuid.New()
	r.statuses[handle] = jobs.Status{State: jobs.StateRunning}
	r.Submitted = append(r.Submitted, Submission{Handle: handle, Kind: kind, Payload: payload})
	return handle, nil
}

func (r *Runner) Status(ctx context.Context, handle uuid.UUID, timeout time.Duration) (jobs.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[handle]
	if !ok {
		return jobs.Status{}, jobs.ErrUnknownJob
	}
	return status, nil
}

func (r *Runner) Cancel(ctx context.Context, handle uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CancelErr != nil {
		return r.CancelErr
	}
	r.Cancelled = append(r.Cancelled, handle)
	if status, ok := r.statuses[handle]; ok && !status.State.Terminal() {
		r.statuses[handle] = jobs.Status{
			State: jobs.StateFailed,
			Err:   &jobs.Error{Code: jobs.CodeCancelled, Message: "job was cancelled"},
		}
	}
	return nil
}

// SetStatus overrides a job's status, creating the record if needed.
func (r *Runner) SetStatus(handle uuid.UUID, status jobs.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[handle] = status
}

// LastSubmission returns the most recent submission, or nil.
func (r *Runner) LastSubmission() *Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Submitted) == 0 {
		return nil
	}
	return &r.Submitted[len(r.Submitted)-1]
}
