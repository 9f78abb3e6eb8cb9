package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecFunc runs one job. The handle identifies the job itself, so the
// executor can guard its writes against a later restart having replaced it.
// Progress is reported as a percentage through the callback. A *Error
// return is a classified failure; any other error is unexpected.
type ExecFunc func(ctx context.Context, handle uuid.UUID, payload Payload, progress func(int)) error

// jobState tracks one submitted job. The done channel closes when the job
// reaches a terminal state.
type jobState struct {
	kind     string
	state    State
	progress int
	err      *Error
	cancel   context.CancelFunc
	done     chan struct{}
}

// InProcRunner executes jobs on goroutines inside the server process, with
// a bounded number of concurrent workers.
type InProcRunner struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*jobState
	executors map[string]ExecFunc

	// sem bounds worker concurrency.
	sem chan struct{}

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewInProcRunner creates a runner with the given executor table. workers
// bounds concurrent job execution; values below 1 are treated as 1.
func NewInProcRunner(executors map[string]ExecFunc, workers int, logger *zap.Logger) *InProcRunner {
	if workers < 1 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &InProcRunner{
		jobs:      make(map[uuid.UUID]*jobState),
		executors: executors,
		sem:       make(chan struct{}, workers),
		ctx:       ctx,
		stop:      stop,
		logger:    logger.Named("jobrunner"),
	}
}

// Submit schedules a job and returns its handle. The job starts as soon as
// a worker slot is free.
func (r *InProcRunner) Submit(ctx context.Context, kind string, payload Payload) (uuid.UUID, error) {
	exec, ok := r.executors[kind]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	handle := uuid.New()
	jobCtx, cancel := context.WithCancel(r.ctx)
	js := &jobState{
		kind:   kind,
		state:  StatePending,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.jobs[handle] = js
	r.mu.Unlock()

	r.logger.Info("job submitted",
		zap.String("handle", handle.String()),
		zap.String("kind", kind))

	r.wg.Add(1)
	go r.run(jobCtx, handle, js, exec, payload)

	return handle, nil
}

func (r *InProcRunner) run(ctx context.Context, handle uuid.UUID, js *jobState, exec ExecFunc, payload Payload) {
	defer r.wg.Done()

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		r.finish(handle, js, ctx.Err())
		return
	}

	r.mu.Lock()
	if js.state == StatePending {
		js.state = StateRunning
	}
	r.mu.Unlock()

	r.logger.Info("job started",
		zap.String("handle", handle.String()),
		zap.String("kind", js.kind))

	err := exec(ctx, handle, payload, func(pct int) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		js.progress = pct
	})
	r.finish(handle, js, err)
}

func (r *InProcRunner) finish(handle uuid.UUID, js *jobState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if js.state.Terminal() {
		return
	}
	if err == nil {
		js.state = StateSucceeded
		js.progress = 100
		r.logger.Info("job succeeded",
			zap.String("handle", handle.String()),
			zap.String("kind", js.kind))
	} else {
		js.state = StateFailed
		js.err = Normalize(err)
		r.logger.Error("job failed",
			zap.String("handle", handle.String()),
			zap.String("kind", js.kind),
			zap.String("code", js.err.Code),
			zap.Error(err))
	}
	// Release the job's context so finished jobs do not pile up child
	// contexts under the runner's root for the process lifetime.
	js.cancel()
	close(js.done)
}

// Status reports the job's status, waiting at most timeout for a terminal
// state. A slow or still-running job is reported as-is on timeout.
func (r *InProcRunner) Status(ctx context.Context, handle uuid.UUID, timeout time.Duration) (Status, error) {
	r.mu.Lock()
	js, ok := r.jobs[handle]
	r.mu.Unlock()
	if !ok {
		return Status{}, ErrUnknownJob
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-js.done:
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{State: js.state, Progress: js.progress, Err: js.err}, nil
}

// Cancel stops a pending or running job. Terminal jobs are left untouched.
func (r *InProcRunner) Cancel(ctx context.Context, handle uuid.UUID) error {
	r.mu.Lock()
	js, ok := r.jobs[handle]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}

	js.cancel()

	// The executor observes cancellation at its next progress checkpoint;
	// wait briefly for the state to settle so callers can rely on the job
	// no longer writing after Cancel returns.
	select {
	case <-js.done:
	case <-time.After(5 * time.Second):
		return ErrCannotCancel
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.Info("job cancelled", zap.String("handle", handle.String()))
	return nil
}

// Close stops all jobs and waits for workers to exit.
func (r *InProcRunner) Close() {
	r.stop()
	r.wg.Wait()
}
