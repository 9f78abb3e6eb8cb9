package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/jobs"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/repositories"
)

// TaskDef links a resource to its background job: the job kind to submit,
// the runner executing it, and the repository slice persisting the handle.
type TaskDef struct {
	Kind   string
	Runner jobs.Runner
	Repo   repositories.TaskedRepository

	// PollTimeout bounds how long serialization waits for a job to settle.
	PollTimeout time.Duration
}

// Restart replaces the entity's job: a still-running prior job is
// cancelled first (an uncancellable one aborts the restart), then the new
// job is submitted and its handle swapped in with a compare-and-swap
// against the handle the caller read. Losing that swap to a concurrent
// restart cancels the freshly submitted job, so two restarts never leave
// two live handles on one instance.
func (t *TaskDef) Restart(ctx context.Context, e models.Tasked, payload jobs.Payload) (uuid.UUID, error) {
	prev := e.TaskHandle()
	if prev != uuid.Nil {
		status, err := t.Runner.Status(ctx, prev, 0)
		if err == nil && !status.State.Terminal() {
			if err := t.Runner.Cancel(ctx, prev); err != nil {
				return uuid.Nil, fmt.Errorf("%w: running job could not be cancelled", apperrors.ErrIntegrity)
			}
		}
	}

	next, err := t.Runner.Submit(ctx, t.Kind, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to submit %s job: %w", t.Kind, err)
	}
	if err := t.Repo.ReplaceTask(ctx, e.EntityID(), prev, next); err != nil {
		// A concurrent restart won the swap; ours must not run orphaned.
		_ = t.Runner.Cancel(ctx, next)
		return uuid.Nil, err
	}
	return next, nil
}

// GuardDelete enforces the delete rule for tasked entities: a running job
// blocks deletion, a terminal or forgotten handle is cancelled best-effort
// so the runner can drop its bookkeeping.
func (t *TaskDef) GuardDelete(ctx context.Context, e models.Tasked) error {
	handle := e.TaskHandle()
	if handle == uuid.Nil {
		return nil
	}
	status, err := t.Runner.Status(ctx, handle, 0)
	if err != nil {
		// The runner has no record of the handle (e.g. after a process
		// restart); there is nothing left to stop.
		return nil
	}
	if !status.State.Terminal() {
		return fmt.Errorf("%w: the %s job has not finished", apperrors.ErrTaskRunning, t.Kind)
	}
	_ = t.Runner.Cancel(ctx, handle)
	return nil
}

// taskState projects the entity's job status for serialization. The runner
// is polled with the bounded timeout; a job still in flight after the wait
// is reported as-is, never as a failure. A handle the runner no longer
// recognizes falls back to the persisted done flag.
func (t *TaskDef) taskState(ctx context.Context, e models.Tasked) map[string]any {
	handle := e.TaskHandle()
	if handle == uuid.Nil {
		return map[string]any{"done": false, "state": "no_task"}
	}

	status, err := t.Runner.Status(ctx, handle, t.PollTimeout)
	if err != nil {
		return map[string]any{
			"uuid":  handle.String(),
			"done":  e.TaskFinished(),
			"state": "unknown",
		}
	}

	out := map[string]any{
		"uuid":  handle.String(),
		"done":  status.State.Terminal(),
		"state": string(status.State),
	}
	if status.State == jobs.StateRunning {
		out["progress"] = status.Progress
	}
	if status.Err != nil {
		out["error"] = map[string]any{
			"code":    status.Err.Code,
			"message": status.Err.Message,
		}
	}
	return out
}
