package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/database"
	"github.com/vardalab/varda-engine/pkg/models"
)

// TaskedRepository is the slice of a repository the tasked-resource
// machinery drives: compare-and-swap of the stored job handle and the
// one-shot done flip when a job terminates.
type TaskedRepository interface {
	// ReplaceTask swaps the stored task handle from expected to next and
	// clears the done flag, atomically. If the stored handle no longer
	// matches expected (a concurrent restart won), ErrConflict is returned.
	ReplaceTask(ctx context.Context, id int64, expected, next uuid.UUID) error

	// MarkTaskDone flips the done flag for the entity, guarded by handle so
	// a stale job cannot clobber the state of its replacement.
	MarkTaskDone(ctx context.Context, id int64, handle uuid.UUID) error
}

// VariationRepository defines the interface for variation data access.
type VariationRepository interface {
	TaskedRepository

	// CreateWithTask inserts the variation, invokes submit with the new id,
	// and persists the returned job handle, all in one transaction. If
	// persisting fails after submission the job may run orphaned; the
	// returned handle is reported so the caller can attempt cancellation.
	CreateWithTask(ctx context.Context, v *models.Variation, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error

	GetByID(ctx context.Context, id int64) (*models.Variation, error)
	List(ctx context.Context, q ListQuery) (int64, []*models.Variation, error)
	Delete(ctx context.Context, id int64) error
}

type variationRepository struct {
	db *database.DB
}

// NewVariationRepository creates a new variation repository.
func NewVariationRepository(db *database.DB) VariationRepository {
	return &variationRepository{db: db}
}

const variationColumns = `id, user_id, sample_id, data_source_id, task_uuid, task_done, created_at, updated_at`

func scanVariation(row pgx.Row) (*models.Variation, error) {
	var (
		v    models.Variation
		task *uuid.UUID
	)
	err := row.Scan(&v.ID, &v.UserID, &v.SampleID, &v.DataSourceID,
		&task, &v.TaskDone, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if task != nil {
		v.TaskUUID = *task
	}
	return &v, nil
}

func nullableUUID(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}

func (r *variationRepository) CreateWithTask(ctx context.Context, v *models.Variation, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error {
	now := time.Now()
	v.CreatedAt = now
	v.UpdatedAt = now

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO variations (user_id, sample_id, data_source_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		v.UserID, v.SampleID, v.DataSourceID, v.CreatedAt, v.UpdatedAt,
	).Scan(&v.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to create variation: %w", err))
	}

	handle, err := submit(ctx, v.ID)
	if err != nil {
		return fmt.Errorf("failed to submit import job: %w", err)
	}
	v.SetTask(handle)

	if _, err := tx.Exec(ctx,
		`UPDATE variations SET task_uuid = $1, task_done = FALSE WHERE id = $2`,
		handle, v.ID); err != nil {
		return fmt.Errorf("failed to record task handle: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit variation: %w", err)
	}
	return nil
}

func (r *variationRepository) GetByID(ctx context.Context, id int64) (*models.Variation, error) {
	query := `SELECT ` + variationColumns + ` FROM variations WHERE id = $1`
	return scanVariation(r.db.QueryRow(ctx, query, id))
}

var variationListColumns = map[string]string{
	"id":          "id",
	"sample":      "sample_id",
	"data_source": "data_source_id",
	"sample.user": "(SELECT s.user_id FROM samples s WHERE s.id = sample_id)",
}

func (r *variationRepository) List(ctx context.Context, q ListQuery) (int64, []*models.Variation, error) {
	where, args, err := whereClause(q.Filters, variationListColumns)
	if err != nil {
		return 0, nil, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM variations`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count variations: %w", err)
	}

	order, err := orderClause(q.Order, variationListColumns)
	if err != nil {
		return 0, nil, err
	}
	window, windowArgs := windowClause(q, len(args))

	rows, err := r.db.Query(ctx,
		`SELECT `+variationColumns+` FROM variations`+where+order+window,
		append(args, windowArgs...)...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list variations: %w", err)
	}
	defer rows.Close()

	var variations []*models.Variation
	for rows.Next() {
		v, err := scanVariation(rows)
		if err != nil {
			return 0, nil, err
		}
		variations = append(variations, v)
	}
	return total, variations, rows.Err()
}

func (r *variationRepository) ReplaceTask(ctx context.Context, id int64, expected, next uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE variations
		SET task_uuid = $1, task_done = FALSE, updated_at = $2
		WHERE id = $3 AND task_uuid IS NOT DISTINCT FROM $4`,
		next, time.Now(), id, nullableUUID(expected))
	if err != nil {
		return mapPgError(fmt.Errorf("failed to replace task handle: %w", err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: task handle changed since read", apperrors.ErrConflict)
	}
	return nil
}

func (r *variationRepository) MarkTaskDone(ctx context.Context, id int64, handle uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE variations
		SET task_done = TRUE, updated_at = $1
		WHERE id = $2 AND task_uuid = $3`,
		time.Now(), id, handle)
	if err != nil {
		return fmt.Errorf("failed to mark task done: %w", err)
	}
	return nil
}

func (r *variationRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM variations WHERE id = $1`, id)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to delete variation: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
