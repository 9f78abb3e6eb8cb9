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

// CoverageRepository defines the interface for coverage data access.
type CoverageRepository interface {
	TaskedRepository

	// CreateWithTask inserts the coverage, invokes submit with the new id,
	// and persists the returned job handle, all in one transaction.
	CreateWithTask(ctx context.Context, c *models.Coverage, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error

	GetByID(ctx context.Context, id int64) (*models.Coverage, error)
	List(ctx context.Context, q ListQuery) (int64, []*models.Coverage, error)
	Delete(ctx context.Context, id int64) error
}

type coverageRepository struct {
	db *database.DB
}

// NewCoverageRepository creates a new coverage repository.
func NewCoverageRepository(db *database.DB) CoverageRepository {
	return &coverageRepository{db: db}
}

const coverageColumns = `id, user_id, sample_id, data_source_id, task_uuid, task_done, created_at, updated_at`

func scanCoverage(row pgx.Row) (*models.Coverage, error) {
	var (
		c    models.Coverage
		task *uuid.UUID
	)
	err := row.Scan(&c.ID, &c.UserID, &c.SampleID, &c.DataSourceID,
		&task, &c.TaskDone, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if task != nil {
		c.TaskUUID = *task
	}
	return &c, nil
}

func (r *coverageRepository) CreateWithTask(ctx context.Context, c *models.Coverage, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO coverages (user_id, sample_id, data_source_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		c.UserID, c.SampleID, c.DataSourceID, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to create coverage: %w", err))
	}

	handle, err := submit(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to submit import job: %w", err)
	}
	c.SetTask(handle)

	if _, err := tx.Exec(ctx,
		`UPDATE coverages SET task_uuid = $1, task_done = FALSE WHERE id = $2`,
		handle, c.ID); err != nil {
		return fmt.Errorf("failed to record task handle: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit coverage: %w", err)
	}
	return nil
}

func (r *coverageRepository) GetByID(ctx context.Context, id int64) (*models.Coverage, error) {
	query := `SELECT ` + coverageColumns + ` FROM coverages WHERE id = $1`
	return scanCoverage(r.db.QueryRow(ctx, query, id))
}

var coverageListColumns = map[string]string{
	"id":          "id",
	"sample":      "sample_id",
	"data_source": "data_source_id",
	"sample.user": "(SELECT s.user_id FROM samples s WHERE s.id = sample_id)",
}

func (r *coverageRepository) List(ctx context.Context, q ListQuery) (int64, []*models.Coverage, error) {
	where, args, err := whereClause(q.Filters, coverageListColumns)
	if err != nil {
		return 0, nil, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM coverages`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count coverages: %w", err)
	}

	order, err := orderClause(q.Order, coverageListColumns)
	if err != nil {
		return 0, nil, err
	}
	window, windowArgs := windowClause(q, len(args))

	rows, err := r.db.Query(ctx,
		`SELECT `+coverageColumns+` FROM coverages`+where+order+window,
		append(args, windowArgs...)...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list coverages: %w", err)
	}
	defer rows.Close()

	var coverages []*models.Coverage
	for rows.Next() {
		c, err := scanCoverage(rows)
		if err != nil {
			return 0, nil, err
		}
		coverages = append(coverages, c)
	}
	return total, coverages, rows.Err()
}

func (r *coverageRepository) ReplaceTask(ctx context.Context, id int64, expected, next uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE coverages
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

func (r *coverageRepository) MarkTaskDone(ctx context.Context, id int64, handle uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE coverages
		SET task_done = TRUE, updated_at = $1
		WHERE id = $2 AND task_uuid = $3`,
		time.Now(), id, handle)
	if err != nil {
		return fmt.Errorf("failed to mark task done: %w", err)
	}
	return nil
}

func (r *coverageRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM coverages WHERE id = $1`, id)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to delete coverage: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
