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

// AnnotationRepository defines the interface for annotation data access.
type AnnotationRepository interface {
	TaskedRepository

	// CreateWithTask inserts the annotated data source and the annotation
	// record, invokes submit with the new annotation id, and persists the
	// returned job handle, all in one transaction.
	CreateWithTask(ctx context.Context, annotated *models.DataSource, a *models.Annotation, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error

	GetByID(ctx context.Context, id int64) (*models.Annotation, error)
	List(ctx context.Context, q ListQuery) (int64, []*models.Annotation, error)
	Delete(ctx context.Context, id int64) error
}

type annotationRepository struct {
	db *database.DB
}

// NewAnnotationRepository creates a new annotation repository.
func NewAnnotationRepository(db *database.DB) AnnotationRepository {
	return &annotationRepository{db: db}
}

const annotationColumns = `id, user_id, data_source_id, annotated_data_source_id, global_frequencies, include_labels, include_sample_ids, task_uuid, task_done, created_at, updated_at`

func scanAnnotation(row pgx.Row) (*models.Annotation, error) {
	var (
		a    models.Annotation
		task *uuid.UUID
	)
	err := row.Scan(&a.ID, &a.UserID, &a.DataSourceID, &a.AnnotatedDataSourceID,
		&a.GlobalFrequencies, &a.IncludeLabels, &a.IncludeSampleIDs,
		&task, &a.TaskDone, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if task != nil {
		a.TaskUUID = *task
	}
	return &a, nil
}

func (r *annotationRepository) CreateWithTask(ctx context.Context, annotated *models.DataSource, a *models.Annotation, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error {
	now := time.Now()
	annotated.CreatedAt = now
	annotated.UpdatedAt = now
	a.CreatedAt = now
	a.UpdatedAt = now

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO data_sources (user_id, name, filetype, filename, gzipped, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		annotated.UserID, annotated.Name, annotated.Filetype, annotated.Filename,
		annotated.Gzipped, annotated.CreatedAt, annotated.UpdatedAt,
	).Scan(&annotated.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to create annotated data source: %w", err))
	}
	a.AnnotatedDataSourceID = annotated.ID

	err = tx.QueryRow(ctx, `
		INSERT INTO annotations (user_id, data_source_id, annotated_data_source_id, global_frequencies, include_labels, include_sample_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		a.UserID, a.DataSourceID, a.AnnotatedDataSourceID, a.GlobalFrequencies,
		a.IncludeLabels, a.IncludeSampleIDs, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to create annotation: %w", err))
	}

	handle, err := submit(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to submit annotation job: %w", err)
	}
	a.SetTask(handle)

	if _, err := tx.Exec(ctx,
		`UPDATE annotations SET task_uuid = $1, task_done = FALSE WHERE id = $2`,
		handle, a.ID); err != nil {
		return fmt.Errorf("failed to record task handle: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit annotation: %w", err)
	}
	return nil
}

func (r *annotationRepository) GetByID(ctx context.Context, id int64) (*models.Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations WHERE id = $1`
	return scanAnnotation(r.db.QueryRow(ctx, query, id))
}

var annotationListColumns = map[string]string{
	"id":          "id",
	"data_source": "data_source_id",
	"user":        "user_id",
}

func (r *annotationRepository) List(ctx context.Context, q ListQuery) (int64, []*models.Annotation, error) {
	where, args, err := whereClause(q.Filters, annotationListColumns)
	if err != nil {
		return 0, nil, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM annotations`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count annotations: %w", err)
	}

	order, err := orderClause(q.Order, annotationListColumns)
	if err != nil {
		return 0, nil, err
	}
	window, windowArgs := windowClause(q, len(args))

	rows, err := r.db.Query(ctx,
		`SELECT `+annotationColumns+` FROM annotations`+where+order+window,
		append(args, windowArgs...)...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	var annotations []*models.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return 0, nil, err
		}
		annotations = append(annotations, a)
	}
	return total, annotations, rows.Err()
}

func (r *annotationRepository) ReplaceTask(ctx context.Context, id int64, expected, next uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE annotations
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

func (r *annotationRepository) MarkTaskDone(ctx context.Context, id int64, handle uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE annotations
		SET task_done = TRUE, updated_at = $1
		WHERE id = $2 AND task_uuid = $3`,
		time.Now(), id, handle)
	if err != nil {
		return fmt.Errorf("failed to mark task done: %w", err)
	}
	return nil
}

func (r *annotationRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM annotations WHERE id = $1`, id)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to delete annotation: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
