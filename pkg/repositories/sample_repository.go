package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/database"
	"github.com/vardalab/varda-engine/pkg/models"
)

// SampleRepository defines the interface for sample data access.
type SampleRepository interface {
	Create(ctx context.Context, sample *models.Sample) error
	GetByID(ctx context.Context, id int64) (*models.Sample, error)
	List(ctx context.Context, q ListQuery) (int64, []*models.Sample, error)
	Update(ctx context.Context, sample *models.Sample) error
	Delete(ctx context.Context, id int64) error
}

type sampleRepository struct {
	db *database.DB
}

// NewSampleRepository creates a new sample repository.
func NewSampleRepository(db *database.DB) SampleRepository {
	return &sampleRepository{db: db}
}

const sampleColumns = `id, user_id, name, pool_size, coverage_profile, active, public, created_at, updated_at`

func scanSample(row pgx.Row) (*models.Sample, error) {
	var s models.Sample
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.PoolSize, &s.CoverageProfile,
		&s.Active, &s.Public, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *sampleRepository) Create(ctx context.Context, sample *models.Sample) error {
	now := time.Now()
	sample.CreatedAt = now
	sample.UpdatedAt = now

	query := `
		INSERT INTO samples (user_id, name, pool_size, coverage_profile, active, public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		sample.UserID, sample.Name, sample.PoolSize, sample.CoverageProfile,
		sample.Active, sample.Public, sample.CreatedAt, sample.UpdatedAt,
	).Scan(&sample.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to create sample: %w", err))
	}
	return nil
}

func (r *sampleRepository) GetByID(ctx context.Context, id int64) (*models.Sample, error) {
	query := `SELECT ` + sampleColumns + ` FROM samples WHERE id = $1`
	return scanSample(r.db.QueryRow(ctx, query, id))
}

var sampleListColumns = map[string]string{
	"id":     "id",
	"name":   "name",
	"public": "public",
	"active": "active",
	"user":   "user_id",
}

func (r *sampleRepository) List(ctx context.Context, q ListQuery) (int64, []*models.Sample, error) {
	where, args, err := whereClause(q.Filters, sampleListColumns)
	if err != nil {
		return 0, nil, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM samples`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count samples: %w", err)
	}

	order, err := orderClause(q.Order, sampleListColumns)
	if err != nil {
		return 0, nil, err
	}
	window, windowArgs := windowClause(q, len(args))

	rows, err := r.db.Query(ctx,
		`SELECT `+sampleColumns+` FROM samples`+where+order+window,
		append(args, windowArgs...)...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return 0, nil, err
		}
		samples = append(samples, s)
	}
	return total, samples, rows.Err()
}

func (r *sampleRepository) Update(ctx context.Context, sample *models.Sample) error {
	sample.UpdatedAt = time.Now()

	query := `
		UPDATE samples
		SET name = $1, pool_size = $2, coverage_profile = $3, active = $4, public = $5, updated_at = $6
		WHERE id = $7`

	result, err := r.db.Exec(ctx, query,
		sample.Name, sample.PoolSize, sample.CoverageProfile,
		sample.Active, sample.Public, sample.UpdatedAt, sample.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to update sample: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sampleRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM samples WHERE id = $1`, id)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to delete sample: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
