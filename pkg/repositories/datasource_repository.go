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

// DataSourceRepository defines the interface for data source data access.
type DataSourceRepository interface {
	Create(ctx context.Context, ds *models.DataSource) error
	GetByID(ctx context.Context, id int64) (*models.DataSource, error)
	List(ctx context.Context, q ListQuery) (int64, []*models.DataSource, error)
	Update(ctx context.Context, ds *models.DataSource) error
	Delete(ctx context.Context, id int64) error

	// ImportedInActiveSample reports whether the data source has been
	// imported (as a variation) into at least one active sample. Trader
	// annotation requests are gated on it.
	ImportedInActiveSample(ctx context.Context, id int64) (bool, error)
}

type dataSourceRepository struct {
	db *database.DB
}

// NewDataSourceRepository creates a new data source repository.
func NewDataSourceRepository(db *database.DB) DataSourceRepository {
	return &dataSourceRepository{db: db}
}

const dataSourceColumns = `id, user_id, name, filetype, filename, gzipped, created_at, updated_at`

func scanDataSource(row pgx.Row) (*models.DataSource, error) {
	var d models.DataSource
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Filetype, &d.Filename,
		&d.Gzipped, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *dataSourceRepository) Create(ctx context.Context, ds *models.DataSource) error {
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	query := `
		INSERT INTO data_sources (user_id, name, filetype, filename, gzipped, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		ds.UserID, ds.Name, ds.Filetype, ds.Filename, ds.Gzipped,
		ds.CreatedAt, ds.UpdatedAt,
	).Scan(&ds.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to create data source: %w", err))
	}
	return nil
}

func (r *dataSourceRepository) GetByID(ctx context.Context, id int64) (*models.DataSource, error) {
	query := `SELECT ` + dataSourceColumns + ` FROM data_sources WHERE id = $1`
	return scanDataSource(r.db.QueryRow(ctx, query, id))
}

var dataSourceListColumns = map[string]string{
	"id":       "id",
	"name":     "name",
	"filetype": "filetype",
	"user":     "user_id",
}

func (r *dataSourceRepository) List(ctx context.Context, q ListQuery) (int64, []*models.DataSource, error) {
	where, args, err := whereClause(q.Filters, dataSourceListColumns)
	if err != nil {
		return 0, nil, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM data_sources`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count data sources: %w", err)
	}

	order, err := orderClause(q.Order, dataSourceListColumns)
	if err != nil {
		return 0, nil, err
	}
	window, windowArgs := windowClause(q, len(args))

	rows, err := r.db.Query(ctx,
		`SELECT `+dataSourceColumns+` FROM data_sources`+where+order+window,
		append(args, windowArgs...)...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.DataSource
	for rows.Next() {
		d, err := scanDataSource(rows)
		if err != nil {
			return 0, nil, err
		}
		sources = append(sources, d)
	}
	return total, sources, rows.Err()
}

func (r *dataSourceRepository) Update(ctx context.Context, ds *models.DataSource) error {
	ds.UpdatedAt = time.Now()

	query := `UPDATE data_sources SET name = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(ctx, query, ds.Name, ds.UpdatedAt, ds.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to update data source: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSourceRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM data_sources WHERE id = $1`, id)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to delete data source: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSourceRepository) ImportedInActiveSample(ctx context.Context, id int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM variations v
			JOIN samples s ON s.id = v.sample_id
			WHERE v.data_source_id = $1 AND s.active
		)`

	var imported bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&imported); err != nil {
		return false, fmt.Errorf("failed to check data source imports: %w", err)
	}
	return imported, nil
}
