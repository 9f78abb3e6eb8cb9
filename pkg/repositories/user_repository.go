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

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	List(ctx context.Context, q ListQuery) (int64, []*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
}

// userRepository implements UserRepository using PostgreSQL.
type userRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *database.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, login, name, password_hash, roles, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Login, &u.Name, &u.PasswordHash, &u.Roles, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts a user. A duplicate login surfaces as ErrConflict.
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (login, name, password_hash, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		user.Login, user.Name, user.PasswordHash, user.Roles,
		user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to create user: %w", err))
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByLogin retrieves a user by login.
func (r *userRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE login = $1`
	return scanUser(r.db.QueryRow(ctx, query, login))
}

var userListColumns = map[string]string{
	"id":    "id",
	"login": "login",
	"name":  "name",
}

// List returns the total matching count and one page of users.
func (r *userRepository) List(ctx context.Context, q ListQuery) (int64, []*models.User, error) {
	where, args, err := whereClause(q.Filters, userListColumns)
	if err != nil {
		return 0, nil, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count users: %w", err)
	}

	order, err := orderClause(q.Order, userListColumns)
	if err != nil {
		return 0, nil, err
	}
	window, windowArgs := windowClause(q, len(args))

	rows, err := r.db.Query(ctx,
		`SELECT `+userColumns+` FROM users`+where+order+window,
		append(args, windowArgs...)...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return 0, nil, err
		}
		users = append(users, u)
	}
	return total, users, rows.Err()
}

// Update persists mutable user fields (name, password, roles).
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET name = $1, password_hash = $2, roles = $3, updated_at = $4
		WHERE id = $5`

	result, err := r.db.Exec(ctx, query,
		user.Name, user.PasswordHash, user.Roles, user.UpdatedAt, user.ID)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to update user: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete removes a user. A user that still owns samples or data sources
// surfaces as ErrIntegrity.
func (r *userRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapPgError(fmt.Errorf("failed to delete user: %w", err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
