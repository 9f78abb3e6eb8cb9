// Package repositories provides PostgreSQL data access for all varda-engine
// entities, plus the shared list-query plumbing used by the resource list
// views (filtering, ordering, pagination with a total count).
package repositories

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vardalab/varda-engine/pkg/apperrors"
)

// Order is one requested ordering term.
type Order struct {
	Field string
	Desc  bool
}

// ListQuery describes a list view's query: equality filters (field names
// may take the relation.field form), ordering, and a pagination window.
type ListQuery struct {
	Filters map[string]any
	Order   []Order
	Offset  int64
	Limit   int64
}

// whereClause renders the filters into a WHERE fragment using the given
// field→column mapping. Filter keys are sorted so generated SQL is
// deterministic. Returns the fragment (may be empty) and its arguments.
func whereClause(filters map[string]any, columns map[string]string) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var (
		terms []string
		args  []any
	)
	for _, field := range fields {
		column, ok := columns[field]
		if !ok {
			return "", nil, fmt.Errorf("unknown filter field %q", field)
		}
		args = append(args, filters[field])
		terms = append(terms, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	return " WHERE " + strings.Join(terms, " AND "), args, nil
}

// orderClause renders the ordering terms into an ORDER BY fragment.
func orderClause(order []Order, columns map[string]string) (string, error) {
	if len(order) == 0 {
		return "", nil
	}
	terms := make([]string, 0, len(order))
	for _, o := range order {
		column, ok := columns[o.Field]
		if !ok {
			return "", fmt.Errorf("unknown order field %q", o.Field)
		}
		direction := "ASC"
		if o.Desc {
			direction = "DESC"
		}
		terms = append(terms, column+" "+direction)
	}
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

// windowClause renders LIMIT/OFFSET appended after the existing args.
func windowClause(q ListQuery, argCount int) (string, []any) {
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount+1, argCount+2),
		[]any{q.Limit, q.Offset}
}

// mapPgError translates PostgreSQL constraint violations into the shared
// error taxonomy so handlers never see raw driver errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", apperrors.ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", apperrors.ErrIntegrity, pgErr.ConstraintName)
		}
	}
	return err
}
