package schema

import (
	"context"
	"fmt"
)

// LookupFunc resolves one resource kind's raw key to its entity. A missing
// referent must be reported as apperrors.ErrNotFound.
type LookupFunc func(ctx context.Context, key any) (any, error)

// ResolverMap is a Resolver backed by a per-kind lookup table, assembled
// once at startup from the repositories.
type ResolverMap map[string]LookupFunc

// Lookup implements Resolver.
func (m ResolverMap) Lookup(ctx context.Context, kind string, key any) (any, error) {
	lookup, ok := m[kind]
	if !ok {
		return nil, fmt.Errorf("no lookup registered for resource kind %q", kind)
	}
	return lookup(ctx, key)
}
