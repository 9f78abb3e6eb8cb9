package handlers

import (
	"context"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/genomics"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/schema"
)

// newResolver assembles the reference-resolution table the schema
// validator uses: one lookup per resource kind, keyed by the kind names
// the view schemas reference.
func newResolver(deps Dependencies) schema.ResolverMap {
	return schema.ResolverMap{
		"user": byID(func(ctx context.Context, id int64) (any, error) {
			return deps.Users.GetByID(ctx, id)
		}),
		"sample": byID(func(ctx context.Context, id int64) (any, error) {
			return deps.Samples.GetByID(ctx, id)
		}),
		"data_source": byID(func(ctx context.Context, id int64) (any, error) {
			return deps.DataSources.GetByID(ctx, id)
		}),
		"variation": byID(func(ctx context.Context, id int64) (any, error) {
			return deps.Variations.GetByID(ctx, id)
		}),
		"coverage": byID(func(ctx context.Context, id int64) (any, error) {
			return deps.Coverages.GetByID(ctx, id)
		}),
		"annotation": byID(func(ctx context.Context, id int64) (any, error) {
			return deps.Annotations.GetByID(ctx, id)
		}),
		"variant": lookupVariant,
	}
}

// byID adapts an integer-keyed load. Keys that are not integers cannot
// address anything, so they resolve to not-found.
func byID(load func(ctx context.Context, id int64) (any, error)) schema.LookupFunc {
	return func(ctx context.Context, key any) (any, error) {
		id, ok := key.(int64)
		if !ok {
			return nil, apperrors.ErrNotFound
		}
		return load(ctx, id)
	}
}

// lookupVariant parses and normalizes a composite variant key. A variant
// is a value, not a stored row: a well-formed key always resolves.
func lookupVariant(ctx context.Context, key any) (any, error) {
	s, ok := key.(string)
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	parsed, err := models.ParseVariantKey(s)
	if err != nil {
		return nil, apperrors.ErrNotFound
	}
	variant, err := genomics.NormalizeVariant(parsed.Chromosome, parsed.Position,
		parsed.Reference, parsed.Observed)
	if err != nil {
		return nil, apperrors.ErrNotFound
	}
	return variant, nil
}
