package handlers

import (
	"context"
	"errors"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/genomics"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/policy"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/resource"
	"github.com/vardalab/varda-engine/pkg/schema"
)

// observedVariant pairs a variant with its frequency in the requested
// scope, computed at view time.
type observedVariant struct {
	models.Variant
	frequency genomics.Frequency
}

// variantListSatisfy encodes the region-query rule over its declaration
// order [admin, sample-filter-given, owns sample, sample public,
// annotator]. Selecting a sample requires owning it or it being public;
// annotator access covers only the global, no-sample query. Admins query
// anything.
func variantListSatisfy(results []bool) bool {
	admin, sampleGiven, owns, public, annotator := results[0], results[1], results[2], results[3], results[4]
	if sampleGiven {
		return admin || owns || public
	}
	return admin || annotator
}

func newVariantDescriptor(deps Dependencies) (*resource.Descriptor, error) {
	observations := deps.Observations

	regionSchema := schema.Field{
		Type:     schema.Dict,
		Required: true,
		Schema: schema.Schema{
			"chromosome": {Type: schema.String, Required: true},
			"begin":      {Type: schema.Integer, Required: true},
			"end":        {Type: schema.Integer, Required: true},
		},
	}

	var desc *resource.Descriptor
	var err error
	desc, err = resource.New(resource.Descriptor{
		Name:    "variant",
		KeyType: schema.String,
		Key: func(e models.Entity) string {
			return e.(*observedVariant).Key()
		},
		Fields: func(e models.Entity) map[string]any {
			v := e.(*observedVariant)
			return map[string]any{
				"chromosome":    v.Chromosome,
				"position":      v.Position,
				"reference":     v.Reference,
				"observed":      v.Observed,
				"coverage":      v.frequency.Coverage,
				"frequency":     v.frequency.Total(),
				"frequency_het": v.frequency.Heterozygous,
				"frequency_hom": v.frequency.Homozygous,
			}
		},
		Orderable: []string{"chromosome", "position"},
		DefaultOrder: []repositories.Order{
			{Field: "chromosome"}, {Field: "position"}, {Field: "reference"}, {Field: "observed"},
		},
		Views: map[resource.View]*resource.ViewDef{
			resource.ViewList: {
				Schema: schema.Schema{
					"region": regionSchema,
					"sample": {Ref: "sample"},
				},
				Policy: policy.AllowWith(variantListSatisfy,
					policy.HasRole(models.RoleAdmin),
					policy.True("sample"),
					policy.Owns("sample"),
					policy.Public("sample"),
					policy.HasRole(models.RoleAnnotator),
				),
				Lister: func(ctx context.Context, user *models.User, args schema.Args) (int64, []models.Entity, error) {
					return listVariants(ctx, desc, observations, args)
				},
			},
			resource.ViewGet: {
				Schema: schema.Schema{
					"sample": {Ref: "sample"},
				},
				Policy: policy.AllowWith(variantListSatisfy,
					policy.HasRole(models.RoleAdmin),
					policy.True("sample"),
					policy.Owns("sample"),
					policy.Public("sample"),
					policy.HasRole(models.RoleAnnotator),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					variant := args["variant"].(models.Variant)
					return observe(ctx, observations, variant, sampleScope(args))
				},
			},
			resource.ViewAdd: {
				Schema: schema.Schema{
					"chromosome": {Type: schema.String, Required: true},
					"position":   {Type: schema.Integer, Required: true},
					"reference":  {Type: schema.String},
					"observed":   {Type: schema.String},
				},
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					variant, err := genomics.NormalizeVariant(
						args.Str("chromosome"), args.Int("position"),
						args.Str("reference"), args.Str("observed"))
					if err != nil {
						return nil, normalizeError("chromosome", err)
					}
					return observe(ctx, observations, variant, 0)
				},
			},
		},
	})
	return desc, err
}

func listVariants(ctx context.Context, desc *resource.Descriptor, observations repositories.ObservationRepository, args schema.Args) (int64, []models.Entity, error) {
	region := args["region"].(schema.Args)
	chromosome, begin, end, err := genomics.NormalizeRegion(
		region.Str("chromosome"), region.Int("begin"), region.Int("end"))
	if err != nil {
		return 0, nil, normalizeError("region", err)
	}

	q, err := desc.ListQuery(args)
	if err != nil {
		return 0, nil, err
	}

	sampleID := sampleScope(args)
	bins := genomics.OverlappingBins(begin, end)
	total, variants, err := observations.QueryVariants(ctx, chromosome, begin, end,
		bins, sampleID, q.Order, q.Offset, q.Limit)
	if err != nil {
		return 0, nil, err
	}

	page := make([]models.Entity, 0, len(variants))
	for _, variant := range variants {
		observed, err := observe(ctx, observations, variant, sampleID)
		if err != nil {
			return 0, nil, err
		}
		page = append(page, observed)
	}
	return total, page, nil
}

func observe(ctx context.Context, observations repositories.ObservationRepository, variant models.Variant, sampleID int64) (*observedVariant, error) {
	frequency, err := genomics.CalculateFrequency(ctx, observations, variant, sampleID)
	if err != nil {
		return nil, err
	}
	return &observedVariant{Variant: variant, frequency: frequency}, nil
}

// sampleScope extracts the optional sample filter: zero means all active
// samples with a coverage profile.
func sampleScope(args schema.Args) int64 {
	if sample, ok := args["sample"].(*models.Sample); ok {
		return sample.ID
	}
	return 0
}

// normalizeError reports a genomics mismatch as a validation failure on
// the given field; other errors pass through.
func normalizeError(field string, err error) error {
	var mismatch *genomics.MismatchError
	if errors.As(err, &mismatch) {
		return apperrors.NewValidation(apperrors.KindInvalidValue, field, "%s", mismatch.Message)
	}
	return err
}
