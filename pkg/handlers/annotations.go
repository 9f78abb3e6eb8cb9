package handlers

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/jobs"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/policy"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/resource"
	"github.com/vardalab/varda-engine/pkg/schema"
)

// annotateSatisfy encodes the annotation add rule over its declaration
// order [admin, owns data_source, annotator, trader]:
// admin OR (owns AND (annotator OR trader)).
func annotateSatisfy(results []bool) bool {
	admin, owns, annotator, trader := results[0], results[1], results[2], results[3]
	return admin || (owns && (annotator || trader))
}

// labelPattern restricts include-sample labels, which become column names
// in the annotated output.
var labelPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

func newAnnotationDescriptor(deps Dependencies, dataSources *resource.Descriptor) (*resource.Descriptor, error) {
	annotations := deps.Annotations

	task := &resource.TaskDef{
		Kind:        jobs.KindWriteAnnotation,
		Runner:      deps.Runner,
		Repo:        annotations,
		PollTimeout: deps.TaskPollTimeout,
	}

	dataSourceRelation := func(name string, id func(*models.Annotation) int64) resource.Relation {
		return resource.Relation{
			Name:   name,
			Target: dataSources,
			Key: func(e models.Entity) (any, bool) {
				return id(e.(*models.Annotation)), true
			},
			Load: func(ctx context.Context, e models.Entity) (models.Entity, error) {
				return deps.DataSources.GetByID(ctx, id(e.(*models.Annotation)))
			},
		}
	}

	var desc *resource.Descriptor
	var err error
	desc, err = resource.New(resource.Descriptor{
		Name: "annotation",
		Fields: func(e models.Entity) map[string]any {
			a := e.(*models.Annotation)
			return map[string]any{
				"global_frequencies": a.GlobalFrequencies,
				"added":              a.CreatedAt,
			}
		},
		Relations: []resource.Relation{
			dataSourceRelation("data_source", func(a *models.Annotation) int64 {
				return a.DataSourceID
			}),
			dataSourceRelation("annotated_data_source", func(a *models.Annotation) int64 {
				return a.AnnotatedDataSourceID
			}),
		},
		Filterable: map[string]schema.Field{
			"user":        {Ref: "user"},
			"data_source": {Ref: "data_source"},
		},
		DefaultOrder: []repositories.Order{{Field: "id"}},
		Task:         task,
		Views: map[resource.View]*resource.ViewDef{
			resource.ViewList: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.IsUser("user"),
					policy.Owns("data_source"),
				),
				Lister: func(ctx context.Context, user *models.User, args schema.Args) (int64, []models.Entity, error) {
					q, err := desc.ListQuery(args)
					if err != nil {
						return 0, nil, err
					}
					total, page, err := annotations.List(ctx, q)
					return total, entities(page), err
				},
			},
			resource.ViewGet: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("annotation"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return args["annotation"].(*models.Annotation), nil
				},
			},
			resource.ViewAdd: {
				Schema: schema.Schema{
					"data_source":        {Ref: "data_source", Required: true},
					"global_frequencies": {Type: schema.Boolean},
					"include_samples": {
						Type: schema.List,
						Elem: &schema.Field{
							Type: schema.Dict,
							Schema: schema.Schema{
								"label":  {Type: schema.String, Required: true, MaxLength: 40},
								"sample": {Ref: "sample", Required: true},
							},
						},
					},
				},
				Policy: policy.AllowWith(annotateSatisfy,
					policy.HasRole(models.RoleAdmin),
					policy.Owns("data_source"),
					policy.HasRole(models.RoleAnnotator),
					policy.HasRole(models.RoleTrader),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return addAnnotation(ctx, deps, user, args)
				},
			},
			resource.ViewEdit: {
				Schema: schema.Schema{"task": restartSchema},
				Policy: policy.Allow(policy.HasRole(models.RoleAdmin)),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					a := args["annotation"].(*models.Annotation)
					if !args.Has("task") {
						return a, nil
					}
					_, err := task.Restart(ctx, a, jobs.Payload{"annotation": a.ID})
					if err != nil {
						return nil, err
					}
					return annotations.GetByID(ctx, a.ID)
				},
			},
			resource.ViewDelete: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("annotation"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					a := args["annotation"].(*models.Annotation)
					if err := task.GuardDelete(ctx, a); err != nil {
						return nil, err
					}
					return nil, annotations.Delete(ctx, a.ID)
				},
			},
		},
	})
	return desc, err
}

func addAnnotation(ctx context.Context, deps Dependencies, user *models.User, args schema.Args) (models.Entity, error) {
	source := args["data_source"].(*models.DataSource)

	labels, sampleIDs, err := includedSamples(user, args)
	if err != nil {
		return nil, err
	}

	// Traders may only annotate against data that already participates in
	// an active sample.
	if user.HasRole(models.RoleTrader) && !user.IsAdmin() && !user.HasRole(models.RoleAnnotator) {
		imported, err := deps.DataSources.ImportedInActiveSample(ctx, source.ID)
		if err != nil {
			return nil, err
		}
		if !imported {
			return nil, fmt.Errorf("%w: data source is not imported in an active sample", apperrors.ErrForbidden)
		}
	}

	annotated := &models.DataSource{
		UserID:   user.ID,
		Name:     source.Name + " (annotated)",
		Filetype: source.Filetype,
		Filename: uuid.New().String(),
	}
	annotation := &models.Annotation{
		UserID:            user.ID,
		DataSourceID:      source.ID,
		GlobalFrequencies: args.Bool("global_frequencies") || len(labels) == 0,
		IncludeLabels:     labels,
		IncludeSampleIDs:  sampleIDs,
	}

	err = deps.Annotations.CreateWithTask(ctx, annotated, annotation, func(ctx context.Context, id int64) (uuid.UUID, error) {
		return deps.Runner.Submit(ctx, jobs.KindWriteAnnotation, jobs.Payload{"annotation": id})
	})
	if err != nil {
		return nil, err
	}
	return annotation, nil
}

// includedSamples flattens the validated include_samples argument,
// enforces the label format, and checks that each included sample is
// visible to the requester: public, their own, or requester is admin.
func includedSamples(user *models.User, args schema.Args) ([]string, []int64, error) {
	included, _ := args["include_samples"].([]any)
	var (
		labels    []string
		sampleIDs []int64
	)
	for _, item := range included {
		entry := item.(schema.Args)
		label := entry.Str("label")
		if !labelPattern.MatchString(label) {
			return nil, nil, apperrors.NewValidation(apperrors.KindInvalidValue, "include_samples",
				"label %q must be uppercase alphanumeric", label)
		}
		sample := entry["sample"].(*models.Sample)
		if !sample.Public && sample.UserID != user.ID && !user.IsAdmin() {
			return nil, nil, apperrors.NewValidation(apperrors.KindInvalidValue, "include_samples",
				"sample %d is not public and not yours", sample.ID)
		}
		labels = append(labels, label)
		sampleIDs = append(sampleIDs, sample.ID)
	}
	return labels, sampleIDs, nil
}
