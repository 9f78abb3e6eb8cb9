package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/vardalab/varda-engine/pkg/jobs"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/policy"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/resource"
	"github.com/vardalab/varda-engine/pkg/schema"
)

// restartSchema is the edit body of tasked resources: an explicit, empty
// task object requests a job restart.
var restartSchema = schema.Field{Type: schema.Dict, Schema: schema.Schema{}}

func newVariationDescriptor(deps Dependencies, samples, dataSources *resource.Descriptor) (*resource.Descriptor, error) {
	variations := deps.Variations

	task := &resource.TaskDef{
		Kind:        jobs.KindImportVariation,
		Runner:      deps.Runner,
		Repo:        variations,
		PollTimeout: deps.TaskPollTimeout,
	}

	var desc *resource.Descriptor
	var err error
	desc, err = resource.New(resource.Descriptor{
		Name: "variation",
		Fields: func(e models.Entity) map[string]any {
			return map[string]any{"added": e.(*models.Variation).CreatedAt}
		},
		Relations: []resource.Relation{
			{
				Name:   "sample",
				Target: samples,
				Key: func(e models.Entity) (any, bool) {
					return e.(*models.Variation).SampleID, true
				},
				Load: func(ctx context.Context, e models.Entity) (models.Entity, error) {
					return deps.Samples.GetByID(ctx, e.(*models.Variation).SampleID)
				},
			},
			{
				Name:   "data_source",
				Target: dataSources,
				Key: func(e models.Entity) (any, bool) {
					return e.(*models.Variation).DataSourceID, true
				},
				Load: func(ctx context.Context, e models.Entity) (models.Entity, error) {
					return deps.DataSources.GetByID(ctx, e.(*models.Variation).DataSourceID)
				},
			},
		},
		Filterable: map[string]schema.Field{
			"sample":      {Ref: "sample"},
			"data_source": {Ref: "data_source"},
			"sample.user": {Ref: "user"},
		},
		DefaultOrder: []repositories.Order{{Field: "id"}},
		Task:         task,
		Views: map[resource.View]*resource.ViewDef{
			resource.ViewList: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("sample"),
					policy.IsUser("sample.user"),
				),
				Lister: func(ctx context.Context, user *models.User, args schema.Args) (int64, []models.Entity, error) {
					q, err := desc.ListQuery(args)
					if err != nil {
						return 0, nil, err
					}
					total, page, err := variations.List(ctx, q)
					return total, entities(page), err
				},
			},
			resource.ViewGet: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("variation"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return args["variation"].(*models.Variation), nil
				},
			},
			resource.ViewAdd: {
				Schema: schema.Schema{
					"sample":      {Ref: "sample", Required: true},
					"data_source": {Ref: "data_source", Required: true},
				},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("sample"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					v := &models.Variation{
						UserID:       user.ID,
						SampleID:     args["sample"].(*models.Sample).ID,
						DataSourceID: args["data_source"].(*models.DataSource).ID,
					}
					err := variations.CreateWithTask(ctx, v, func(ctx context.Context, id int64) (uuid.UUID, error) {
						return deps.Runner.Submit(ctx, jobs.KindImportVariation, jobs.Payload{"variation": id})
					})
					if err != nil {
						return nil, err
					}
					return v, nil
				},
			},
			resource.ViewEdit: {
				Schema: schema.Schema{"task": restartSchema},
				Policy: policy.Allow(policy.HasRole(models.RoleAdmin)),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					v := args["variation"].(*models.Variation)
					if !args.Has("task") {
						return v, nil
					}
					_, err := task.Restart(ctx, v, jobs.Payload{"variation": v.ID})
					if err != nil {
						return nil, err
					}
					return variations.GetByID(ctx, v.ID)
				},
			},
			resource.ViewDelete: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("variation"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					v := args["variation"].(*models.Variation)
					if err := task.GuardDelete(ctx, v); err != nil {
						return nil, err
					}
					return nil, variations.Delete(ctx, v.ID)
				},
			},
		},
	})
	return desc, err
}
