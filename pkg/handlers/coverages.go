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

func newCoverageDescriptor(deps Dependencies, samples, dataSources *resource.Descriptor) (*resource.Descriptor, error) {
	coverages := deps.Coverages

	task := &resource.TaskDef{
		Kind:        jobs.KindImportCoverage,
		Runner:      deps.Runner,
		Repo:        coverages,
		PollTimeout: deps.TaskPollTimeout,
	}

	var desc *resource.Descriptor
	var err error
	desc, err = resource.New(resource.Descriptor{
		Name: "coverage",
		Fields: func(e models.Entity) map[string]any {
			return map[string]any{"added": e.(*models.Coverage).CreatedAt}
		},
		Relations: []resource.Relation{
			{
				Name:   "sample",
				Target: samples,
				Key: func(e models.Entity) (any, bool) {
					return e.(*models.Coverage).SampleID, true
				},
				Load: func(ctx context.Context, e models.Entity) (models.Entity, error) {
					return deps.Samples.GetByID(ctx, e.(*models.Coverage).SampleID)
				},
			},
			{
				Name:   "data_source",
				Target: dataSources,
				Key: func(e models.Entity) (any, bool) {
					return e.(*models.Coverage).DataSourceID, true
				},
				Load: func(ctx context.Context, e models.Entity) (models.Entity, error) {
					return deps.DataSources.GetByID(ctx, e.(*models.Coverage).DataSourceID)
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
					total, page, err := coverages.List(ctx, q)
					return total, entities(page), err
				},
			},
			resource.ViewGet: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("coverage"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return args["coverage"].(*models.Coverage), nil
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
					c := &models.Coverage{
						UserID:       user.ID,
						SampleID:     args["sample"].(*models.Sample).ID,
						DataSourceID: args["data_source"].(*models.DataSource).ID,
					}
					err := coverages.CreateWithTask(ctx, c, func(ctx context.Context, id int64) (uuid.UUID, error) {
						return deps.Runner.Submit(ctx, jobs.KindImportCoverage, jobs.Payload{"coverage": id})
					})
					if err != nil {
						return nil, err
					}
					return c, nil
				},
			},
			resource.ViewEdit: {
				Schema: schema.Schema{"task": restartSchema},
				Policy: policy.Allow(policy.HasRole(models.RoleAdmin)),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					c := args["coverage"].(*models.Coverage)
					if !args.Has("task") {
						return c, nil
					}
					_, err := task.Restart(ctx, c, jobs.Payload{"coverage": c.ID})
					if err != nil {
						return nil, err
					}
					return coverages.GetByID(ctx, c.ID)
				},
			},
			resource.ViewDelete: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("coverage"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					c := args["coverage"].(*models.Coverage)
					if err := task.GuardDelete(ctx, c); err != nil {
						return nil, err
					}
					return nil, coverages.Delete(ctx, c.ID)
				},
			},
		},
	})
	return desc, err
}
