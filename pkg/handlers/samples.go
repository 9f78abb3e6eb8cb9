package handlers

import (
	"context"

	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/policy"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/resource"
	"github.com/vardalab/varda-engine/pkg/schema"
)

func newSampleDescriptor(deps Dependencies, users *resource.Descriptor) (*resource.Descriptor, error) {
	samples := deps.Samples

	var desc *resource.Descriptor
	var err error
	desc, err = resource.New(resource.Descriptor{
		Name: "sample",
		Fields: func(e models.Entity) map[string]any {
			s := e.(*models.Sample)
			return map[string]any{
				"name":             s.Name,
				"pool_size":        s.PoolSize,
				"coverage_profile": s.CoverageProfile,
				"active":           s.Active,
				"public":           s.Public,
				"added":            s.CreatedAt,
			}
		},
		Relations: []resource.Relation{
			userRelation(users, deps.Users, func(e models.Entity) int64 {
				return e.(*models.Sample).UserID
			}),
		},
		Filterable: map[string]schema.Field{
			"user":   {Ref: "user"},
			"public": {Type: schema.Boolean},
		},
		Orderable:    []string{"name", "active", "public"},
		DefaultOrder: []repositories.Order{{Field: "id"}},
		Views: map[resource.View]*resource.ViewDef{
			resource.ViewList: {
				Schema: schema.Schema{},
				// Admins list everything; everyone else must narrow the
				// listing to their own samples or to public ones.
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.IsUser("user"),
					policy.True("public"),
				),
				Lister: func(ctx context.Context, user *models.User, args schema.Args) (int64, []models.Entity, error) {
					q, err := desc.ListQuery(args)
					if err != nil {
						return 0, nil, err
					}
					total, page, err := samples.List(ctx, q)
					return total, entities(page), err
				},
			},
			resource.ViewGet: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("sample"),
					policy.Public("sample"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return args["sample"].(*models.Sample), nil
				},
			},
			resource.ViewAdd: {
				Schema: schema.Schema{
					"name":             {Type: schema.String, Required: true, MaxLength: 200},
					"pool_size":        {Type: schema.Integer},
					"coverage_profile": {Type: schema.Boolean},
					"public":           {Type: schema.Boolean},
				},
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return addSample(ctx, samples, user, args)
				},
			},
			resource.ViewEdit: {
				Schema: schema.Schema{
					"name":             {Type: schema.String, MaxLength: 200},
					"pool_size":        {Type: schema.Integer},
					"coverage_profile": {Type: schema.Boolean},
					"public":           {Type: schema.Boolean},
					"active":           {Type: schema.Boolean},
				},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("sample"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return editSample(ctx, samples, args)
				},
			},
			resource.ViewDelete: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.Owns("sample"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					sample := args["sample"].(*models.Sample)
					return nil, samples.Delete(ctx, sample.ID)
				},
			},
		},
	})
	return desc, err
}

func addSample(ctx context.Context, samples repositories.SampleRepository, user *models.User, args schema.Args) (models.Entity, error) {
	sample := &models.Sample{
		UserID:          user.ID,
		Name:            args.Str("name"),
		PoolSize:        1,
		CoverageProfile: args.Bool("coverage_profile"),
		Public:          args.Bool("public"),
	}
	if args.Has("pool_size") {
		sample.PoolSize = int(args.Int("pool_size"))
	}
	if err := samples.Create(ctx, sample); err != nil {
		return nil, err
	}
	return sample, nil
}

func editSample(ctx context.Context, samples repositories.SampleRepository, args schema.Args) (models.Entity, error) {
	sample := args["sample"].(*models.Sample)
	if args.Has("name") {
		sample.Name = args.Str("name")
	}
	if args.Has("pool_size") {
		sample.PoolSize = int(args.Int("pool_size"))
	}
	if args.Has("coverage_profile") {
		sample.CoverageProfile = args.Bool("coverage_profile")
	}
	if args.Has("public") {
		sample.Public = args.Bool("public")
	}
	// Any edit deactivates the sample unless activation is stated
	// explicitly; stale data must not keep feeding frequency queries.
	sample.Active = args.Has("active") && args.Bool("active")
	if err := samples.Update(ctx, sample); err != nil {
		return nil, err
	}
	return sample, nil
}

// userRelation builds the owner relation shared by most descriptors.
func userRelation(users *resource.Descriptor, repo repositories.UserRepository, ownerID func(models.Entity) int64) resource.Relation {
	return resource.Relation{
		Name:   "user",
		Target: users,
		Key: func(e models.Entity) (any, bool) {
			id := ownerID(e)
			return id, id != 0
		},
		Load: func(ctx context.Context, e models.Entity) (models.Entity, error) {
			return repo.GetByID(ctx, ownerID(e))
		},
	}
}
