package handlers

import (
	"context"

	"github.com/vardalab/varda-engine/pkg/auth"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/policy"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/resource"
	"github.com/vardalab/varda-engine/pkg/schema"
)

func newUserDescriptor(deps Dependencies) (*resource.Descriptor, error) {
	users := deps.Users

	// desc is assigned below; the view closures only run per request.
	var desc *resource.Descriptor

	rolesField := schema.Field{
		Type:    schema.List,
		Elem:    &schema.Field{Type: schema.String},
		Allowed: rolesAllowed(),
	}

	var err error
	desc, err = resource.New(resource.Descriptor{
		Name: "user",
		Fields: func(e models.Entity) map[string]any {
			u := e.(*models.User)
			return map[string]any{
				"login": u.Login,
				"name":  u.Name,
				"roles": u.Roles,
				"added": u.CreatedAt,
			}
		},
		Orderable:    []string{"login", "name"},
		DefaultOrder: []repositories.Order{{Field: "id"}},
		Views: map[resource.View]*resource.ViewDef{
			resource.ViewList: {
				Schema: schema.Schema{},
				Policy: policy.Allow(policy.HasRole(models.RoleAdmin)),
				Lister: func(ctx context.Context, user *models.User, args schema.Args) (int64, []models.Entity, error) {
					q, err := desc.ListQuery(args)
					if err != nil {
						return 0, nil, err
					}
					total, page, err := users.List(ctx, q)
					return total, entities(page), err
				},
			},
			resource.ViewGet: {
				Schema: schema.Schema{},
				Policy: policy.AllowAny(
					policy.HasRole(models.RoleAdmin),
					policy.IsUser("user"),
				),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return args["user"].(*models.User), nil
				},
			},
			resource.ViewAdd: {
				Schema: schema.Schema{
					"login":    {Type: schema.String, Required: true, MinLength: 3, MaxLength: 40, Safe: true},
					"password": {Type: schema.String, Required: true, MinLength: 8},
					"name":     {Type: schema.String, MaxLength: 200},
					"roles":    rolesField,
				},
				Policy: policy.Allow(policy.HasRole(models.RoleAdmin)),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return addUser(ctx, users, args)
				},
			},
			resource.ViewEdit: {
				Schema: schema.Schema{
					"password": {Type: schema.String, MinLength: 8},
					"name":     {Type: schema.String, MaxLength: 200},
					"roles":    rolesField,
				},
				Policy: policy.Allow(policy.HasRole(models.RoleAdmin)),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					return editUser(ctx, users, args)
				},
			},
			resource.ViewDelete: {
				Schema: schema.Schema{},
				Policy: policy.Allow(policy.HasRole(models.RoleAdmin)),
				Handler: func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error) {
					target := args["user"].(*models.User)
					return nil, users.Delete(ctx, target.ID)
				},
			},
		},
	})
	return desc, err
}

func rolesAllowed() []any {
	allowed := make([]any, len(models.UserRoles))
	for i, role := range models.UserRoles {
		allowed[i] = role
	}
	return allowed
}

func addUser(ctx context.Context, users repositories.UserRepository, args schema.Args) (models.Entity, error) {
	hash, err := auth.HashPassword(args.Str("password"))
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Login:        args.Str("login"),
		Name:         args.Str("name"),
		PasswordHash: hash,
		Roles:        args.StringList("roles"),
	}
	if user.Name == "" {
		user.Name = user.Login
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func editUser(ctx context.Context, users repositories.UserRepository, args schema.Args) (models.Entity, error) {
	user := args["user"].(*models.User)
	if args.Has("password") {
		hash, err := auth.HashPassword(args.Str("password"))
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if args.Has("name") {
		user.Name = args.Str("name")
	}
	if args.Has("roles") {
		user.Roles = args.StringList("roles")
	}
	if err := users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
