// Package resource implements the declarative resource framework: immutable
// per-entity descriptors, the request pipeline that drives them
// (authenticate, validate, authorize, execute, serialize), and the
// state machine for resources backed by a background job.
package resource

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jinzhu/inflection"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/policy"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/schema"
)

// View identifies one of the closed set of operations a resource supports.
type View string

const (
	ViewList   View = "list"
	ViewGet    View = "get"
	ViewAdd    View = "add"
	ViewEdit   View = "edit"
	ViewDelete View = "delete"
)

// ViewFunc is the domain logic of a singular view. It receives the
// validated, coerced arguments (references already resolved to entities)
// and returns the entity to serialize. Delete views return nil.
type ViewFunc func(ctx context.Context, user *models.User, args schema.Args) (models.Entity, error)

// ListFunc is the domain logic of a list view: total matching count plus
// the requested page.
type ListFunc func(ctx context.Context, user *models.User, args schema.Args) (int64, []models.Entity, error)

// ViewDef declares one view: its parameter schema, its authorization
// policy, and its domain logic. Exactly one of Handler or Lister is set
// (Lister for the list view).
type ViewDef struct {
	Schema schema.Schema
	Policy policy.Policy

	Handler ViewFunc
	Lister  ListFunc
}

// Relation describes one addressable relation of an entity. Key extracts
// the foreign-key scalar without a lookup; Load fetches the related entity
// when the client asked for it to be embedded.
type Relation struct {
	Name   string
	Target *Descriptor

	Key  func(e models.Entity) (any, bool)
	Load func(ctx context.Context, e models.Entity) (models.Entity, error)
}

// Pagination bounds for list views.
const (
	defaultListCount = 20
	maxListCount     = 500
)

// Descriptor is the immutable, process-wide configuration of one resource:
// its identity, views, relations, and list-query capabilities. Build one
// with New at startup; never mutate it afterwards.
type Descriptor struct {
	// Name is the singular instance name ("sample"). Collection is the URL
	// segment; left empty it is derived by pluralizing Name.
	Name       string
	Collection string

	// KeyType is the schema type of the value addressing one instance in a
	// URL path. Key renders that value for an entity; left nil it formats
	// the integer primary key.
	KeyType schema.Type
	Key     func(e models.Entity) string

	// Fields projects an entity's own scalar fields for serialization.
	// Relations and the address are added by the serializer.
	Fields func(e models.Entity) map[string]any

	Relations []Relation

	// Filterable maps list-view filter parameter names (which may take the
	// relation.field form) to their schema specs. Orderable lists the
	// fields clients may order by; DefaultOrder is appended as a
	// deterministic tie-break.
	Filterable   map[string]schema.Field
	Orderable    []string
	DefaultOrder []repositories.Order

	Views map[View]*ViewDef

	// Task is set for resources whose creation runs a background job.
	Task *TaskDef
}

// New resolves a descriptor declaration into its final immutable form: the
// collection segment is derived, the key parameter is injected into the
// get/edit/delete schemas as a required self-reference, the embed parameter
// into the list/get schemas, and the filter/order/pagination parameters
// into the list schema. The declaration must not already use the injected
// parameter names.
func New(d Descriptor) (*Descriptor, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("descriptor has no name")
	}
	if d.Collection == "" {
		d.Collection = inflection.Plural(d.Name)
	}
	if d.KeyType == "" {
		d.KeyType = schema.Integer
	}
	if d.Key == nil {
		d.Key = func(e models.Entity) string {
			return strconv.FormatInt(e.EntityID(), 10)
		}
	}

	for view, def := range d.Views {
		def.Schema = cloneSchema(def.Schema)

		switch view {
		case ViewGet, ViewEdit, ViewDelete:
			if err := inject(d.Name, view, def.Schema, d.Name,
				schema.Field{Ref: d.Name, Required: true}); err != nil {
				return nil, err
			}
		}

		if (view == ViewList || view == ViewGet) && len(d.Relations) > 0 {
			if err := inject(d.Name, view, def.Schema, "embed", schema.Field{
				Type:    schema.List,
				Elem:    &schema.Field{Type: schema.String},
				Allowed: relationNames(d.Relations),
			}); err != nil {
				return nil, err
			}
		}

		if view == ViewList {
			if err := injectListParams(&d, def.Schema); err != nil {
				return nil, err
			}
		}
	}

	return &d, nil
}

// MustNew is New for static descriptor tables built at startup.
func MustNew(d Descriptor) *Descriptor {
	desc, err := New(d)
	if err != nil {
		panic(err)
	}
	return desc
}

func injectListParams(d *Descriptor, s schema.Schema) error {
	if err := inject(d.Name, ViewList, s, "begin", schema.Field{Type: schema.Integer}); err != nil {
		return err
	}
	if err := inject(d.Name, ViewList, s, "count", schema.Field{Type: schema.Integer}); err != nil {
		return err
	}
	if len(d.Orderable) > 0 {
		allowed := make([]any, 0, 2*len(d.Orderable))
		for _, field := range d.Orderable {
			allowed = append(allowed, field, "-"+field)
		}
		err := inject(d.Name, ViewList, s, "order", schema.Field{
			Type:    schema.List,
			Elem:    &schema.Field{Type: schema.String},
			Allowed: allowed,
		})
		if err != nil {
			return err
		}
	}
	for name, field := range d.Filterable {
		if err := inject(d.Name, ViewList, s, name, field); err != nil {
			return err
		}
	}
	return nil
}

func inject(name string, view View, s schema.Schema, param string, field schema.Field) error {
	if _, taken := s[param]; taken {
		return fmt.Errorf("%s %s view: parameter %q is reserved", name, view, param)
	}
	s[param] = field
	return nil
}

func cloneSchema(s schema.Schema) schema.Schema {
	out := make(schema.Schema, len(s)+4)
	for name, field := range s {
		out[name] = field
	}
	return out
}

func relationNames(relations []Relation) []any {
	names := make([]any, len(relations))
	for i, rel := range relations {
		names[i] = rel.Name
	}
	return names
}

// CollectionURI is the address of the resource's collection.
func (d *Descriptor) CollectionURI() string {
	return "/" + d.Collection + "/"
}

// URI is the canonical address of one instance.
func (d *Descriptor) URI(e models.Entity) string {
	return "/" + d.Collection + "/" + d.Key(e)
}

func (d *Descriptor) relation(name string) *Relation {
	for i := range d.Relations {
		if d.Relations[i].Name == name {
			return &d.Relations[i]
		}
	}
	return nil
}

// ListQuery translates validated list-view arguments into a repository
// query: filters (entities collapse to their primary key, strings are
// screened against the restricted character class), requested order with
// the default order appended as tie-break, and the pagination window.
func (d *Descriptor) ListQuery(args schema.Args) (repositories.ListQuery, error) {
	q := repositories.ListQuery{
		Offset: args.Int("begin"),
		Limit:  defaultListCount,
	}
	if args.Has("count") {
		count := args.Int("count")
		if count < 1 || count > maxListCount {
			return q, apperrors.NewValidation(apperrors.KindInvalidValue, "count",
				"count must be between 1 and %d", maxListCount)
		}
		q.Limit = count
	}

	for name := range d.Filterable {
		value, ok := args[name]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case models.Entity:
			value = v.EntityID()
		case string:
			if !schema.IsSafe(v) {
				return q, apperrors.NewValidation(apperrors.KindInvalidValue, name,
					"value contains characters outside the allowed set")
			}
		}
		if q.Filters == nil {
			q.Filters = make(map[string]any)
		}
		q.Filters[name] = value
	}

	requested := map[string]bool{}
	for _, term := range args.StringList("order") {
		o := repositories.Order{Field: term}
		if len(term) > 0 && term[0] == '-' {
			o = repositories.Order{Field: term[1:], Desc: true}
		}
		if !requested[o.Field] {
			q.Order = append(q.Order, o)
			requested[o.Field] = true
		}
	}
	for _, o := range d.DefaultOrder {
		if !requested[o.Field] {
			q.Order = append(q.Order, o)
		}
	}
	return q, nil
}
