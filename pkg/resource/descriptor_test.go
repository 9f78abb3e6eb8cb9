package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/repositories"
	"github.com/vardalab/varda-engine/pkg/schema"
)

func TestNew_DerivesCollectionAndKey(t *testing.T) {
	desc, err := New(Descriptor{Name: "sample"})
	require.NoError(t, err)

	assert.Equal(t, "samples", desc.Collection)
	assert.Equal(t, "/samples/", desc.CollectionURI())
	assert.Equal(t, "/samples/7", desc.URI(&models.Sample{ID: 7}))
}

func TestNew_RequiresName(t *testing.T) {
	_, err := New(Descriptor{})
	assert.Error(t, err)
}

func TestNew_InjectsKeyParamIntoSingularViews(t *testing.T) {
	desc, err := New(Descriptor{
		Name: "sample",
		Views: map[View]*ViewDef{
			ViewGet:    {Schema: schema.Schema{}},
			ViewEdit:   {Schema: schema.Schema{"name": {Type: schema.String}}},
			ViewDelete: {},
			ViewAdd:    {Schema: schema.Schema{}},
		},
	})
	require.NoError(t, err)

	for _, view := range []View{ViewGet, ViewEdit, ViewDelete} {
		field, ok := desc.Views[view].Schema["sample"]
		require.True(t, ok, "view %s", view)
		assert.Equal(t, "sample", field.Ref)
		assert.True(t, field.Required)
	}
	_, ok := desc.Views[ViewAdd].Schema["sample"]
	assert.False(t, ok, "add view gets no key parameter")
}

func TestNew_InjectsEmbedWhitelist(t *testing.T) {
	target := MustNew(Descriptor{Name: "user"})
	desc, err := New(Descriptor{
		Name: "sample",
		Relations: []Relation{
			{Name: "user", Target: target},
		},
		Views: map[View]*ViewDef{
			ViewList: {},
			ViewGet:  {},
		},
	})
	require.NoError(t, err)

	for _, view := range []View{ViewList, ViewGet} {
		field, ok := desc.Views[view].Schema["embed"]
		require.True(t, ok, "view %s", view)
		assert.Equal(t, schema.List, field.Type)
		assert.Equal(t, []any{"user"}, field.Allowed)
	}
}

func TestNew_InjectsListParams(t *testing.T) {
	desc, err := New(Descriptor{
		Name:       "sample",
		Orderable:  []string{"name"},
		Filterable: map[string]schema.Field{"public": {Type: schema.Boolean}},
		Views:      map[View]*ViewDef{ViewList: {}},
	})
	require.NoError(t, err)

	s := desc.Views[ViewList].Schema
	assert.Equal(t, schema.Integer, s["begin"].Type)
	assert.Equal(t, schema.Integer, s["count"].Type)
	assert.Equal(t, schema.Boolean, s["public"].Type)
	assert.ElementsMatch(t, []any{"name", "-name"}, s["order"].Allowed)
}

func TestNew_RejectsReservedParamCollision(t *testing.T) {
	_, err := New(Descriptor{
		Name:  "sample",
		Views: map[View]*ViewDef{ViewList: {Schema: schema.Schema{"begin": {Type: schema.String}}}},
	})
	assert.Error(t, err)
}

func TestNew_LeavesDeclaredSchemaUntouched(t *testing.T) {
	declared := schema.Schema{"name": {Type: schema.String}}
	_, err := New(Descriptor{
		Name:  "sample",
		Views: map[View]*ViewDef{ViewGet: {Schema: declared}},
	})
	require.NoError(t, err)

	_, injected := declared["sample"]
	assert.False(t, injected, "builder must clone, not mutate, the declaration")
}

func TestListQuery_Defaults(t *testing.T) {
	desc := MustNew(Descriptor{Name: "sample"})

	q, err := desc.ListQuery(schema.Args{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.Offset)
	assert.Equal(t, int64(20), q.Limit)
	assert.Empty(t, q.Filters)
}

func TestListQuery_Window(t *testing.T) {
	desc := MustNew(Descriptor{Name: "sample"})

	q, err := desc.ListQuery(schema.Args{"begin": int64(40), "count": int64(100)})
	require.NoError(t, err)
	assert.Equal(t, int64(40), q.Offset)
	assert.Equal(t, int64(100), q.Limit)

	for _, bad := range []int64{0, -1, 501} {
		_, err := desc.ListQuery(schema.Args{"count": bad})
		ve, ok := apperrors.AsValidation(err)
		require.True(t, ok, "count %d", bad)
		assert.Equal(t, apperrors.KindInvalidValue, ve.Kind)
	}
}

func TestListQuery_CollapsesEntityFiltersToKeys(t *testing.T) {
	desc := MustNew(Descriptor{
		Name:       "variation",
		Filterable: map[string]schema.Field{"sample": {Ref: "sample"}},
	})

	q, err := desc.ListQuery(schema.Args{"sample": &models.Sample{ID: 9}})
	require.NoError(t, err)
	assert.Equal(t, int64(9), q.Filters["sample"])
}

func TestListQuery_ScreensStringFilters(t *testing.T) {
	desc := MustNew(Descriptor{
		Name:       "data_source",
		Filterable: map[string]schema.Field{"filetype": {Type: schema.String}},
	})

	q, err := desc.ListQuery(schema.Args{"filetype": "vcf"})
	require.NoError(t, err)
	assert.Equal(t, "vcf", q.Filters["filetype"])

	_, err = desc.ListQuery(schema.Args{"filetype": "x' OR '1'='1"})
	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidValue, ve.Kind)
}

func TestListQuery_OrderWithDefaultTieBreak(t *testing.T) {
	desc := MustNew(Descriptor{
		Name:         "sample",
		Orderable:    []string{"name", "active"},
		DefaultOrder: []repositories.Order{{Field: "id"}},
	})

	q, err := desc.ListQuery(schema.Args{"order": []any{"-name", "active"}})
	require.NoError(t, err)
	assert.Equal(t, []repositories.Order{
		{Field: "name", Desc: true},
		{Field: "active"},
		{Field: "id"},
	}, q.Order)
}

func TestListQuery_RequestedOrderSupersedesDefault(t *testing.T) {
	desc := MustNew(Descriptor{
		Name:         "sample",
		Orderable:    []string{"name"},
		DefaultOrder: []repositories.Order{{Field: "name"}, {Field: "id"}},
	})

	q, err := desc.ListQuery(schema.Args{"order": []any{"-name"}})
	require.NoError(t, err)
	assert.Equal(t, []repositories.Order{
		{Field: "name", Desc: true},
		{Field: "id"},
	}, q.Order)
}
