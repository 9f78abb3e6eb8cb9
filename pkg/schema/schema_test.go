package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vardalab/varda-engine/pkg/apperrors"
)

type mapResolver map[string]map[string]any

func (r mapResolver) Lookup(ctx context.Context, kind string, key any) (any, error) {
	entities, ok := r[kind]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	entity, ok := entities[keyString(key)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return entity, nil
}

func keyString(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	return "1"
}

func TestValidate_RejectsUnknownField(t *testing.T) {
	s := Schema{"name": {Type: String}}

	_, err := Validate(context.Background(), s, map[string]any{"nmae": "oops"}, nil)

	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindUnknownField, ve.Kind)
	assert.Equal(t, "nmae", ve.Field)
}

func TestValidate_RejectsMissingRequiredField(t *testing.T) {
	s := Schema{"name": {Type: String, Required: true}}

	_, err := Validate(context.Background(), s, map[string]any{}, nil)

	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindMissingField, ve.Kind)
	assert.Equal(t, "name", ve.Field)
}

func TestValidate_OptionalFieldMayBeAbsent(t *testing.T) {
	s := Schema{"name": {Type: String}}

	args, err := Validate(context.Background(), s, map[string]any{}, nil)

	require.NoError(t, err)
	assert.False(t, args.Has("name"))
}

func TestValidate_CoercesIntegerFromJSONAndQueryForms(t *testing.T) {
	s := Schema{"count": {Type: Integer}}

	for _, raw := range []any{float64(42), "42", int64(42), 42} {
		args, err := Validate(context.Background(), s, map[string]any{"count": raw}, nil)
		require.NoError(t, err, "raw %#v", raw)
		assert.Equal(t, int64(42), args.Int("count"))
	}
}

func TestValidate_RejectsFractionalInteger(t *testing.T) {
	s := Schema{"count": {Type: Integer}}

	_, err := Validate(context.Background(), s, map[string]any{"count": 4.5}, nil)

	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidValue, ve.Kind)
}

func TestValidate_CoercesBooleanFromString(t *testing.T) {
	s := Schema{"active": {Type: Boolean}}

	args, err := Validate(context.Background(), s, map[string]any{"active": "true"}, nil)
	require.NoError(t, err)
	assert.True(t, args.Bool("active"))

	args, err = Validate(context.Background(), s, map[string]any{"active": false}, nil)
	require.NoError(t, err)
	assert.False(t, args.Bool("active"))
	assert.True(t, args.Has("active"))
}

func TestValidate_StringBounds(t *testing.T) {
	s := Schema{"login": {Type: String, MinLength: 3, MaxLength: 5}}

	_, err := Validate(context.Background(), s, map[string]any{"login": "ab"}, nil)
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok)

	_, err = Validate(context.Background(), s, map[string]any{"login": "abcdef"}, nil)
	_, ok = apperrors.AsValidation(err)
	assert.True(t, ok)

	args, err := Validate(context.Background(), s, map[string]any{"login": "abcd"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "abcd", args.Str("login"))
}

func TestValidate_AllowedWhitelist(t *testing.T) {
	s := Schema{"filetype": {Type: String, Allowed: []any{"vcf", "bed"}}}

	_, err := Validate(context.Background(), s, map[string]any{"filetype": "sam"}, nil)
	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidValue, ve.Kind)

	args, err := Validate(context.Background(), s, map[string]any{"filetype": "bed"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "bed", args.Str("filetype"))
}

func TestValidate_SafeStringRejectsInjection(t *testing.T) {
	s := Schema{"name": {Type: String, Safe: true}}

	for _, bad := range []string{"a b", "a;b", "a'--", "<script>"} {
		_, err := Validate(context.Background(), s, map[string]any{"name": bad}, nil)
		ve, ok := apperrors.AsValidation(err)
		require.True(t, ok, "value %q", bad)
		assert.Equal(t, apperrors.KindInvalidValue, ve.Kind)
	}

	args, err := Validate(context.Background(), s, map[string]any{"name": "sample-1.vcf_ok~"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sample-1.vcf_ok~", args.Str("name"))
}

func TestValidate_ResolvesReference(t *testing.T) {
	type sample struct{ ID int64 }
	resolver := mapResolver{"sample": {"1": &sample{ID: 1}}}
	s := Schema{"sample": {Ref: "sample", Required: true}}

	args, err := Validate(context.Background(), s, map[string]any{"sample": "1"}, resolver)

	require.NoError(t, err)
	assert.Equal(t, &sample{ID: 1}, args["sample"])
}

func TestValidate_DanglingReferenceIsDistinctKind(t *testing.T) {
	resolver := mapResolver{"sample": {}}
	s := Schema{"sample": {Ref: "sample", Required: true}}

	_, err := Validate(context.Background(), s, map[string]any{"sample": "99"}, resolver)

	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindUnknownReference, ve.Kind)
	assert.Equal(t, "sample", ve.Field)
}

func TestValidate_NestedDictPrefixesFieldPath(t *testing.T) {
	s := Schema{
		"region": {Type: Dict, Schema: Schema{
			"chromosome": {Type: String, Required: true},
			"begin":      {Type: Integer, Required: true},
		}},
	}

	_, err := Validate(context.Background(), s,
		map[string]any{"region": map[string]any{"chromosome": "1"}}, nil)

	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindMissingField, ve.Kind)
	assert.Equal(t, "region.begin", ve.Field)
}

func TestValidate_HomogeneousListCoercesElements(t *testing.T) {
	s := Schema{"roles": {Type: List, Elem: &Field{Type: String}, Allowed: []any{"admin", "importer"}}}

	args, err := Validate(context.Background(), s,
		map[string]any{"roles": []any{"admin", "importer"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "importer"}, args.StringList("roles"))

	_, err = Validate(context.Background(), s,
		map[string]any{"roles": []any{"admin", "superuser"}}, nil)
	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "roles[1]", ve.Field)
}

func TestValidate_TupleListRequiresExactArity(t *testing.T) {
	s := Schema{"pair": {Type: List, Items: []Field{{Type: String}, {Type: Integer}}}}

	_, err := Validate(context.Background(), s, map[string]any{"pair": []any{"a"}}, nil)
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok)

	args, err := Validate(context.Background(), s, map[string]any{"pair": []any{"a", float64(2)}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", int64(2)}, args["pair"])
}

func TestIsSafe(t *testing.T) {
	assert.True(t, IsSafe("chr17"))
	assert.True(t, IsSafe("file-1.vcf"))
	assert.False(t, IsSafe(""))
	assert.False(t, IsSafe("a b"))
	assert.False(t, IsSafe("1 OR 1=1"))
}
