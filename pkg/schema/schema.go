// Package schema validates and coerces request parameters against a
// declared, closed schema.
//
// Raw values arrive as JSON primitives (string, float64, bool, []any,
// map[string]any) or as plain strings from query parameters. Validation
// returns a typed Args mapping or a single *apperrors.ValidationError whose
// Kind distinguishes missing fields, unknown fields, malformed values and
// dangling resource references.
package schema

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/vardalab/varda-engine/pkg/apperrors"
)

// Type is the semantic type of a schema field.
type Type string

const (
	String  Type = "string"
	Integer Type = "integer"
	Boolean Type = "boolean"
	List    Type = "list"
	Dict    Type = "dict"
)

// Field is the constraint spec for one named parameter.
type Field struct {
	Type Type

	// Ref names a resource kind ("sample", "user", ...). When set, the raw
	// value is treated as that resource's key and resolved eagerly through
	// the Resolver; the coerced value is the resolved entity itself.
	Ref string

	Required bool

	// MinLength and MaxLength bound string and list lengths. Zero means
	// unbounded.
	MinLength int
	MaxLength int

	// Allowed whitelists the coerced value (for lists, each element).
	Allowed []any

	// Safe restricts string values to a conservative character class and
	// screens them for injection patterns. Used for values that end up in
	// derived resource names.
	Safe bool

	// Elem is the element spec for homogeneous lists.
	Elem *Field

	// Items are positional element specs for heterogeneous tuples. A list
	// value must have exactly len(Items) elements.
	Items []Field

	// Schema is the nested spec for dict values (itself a closed schema).
	Schema Schema
}

// Schema maps parameter names to their constraint specs.
type Schema map[string]Field

// Args is a mapping of validated, coerced parameter values.
type Args map[string]any

// Int returns the named argument as int64 (zero if absent).
func (a Args) Int(name string) int64 {
	v, _ := a[name].(int64)
	return v
}

// Str returns the named argument as string (empty if absent).
func (a Args) Str(name string) string {
	v, _ := a[name].(string)
	return v
}

// Bool returns the named argument as bool (false if absent).
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// Has reports whether the named argument was supplied.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// StringList returns the named argument as a []string (nil if absent).
func (a Args) StringList(name string) []string {
	list, _ := a[name].([]any)
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Resolver looks up a referenced entity by kind and raw key. A missing
// referent must be reported as apperrors.ErrNotFound.
type Resolver interface {
	Lookup(ctx context.Context, kind string, key any) (any, error)
}

// safePattern is the character class accepted for Safe fields.
var safePattern = regexp.MustCompile(`^[a-zA-Z0-9._~-]+$`)

// Validate checks raw against s and returns the coerced arguments. The
// schema is closed: any top-level field not declared in s is a failure.
func Validate(ctx context.Context, s Schema, raw map[string]any, resolver Resolver) (Args, error) {
	for name := range raw {
		if _, ok := s[name]; !ok {
			return nil, apperrors.NewValidation(apperrors.KindUnknownField, name, "unknown field")
		}
	}

	args := make(Args, len(raw))
	for name, field := range s {
		value, present := raw[name]
		if !present {
			if field.Required {
				return nil, apperrors.NewValidation(apperrors.KindMissingField, name, "required field is missing")
			}
			continue
		}
		coerced, err := coerce(ctx, name, field, value, resolver)
		if err != nil {
			return nil, err
		}
		args[name] = coerced
	}
	return args, nil
}

func coerce(ctx context.Context, name string, field Field, value any, resolver Resolver) (any, error) {
	if field.Ref != "" {
		return resolveRef(ctx, name, field, value, resolver)
	}

	switch field.Type {
	case String:
		return coerceString(name, field, value)
	case Integer:
		n, ok := toInt64(value)
		if !ok {
			return nil, invalid(name, "expected an integer")
		}
		if err := checkAllowed(name, field, n); err != nil {
			return nil, err
		}
		return n, nil
	case Boolean:
		b, ok := toBool(value)
		if !ok {
			return nil, invalid(name, "expected a boolean")
		}
		return b, nil
	case List:
		return coerceList(ctx, name, field, value, resolver)
	case Dict:
		dict, ok := value.(map[string]any)
		if !ok {
			return nil, invalid(name, "expected an object")
		}
		nested, err := Validate(ctx, field.Schema, dict, resolver)
		if err != nil {
			var ve *apperrors.ValidationError
			if errors.As(err, &ve) {
				ve.Field = name + "." + ve.Field
			}
			return nil, err
		}
		return nested, nil
	default:
		return nil, invalid(name, "unsupported field type %q", field.Type)
	}
}

func coerceString(name string, field Field, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, invalid(name, "expected a string")
	}
	if field.MinLength > 0 && len(s) < field.MinLength {
		return nil, invalid(name, "shorter than minimum length %d", field.MinLength)
	}
	if field.MaxLength > 0 && len(s) > field.MaxLength {
		return nil, invalid(name, "longer than maximum length %d", field.MaxLength)
	}
	if field.Safe && !IsSafe(s) {
		return nil, invalid(name, "value contains characters outside the allowed set")
	}
	if err := checkAllowed(name, field, s); err != nil {
		return nil, err
	}
	return s, nil
}

func coerceList(ctx context.Context, name string, field Field, value any, resolver Resolver) (any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, invalid(name, "expected a list")
	}
	if field.MinLength > 0 && len(list) < field.MinLength {
		return nil, invalid(name, "fewer than %d elements", field.MinLength)
	}
	if field.MaxLength > 0 && len(list) > field.MaxLength {
		return nil, invalid(name, "more than %d elements", field.MaxLength)
	}

	if field.Items != nil {
		if len(list) != len(field.Items) {
			return nil, invalid(name, "expected exactly %d elements", len(field.Items))
		}
		out := make([]any, len(list))
		for i, elem := range list {
			coerced, err := coerce(ctx, fmt.Sprintf("%s[%d]", name, i), field.Items[i], elem, resolver)
			if err != nil {
				return nil, err
			}
			out[i] = coerced
		}
		return out, nil
	}

	out := make([]any, len(list))
	for i, elem := range list {
		elemName := fmt.Sprintf("%s[%d]", name, i)
		if field.Elem != nil {
			coerced, err := coerce(ctx, elemName, *field.Elem, elem, resolver)
			if err != nil {
				return nil, err
			}
			elem = coerced
		}
		if err := checkAllowed(elemName, field, elem); err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}

func resolveRef(ctx context.Context, name string, field Field, value any, resolver Resolver) (any, error) {
	var key any
	if n, ok := toInt64(value); ok {
		key = n
	} else if s, ok := value.(string); ok {
		key = s
	} else {
		return nil, invalid(name, "expected a %s key", field.Ref)
	}
	if resolver == nil {
		return nil, invalid(name, "no resolver available for %s references", field.Ref)
	}
	entity, err := resolver.Lookup(ctx, field.Ref, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewValidation(apperrors.KindUnknownReference, name,
				"%s %v does not exist", field.Ref, key)
		}
		return nil, err
	}
	return entity, nil
}

func checkAllowed(name string, field Field, value any) error {
	if len(field.Allowed) == 0 {
		return nil
	}
	for _, allowed := range field.Allowed {
		if allowed == value {
			return nil
		}
	}
	return invalid(name, "value %v is not allowed", value)
}

// IsSafe reports whether s matches the restricted character class and shows
// no injection fingerprint. Exposed so list-view filter values can be
// screened with the same rule.
func IsSafe(s string) bool {
	if !safePattern.MatchString(s) {
		return false
	}
	if sqli, _ := libinjection.IsSQLi(s); sqli {
		return false
	}
	return true
}

func invalid(field, format string, args ...any) *apperrors.ValidationError {
	return apperrors.NewValidation(apperrors.KindInvalidValue, field, format, args...)
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		n := int64(v)
		if float64(n) != v {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	default:
		return false, false
	}
}
