// Package apperrors defines the error taxonomy shared across varda-engine.
//
// Sentinel errors classify failures so handlers can map them to distinct
// HTTP statuses without inspecting message strings. Validation failures
// carry structure (which field, which kind) in ValidationError.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing entity (addressed instance or login).
	ErrNotFound = errors.New("not found")

	// ErrConflict signals a uniqueness violation or a lost optimistic
	// concurrency race (stored state changed since it was read).
	ErrConflict = errors.New("conflict")

	// ErrIntegrity signals a referential-integrity violation on delete.
	ErrIntegrity = errors.New("linked resources exist")

	// ErrTaskRunning signals a delete or restart refused because the
	// entity's background job is still active.
	ErrTaskRunning = errors.New("a linked task is running")

	// ErrAuthRequired signals a request with no authenticated user.
	ErrAuthRequired = errors.New("authentication required")

	// ErrForbidden signals an authenticated request the policy rejected.
	ErrForbidden = errors.New("forbidden")
)

// Validation failure kinds. Each kind is reported to clients as a distinct
// error code so they can tell a typo'd field from a bad value from a
// dangling reference.
const (
	KindMissingField     = "missing_field"
	KindUnknownField     = "unknown_field"
	KindInvalidValue     = "invalid_value"
	KindUnknownReference = "unknown_reference"
)

// ValidationError describes one schema-validation failure.
type ValidationError struct {
	Kind    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidation builds a ValidationError for the given field and kind.
func NewValidation(kind, field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// AsValidation unwraps err into a *ValidationError, if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
