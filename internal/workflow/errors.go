package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound covers absent records and records outside the caller's scope.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the faculty does not mentor the student. It matches ErrNotFound
	// so callers that only distinguish "not found" do not leak existence across tenants.
	ErrForbidden = fmt.Errorf("%w: student is not mentored by this faculty", ErrNotFound)
	// ErrConflict means the target is not in the expected state, e.g. already decided.
	ErrConflict = errors.New("conflict")
)

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned before any mutation when input is malformed.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(fields ...FieldError) error {
	return &ValidationError{Fields: fields}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
