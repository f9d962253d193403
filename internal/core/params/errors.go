package params

import (
	"errors"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrInvalidParams is the sentinel wrapped by every ValidationError.
var ErrInvalidParams = errors.New("invalid parameters")

// FieldError describes one rejected field.
type FieldError struct {
	Field   string // e.g., "tls.acme_email"
	Message string
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// ValidationError collects every field that failed validation. A model that
// produces a ValidationError never reaches synthesis.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidParams
}

// Has reports whether the given field was rejected.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}
