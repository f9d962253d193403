// Package compose renders the stack's topology descriptor and loads it back
// through compose-go. Nothing here touches the filesystem or the runtime.
package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinels
// =============================================================================

var (
	ErrEmptyInput  = errors.New("topology descriptor is empty")
	ErrInvalidYAML = errors.New("topology descriptor is not valid YAML")
	ErrNoServices  = errors.New("topology descriptor defines no services")

	ErrServiceNoImage     = errors.New("service has no image")
	ErrServiceInvalidPort = errors.New("invalid port mapping")
	ErrCircularDependency = errors.New("depends_on forms a cycle")
	ErrUnknownDependency  = errors.New("depends_on names an undefined service")

	// ErrRender means a File could not be marshalled. It indicates a
	// programming error in a transform, never bad user input.
	ErrRender = errors.New("topology descriptor could not be rendered")
)

// ParseError locates a load failure inside the descriptor.
type ParseError struct {
	Field   string // dotted path, e.g. "services.traefik.ports[1]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{Field: field, Message: message, Err: err}
}
