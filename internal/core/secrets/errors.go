package secrets

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrSecretsExist is returned on any attempt to write over an existing
	// secret file.
	ErrSecretsExist = errors.New("secret file already exists")

	// ErrMissingKey is returned when a secret file lacks a required key.
	ErrMissingKey = errors.New("secret file is missing a required key")

	// ErrHasherUnavailable is returned when the password hasher fails.
	ErrHasherUnavailable = errors.New("password hasher unavailable")
)

// IntegrityError reports a refused or failed operation on secret material.
type IntegrityError struct {
	Path    string
	Message string
	Err     error
}

func (e *IntegrityError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// NewIntegrityError creates a new IntegrityError.
func NewIntegrityError(path, message string, err error) *IntegrityError {
	return &IntegrityError{
		Path:    path,
		Message: message,
		Err:     err,
	}
}
