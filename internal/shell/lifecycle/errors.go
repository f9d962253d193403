// Package lifecycle drives an install target through its states: prepare
// the layout and artifacts, bind secrets, start the stack, wait for the data
// tier and the pass-through operations after that.
package lifecycle

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnsupportedPlatform is returned when the host OS is not linux and
	// no override is configured.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrRuntimeUnreachable is returned when the container runtime does
	// not answer.
	ErrRuntimeUnreachable = errors.New("container runtime unreachable")

	// ErrFirewall is returned when the firewall rules cannot be applied.
	ErrFirewall = errors.New("firewall configuration failed")

	// ErrNotPrepared is returned by operations that need a prepared
	// install directory.
	ErrNotPrepared = errors.New("install directory is not prepared")

	// ErrNotBound is returned when starting without a Bound value.
	ErrNotBound = errors.New("secrets are not bound")

	// ErrAlreadyStarted is returned when a Bound value is started twice.
	ErrAlreadyStarted = errors.New("stack already started")

	// ErrUnknownService is returned for a service outside the catalog.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownUser is returned for a username missing from the
	// credential store.
	ErrUnknownUser = errors.New("unknown user")

	// ErrCommandFailed is returned when a command run inside a service
	// container exits non-zero.
	ErrCommandFailed = errors.New("command failed in container")
)

// EnvironmentError reports a host or runtime precondition that does not
// hold. Nothing has been written when it is returned from Preflight.
type EnvironmentError struct {
	Op      string
	Message string
	Err     error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// NewEnvironmentError creates a new EnvironmentError.
func NewEnvironmentError(op, message string, err error) *EnvironmentError {
	return &EnvironmentError{
		Op:      op,
		Message: message,
		Err:     err,
	}
}
