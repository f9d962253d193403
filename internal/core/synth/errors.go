// Package synth compiles a parameter record and secret material into the
// artifact set of an installation: topology descriptor, auth-policy
// descriptor, TLS descriptor and credential store.
//
// Synthesis starts from a fixed base topology and applies an ordered list of
// Transforms. The result is checked for cross-artifact consistency and the
// rendered topology is re-loaded before anything is returned.
// This is part of the Functional Core - no files are read or written.
package synth

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnsatisfiable is returned for a flag combination no artifact set
	// can satisfy.
	ErrUnsatisfiable = errors.New("unsatisfiable flag combination")

	// ErrInconsistent is returned when the synthesized artifacts disagree
	// with each other or with the parameters.
	ErrInconsistent = errors.New("artifacts are inconsistent")

	// ErrInvalidTopology is returned when the rendered topology does not load.
	ErrInvalidTopology = errors.New("rendered topology does not load")
)

// SynthesisError reports which stage of synthesis failed. No artifacts are
// produced when it is returned.
type SynthesisError struct {
	Stage   string // "base", a transform name, "check", "render" or "reload"
	Message string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// NewSynthesisError creates a new SynthesisError.
func NewSynthesisError(stage, message string, err error) *SynthesisError {
	return &SynthesisError{
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}
