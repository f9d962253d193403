package deployment

import "fmt"

// =============================================================================
// Lifecycle States
// =============================================================================

// State is the lifecycle state of an install target.
type State string

const (
	StateUninitialized State = "uninitialized"
	StatePrepared      State = "prepared"
	StateSecretsBound  State = "secrets_bound"
	StateStarted       State = "started"
	StateHealthy       State = "healthy"
	StateDegraded      State = "degraded"
	StateStopped       State = "stopped"
	StateDown          State = "down"
)

// transitions lists the allowed next states of each state.
var transitions = map[State][]State{
	StateUninitialized: {StatePrepared},
	StatePrepared:      {StateSecretsBound, StatePrepared, StateDown},
	StateSecretsBound:  {StateStarted, StatePrepared, StateDown},
	StateStarted:       {StateHealthy, StateDegraded, StateStopped, StateDown, StatePrepared},
	StateHealthy:       {StateDegraded, StateStopped, StateDown, StateStarted, StatePrepared},
	StateDegraded:      {StateHealthy, StateStopped, StateDown, StateStarted, StatePrepared},
	StateStopped:       {StateStarted, StateDown, StatePrepared},
	StateDown:          {StatePrepared, StateStarted},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error when from -> to is not allowed.
func ValidateTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid lifecycle transition %s -> %s", from, to)
	}
	return nil
}

// Running reports whether the stack has been started and not stopped.
func (s State) Running() bool {
	return s == StateStarted || s == StateHealthy || s == StateDegraded
}

// =============================================================================
// Start Path Planning
// =============================================================================

// StartPath is the sequence of states leading from the current one to
// Started.
type StartPath struct {
	// Valid indicates whether the start operation can proceed.
	Valid bool

	// Transitions is the sequence of states to transition through.
	// Empty if Valid is false.
	Transitions []State

	// ErrorReason contains the reason why the start is not allowed.
	// Empty if Valid is true.
	ErrorReason string
}

// DetermineStartPath determines the transitions needed to start from the
// current state.
//
// Valid start paths:
//   - uninitialized → prepared → secrets_bound → started
//   - prepared → secrets_bound → started
//   - secrets_bound → started
//   - stopped, down, healthy, degraded → started (restart)
//
// Example:
//
//	path := DetermineStartPath(current)
//	if !path.Valid {
//	    return errors.New(path.ErrorReason)
//	}
func DetermineStartPath(current State) StartPath {
	switch current {
	case StateUninitialized:
		return StartPath{Valid: true, Transitions: []State{StatePrepared, StateSecretsBound, StateStarted}}

	case StatePrepared:
		return StartPath{Valid: true, Transitions: []State{StateSecretsBound, StateStarted}}

	case StateSecretsBound, StateStopped, StateDown, StateHealthy, StateDegraded:
		return StartPath{Valid: true, Transitions: []State{StateStarted}}

	case StateStarted:
		return StartPath{Valid: false, ErrorReason: "stack is already starting"}

	default:
		return StartPath{Valid: false, ErrorReason: fmt.Sprintf("cannot start from state %q", current)}
	}
}
