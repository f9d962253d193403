package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Transition Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateUninitialized, StatePrepared, true},
		{StateUninitialized, StateSecretsBound, false},
		{StateUninitialized, StateStarted, false},
		{StatePrepared, StateSecretsBound, true},
		{StatePrepared, StateStarted, false},
		{StateSecretsBound, StateStarted, true},
		{StateStarted, StateHealthy, true},
		{StateStarted, StateDegraded, true},
		{StateDegraded, StateHealthy, true},
		{StateHealthy, StateStopped, true},
		{StateStopped, StateStarted, true},
		{StateDown, StatePrepared, true},
		{StateHealthy, StateUninitialized, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
			if tt.want {
				assert.NoError(t, ValidateTransition(tt.from, tt.to))
			} else {
				assert.Error(t, ValidateTransition(tt.from, tt.to))
			}
		})
	}
}

func TestState_Running(t *testing.T) {
	assert.True(t, StateStarted.Running())
	assert.True(t, StateHealthy.Running())
	assert.True(t, StateDegraded.Running())
	assert.False(t, StateStopped.Running())
	assert.False(t, StateSecretsBound.Running())
}

// =============================================================================
// DetermineStartPath Tests
// =============================================================================

func TestDetermineStartPath(t *testing.T) {
	tests := []struct {
		from  State
		valid bool
		path  []State
	}{
		{StateUninitialized, true, []State{StatePrepared, StateSecretsBound, StateStarted}},
		{StatePrepared, true, []State{StateSecretsBound, StateStarted}},
		{StateSecretsBound, true, []State{StateStarted}},
		{StateStopped, true, []State{StateStarted}},
		{StateDegraded, true, []State{StateStarted}},
		{StateStarted, false, nil},
		{State("bogus"), false, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			path := DetermineStartPath(tt.from)
			assert.Equal(t, tt.valid, path.Valid)
			assert.Equal(t, tt.path, path.Transitions)
			if !tt.valid {
				assert.NotEmpty(t, path.ErrorReason)
			}
		})
	}
}

func TestDetermineStartPath_FollowsTransitions(t *testing.T) {
	for _, from := range []State{StateUninitialized, StatePrepared, StateSecretsBound, StateStopped, StateDown, StateHealthy, StateDegraded} {
		path := DetermineStartPath(from)
		prev := from
		for _, next := range path.Transitions {
			assert.True(t, CanTransition(prev, next), "%s -> %s", prev, next)
			prev = next
		}
	}
}
