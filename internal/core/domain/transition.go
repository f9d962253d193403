// Package domain holds the records kept in the state ledger of an install
// target: lifecycle transitions and backup snapshots.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/tunnelgate/internal/core/deployment"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrInvalidSnapshot   = errors.New("invalid snapshot")
)

// =============================================================================
// Transition
// =============================================================================

// Transition is one recorded lifecycle state change.
type Transition struct {
	ID        string           `json:"id"`
	From      deployment.State `json:"from"`
	To        deployment.State `json:"to"`
	Detail    string           `json:"detail,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewTransition records from -> to. It fails when the state machine does
// not allow the change.
func NewTransition(from, to deployment.State, detail string) (*Transition, error) {
	if !deployment.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return &Transition{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// String formats the transition for status output.
func (t Transition) String() string {
	s := fmt.Sprintf("%s  %s -> %s", t.CreatedAt.Local().Format(time.DateTime), t.From, t.To)
	if t.Detail != "" {
		s += "  (" + t.Detail + ")"
	}
	return s
}
