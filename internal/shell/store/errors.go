// Package store persists the state ledger of an install target: lifecycle
// transitions and backup snapshots.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinels
// =============================================================================

var (
	// ErrNotFound means no ledger row matched.
	ErrNotFound = errors.New("not found in ledger")

	// ErrDuplicateID means a transition or snapshot id was recorded twice.
	ErrDuplicateID = errors.New("id already recorded")

	ErrConnectionFailed = errors.New("ledger database unavailable")
	ErrMigrationFailed  = errors.New("ledger migration failed")

	// ErrInvalidData means a record failed validation before insert, or a
	// stored row no longer decodes.
	ErrInvalidData = errors.New("invalid ledger record")

	ErrTxFailed = errors.New("ledger transaction failed")
)

// StoreError is a failed ledger operation.
type StoreError struct {
	Op      string // e.g. "RecordTransition"
	Entity  string // "transition" or "snapshot"
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	subject := e.Op
	if e.Entity != "" {
		subject += " " + e.Entity
	}
	if e.ID != "" {
		subject += " " + e.ID
	}
	return fmt.Sprintf("%s: %s", subject, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}
