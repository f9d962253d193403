package store

import (
	"context"

	"github.com/artpar/tunnelgate/internal/core/deployment"
	"github.com/artpar/tunnelgate/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface of the state ledger.
type Store interface {
	// Lifecycle transitions
	RecordTransition(ctx context.Context, t *domain.Transition) error
	CurrentState(ctx context.Context) (deployment.State, error)
	ListTransitions(ctx context.Context, opts ListOptions) ([]domain.Transition, error)

	// Snapshots
	RecordSnapshot(ctx context.Context, s *domain.Snapshot) error
	GetSnapshot(ctx context.Context, name string) (*domain.Snapshot, error)
	ListSnapshots(ctx context.Context, opts ListOptions) ([]domain.Snapshot, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options. Lists are newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
