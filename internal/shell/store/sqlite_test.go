package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/tunnelgate/internal/core/deployment"
	"github.com/artpar/tunnelgate/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func recordPath(t *testing.T, s Store, states ...deployment.State) {
	t.Helper()
	ctx := context.Background()
	for _, to := range states {
		from, err := s.CurrentState(ctx)
		require.NoError(t, err)
		tr, err := domain.NewTransition(from, to, "")
		require.NoError(t, err)
		require.NoError(t, s.RecordTransition(ctx, tr))
	}
}

// =============================================================================
// Open Tests
// =============================================================================

func TestNewSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	recordPath(t, s, deployment.StatePrepared)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	state, err := s.CurrentState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deployment.StatePrepared, state)
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	recordPath(t, s, deployment.StatePrepared, deployment.StateSecretsBound)
	state, err := s.CurrentState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deployment.StateSecretsBound, state)
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestCurrentState_EmptyLedger(t *testing.T) {
	s := setupTestStore(t)

	state, err := s.CurrentState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deployment.StateUninitialized, state)
}

func TestListTransitions_NewestFirst(t *testing.T) {
	s := setupTestStore(t)
	recordPath(t, s,
		deployment.StatePrepared,
		deployment.StateSecretsBound,
		deployment.StateStarted,
		deployment.StateHealthy,
	)

	list, err := s.ListTransitions(context.Background(), DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, deployment.StateHealthy, list[0].To)
	assert.Equal(t, deployment.StateStarted, list[0].From)
	assert.Equal(t, deployment.StatePrepared, list[3].To)

	page, err := s.ListTransitions(context.Background(), ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, deployment.StateStarted, page[0].To)
}

func TestRecordTransition_DuplicateID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tr, err := domain.NewTransition(deployment.StateUninitialized, deployment.StatePrepared, "")
	require.NoError(t, err)
	require.NoError(t, s.RecordTransition(ctx, tr))

	err = s.RecordTransition(ctx, tr)
	assert.ErrorIs(t, err, ErrDuplicateID)

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "RecordTransition", storeErr.Op)
}

func TestRecordTransition_PreservesFields(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tr, err := domain.NewTransition(deployment.StateUninitialized, deployment.StatePrepared, "tls=selfsigned")
	require.NoError(t, err)
	require.NoError(t, s.RecordTransition(ctx, tr))

	list, err := s.ListTransitions(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tr.ID, list[0].ID)
	assert.Equal(t, "tls=selfsigned", list[0].Detail)
	assert.True(t, tr.CreatedAt.Equal(list[0].CreatedAt))
}

// =============================================================================
// Snapshot Tests
// =============================================================================

func TestRecordSnapshot_Upsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	snap := domain.NewSnapshot(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	snap.Fail(errors.New("pg_dump failed"))
	require.NoError(t, s.RecordSnapshot(ctx, snap))

	snap.Complete(4096, false)
	require.NoError(t, s.RecordSnapshot(ctx, snap))

	got, err := s.GetSnapshot(ctx, "20260102-030405")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, domain.SnapshotStatusComplete, got.Status)
	assert.Equal(t, int64(4096), got.SizeBytes)
	assert.Empty(t, got.Error)

	all, err := s.ListSnapshots(ctx, DefaultListOptions())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecordSnapshot_Invalid(t *testing.T) {
	s := setupTestStore(t)

	snap := domain.NewSnapshot(time.Now())
	err := s.RecordSnapshot(context.Background(), snap)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestGetSnapshot_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetSnapshot(context.Background(), "20260102-030405")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSnapshots_NewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 3; i++ {
		snap := domain.NewSnapshot(base.Add(time.Duration(i) * time.Hour))
		snap.Complete(int64(i), i == 2)
		require.NoError(t, s.RecordSnapshot(ctx, snap))
	}

	list, err := s.ListSnapshots(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "20260102-050405", list[0].Name)
	assert.True(t, list[0].Encrypted)
	assert.Equal(t, "20260102-030405", list[2].Name)
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Store) error {
		recordPath(t, tx, deployment.StatePrepared)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	state, err := s.CurrentState(ctx)
	require.NoError(t, err)
	assert.Equal(t, deployment.StateUninitialized, state)
}

func TestWithTx_Commit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Store) error {
		recordPath(t, tx, deployment.StatePrepared, deployment.StateSecretsBound)
		return nil
	})
	require.NoError(t, err)

	state, err := s.CurrentState(ctx)
	require.NoError(t, err)
	assert.Equal(t, deployment.StateSecretsBound, state)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		in   ListOptions
		want ListOptions
	}{
		{ListOptions{}, ListOptions{Limit: 100}},
		{ListOptions{Limit: 5000, Offset: -3}, ListOptions{Limit: 1000}},
		{ListOptions{Limit: 10, Offset: 20}, ListOptions{Limit: 10, Offset: 20}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize())
	}
}
