package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/tunnelgate/internal/core/deployment"
)

// =============================================================================
// Transition Tests
// =============================================================================

func TestNewTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    deployment.State
		to      deployment.State
		wantErr bool
	}{
		{"first prepare", deployment.StateUninitialized, deployment.StatePrepared, false},
		{"bind secrets", deployment.StatePrepared, deployment.StateSecretsBound, false},
		{"start unbound", deployment.StatePrepared, deployment.StateStarted, true},
		{"start from nothing", deployment.StateUninitialized, deployment.StateStarted, true},
		{"health settles", deployment.StateStarted, deployment.StateDegraded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewTransition(tt.from, tt.to, "")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Nil(t, tr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, tr.ID)
			assert.Equal(t, tt.from, tr.From)
			assert.Equal(t, tt.to, tr.To)
			assert.Equal(t, time.UTC, tr.CreatedAt.Location())
		})
	}
}

func TestTransition_String(t *testing.T) {
	tr := Transition{From: deployment.StateStarted, To: deployment.StateHealthy, Detail: "3 attempts"}
	assert.Contains(t, tr.String(), "started -> healthy")
	assert.Contains(t, tr.String(), "(3 attempts)")
}

// =============================================================================
// Snapshot Tests
// =============================================================================

func TestSnapshotName(t *testing.T) {
	at := time.Date(2026, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "20260309-140507", SnapshotName(at))
	assert.True(t, ValidSnapshotName("20260309-140507"))
	assert.True(t, ValidSnapshotName("20260309-140507-2"))
	assert.False(t, ValidSnapshotName(".staging-abc"))
	assert.False(t, ValidSnapshotName("../etc"))
}

func TestSnapshot_Lifecycle(t *testing.T) {
	s := NewSnapshot(time.Date(2026, 3, 9, 14, 5, 7, 0, time.UTC))
	assert.ErrorIs(t, s.Validate(), ErrInvalidSnapshot)

	s.Complete(1024, true)
	require.NoError(t, s.Validate())
	assert.Equal(t, SnapshotStatusComplete, s.Status)
	assert.True(t, s.Encrypted)

	s.Fail(errors.New("pg_dump exited 1"))
	assert.Equal(t, SnapshotStatusFailed, s.Status)
	assert.Equal(t, "pg_dump exited 1", s.Error)
	assert.NoError(t, s.Validate())
}
