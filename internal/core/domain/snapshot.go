package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// SnapshotNameLayout is the time layout of snapshot directory names.
const SnapshotNameLayout = "20060102-150405"

var snapshotNameRegex = regexp.MustCompile(`^\d{8}-\d{6}(-\d+)?$`)

// SnapshotStatus is the outcome of a backup or restore.
type SnapshotStatus string

const (
	SnapshotStatusComplete SnapshotStatus = "complete"
	SnapshotStatusFailed   SnapshotStatus = "failed"
	SnapshotStatusRestored SnapshotStatus = "restored"
)

// Snapshot is one backup recorded in the ledger.
type Snapshot struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"` // directory name under backups/
	Status    SnapshotStatus `json:"status"`
	SizeBytes int64          `json:"size_bytes"`
	Encrypted bool           `json:"encrypted"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewSnapshot starts a snapshot record named after at.
func NewSnapshot(at time.Time) *Snapshot {
	at = at.UTC()
	return &Snapshot{
		ID:        uuid.NewString(),
		Name:      SnapshotName(at),
		CreatedAt: at,
	}
}

// SnapshotName returns the directory name of a snapshot taken at t.
func SnapshotName(t time.Time) string {
	return t.UTC().Format(SnapshotNameLayout)
}

// ValidSnapshotName reports whether name has the snapshot name shape.
// A numeric suffix disambiguates snapshots taken within the same second.
func ValidSnapshotName(name string) bool {
	return snapshotNameRegex.MatchString(name)
}

// Complete marks the snapshot successful.
func (s *Snapshot) Complete(size int64, encrypted bool) {
	s.Status = SnapshotStatusComplete
	s.SizeBytes = size
	s.Encrypted = encrypted
	s.Error = ""
}

// Fail marks the snapshot failed with cause.
func (s *Snapshot) Fail(cause error) {
	s.Status = SnapshotStatusFailed
	if cause != nil {
		s.Error = cause.Error()
	}
}

// Validate checks the record before it is stored.
func (s Snapshot) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSnapshot)
	}
	if !ValidSnapshotName(s.Name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidSnapshot, s.Name)
	}
	switch s.Status {
	case SnapshotStatusComplete, SnapshotStatusFailed, SnapshotStatusRestored:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSnapshot, s.Status)
	}
	return nil
}
