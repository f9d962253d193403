package backup

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNoSnapshot is returned when a named snapshot does not exist.
	ErrNoSnapshot = errors.New("snapshot not found")

	// ErrManifest is returned for a missing or unreadable manifest.
	ErrManifest = errors.New("invalid snapshot manifest")

	// ErrDigestMismatch is returned when a snapshot file does not match its
	// manifest entry.
	ErrDigestMismatch = errors.New("snapshot file digest mismatch")

	// ErrPassphraseRequired is returned when restoring an encrypted secret
	// copy without a passphrase.
	ErrPassphraseRequired = errors.New("backup passphrase required")

	// ErrDumpFailed is returned when the database dump or replay exits non-zero.
	ErrDumpFailed = errors.New("database dump failed")
)

// SnapshotError is a failed backup or restore step.
type SnapshotError struct {
	Stage   string // e.g. "dump", "wireguard", "verify"
	Name    string // snapshot name, if known
	Message string
	Err     error
}

func (e *SnapshotError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("snapshot %s: %s: %s", e.Name, e.Stage, e.Message)
	}
	return fmt.Sprintf("snapshot: %s: %s", e.Stage, e.Message)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// NewSnapshotError creates a new SnapshotError.
func NewSnapshotError(stage, name, message string, err error) *SnapshotError {
	return &SnapshotError{Stage: stage, Name: name, Message: message, Err: err}
}

func wrap(stage, name string, err error) error {
	var se *SnapshotError
	if errors.As(err, &se) {
		return err
	}
	return NewSnapshotError(stage, name, err.Error(), err)
}
