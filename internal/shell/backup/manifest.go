package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFile is the name of the manifest inside a snapshot directory.
const ManifestFile = "manifest.json"

// SchemaVersion is the manifest format written by this version.
const SchemaVersion = 1

// Manifest describes the contents of one snapshot.
type Manifest struct {
	SchemaVersion int         `json:"schema_version"`
	ID            string      `json:"id"`
	CreatedAt     time.Time   `json:"created_at"`
	Encrypted     bool        `json:"encrypted"`
	Files         []FileEntry `json:"files"`
}

// FileEntry is one file of a snapshot, relative to the snapshot directory.
type FileEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Size returns the total size of the listed files.
func (m Manifest) Size() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// Has reports whether name is listed.
func (m Manifest) Has(name string) bool {
	for _, f := range m.Files {
		if f.Name == name {
			return true
		}
	}
	return false
}

func entryFor(name string, data []byte) FileEntry {
	sum := sha256.Sum256(data)
	return FileEntry{Name: name, Size: int64(len(data)), SHA256: hex.EncodeToString(sum[:])}
}

// ReadManifest loads the manifest of the snapshot in dir.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	if m.SchemaVersion < 1 || m.SchemaVersion > SchemaVersion {
		return Manifest{}, fmt.Errorf("%w: unsupported schema version %d", ErrManifest, m.SchemaVersion)
	}
	return m, nil
}

// Verify checks every listed file in dir against its size and digest and
// returns the file contents keyed by name.
func (m Manifest) Verify(dir string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.Files))
	for _, f := range m.Files {
		if !filepath.IsLocal(f.Name) {
			return nil, fmt.Errorf("%w: path %q escapes the snapshot", ErrManifest, f.Name)
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDigestMismatch, f.Name, err)
		}
		if got := entryFor(f.Name, data); got.Size != f.Size || got.SHA256 != f.SHA256 {
			return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, f.Name)
		}
		out[f.Name] = data
	}
	return out, nil
}
