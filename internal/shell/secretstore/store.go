// Package secretstore persists secret material exactly once. An existing
// secret file is only ever read; creation is exclusive and all-or-nothing.
package secretstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/secrets"
)

// FileMode is the permission of the secret file.
const FileMode fs.FileMode = 0o600

// Generator creates or loads the secret file of an installation.
type Generator struct {
	hasher crypto.PasswordHasher
	logger *slog.Logger
}

// New creates a Generator that hashes admin passwords with hasher.
func New(hasher crypto.PasswordHasher, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		hasher: hasher,
		logger: logger.With("component", "secretstore"),
	}
}

// Ensure returns the material stored at path, creating it first if the file
// does not exist. An existing file is returned verbatim and never rewritten.
func (g *Generator) Ensure(path, adminPassword string) (secrets.Material, error) {
	m, fresh, err := g.Resolve(path, adminPassword)
	if err != nil || !fresh {
		return m, err
	}
	if err := g.Persist(path, m); err != nil {
		if errors.Is(err, secrets.ErrSecretsExist) {
			// Lost a race with another writer; theirs wins.
			return Load(path)
		}
		return secrets.Material{}, err
	}
	return m, nil
}

// Resolve returns the material stored at path or, when there is no file
// yet, freshly generated material held only in memory. fresh reports the
// latter; the caller decides when to Persist it.
func (g *Generator) Resolve(path, adminPassword string) (m secrets.Material, fresh bool, err error) {
	m, err = Load(path)
	if err == nil {
		g.logger.Debug("secret file present, reusing", "path", path)
		return m, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return secrets.Material{}, false, err
	}

	m, err = secrets.Generate(g.hasher, adminPassword)
	if err != nil {
		return secrets.Material{}, false, err
	}
	return m, true, nil
}

// Create generates fresh material and writes it to path. It fails with a
// *secrets.IntegrityError if path already exists.
func (g *Generator) Create(path, adminPassword string) (secrets.Material, error) {
	if _, err := os.Lstat(path); err == nil {
		return secrets.Material{}, secrets.NewIntegrityError(path, "refusing to overwrite existing secrets", secrets.ErrSecretsExist)
	}

	m, err := secrets.Generate(g.hasher, adminPassword)
	if err != nil {
		return secrets.Material{}, err
	}
	if err := g.Persist(path, m); err != nil {
		return secrets.Material{}, err
	}
	return m, nil
}

// Persist writes m to path. It never replaces an existing file: that case
// fails with a *secrets.IntegrityError wrapping secrets.ErrSecretsExist.
func (g *Generator) Persist(path string, m secrets.Material) error {
	if err := writeExclusive(path, m.Marshal()); err != nil {
		return err
	}
	g.logger.Info("secret file created", "path", path)
	return nil
}

// Load reads and validates the secret file at path. A missing file yields an
// error matching fs.ErrNotExist.
func Load(path string) (secrets.Material, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return secrets.Material{}, err
	}

	m, err := secrets.Parse(data)
	if err != nil {
		var ie *secrets.IntegrityError
		if errors.As(err, &ie) {
			ie.Path = path
		}
		return secrets.Material{}, err
	}
	return m, nil
}

// writeExclusive writes data to a temp file in the target directory and
// hard-links it into place. The link fails if path exists, so an existing
// secret file is never replaced and readers never see a partial one.
func writeExclusive(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".secrets-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return secrets.NewIntegrityError(path, "refusing to overwrite existing secrets", secrets.ErrSecretsExist)
		}
		return fmt.Errorf("link secret file: %w", err)
	}
	return nil
}
