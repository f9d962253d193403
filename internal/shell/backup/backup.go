// Package backup takes and restores point-in-time snapshots of an install:
// the auth database dump, the auth service files, the tunnel state and the
// secret file.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/sys/atomicwriter"

	"github.com/artpar/tunnelgate/internal/core/authpolicy"
	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/domain"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/secrets"
	"github.com/artpar/tunnelgate/internal/core/synth"
	"github.com/artpar/tunnelgate/internal/shell/docker"
	"github.com/artpar/tunnelgate/internal/shell/store"
)

// Snapshot file names.
const (
	DumpFile      = "postgres.sql"
	WireGuardFile = "wireguard.tar.gz"
	EnvFile       = ".env"
	SealedEnvFile = ".env.enc"
)

// snapshotAuthFiles maps snapshot paths to layout paths of the auth service.
var snapshotAuthFiles = []struct {
	snapshot string
	layout   string
	mode     fs.FileMode
}{
	{"authelia/configuration.yml", layout.AuthConfigFile, layout.PermPublicFile},
	{"authelia/users_database.yml", layout.UsersFile, layout.PermSecretFile},
}

// Config configures a Coordinator.
type Config struct {
	InstallDir string

	// Passphrase, when set, seals the secret copy of new snapshots and opens
	// sealed copies on restore.
	Passphrase string
}

// Coordinator takes and restores snapshots of one install directory.
type Coordinator struct {
	layout     layout.Layout
	orch       *docker.Orchestrator
	ledger     store.Store
	passphrase string
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Coordinator.
func New(cfg Config, orch *docker.Orchestrator, ledger store.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		layout:     layout.New(cfg.InstallDir),
		orch:       orch,
		ledger:     ledger,
		passphrase: cfg.Passphrase,
		logger:     logger.With("component", "backup"),
		now:        time.Now,
	}
}

// Dir returns the directory of the snapshot called name.
func (c *Coordinator) Dir(name string) string {
	return filepath.Join(c.layout.Path(layout.BackupsDir), name)
}

// =============================================================================
// Backup
// =============================================================================

// Backup writes a new snapshot and returns its directory. Files are built in
// a staging directory that is renamed into place only when complete; on any
// failure the staging directory is removed and no snapshot appears.
func (c *Coordinator) Backup(ctx context.Context) (string, error) {
	snap := domain.NewSnapshot(c.now())
	backups := c.layout.Path(layout.BackupsDir)
	if err := os.MkdirAll(backups, layout.PermSecretDir); err != nil {
		return "", NewSnapshotError("stage", "", "create backups dir", err)
	}

	staging := filepath.Join(backups, ".staging-"+snap.ID)
	if err := os.Mkdir(staging, layout.PermSecretDir); err != nil {
		return "", NewSnapshotError("stage", "", "create staging dir", err)
	}

	c.logger.Info("backup started", "id", snap.ID)
	dir, manifest, err := c.backup(ctx, snap, staging)
	if err != nil {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			c.logger.Warn("failed to remove staging dir", "path", staging, "error", rmErr)
		}
		snap.Fail(err)
		c.record(ctx, snap)
		return "", err
	}

	snap.Name = filepath.Base(dir)
	snap.Complete(manifest.Size(), manifest.Encrypted)
	c.record(ctx, snap)

	c.logger.Info("backup complete", "dir", dir, "files", len(manifest.Files), "bytes", manifest.Size())
	return dir, nil
}

func (c *Coordinator) backup(ctx context.Context, snap *domain.Snapshot, staging string) (string, Manifest, error) {
	manifest := Manifest{
		SchemaVersion: SchemaVersion,
		ID:            snap.ID,
		CreatedAt:     snap.CreatedAt,
	}
	put := func(name string, data []byte, mode fs.FileMode) error {
		p := filepath.Join(staging, name)
		if err := os.MkdirAll(filepath.Dir(p), layout.PermSecretDir); err != nil {
			return err
		}
		if err := atomicwriter.WriteFile(p, data, mode); err != nil {
			return err
		}
		manifest.Files = append(manifest.Files, entryFor(name, data))
		return nil
	}

	dump, err := c.dump(ctx)
	if err != nil {
		return "", manifest, wrap("dump", "", err)
	}
	if err := put(DumpFile, dump, layout.PermSecretFile); err != nil {
		return "", manifest, wrap("dump", "", err)
	}

	for _, f := range snapshotAuthFiles {
		data, err := os.ReadFile(c.layout.Path(f.layout))
		if err != nil {
			return "", manifest, wrap("auth-files", "", err)
		}
		if err := put(f.snapshot, data, f.mode); err != nil {
			return "", manifest, wrap("auth-files", "", err)
		}
	}

	archive, err := c.archiveWireGuard(ctx)
	if err != nil {
		return "", manifest, wrap("wireguard", "", err)
	}
	if err := put(WireGuardFile, archive, layout.PermSecretFile); err != nil {
		return "", manifest, wrap("wireguard", "", err)
	}

	env, err := os.ReadFile(c.layout.Path(layout.EnvFile))
	if err != nil {
		return "", manifest, wrap("secrets", "", err)
	}
	if c.passphrase != "" {
		sealed, err := crypto.Seal(env, c.passphrase)
		if err != nil {
			return "", manifest, wrap("secrets", "", err)
		}
		manifest.Encrypted = true
		err = put(SealedEnvFile, []byte(sealed), layout.PermSecretFile)
		if err != nil {
			return "", manifest, wrap("secrets", "", err)
		}
	} else if err := put(EnvFile, env, layout.PermSecretFile); err != nil {
		return "", manifest, wrap("secrets", "", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", manifest, wrap("manifest", "", err)
	}
	if err := atomicwriter.WriteFile(filepath.Join(staging, ManifestFile), data, layout.PermPublicFile); err != nil {
		return "", manifest, wrap("manifest", "", err)
	}

	dir, err := c.publish(staging, snap.Name)
	if err != nil {
		return "", manifest, wrap("publish", snap.Name, err)
	}
	return dir, manifest, nil
}

// dump runs pg_dump in the database container.
func (c *Coordinator) dump(ctx context.Context) ([]byte, error) {
	res, err := c.orch.Exec(ctx, synth.ServicePostgres, docker.ExecSpec{
		Cmd: []string{
			"pg_dump",
			"-U", authpolicy.DatabaseUser,
			"-d", authpolicy.DatabaseName,
			"--clean", "--if-exists", "--no-owner",
		},
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: exit %d: %s", ErrDumpFailed, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return res.Stdout, nil
}

// archiveWireGuard gzips the tar stream of the tunnel state directory.
func (c *Coordinator) archiveWireGuard(ctx context.Context) ([]byte, error) {
	rc, err := c.orch.CopyFrom(ctx, synth.ServiceWGEasy, synth.WireGuardStateDir)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, rc); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// publish renames staging to name under the backups dir, adding a numeric
// suffix when a snapshot of the same second exists.
func (c *Coordinator) publish(staging, name string) (string, error) {
	backups := filepath.Dir(staging)
	candidate := name
	for i := 1; ; i++ {
		dir := filepath.Join(backups, candidate)
		if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
			if err := os.Rename(staging, dir); err != nil {
				return "", err
			}
			return dir, nil
		} else if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", name, i)
	}
}

// record stores snap in the ledger. The snapshot itself is already on
// disk or already gone, so a failure is only logged.
func (c *Coordinator) record(ctx context.Context, snap *domain.Snapshot) {
	if err := c.ledger.RecordSnapshot(context.WithoutCancel(ctx), snap); err != nil {
		c.logger.Warn("failed to record snapshot", "name", snap.Name, "error", err)
	}
}

// =============================================================================
// Restore
// =============================================================================

// Restore verifies the snapshot called name against its manifest, replays
// the database dump, pushes the tunnel state into its container and only
// then puts back the auth service files and the secret file. Nothing is
// written unless every digest matches, and a failed replay or push leaves
// the install dir as it was.
func (c *Coordinator) Restore(ctx context.Context, name string) error {
	if !domain.ValidSnapshotName(name) {
		return NewSnapshotError("verify", name, "not a snapshot name", ErrNoSnapshot)
	}
	dir := c.Dir(name)
	if _, err := os.Stat(dir); err != nil {
		return NewSnapshotError("verify", name, "no such snapshot", ErrNoSnapshot)
	}

	manifest, err := ReadManifest(dir)
	if err != nil {
		return wrap("verify", name, err)
	}
	files, err := manifest.Verify(dir)
	if err != nil {
		return wrap("verify", name, err)
	}

	env, err := c.secretCopy(manifest, files)
	if err != nil {
		return wrap("secrets", name, err)
	}
	dump, ok := files[DumpFile]
	if !ok {
		return NewSnapshotError("verify", name, "no database dump", ErrManifest)
	}
	archive, ok := files[WireGuardFile]
	if !ok {
		return NewSnapshotError("verify", name, "no tunnel archive", ErrManifest)
	}

	var local []localFile
	for _, f := range snapshotAuthFiles {
		if data, ok := files[f.snapshot]; ok {
			local = append(local, localFile{path: c.layout.Path(f.layout), data: data, mode: f.mode})
		}
	}
	local = append(local, localFile{path: c.layout.Path(layout.EnvFile), data: env, mode: layout.PermSecretFile})

	c.logger.Info("restore started", "name", name)

	if err := c.replay(ctx, dump); err != nil {
		return wrap("replay", name, err)
	}
	if err := c.unarchiveWireGuard(ctx, archive); err != nil {
		return wrap("wireguard", name, err)
	}
	if err := c.writeLocal(local); err != nil {
		return wrap("local-files", name, err)
	}

	snap := domain.NewSnapshot(c.now())
	snap.Name = name
	snap.Complete(manifest.Size(), manifest.Encrypted)
	snap.Status = domain.SnapshotStatusRestored
	c.record(ctx, snap)

	c.logger.Info("restore complete; restart the stack to load restored secrets", "name", name)
	return nil
}

// localFile is one install dir file a restore puts back.
type localFile struct {
	path   string
	data   []byte
	mode   fs.FileMode
	absent bool // previous state only: the file did not exist
}

// writeLocal writes files in order. On failure the files already written
// get their previous content back, or are removed if they did not exist.
func (c *Coordinator) writeLocal(files []localFile) error {
	var done []localFile
	for _, f := range files {
		prev := localFile{path: f.path, mode: f.mode}
		data, err := os.ReadFile(f.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			prev.absent = true
		case err != nil:
			c.rollback(done)
			return fmt.Errorf("read %s: %w", filepath.Base(f.path), err)
		default:
			prev.data = data
		}

		if err := atomicwriter.WriteFile(f.path, f.data, f.mode); err != nil {
			c.rollback(done)
			return fmt.Errorf("write %s: %w", filepath.Base(f.path), err)
		}
		done = append(done, prev)
	}
	return nil
}

// rollback puts back the previous state of each file, newest first.
func (c *Coordinator) rollback(previous []localFile) {
	for i := len(previous) - 1; i >= 0; i-- {
		p := previous[i]
		var err error
		if p.absent {
			err = os.Remove(p.path)
		} else {
			err = atomicwriter.WriteFile(p.path, p.data, p.mode)
		}
		if err != nil {
			c.logger.Warn("failed to roll back restored file", "path", p.path, "error", err)
		}
	}
}

// secretCopy returns the plaintext secret file of the snapshot, checked to
// parse as secret material.
func (c *Coordinator) secretCopy(m Manifest, files map[string][]byte) ([]byte, error) {
	var env []byte
	if m.Encrypted {
		if c.passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		sealed, ok := files[SealedEnvFile]
		if !ok {
			return nil, fmt.Errorf("%w: no %s", ErrManifest, SealedEnvFile)
		}
		plain, err := crypto.Open(string(sealed), c.passphrase)
		if err != nil {
			return nil, fmt.Errorf("open secret copy: %w", err)
		}
		env = plain
	} else {
		plain, ok := files[EnvFile]
		if !ok {
			return nil, fmt.Errorf("%w: no %s", ErrManifest, EnvFile)
		}
		env = plain
	}

	if _, err := secrets.Parse(env); err != nil {
		return nil, err
	}
	return env, nil
}

// replay feeds the dump to psql in the database container.
func (c *Coordinator) replay(ctx context.Context, dump []byte) error {
	res, err := c.orch.Exec(ctx, synth.ServicePostgres, docker.ExecSpec{
		Cmd: []string{
			"psql",
			"-U", authpolicy.DatabaseUser,
			"-d", authpolicy.DatabaseName,
			"-v", "ON_ERROR_STOP=1",
			"-q",
		},
		Stdin: bytes.NewReader(dump),
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: psql exit %d: %s", ErrDumpFailed, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

// unarchiveWireGuard extracts the archive into the parent of the tunnel
// state directory; entries are rooted at its base name.
func (c *Coordinator) unarchiveWireGuard(ctx context.Context, archive []byte) error {
	zr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return err
	}
	defer zr.Close()
	return c.orch.CopyTo(ctx, synth.ServiceWGEasy, path.Dir(synth.WireGuardStateDir), zr)
}
