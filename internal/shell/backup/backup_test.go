package backup

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/domain"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/shell/docker"
	"github.com/artpar/tunnelgate/internal/shell/lifecycle"
	"github.com/artpar/tunnelgate/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

const (
	testDump   = "--\n-- PostgreSQL database dump\n--\nCREATE TABLE totp_configurations (id integer);\n"
	testWGConf = "[Interface]\nPrivateKey = aGVsbG8=\n"
	wgConfPath = "/etc/wireguard/wg0.conf"
)

type fakeHasher struct{}

func (fakeHasher) Hash(string) (string, error) {
	return "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA", nil
}

type testEnv struct {
	dir    string
	fake   *docker.FakeClient
	ledger *store.SQLiteStore
	mgr    *lifecycle.Manager

	// replayed is the stdin psql received.
	replayed   []byte
	dumpExit   int
	replayExit int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	ledger, err := store.NewSQLiteStore(filepath.Join(dir, layout.StateDB))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		dir:    dir,
		fake:   docker.NewFakeClient(),
		ledger: ledger,
	}
	env.mgr = lifecycle.NewManager(lifecycle.Config{InstallDir: dir, GOOS: "linux"}, env.fake, ledger, fakeHasher{}, logger)

	ctx := context.Background()
	b, err := env.mgr.Prepare(ctx, params.Params{
		BaseDomain:          "example.com",
		PublicHost:          "203.0.113.10",
		Timezone:            "UTC",
		AdminUsername:       "admin",
		AdminEmail:          "admin@example.com",
		AdminPassword:       "correct horse battery",
		FallbackPolicy:      params.FallbackOneFactor,
		TLSMethod:           params.TLSSelfSigned,
		WireGuardDNS:        []string{"1.1.1.1"},
		WireGuardAllowedIPs: []string{"0.0.0.0/0"},
	})
	require.NoError(t, err)
	_, err = env.mgr.Start(ctx, b)
	require.NoError(t, err)

	env.fake.Container("tunnelgate-wg-easy").Files[wgConfPath] = []byte(testWGConf)
	env.fake.ExecFunc = func(_ string, spec docker.ExecSpec) (*docker.ExecResult, error) {
		switch spec.Cmd[0] {
		case "pg_dump":
			if env.dumpExit != 0 {
				return &docker.ExecResult{ExitCode: env.dumpExit, Stderr: []byte("connection refused")}, nil
			}
			return &docker.ExecResult{Stdout: []byte(testDump)}, nil
		case "psql":
			data, err := io.ReadAll(spec.Stdin)
			if err != nil {
				return nil, err
			}
			env.replayed = data
			if env.replayExit != 0 {
				return &docker.ExecResult{ExitCode: env.replayExit, Stderr: []byte("ERROR: relation already exists")}, nil
			}
			return &docker.ExecResult{}, nil
		}
		return &docker.ExecResult{ExitCode: 127}, nil
	}
	return env
}

func (e *testEnv) coordinator(passphrase string) *Coordinator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{InstallDir: e.dir, Passphrase: passphrase}, e.mgr.Orchestrator(), e.ledger, logger)
}

func (e *testEnv) read(t *testing.T, rel string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dir, rel))
	require.NoError(t, err)
	return data
}

func backupEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, layout.BackupsDir))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// =============================================================================
// Backup Tests
// =============================================================================

func TestBackup_WritesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dir, err := env.coordinator("").Backup(ctx)
	require.NoError(t, err)

	name := filepath.Base(dir)
	assert.True(t, domain.ValidSnapshotName(name), name)
	assert.Equal(t, []string{name}, backupEntries(t, env.dir))

	for _, f := range []string{DumpFile, "authelia/configuration.yml", "authelia/users_database.yml", WireGuardFile, EnvFile, ManifestFile} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
	assert.NoFileExists(t, filepath.Join(dir, SealedEnvFile))

	dump, err := os.ReadFile(filepath.Join(dir, DumpFile))
	require.NoError(t, err)
	assert.Equal(t, testDump, string(dump))

	env1, err := os.ReadFile(filepath.Join(dir, EnvFile))
	require.NoError(t, err)
	assert.Equal(t, env.read(t, layout.EnvFile), env1)

	info, err := os.Stat(filepath.Join(dir, EnvFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, m.SchemaVersion)
	assert.Len(t, m.Files, 5)
	assert.False(t, m.Encrypted)
	_, err = m.Verify(dir)
	assert.NoError(t, err)

	snap, err := env.ledger.GetSnapshot(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotStatusComplete, snap.Status)
	assert.Equal(t, m.Size(), snap.SizeBytes)
	assert.Equal(t, m.ID, snap.ID)
}

func TestBackup_SealsSecretCopy(t *testing.T) {
	env := newTestEnv(t)

	dir, err := env.coordinator("backup passphrase").Backup(context.Background())
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, EnvFile))
	sealed, err := os.ReadFile(filepath.Join(dir, SealedEnvFile))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "JWT_SECRET")

	plain, err := crypto.Open(string(sealed), "backup passphrase")
	require.NoError(t, err)
	assert.Equal(t, env.read(t, layout.EnvFile), plain)

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.True(t, m.Encrypted)
}

func TestBackup_DumpFailureLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.dumpExit = 1

	_, err := env.coordinator("").Backup(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDumpFailed)

	var se *SnapshotError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "dump", se.Stage)

	assert.Empty(t, backupEntries(t, env.dir))

	snaps, err := env.ledger.ListSnapshots(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.SnapshotStatusFailed, snaps[0].Status)
	assert.Contains(t, snaps[0].Error, "connection refused")
}

func TestBackup_MissingTunnelState(t *testing.T) {
	env := newTestEnv(t)
	delete(env.fake.Container("tunnelgate-wg-easy").Files, wgConfPath)

	_, err := env.coordinator("").Backup(context.Background())
	var se *SnapshotError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "wireguard", se.Stage)
	assert.Empty(t, backupEntries(t, env.dir))
}

func TestBackup_SameSecondGetsSuffix(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator("")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	first, err := c.Backup(context.Background())
	require.NoError(t, err)
	second, err := c.Backup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "20260301-120000", filepath.Base(first))
	assert.Equal(t, "20260301-120000-1", filepath.Base(second))
}

// =============================================================================
// Restore Tests
// =============================================================================

func TestRestore_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.coordinator("")

	usersBefore := env.read(t, layout.UsersFile)
	dir, err := c.Backup(ctx)
	require.NoError(t, err)

	require.NoError(t, env.mgr.AddUser("alice", "alice@example.com", "a long enough pass", "users"))
	require.NotEqual(t, usersBefore, env.read(t, layout.UsersFile))
	env.fake.Container("tunnelgate-wg-easy").Files[wgConfPath] = []byte("[Interface]\n# changed\n")

	require.NoError(t, c.Restore(ctx, filepath.Base(dir)))

	assert.Equal(t, usersBefore, env.read(t, layout.UsersFile))
	assert.Equal(t, testDump, string(env.replayed))
	assert.Equal(t, testWGConf, string(env.fake.Container("tunnelgate-wg-easy").Files[wgConfPath]))

	info, err := os.Stat(filepath.Join(env.dir, layout.UsersFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	snap, err := env.ledger.GetSnapshot(ctx, filepath.Base(dir))
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotStatusRestored, snap.Status)
}

func TestRestore_SealedRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	envBefore := env.read(t, layout.EnvFile)

	dir, err := env.coordinator("backup passphrase").Backup(ctx)
	require.NoError(t, err)
	name := filepath.Base(dir)

	err = env.coordinator("").Restore(ctx, name)
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	err = env.coordinator("wrong passphrase").Restore(ctx, name)
	assert.Error(t, err)

	require.NoError(t, env.coordinator("backup passphrase").Restore(ctx, name))
	assert.Equal(t, envBefore, env.read(t, layout.EnvFile))
}

func TestRestore_TamperedSnapshotWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.coordinator("")

	dir, err := c.Backup(ctx)
	require.NoError(t, err)
	require.NoError(t, env.mgr.AddUser("alice", "alice@example.com", "a long enough pass", "users"))
	usersNow := env.read(t, layout.UsersFile)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DumpFile), []byte("DROP TABLE users;\n"), 0o600))

	err = c.Restore(ctx, filepath.Base(dir))
	assert.ErrorIs(t, err, ErrDigestMismatch)
	assert.Equal(t, usersNow, env.read(t, layout.UsersFile))
	assert.Nil(t, env.replayed)
}

func TestRestore_FailedPushKeepsInstallDir(t *testing.T) {
	tests := []struct {
		name    string
		fail    func(env *testEnv)
		wantErr error
	}{
		{
			name:    "replay exits non-zero",
			fail:    func(env *testEnv) { env.replayExit = 3 },
			wantErr: ErrDumpFailed,
		},
		{
			name: "tunnel container gone",
			fail: func(env *testEnv) {
				wg := env.fake.Container("tunnelgate-wg-easy")
				require.NoError(t, env.fake.RemoveContainer(context.Background(), wg.ID, docker.RemoveOptions{Force: true}))
			},
			wantErr: docker.ErrServiceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			c := env.coordinator("")

			dir, err := c.Backup(ctx)
			require.NoError(t, err)
			require.NoError(t, env.mgr.AddUser("alice", "alice@example.com", "a long enough pass", "users"))
			usersNow := env.read(t, layout.UsersFile)
			envNow := env.read(t, layout.EnvFile)
			configNow := env.read(t, layout.AuthConfigFile)

			tt.fail(env)
			err = c.Restore(ctx, filepath.Base(dir))
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, usersNow, env.read(t, layout.UsersFile))
			assert.Equal(t, envNow, env.read(t, layout.EnvFile))
			assert.Equal(t, configNow, env.read(t, layout.AuthConfigFile))

			snap, err := env.ledger.GetSnapshot(ctx, filepath.Base(dir))
			require.NoError(t, err)
			assert.NotEqual(t, domain.SnapshotStatusRestored, snap.Status)
		})
	}
}

func TestRestore_LocalWriteFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.coordinator("")

	dir, err := c.Backup(ctx)
	require.NoError(t, err)
	require.NoError(t, env.mgr.AddUser("alice", "alice@example.com", "a long enough pass", "users"))
	usersNow := env.read(t, layout.UsersFile)

	// The secret file is written last; a directory in its place fails it.
	envPath := filepath.Join(env.dir, layout.EnvFile)
	require.NoError(t, os.Remove(envPath))
	require.NoError(t, os.Mkdir(envPath, 0o700))

	err = c.Restore(ctx, filepath.Base(dir))
	require.Error(t, err)
	assert.Equal(t, usersNow, env.read(t, layout.UsersFile))

	info, err := os.Stat(filepath.Join(env.dir, layout.UsersFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRestore_UnknownSnapshot(t *testing.T) {
	env := newTestEnv(t)
	c := env.coordinator("")

	tests := []string{"20990101-000000", "../etc", "latest", ""}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, c.Restore(context.Background(), name), ErrNoSnapshot)
		})
	}
}

func TestRestore_MissingManifest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.coordinator("")

	dir, err := c.Backup(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, ManifestFile)))

	err = c.Restore(ctx, filepath.Base(dir))
	assert.ErrorIs(t, err, ErrManifest)
}

// =============================================================================
// Manifest Tests
// =============================================================================

func TestManifest_RejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{SchemaVersion: SchemaVersion, Files: []FileEntry{{Name: "../state.db"}}}
	_, err := m.Verify(dir)
	assert.ErrorIs(t, err, ErrManifest)
}

func TestManifest_SchemaVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"schema_version": 99}`), 0o644))
	_, err := ReadManifest(dir)
	assert.ErrorIs(t, err, ErrManifest)
	assert.True(t, strings.Contains(err.Error(), "99"))
}
