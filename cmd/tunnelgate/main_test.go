package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/tunnelgate/internal/core/authpolicy"
	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/dns"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/monitoring"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/secrets"
	"github.com/artpar/tunnelgate/internal/core/synth"
	"github.com/artpar/tunnelgate/internal/shell/backup"
	"github.com/artpar/tunnelgate/internal/shell/docker"
	"github.com/artpar/tunnelgate/internal/shell/lifecycle"
	"github.com/artpar/tunnelgate/internal/shell/process"
)

// =============================================================================
// Test Helpers
// =============================================================================

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func tempInstall(t *testing.T) string {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("TUNNELGATE_INSTALL_DIR", dir)
	t.Setenv("TUNNELGATE_LOG_LEVEL", "error")
	return dir
}

// =============================================================================
// Exit Code Tests
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category string
		code     int
	}{
		{"validation", &params.ValidationError{}, "validation", ExitValidation},
		{"user exists", fmt.Errorf("%w: bob", authpolicy.ErrUserExists), "validation", ExitValidation},
		{"not prepared", fmt.Errorf("%w: no .env", lifecycle.ErrNotPrepared), "validation", ExitValidation},
		{"environment", lifecycle.NewEnvironmentError("preflight", "no docker", lifecycle.ErrRuntimeUnreachable), "environment", ExitEnvironment},
		{"docker", docker.NewDockerError("Ping", "", "", "refused", docker.ErrConnectionFailed), "environment", ExitEnvironment},
		{"secrets", secrets.NewIntegrityError(".env", "missing key", secrets.ErrMissingKey), "secrets", ExitSecrets},
		{"synthesis", synth.NewSynthesisError("check", "mismatch", synth.ErrInconsistent), "synthesis", ExitSynthesis},
		{"snapshot wraps docker", backup.NewSnapshotError("dump", "", "exec", docker.ErrContainerNotRunning), "snapshot", ExitSnapshot},
		{"locked", &process.LockError{Path: "/x", Err: process.ErrLocked}, "locked", ExitLocked},
		{"other", errors.New("boom"), "error", ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, code := classify(tt.err)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, tt.code, code)
		})
	}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestRun_Version(t *testing.T) {
	tempInstall(t)

	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "tunnelgate dev (built unknown)\n", stdout)
}

func TestRun_UnknownCommand(t *testing.T) {
	tempInstall(t)

	code, _, stderr := runCLI(t, "launch")
	assert.Equal(t, ExitFailure, code)
	assert.True(t, strings.HasPrefix(stderr, "error: "), stderr)
}

func TestRun_RenderInvalidParams(t *testing.T) {
	tempInstall(t)
	t.Setenv("TUNNELGATE_STACK_DOMAIN", "not a domain")

	code, stdout, stderr := runCLI(t, "render")
	assert.Equal(t, ExitValidation, code)
	assert.Empty(t, stdout)
	assert.True(t, strings.HasPrefix(stderr, "validation: "), stderr)
}

func TestRun_RenderToStdout(t *testing.T) {
	dir := tempInstall(t)
	setStackEnv(t)

	code, stdout, stderr := runCLI(t, "render")
	require.Equal(t, ExitSuccess, code, stderr)

	for _, name := range []string{layout.ComposeFile, layout.AuthConfigFile, layout.UsersFile, layout.TLSFile} {
		assert.Contains(t, stdout, "# ==> "+name+" <==")
	}
	assert.Contains(t, stdout, "auth.example.com")
	assert.NotContains(t, stdout, "correct horse battery")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "render must not write the install")
}

func TestRun_RenderUsesInstallSecrets(t *testing.T) {
	dir := tempInstall(t)
	setStackEnv(t)

	m, err := secrets.Generate(crypto.NewArgon2Hasher(), "correct horse battery")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, layout.EnvFile), m.Marshal(), 0o600))

	code, stdout, stderr := runCLI(t, "render")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, m.AdminPasswordHash)
}

func TestRun_RenderToDir(t *testing.T) {
	tempInstall(t)
	setStackEnv(t)
	out := t.TempDir()

	code, _, stderr := runCLI(t, "render", "--out", out)
	require.Equal(t, ExitSuccess, code, stderr)

	info, err := os.Stat(filepath.Join(out, layout.UsersFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(out, layout.ComposeFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestRun_HashPassword(t *testing.T) {
	tempInstall(t)

	code, stdout, stderr := runCLI(t, "hash-password", "correct horse battery")
	require.Equal(t, ExitSuccess, code, stderr)

	hash := strings.TrimSpace(stdout)
	assert.True(t, crypto.IsArgon2idHash(hash), hash)
	ok, err := crypto.VerifyPassword(hash, "correct horse battery")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_HashPasswordNeedsArgument(t *testing.T) {
	tempInstall(t)

	code, _, _ := runCLI(t, "hash-password")
	assert.Equal(t, ExitFailure, code)
}

func TestRun_MutatingCommandRespectsLock(t *testing.T) {
	dir := tempInstall(t)

	held := process.NewLock(filepath.Join(dir, layout.LockFile))
	require.NoError(t, held.Acquire())
	t.Cleanup(func() { held.Release() })

	code, _, stderr := runCLI(t, "down")
	assert.Equal(t, ExitLocked, code)
	assert.True(t, strings.HasPrefix(stderr, "locked: "), stderr)
}

func TestPrintUpSummary_WarnsOnUnguardedPanel(t *testing.T) {
	p := params.Params{BaseDomain: "example.com", TLSMethod: params.TLSLetsEncrypt, MetricsEnabled: true}
	var buf bytes.Buffer
	printUpSummary(&buf, p, monitoring.HealthReport{Status: monitoring.HealthStatusHealthy})

	out := buf.String()
	assert.Contains(t, out, "warning:   https://wg.example.com: admin panel is served without authentication")
	assert.Contains(t, out, "warning:   127.0.0.1:51821")

	buf.Reset()
	p.TOTPEnabled, p.MetricsEnabled = true, false
	printUpSummary(&buf, p, monitoring.HealthReport{Status: monitoring.HealthStatusHealthy})
	assert.NotContains(t, buf.String(), "warning:")
}

func TestPrintDNS(t *testing.T) {
	var buf bytes.Buffer
	printDNS(&buf, "203.0.113.10", []dns.VerificationResult{
		{Hostname: "auth.example.com", Verified: true, Method: dns.MethodA},
		{Hostname: "wg.example.com", Error: "no A record points to 203.0.113.10"},
	})

	out := buf.String()
	assert.Contains(t, out, "ok (a)")
	assert.Contains(t, out, "add A wg.example.com -> 203.0.113.10")
}
