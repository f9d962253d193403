package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/moby/sys/atomicwriter"

	"github.com/artpar/tunnelgate/internal/core/authpolicy"
	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/synth"
	"github.com/artpar/tunnelgate/internal/shell/docker"
)

// =============================================================================
// Credential Store
// =============================================================================

// AddUser hashes password and adds the user to the credential store. The
// authentication service watches the file, so no restart is needed.
func (m *Manager) AddUser(username, email, password, group string) error {
	if !params.ValidUsername(username) {
		return fmt.Errorf("%w: username %q must be a simple user name", authpolicy.ErrInvalidUser, username)
	}
	if !params.ValidEmail(email) {
		return fmt.Errorf("%w: %q is not a valid email address", authpolicy.ErrInvalidUser, email)
	}
	if group != "" && !params.ValidUsername(group) {
		return fmt.Errorf("%w: group %q must be a simple name", authpolicy.ErrInvalidUser, group)
	}
	if len(password) < params.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", authpolicy.ErrInvalidUser, params.MinPasswordLength)
	}

	path := m.layout.Path(layout.UsersFile)
	db, err := readUsers(path)
	if err != nil {
		return err
	}

	hash, err := m.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var groups []string
	if group != "" {
		groups = []string{group}
	}
	next, err := db.WithUser(username, authpolicy.User{
		Password: hash,
		Email:    email,
		Groups:   groups,
	})
	if err != nil {
		return err
	}

	data, err := authpolicy.RenderUsers(next)
	if err != nil {
		return err
	}
	if err := atomicwriter.WriteFile(path, data, layout.PermSecretFile); err != nil {
		return fmt.Errorf("write %s: %w", layout.UsersFile, err)
	}

	m.logger.Info("user added", "username", username, "group", group)
	return nil
}

// Users returns the credential store.
func (m *Manager) Users() (authpolicy.UsersDatabase, error) {
	return readUsers(m.layout.Path(layout.UsersFile))
}

func readUsers(path string) (authpolicy.UsersDatabase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return authpolicy.UsersDatabase{}, fmt.Errorf("%w: no %s", ErrNotPrepared, layout.UsersFile)
		}
		return authpolicy.UsersDatabase{}, err
	}
	return authpolicy.ParseUsers(data)
}

// =============================================================================
// TOTP Reset
// =============================================================================

// TOTPReset deletes the TOTP registration of username so the user enrols
// again on next login.
func (m *Manager) TOTPReset(ctx context.Context, username string) error {
	db, err := m.Users()
	if err != nil {
		return err
	}
	if _, ok := db.Users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}

	res, err := m.orch.Exec(ctx, synth.ServiceAuthelia, docker.ExecSpec{
		Cmd: []string{
			"authelia", "storage", "user", "totp", "delete", username,
			"--config", authpolicy.ConfigDir + "/configuration.yml",
		},
	})
	if err != nil {
		return fmt.Errorf("reset totp: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: exit %d: %s", ErrCommandFailed, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	m.logger.Info("totp registration removed", "username", username)
	return nil
}

// =============================================================================
// Container Hasher
// =============================================================================

// ContainerHasher hashes passwords with the authentication service's own
// CLI, so hashes match its configured parameters exactly.
type ContainerHasher struct {
	orch    *docker.Orchestrator
	timeout time.Duration
}

var _ crypto.PasswordHasher = (*ContainerHasher)(nil)

// NewContainerHasher returns a hasher that execs into the running
// authentication container.
func NewContainerHasher(orch *docker.Orchestrator, timeout time.Duration) *ContainerHasher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ContainerHasher{orch: orch, timeout: timeout}
}

// Hash runs `authelia crypto hash generate argon2` and returns the digest.
func (h *ContainerHasher) Hash(password string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	res, err := h.orch.Exec(ctx, synth.ServiceAuthelia, docker.ExecSpec{
		Cmd: []string{"authelia", "crypto", "hash", "generate", "argon2", "--password", password},
	})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%w: exit %d: %s", ErrCommandFailed, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return ParseDigest(res.Stdout)
}

// ParseDigest extracts the hash from `Digest: <hash>` output.
func ParseDigest(out []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if digest, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "Digest: "); ok && crypto.IsArgon2idHash(digest) {
			return digest, nil
		}
	}
	return "", fmt.Errorf("%w: no argon2id digest in output", crypto.ErrInvalidHash)
}
