package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/shell/backup"
	shelldns "github.com/artpar/tunnelgate/internal/shell/dns"
	"github.com/artpar/tunnelgate/internal/shell/docker"
	"github.com/artpar/tunnelgate/internal/shell/firewall"
	"github.com/artpar/tunnelgate/internal/shell/lifecycle"
	"github.com/artpar/tunnelgate/internal/shell/process"
	"github.com/artpar/tunnelgate/internal/shell/store"
)

// session holds the resources of one command run against the install
// directory.
type session struct {
	cfg     *Config
	logger  *slog.Logger
	docker  *docker.DockerClient
	ledger  *store.SQLiteStore
	manager *lifecycle.Manager
	lock    *process.Lock
}

// openSession connects to the container runtime and opens the ledger.
// Mutating commands also take the install lock first, so two of them never
// run against one install at once.
func openSession(cfg *Config, logger *slog.Logger, mutating bool) (*session, error) {
	root := layout.New(cfg.InstallDir)
	if err := os.MkdirAll(root.Root, layout.PermPublicDir); err != nil {
		return nil, fmt.Errorf("create install dir: %w", err)
	}

	s := &session{cfg: cfg, logger: logger}
	if mutating {
		s.lock = process.NewLock(root.Path(layout.LockFile))
		if err := s.lock.Acquire(); err != nil {
			return nil, err
		}
	}

	cli, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, lifecycle.NewEnvironmentError("connect", err.Error(), lifecycle.ErrRuntimeUnreachable)
	}
	s.docker = cli

	ledger, err := store.NewSQLiteStore(root.Path(layout.StateDB))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	s.ledger = ledger

	s.manager = lifecycle.NewManager(lifecycle.Config{
		InstallDir:    cfg.InstallDir,
		AllowNonLinux: cfg.Preflight.AllowNonLinux,
		Firewall:      firewall.NewUFW(process.ExecRunner{}, logger),
		DNS:           shelldns.NewResolver(),
	}, cli, ledger, crypto.NewArgon2Hasher(), logger)

	return s, nil
}

// backups returns the snapshot coordinator of the session.
func (s *session) backups() *backup.Coordinator {
	return backup.New(backup.Config{
		InstallDir: s.cfg.InstallDir,
		Passphrase: s.cfg.Backup.Passphrase,
	}, s.manager.Orchestrator(), s.ledger, s.logger)
}

// Close releases everything openSession acquired.
func (s *session) Close() {
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			s.logger.Warn("failed to close ledger", "error", err)
		}
	}
	if s.docker != nil {
		s.docker.Close()
	}
	if s.lock != nil && s.lock.Held() {
		if err := s.lock.Release(); err != nil {
			s.logger.Warn("failed to release lock", "error", err)
		}
	}
}
