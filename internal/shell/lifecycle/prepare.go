package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/moby/sys/atomicwriter"

	"github.com/artpar/tunnelgate/internal/core/compose"
	"github.com/artpar/tunnelgate/internal/core/deployment"
	"github.com/artpar/tunnelgate/internal/core/dns"
	"github.com/artpar/tunnelgate/internal/core/firewall"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/secrets"
	"github.com/artpar/tunnelgate/internal/core/synth"
	"github.com/artpar/tunnelgate/internal/shell/secretstore"
	"github.com/artpar/tunnelgate/internal/shell/store"
)

// =============================================================================
// Bound
// =============================================================================

// Bound is an install directory whose artifacts are written and whose
// secrets are on disk. Only Prepare creates one, and only a Bound can be
// started.
type Bound struct {
	params    params.Params
	material  secrets.Material
	artifacts synth.ArtifactSet
}

// Params returns the parameters the artifacts were synthesized from, with
// the admin password removed.
func (b *Bound) Params() params.Params {
	return b.params
}

// Artifacts returns the synthesized artifact set.
func (b *Bound) Artifacts() synth.ArtifactSet {
	return b.artifacts
}

// =============================================================================
// Preflight
// =============================================================================

// Preflight checks the host before anything is written: the platform, the
// container runtime and, when p asks for it, the firewall.
func (m *Manager) Preflight(ctx context.Context, p params.Params) error {
	if m.goos != "linux" && !m.allowNonLinux {
		return NewEnvironmentError("preflight",
			fmt.Sprintf("%s is not supported; set preflight.allow_non_linux to override", m.goos),
			ErrUnsupportedPlatform)
	}

	if err := m.docker.Ping(ctx); err != nil {
		return NewEnvironmentError("preflight", err.Error(), ErrRuntimeUnreachable)
	}

	if p.FirewallAutoConfigure {
		if m.firewall == nil {
			return NewEnvironmentError("preflight", "firewall auto-configuration requested but no firewall is available", ErrFirewall)
		}
		if err := m.firewall.Apply(ctx, firewall.Plan(synth.WireGuardPort)); err != nil {
			return NewEnvironmentError("preflight", err.Error(), ErrFirewall)
		}
	}

	for _, res := range m.CheckDNS(ctx, p) {
		if res.Verified {
			continue
		}
		rec := dns.Instruction(res.Hostname, p.PublicHost)
		m.logger.Warn("hostname does not point at this host",
			"hostname", res.Hostname,
			"reason", res.Error,
			"record", fmt.Sprintf("%s %s %s", rec.Type, rec.Name, rec.Value),
			"acme", p.TLSMethod == params.TLSLetsEncrypt,
		)
	}

	for _, e := range synth.Exposures(p) {
		m.logger.Warn("unguarded surface", "surface", e.Surface, "reason", e.Reason)
	}

	m.logger.Debug("preflight passed", "os", m.goos)
	return nil
}

// CheckDNS verifies every routed hostname of p against the public host.
// Unresolved names are reported, not raised: the proxy still serves them
// once DNS catches up, but ACME issuance fails until it does.
func (m *Manager) CheckDNS(ctx context.Context, p params.Params) []dns.VerificationResult {
	if m.dns == nil {
		return nil
	}
	return m.dns.Check(ctx, dns.Hostnames(p), p.PublicHost)
}

// =============================================================================
// Prepare
// =============================================================================

// Prepare resolves the secret material, synthesizes the artifacts and only
// then creates the layout, persists fresh secrets, writes the artifacts and,
// for self-signed TLS, a certificate pair. A synthesis failure leaves the
// install dir untouched. Re-running it re-synthesizes artifacts but never
// touches existing secrets, certificates or the credential store.
func (m *Manager) Prepare(ctx context.Context, p params.Params) (*Bound, error) {
	envPath := m.layout.Path(layout.EnvFile)
	material, fresh, err := m.secrets.Resolve(envPath, p.AdminPassword)
	if err != nil {
		return nil, err
	}

	set, err := synth.Synthesize(p, material)
	if err != nil {
		return nil, err
	}

	if err := m.ensureLayout(); err != nil {
		return nil, err
	}

	if fresh {
		if err := m.secrets.Persist(envPath, material); err != nil {
			if !errors.Is(err, secrets.ErrSecretsExist) {
				return nil, err
			}
			// Another writer created the file first; bind to theirs.
			if material, err = secretstore.Load(envPath); err != nil {
				return nil, err
			}
			if set, err = synth.Synthesize(p, material); err != nil {
				return nil, err
			}
		}
	}

	if err := m.writeArtifacts(set); err != nil {
		return nil, err
	}

	if p.TLSMethod == params.TLSSelfSigned {
		if err := m.ensureCertificate(p); err != nil {
			return nil, err
		}
	}

	err = m.ledger.WithTx(ctx, func(tx store.Store) error {
		detail := fmt.Sprintf("tls=%s totp=%t metrics=%t", p.TLSMethod, p.TOTPEnabled, p.MetricsEnabled)
		if err := m.advance(ctx, tx, deployment.StatePrepared, detail); err != nil {
			return err
		}
		return m.advance(ctx, tx, deployment.StateSecretsBound, "")
	})
	if err != nil {
		return nil, fmt.Errorf("record prepare: %w", err)
	}

	m.logger.Info("install prepared", "dir", m.layout.Root, "domain", p.BaseDomain)
	return &Bound{params: p.Redacted(), material: material, artifacts: set}, nil
}

// ensureLayout creates every layout directory and tightens its mode.
func (m *Manager) ensureLayout() error {
	if err := os.MkdirAll(m.layout.Root, layout.PermPublicDir); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}
	for _, d := range layout.Dirs() {
		path := m.layout.Path(d.Path)
		if err := os.MkdirAll(path, d.Mode); err != nil {
			return fmt.Errorf("create %s: %w", d.Path, err)
		}
		if err := os.Chmod(path, d.Mode); err != nil {
			return fmt.Errorf("chmod %s: %w", d.Path, err)
		}
	}
	return nil
}

// writeArtifacts replaces each artifact atomically. An existing credential
// store is kept: users added later live only there.
func (m *Manager) writeArtifacts(set synth.ArtifactSet) error {
	for _, a := range set.Files {
		path := m.layout.Path(a.Name)
		if a.Name == layout.UsersFile && exists(path) {
			m.logger.Debug("credential store present, keeping it", "path", path)
			continue
		}
		if err := atomicwriter.WriteFile(path, a.Data, a.Mode); err != nil {
			return fmt.Errorf("write %s: %w", a.Name, err)
		}
		m.logger.Debug("artifact written", "path", path, "mode", a.Mode)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// =============================================================================
// Topology
// =============================================================================

// topology loads the written compose file with the secret file as its
// environment.
func (m *Manager) topology(ctx context.Context) (*compose.ParsedSpec, error) {
	material, err := secretstore.Load(m.layout.Path(layout.EnvFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no secret file in %s", ErrNotPrepared, m.layout.Root)
		}
		return nil, err
	}
	return m.loadTopology(ctx, material)
}

func (m *Manager) loadTopology(ctx context.Context, material secrets.Material) (*compose.ParsedSpec, error) {
	data, err := os.ReadFile(m.layout.Path(layout.ComposeFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no %s in %s", ErrNotPrepared, layout.ComposeFile, m.layout.Root)
		}
		return nil, err
	}
	return compose.Load(ctx, data, compose.LoadOptions{
		ProjectName: synth.Project,
		WorkingDir:  m.layout.Root,
		Environment: material.Env(),
	})
}
