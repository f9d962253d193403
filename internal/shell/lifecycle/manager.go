package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/deployment"
	"github.com/artpar/tunnelgate/internal/core/dns"
	"github.com/artpar/tunnelgate/internal/core/domain"
	"github.com/artpar/tunnelgate/internal/core/firewall"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/synth"
	"github.com/artpar/tunnelgate/internal/shell/docker"
	"github.com/artpar/tunnelgate/internal/shell/secretstore"
	"github.com/artpar/tunnelgate/internal/shell/store"
)

// =============================================================================
// Manager
// =============================================================================

// FirewallApplier applies host firewall rules.
type FirewallApplier interface {
	Apply(ctx context.Context, rules []firewall.Rule) error
}

// DNSChecker verifies that hostnames point at the public host.
type DNSChecker interface {
	Check(ctx context.Context, hostnames []string, publicHost string) []dns.VerificationResult
}

// Config configures a Manager.
type Config struct {
	// InstallDir is the root of the layout.
	InstallDir string

	// AllowNonLinux skips the platform check of Preflight.
	AllowNonLinux bool

	// GOOS overrides runtime.GOOS.
	GOOS string

	// Firewall applies rules when parameters ask for it. Nil disables the
	// firewall step.
	Firewall FirewallApplier

	// DNS checks the routed hostnames during Preflight. Nil skips the check.
	DNS DNSChecker
}

// Manager runs lifecycle operations on one install directory.
type Manager struct {
	layout   layout.Layout
	docker   docker.Client
	orch     *docker.Orchestrator
	ledger   store.Store
	secrets  *secretstore.Generator
	hasher   crypto.PasswordHasher
	firewall FirewallApplier
	dns      DNSChecker

	goos          string
	allowNonLinux bool

	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. The ledger records every transition.
func NewManager(cfg Config, client docker.Client, ledger store.Store, hasher crypto.PasswordHasher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return &Manager{
		layout:        layout.New(cfg.InstallDir),
		docker:        client,
		orch:          docker.NewOrchestrator(client, logger, synth.Project),
		ledger:        ledger,
		secrets:       secretstore.New(hasher, logger),
		hasher:        hasher,
		firewall:      cfg.Firewall,
		dns:           cfg.DNS,
		goos:          goos,
		allowNonLinux: cfg.AllowNonLinux,
		logger:        logger.With("component", "lifecycle"),
		now:           time.Now,
	}
}

// Layout returns the install layout.
func (m *Manager) Layout() layout.Layout {
	return m.layout
}

// Orchestrator returns the container orchestrator of the stack.
func (m *Manager) Orchestrator() *docker.Orchestrator {
	return m.orch
}

// State returns the current lifecycle state from the ledger.
func (m *Manager) State(ctx context.Context) (deployment.State, error) {
	return m.ledger.CurrentState(ctx)
}

// advance records the move to state to. Staying in the same state records
// nothing. A move the state machine forbids is an error.
func (m *Manager) advance(ctx context.Context, s store.Store, to deployment.State, detail string) error {
	from, err := s.CurrentState(ctx)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	t, err := domain.NewTransition(from, to, detail)
	if err != nil {
		return err
	}
	if err := s.RecordTransition(ctx, t); err != nil {
		return err
	}
	m.logger.Debug("lifecycle transition", "from", from, "to", to)
	return nil
}

// note records a transition after a pass-through operation. The operation
// already happened, so a rejected or failed record is only logged.
func (m *Manager) note(ctx context.Context, to deployment.State, detail string) {
	err := m.advance(ctx, m.ledger, to, detail)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidTransition):
		m.logger.Warn("ledger out of step with the stack", "to", to, "error", err)
	default:
		m.logger.Warn("failed to record transition", "to", to, "error", err)
	}
}
