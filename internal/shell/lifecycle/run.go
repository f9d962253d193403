package lifecycle

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/artpar/tunnelgate/internal/core/deployment"
	"github.com/artpar/tunnelgate/internal/core/domain"
	"github.com/artpar/tunnelgate/internal/core/monitoring"
	"github.com/artpar/tunnelgate/internal/core/synth"
	"github.com/artpar/tunnelgate/internal/shell/docker"
	"github.com/artpar/tunnelgate/internal/shell/store"
)

// Defaults for AwaitHealthy.
const (
	DefaultHealthTimeout = 120 * time.Second
	DefaultPollInterval  = 2 * time.Second
)

// =============================================================================
// Start
// =============================================================================

// Start loads the written topology and brings every service up in
// dependency order.
func (m *Manager) Start(ctx context.Context, b *Bound) ([]docker.ContainerInfo, error) {
	if b == nil {
		return nil, ErrNotBound
	}

	current, err := m.ledger.CurrentState(ctx)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if path := deployment.DetermineStartPath(current); !path.Valid {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, path.ErrorReason)
	}

	spec, err := m.loadTopology(ctx, b.material)
	if err != nil {
		return nil, err
	}

	started, err := m.orch.Up(ctx, spec)
	if err != nil {
		return started, fmt.Errorf("start stack: %w", err)
	}

	if err := m.advance(ctx, m.ledger, deployment.StateStarted, fmt.Sprintf("%d containers", len(started))); err != nil {
		return started, fmt.Errorf("record start: %w", err)
	}
	return started, nil
}

// =============================================================================
// AwaitHealthy
// =============================================================================

// AwaitHealthy polls container health until the data tier is healthy or
// timeout passes. A timeout or cancelled ctx yields a Degraded report and a
// warning, never an error.
func (m *Manager) AwaitHealthy(ctx context.Context, timeout, poll time.Duration) monitoring.HealthReport {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	start := m.now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := monitoring.HealthReport{Status: monitoring.HealthStatusDegraded}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		report.Attempts++
		containers, err := m.orch.Health(ctx)
		if err != nil {
			m.logger.Debug("health probe failed", "attempt", report.Attempts, "error", err)
			containers = nil
		}
		report.Containers = containers
		report.Waiting = monitoring.Pending(containers, synth.DataTier())

		if len(report.Waiting) == 0 {
			report.Status = monitoring.HealthStatusHealthy
			report.Elapsed = m.now().Sub(start)
			m.logger.Info("data tier healthy", "attempts", report.Attempts, "elapsed", report.Elapsed)
			m.note(context.WithoutCancel(ctx), deployment.StateHealthy, fmt.Sprintf("%d attempts", report.Attempts))
			return report
		}

		select {
		case <-ctx.Done():
			report.Status = monitoring.HealthStatusDegraded
			report.Elapsed = m.now().Sub(start)
			m.logger.Warn("stack degraded: data tier not healthy in time",
				"waiting", report.Waiting,
				"timeout", timeout,
				"attempts", report.Attempts,
			)
			m.note(context.WithoutCancel(ctx), deployment.StateDegraded, fmt.Sprintf("waiting on %v", report.Waiting))
			return report
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Pass-through Operations
// =============================================================================

// Stop stops the stack, dependents first. Artifacts are not touched.
func (m *Manager) Stop(ctx context.Context) error {
	spec, err := m.topology(ctx)
	if err != nil {
		return err
	}
	if err := m.orch.Stop(ctx, spec); err != nil {
		return fmt.Errorf("stop stack: %w", err)
	}
	m.note(ctx, deployment.StateStopped, "")
	return nil
}

// Restart restarts every container in dependency order.
func (m *Manager) Restart(ctx context.Context) error {
	spec, err := m.topology(ctx)
	if err != nil {
		return err
	}
	if err := m.orch.Restart(ctx, spec); err != nil {
		return fmt.Errorf("restart stack: %w", err)
	}
	m.note(ctx, deployment.StateStarted, "restart")
	return nil
}

// Down removes containers and networks. Named volumes are removed only
// with removeVolumes.
func (m *Manager) Down(ctx context.Context, removeVolumes bool) error {
	spec, err := m.topology(ctx)
	if err != nil {
		return err
	}
	if err := m.orch.Down(ctx, spec, removeVolumes); err != nil {
		return fmt.Errorf("remove stack: %w", err)
	}
	detail := ""
	if removeVolumes {
		detail = "volumes removed"
	}
	m.note(ctx, deployment.StateDown, detail)
	return nil
}

// Update pulls every image and recreates the containers.
func (m *Manager) Update(ctx context.Context) ([]docker.ContainerInfo, error) {
	spec, err := m.topology(ctx)
	if err != nil {
		return nil, err
	}
	started, err := m.orch.Update(ctx, spec)
	if err != nil {
		return started, fmt.Errorf("update stack: %w", err)
	}
	m.note(ctx, deployment.StateStarted, "update")
	return started, nil
}

// Logs writes the logs of service, or of every service in bring-up order
// when service is empty.
func (m *Manager) Logs(ctx context.Context, service string, opts docker.LogOptions, w io.Writer) error {
	if service != "" {
		if !slices.Contains(synth.BringUpOrder(), service) {
			return fmt.Errorf("%w: %s", ErrUnknownService, service)
		}
		return m.orch.Logs(ctx, service, opts, w)
	}

	for _, svc := range synth.BringUpOrder() {
		fmt.Fprintf(w, "==> %s <==\n", svc)
		if err := m.orch.Logs(ctx, svc, opts, w); err != nil {
			fmt.Fprintf(w, "(%v)\n", err)
		}
	}
	return nil
}

// =============================================================================
// Status
// =============================================================================

// Status is a point-in-time view of an install target.
type Status struct {
	State       deployment.State             `json:"state"`
	Health      monitoring.HealthStatus      `json:"health"`
	Containers  []monitoring.ContainerHealth `json:"containers"`
	Transitions []domain.Transition          `json:"transitions"`
	Snapshots   []domain.Snapshot            `json:"snapshots"`
}

// StatusHistory is how many ledger entries Status returns.
const StatusHistory = 10

// Status reports the ledger state, container health and recent history.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	state, err := m.ledger.CurrentState(ctx)
	if err != nil {
		return nil, err
	}

	containers, err := m.orch.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect containers: %w", err)
	}

	opts := store.ListOptions{Limit: StatusHistory}
	transitions, err := m.ledger.ListTransitions(ctx, opts)
	if err != nil {
		return nil, err
	}
	snapshots, err := m.ledger.ListSnapshots(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Status{
		State:       state,
		Health:      monitoring.AggregateHealth(containers),
		Containers:  containers,
		Transitions: transitions,
		Snapshots:   snapshots,
	}, nil
}
