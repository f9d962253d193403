// Package firewall applies the planned host firewall rules with ufw.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/artpar/tunnelgate/internal/core/firewall"
	"github.com/artpar/tunnelgate/internal/shell/process"
)

var (
	// ErrUFWMissing is returned when ufw is not installed.
	ErrUFWMissing = errors.New("ufw not found on PATH")

	// ErrRuleFailed is returned when ufw rejects a rule.
	ErrRuleFailed = errors.New("ufw rule failed")
)

// UFW applies rules through the ufw command.
type UFW struct {
	runner process.Runner
	logger *slog.Logger
}

// NewUFW creates an applier. A nil runner runs real commands.
func NewUFW(runner process.Runner, logger *slog.Logger) *UFW {
	if runner == nil {
		runner = process.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UFW{runner: runner, logger: logger.With("component", "firewall")}
}

// Apply allows every rule, then enables ufw. Rules are applied in plan
// order so SSH is allowed before the firewall comes up.
func (u *UFW) Apply(ctx context.Context, rules []firewall.Rule) error {
	if _, err := u.runner.LookPath("ufw"); err != nil {
		return fmt.Errorf("%w: %v", ErrUFWMissing, err)
	}

	for _, rule := range rules {
		if _, err := u.runner.Run(ctx, "ufw", firewall.UFWArgs(rule)...); err != nil {
			return fmt.Errorf("%w: allow %s: %v", ErrRuleFailed, rule.Spec(), err)
		}
		u.logger.Info("firewall rule allowed", "rule", rule.Spec(), "comment", rule.Comment)
	}

	if _, err := u.runner.Run(ctx, "ufw", "--force", "enable"); err != nil {
		return fmt.Errorf("%w: enable: %v", ErrRuleFailed, err)
	}
	return nil
}
