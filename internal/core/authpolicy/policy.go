// Package authpolicy models the authentication service's configuration: the
// per-hostname access-control rules, the session and storage backend
// pointers, and the file-based credential store.
// This is part of the Functional Core - all functions are pure with no I/O.
package authpolicy

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Policies
// =============================================================================

// Policy is an access-control policy level.
type Policy string

const (
	PolicyBypass    Policy = "bypass"
	PolicyOneFactor Policy = "one_factor"
	PolicyTwoFactor Policy = "two_factor"
	PolicyDeny      Policy = "deny"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyBypass, PolicyOneFactor, PolicyTwoFactor, PolicyDeny:
		return true
	}
	return false
}

// =============================================================================
// Rules
// =============================================================================

var (
	// ErrNoRule is returned when a routed hostname falls through to the
	// default policy.
	ErrNoRule = errors.New("no access-control rule for hostname")

	// ErrAmbiguousRule is returned when two equally specific rules with
	// different policies match one hostname.
	ErrAmbiguousRule = errors.New("conflicting access-control rules")
)

// Rule grants a policy to every hostname matching one of its domain
// patterns. A pattern is an exact hostname or "*.suffix".
type Rule struct {
	Domain []string `yaml:"domain"`
	Policy Policy   `yaml:"policy"`
}

// AccessControl is the access_control section.
type AccessControl struct {
	DefaultPolicy Policy `yaml:"default_policy"`
	Rules         []Rule `yaml:"rules"`
}

// Match is the outcome of resolving a hostname.
type Match struct {
	Index   int // rule index, -1 when the default policy applies
	Pattern string
	Policy  Policy
}

// Resolve returns the most specific rule matching host. Exact patterns beat
// wildcards, longer wildcard suffixes beat shorter ones, and the first rule
// wins a tie. Without any match the default policy applies.
func (ac AccessControl) Resolve(host string) Match {
	best := Match{Index: -1, Policy: ac.DefaultPolicy}
	bestScore := -1

	for i, rule := range ac.Rules {
		for _, pattern := range rule.Domain {
			score := Specificity(pattern, host)
			if score > bestScore {
				best = Match{Index: i, Pattern: pattern, Policy: rule.Policy}
				bestScore = score
			}
		}
	}
	return best
}

// CheckHost verifies that host is governed by exactly one most specific
// rule: some rule matches, and no other equally specific rule disagrees.
func (ac AccessControl) CheckHost(host string) error {
	m := ac.Resolve(host)
	if m.Index < 0 {
		return fmt.Errorf("%w: %s", ErrNoRule, host)
	}

	top := Specificity(m.Pattern, host)
	for i, rule := range ac.Rules {
		for _, pattern := range rule.Domain {
			if i == m.Index && pattern == m.Pattern {
				continue
			}
			if Specificity(pattern, host) == top && rule.Policy != m.Policy {
				return fmt.Errorf("%w: %s matched by %q (%s) and %q (%s)",
					ErrAmbiguousRule, host, m.Pattern, m.Policy, pattern, rule.Policy)
			}
		}
	}
	return nil
}

// PolicyFor returns the policy applied to host.
func (ac AccessControl) PolicyFor(host string) Policy {
	return ac.Resolve(host).Policy
}

// Specificity scores how specifically pattern matches host: -1 for no
// match, otherwise higher is more specific. Exact matches outrank every
// wildcard.
func Specificity(pattern, host string) int {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)

	if pattern == host {
		return 1 << 16
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		if strings.HasSuffix(host, "."+suffix) {
			return len(suffix)
		}
	}
	return -1
}
