package authpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleAccessControl() AccessControl {
	return AccessControl{
		DefaultPolicy: PolicyDeny,
		Rules: []Rule{
			{Domain: []string{"auth.example.com"}, Policy: PolicyBypass},
			{Domain: []string{"*.example.com"}, Policy: PolicyOneFactor},
			{Domain: []string{"*.internal.example.com"}, Policy: PolicyTwoFactor},
			{Domain: []string{"wg.example.com"}, Policy: PolicyTwoFactor},
		},
	}
}

// =============================================================================
// Specificity Tests
// =============================================================================

func TestSpecificity(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    int
	}{
		{"wg.example.com", "wg.example.com", 1 << 16},
		{"WG.Example.com", "wg.example.COM", 1 << 16},
		{"*.example.com", "wg.example.com", len("example.com")},
		{"*.example.com", "example.com", -1},
		{"*.example.com", "wg.example.org", -1},
		{"wg.example.com", "auth.example.com", -1},
		{"*.b.example.com", "a.b.example.com", len("b.example.com")},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, Specificity(tt.pattern, tt.host))
		})
	}
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_MostSpecificWins(t *testing.T) {
	ac := sampleAccessControl()

	tests := []struct {
		host string
		want Policy
	}{
		{"auth.example.com", PolicyBypass},
		{"wg.example.com", PolicyTwoFactor},
		{"other.example.com", PolicyOneFactor},
		{"db.internal.example.com", PolicyTwoFactor},
		{"example.org", PolicyDeny},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, ac.PolicyFor(tt.host))
		})
	}
}

func TestResolve_DefaultPolicy(t *testing.T) {
	m := sampleAccessControl().Resolve("nowhere.test")
	assert.Equal(t, -1, m.Index)
	assert.Equal(t, PolicyDeny, m.Policy)
}

func TestResolve_TieGoesToFirst(t *testing.T) {
	ac := AccessControl{
		DefaultPolicy: PolicyDeny,
		Rules: []Rule{
			{Domain: []string{"wg.example.com"}, Policy: PolicyOneFactor},
			{Domain: []string{"wg.example.com"}, Policy: PolicyTwoFactor},
		},
	}
	assert.Equal(t, 0, ac.Resolve("wg.example.com").Index)
}

// =============================================================================
// CheckHost Tests
// =============================================================================

func TestCheckHost(t *testing.T) {
	ac := sampleAccessControl()

	assert.NoError(t, ac.CheckHost("auth.example.com"))
	assert.NoError(t, ac.CheckHost("wg.example.com"))
	assert.ErrorIs(t, ac.CheckHost("example.org"), ErrNoRule)
}

func TestCheckHost_Conflict(t *testing.T) {
	ac := AccessControl{
		DefaultPolicy: PolicyDeny,
		Rules: []Rule{
			{Domain: []string{"wg.example.com"}, Policy: PolicyOneFactor},
			{Domain: []string{"wg.example.com"}, Policy: PolicyTwoFactor},
		},
	}
	assert.ErrorIs(t, ac.CheckHost("wg.example.com"), ErrAmbiguousRule)
}

func TestCheckHost_DuplicateAgreeing(t *testing.T) {
	ac := AccessControl{
		DefaultPolicy: PolicyDeny,
		Rules: []Rule{
			{Domain: []string{"wg.example.com"}, Policy: PolicyTwoFactor},
			{Domain: []string{"wg.example.com", "x.example.com"}, Policy: PolicyTwoFactor},
		},
	}
	assert.NoError(t, ac.CheckHost("wg.example.com"))
}

func TestPolicy_Valid(t *testing.T) {
	for _, p := range []Policy{PolicyBypass, PolicyOneFactor, PolicyTwoFactor, PolicyDeny} {
		assert.True(t, p.Valid())
	}
	assert.False(t, Policy("three_factor").Valid())
}
