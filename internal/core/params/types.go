// Package params holds the validated, immutable record of every operator choice
// that drives artifact synthesis.
//
// This is part of the Functional Core - Collect performs no I/O of its own; the
// values are read from a Source supplied by the caller.
package params

import "fmt"

// =============================================================================
// Flag Types
// =============================================================================

// TLSMethod selects how the edge proxy obtains its certificate.
type TLSMethod string

const (
	TLSLetsEncrypt TLSMethod = "letsencrypt"
	TLSSelfSigned  TLSMethod = "selfsigned"
)

// FallbackPolicy is the policy applied to the admin hostname when TOTP is off.
type FallbackPolicy string

const (
	FallbackOneFactor FallbackPolicy = "one_factor"
	FallbackBypass    FallbackPolicy = "bypass"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultAdminUsername  = "admin"
	DefaultTimezone       = "UTC"
	DefaultTLSMethod      = TLSSelfSigned
	DefaultFallbackPolicy = FallbackOneFactor

	// MinPasswordLength is the minimum admin password length.
	MinPasswordLength = 12
)

var (
	DefaultWireGuardDNS        = []string{"1.1.1.1", "1.0.0.1"}
	DefaultWireGuardAllowedIPs = []string{"0.0.0.0/0", "::/0"}
)

// =============================================================================
// Params
// =============================================================================

// Params is the immutable parameter record. Construct it with Collect; the
// zero value is not valid.
type Params struct {
	BaseDomain string
	PublicHost string
	Timezone   string

	AdminUsername string
	AdminEmail    string
	AdminPassword string

	TOTPEnabled    bool
	FallbackPolicy FallbackPolicy

	TLSMethod TLSMethod
	ACMEEmail string

	WireGuardDNS        []string
	WireGuardAllowedIPs []string

	FirewallAutoConfigure bool
	MetricsEnabled        bool
}

// AuthHost is the hostname of the authentication portal.
func (p Params) AuthHost() string { return "auth." + p.BaseDomain }

// AdminHost is the hostname of the tunnel-management admin panel.
func (p Params) AdminHost() string { return "wg." + p.BaseDomain }

// DashboardHost is the hostname of the edge proxy dashboard.
func (p Params) DashboardHost() string { return "traefik." + p.BaseDomain }

// AuthURL is the public URL of the authentication portal.
func (p Params) AuthURL() string { return fmt.Sprintf("https://%s", p.AuthHost()) }

// Redacted returns a copy without the plaintext admin password, suitable for
// logging or persisting.
func (p Params) Redacted() Params {
	p.AdminPassword = ""
	return p
}
