package params

import (
	"net"
	"net/mail"
	"net/netip"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

// =============================================================================
// Source Keys
// =============================================================================

// Keys read from a Source by Collect.
const (
	KeyDomain                = "domain"
	KeyPublicHost            = "public_host"
	KeyTimezone              = "timezone"
	KeyAdminUsername         = "admin.username"
	KeyAdminEmail            = "admin.email"
	KeyAdminPassword         = "admin.password"
	KeyTOTPEnabled           = "totp.enabled"
	KeyFallbackPolicy        = "totp.fallback_policy"
	KeyTLSMethod             = "tls.method"
	KeyACMEEmail             = "tls.acme_email"
	KeyWireGuardDNS          = "wireguard.dns"
	KeyWireGuardAllowedIPs   = "wireguard.allowed_ips"
	KeyFirewallAutoConfigure = "firewall.auto_configure"
	KeyMetricsEnabled        = "metrics.enabled"
)

// Source supplies raw parameter values. *viper.Viper satisfies it.
type Source interface {
	GetString(key string) string
	GetBool(key string) bool
	GetStringSlice(key string) []string
}

var hostnameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// =============================================================================
// Collect
// =============================================================================

// Collect reads parameters from src, applies defaults and validates the
// result. It returns a *ValidationError listing every rejected field.
func Collect(src Source) (Params, error) {
	p := Params{
		BaseDomain:            strings.ToLower(strings.TrimSpace(src.GetString(KeyDomain))),
		PublicHost:            strings.TrimSpace(src.GetString(KeyPublicHost)),
		Timezone:              orDefault(src.GetString(KeyTimezone), DefaultTimezone),
		AdminUsername:         orDefault(src.GetString(KeyAdminUsername), DefaultAdminUsername),
		AdminEmail:            strings.TrimSpace(src.GetString(KeyAdminEmail)),
		AdminPassword:         src.GetString(KeyAdminPassword),
		TOTPEnabled:           src.GetBool(KeyTOTPEnabled),
		FallbackPolicy:        FallbackPolicy(orDefault(src.GetString(KeyFallbackPolicy), string(DefaultFallbackPolicy))),
		TLSMethod:             TLSMethod(strings.ToLower(orDefault(src.GetString(KeyTLSMethod), string(DefaultTLSMethod)))),
		ACMEEmail:             strings.TrimSpace(src.GetString(KeyACMEEmail)),
		WireGuardDNS:          splitList(src.GetStringSlice(KeyWireGuardDNS), DefaultWireGuardDNS),
		WireGuardAllowedIPs:   splitList(src.GetStringSlice(KeyWireGuardAllowedIPs), DefaultWireGuardAllowedIPs),
		FirewallAutoConfigure: src.GetBool(KeyFirewallAutoConfigure),
		MetricsEnabled:        src.GetBool(KeyMetricsEnabled),
	}

	if err := Validate(p); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks a parameter record. Collect calls it; it is exported so
// records built in code (tests, restore) get the same checks.
func Validate(p Params) error {
	var errs []FieldError
	reject := func(field, msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	switch {
	case p.BaseDomain == "":
		reject(KeyDomain, "must not be empty")
	case !strings.Contains(p.BaseDomain, ".") || !hostnameRegex.MatchString(p.BaseDomain):
		reject(KeyDomain, "must be a fully qualified domain name")
	}

	switch {
	case p.PublicHost == "":
		reject(KeyPublicHost, "must not be empty")
	case net.ParseIP(p.PublicHost) == nil && !hostnameRegex.MatchString(p.PublicHost):
		reject(KeyPublicHost, "must be an IP address or hostname")
	}

	if _, err := time.LoadLocation(p.Timezone); err != nil {
		reject(KeyTimezone, "unknown timezone "+p.Timezone)
	}

	if !ValidUsername(p.AdminUsername) {
		reject(KeyAdminUsername, "must be a simple user name")
	}
	if p.AdminEmail == "" {
		reject(KeyAdminEmail, "must not be empty")
	} else if !ValidEmail(p.AdminEmail) {
		reject(KeyAdminEmail, "must be a valid email address")
	}
	if len(p.AdminPassword) < MinPasswordLength {
		reject(KeyAdminPassword, "must be at least 12 characters")
	}

	switch p.FallbackPolicy {
	case FallbackOneFactor, FallbackBypass:
	default:
		reject(KeyFallbackPolicy, "must be one_factor or bypass")
	}

	switch p.TLSMethod {
	case TLSLetsEncrypt:
		if p.ACMEEmail == "" {
			reject(KeyACMEEmail, "required when tls.method is letsencrypt")
		} else if _, err := mail.ParseAddress(p.ACMEEmail); err != nil {
			reject(KeyACMEEmail, "must be a valid email address")
		}
	case TLSSelfSigned:
	default:
		reject(KeyTLSMethod, "must be letsencrypt or selfsigned")
	}

	if len(p.WireGuardDNS) == 0 {
		reject(KeyWireGuardDNS, "must list at least one resolver")
	}
	for _, dns := range p.WireGuardDNS {
		if _, err := netip.ParseAddr(dns); err != nil {
			reject(KeyWireGuardDNS, "invalid resolver address "+dns)
		}
	}
	if len(p.WireGuardAllowedIPs) == 0 {
		reject(KeyWireGuardAllowedIPs, "must list at least one range")
	}
	for _, cidr := range p.WireGuardAllowedIPs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			reject(KeyWireGuardAllowedIPs, "invalid CIDR "+cidr)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// ValidUsername reports whether name is a single DNS-style label, the shape
// the credential store and the portal accept as a login.
func ValidUsername(name string) bool {
	return hostnameRegex.MatchString(name) && !strings.Contains(name, ".")
}

// ValidEmail reports whether addr is a bare address with no display name.
func ValidEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// splitList flattens comma separated entries so "a,b" and ["a", "b"] read the same.
func splitList(values []string, fallback []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
