package synth

import (
	"fmt"
	"strings"

	"github.com/artpar/tunnelgate/internal/core/authpolicy"
	"github.com/artpar/tunnelgate/internal/core/compose"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/traefik"
)

// =============================================================================
// Cross-Artifact Consistency
// =============================================================================

// CheckConsistency verifies the invariants that span more than one artifact.
// It returns the first violation as a *SynthesisError wrapping ErrInconsistent.
func CheckConsistency(d Draft, p params.Params) error {
	checks := []func(Draft, params.Params) error{
		checkHostPolicies,
		checkTOTP,
		checkDashboard,
		checkTLS,
		checkDataTier,
		checkMetrics,
	}
	for _, check := range checks {
		if err := check(d, p); err != nil {
			return NewSynthesisError("check", err.Error(), ErrInconsistent)
		}
	}
	return nil
}

// checkHostPolicies requires a deny default and exactly one governing rule
// for every routed hostname.
func checkHostPolicies(d Draft, _ params.Params) error {
	ac := d.Auth.AccessControl
	if ac.DefaultPolicy != authpolicy.PolicyDeny {
		return fmt.Errorf("default policy is %q, want deny", ac.DefaultPolicy)
	}
	for _, rule := range ac.Rules {
		if !rule.Policy.Valid() {
			return fmt.Errorf("rule %v has unknown policy %q", rule.Domain, rule.Policy)
		}
	}

	hosts := d.RoutedHosts()
	if len(hosts) == 0 {
		return fmt.Errorf("topology routes no hostnames")
	}
	for _, host := range hosts {
		if err := ac.CheckHost(host); err != nil {
			return err
		}
	}
	return nil
}

// checkTOTP asserts the three-way agreement between the flag, the admin
// router's forward-auth reference and the admin hostname's policy.
func checkTOTP(d Draft, p params.Params) error {
	wg, ok := d.Compose.Services[ServiceWGEasy]
	if !ok {
		return fmt.Errorf("admin service missing")
	}
	guarded := traefik.HasMiddleware(wg.Labels, RouterAdmin, traefik.ForwardAuthMiddleware)
	twoFactor := d.Auth.AccessControl.PolicyFor(p.AdminHost()) == authpolicy.PolicyTwoFactor

	if guarded != p.TOTPEnabled || twoFactor != p.TOTPEnabled {
		return fmt.Errorf("totp=%t but admin forward-auth=%t and two_factor=%t",
			p.TOTPEnabled, guarded, twoFactor)
	}
	if d.Auth.TOTP.Disable == p.TOTPEnabled {
		return fmt.Errorf("totp=%t but enrolment disable=%t", p.TOTPEnabled, d.Auth.TOTP.Disable)
	}
	return nil
}

// checkDashboard keeps the proxy dashboard behind forward-auth in every
// combination.
func checkDashboard(d Draft, p params.Params) error {
	proxy := d.Compose.Services[ServiceTraefik]
	if !traefik.HasMiddleware(proxy.Labels, RouterDashboard, traefik.ForwardAuthMiddleware) {
		return fmt.Errorf("dashboard route lacks forward-auth")
	}
	policy := d.Auth.AccessControl.PolicyFor(p.DashboardHost())
	if policy == authpolicy.PolicyBypass || policy == authpolicy.PolicyDeny {
		return fmt.Errorf("dashboard policy is %q", policy)
	}
	return nil
}

// checkTLS requires exactly one certificate source matching the method.
func checkTLS(d Draft, p params.Params) error {
	proxy := d.Compose.Services[ServiceTraefik]

	acme := false
	for _, arg := range proxy.Command {
		if traefik.IsACMEArg(arg) {
			acme = true
			break
		}
	}
	for _, svc := range d.Compose.Services {
		for k := range svc.Labels {
			if strings.HasSuffix(k, ".tls.certresolver") {
				acme = true
			}
		}
	}
	static := len(d.TLS.TLS.Certificates) > 0

	switch {
	case acme && static:
		return fmt.Errorf("both automated issuance and static certificates present")
	case !acme && !static:
		return fmt.Errorf("no certificate source present")
	case p.TLSMethod == params.TLSLetsEncrypt && !acme:
		return fmt.Errorf("tls method letsencrypt without automated issuance")
	case p.TLSMethod == params.TLSLetsEncrypt && p.ACMEEmail == "":
		return fmt.Errorf("automated issuance without contact email")
	case p.TLSMethod == params.TLSSelfSigned && !static:
		return fmt.Errorf("tls method selfsigned without static certificate")
	}
	return nil
}

// checkDataTier keeps data-tier services on the internal network with no
// host-reachable port.
func checkDataTier(d Draft, _ params.Params) error {
	if !d.Compose.Networks[NetworkBackend].Internal {
		return fmt.Errorf("network %s is not internal", NetworkBackend)
	}
	for _, name := range DataTier() {
		svc, ok := d.Compose.Services[name]
		if !ok {
			return fmt.Errorf("data-tier service %s missing", name)
		}
		if len(svc.Ports) > 0 {
			return fmt.Errorf("data-tier service %s publishes ports %v", name, svc.Ports)
		}
		if len(svc.Networks) != 1 || svc.Networks[0] != NetworkBackend {
			return fmt.Errorf("data-tier service %s joins %v, want only %s", name, svc.Networks, NetworkBackend)
		}
	}
	return nil
}

// checkMetrics allows the metrics block only when the flag is set.
func checkMetrics(d Draft, p params.Params) error {
	wg := d.Compose.Services[ServiceWGEasy]
	_, env := wg.Environment[EnvMetrics]
	port := false
	for _, ps := range wg.Ports {
		if ps == metricsPort() {
			port = true
		}
	}
	if env != p.MetricsEnabled || port != p.MetricsEnabled {
		return fmt.Errorf("metrics=%t but env=%t and port=%t", p.MetricsEnabled, env, port)
	}
	return nil
}

func metricsPort() string {
	return compose.PortString(compose.Port{HostIP: "127.0.0.1", Target: AdminUIPort, Published: AdminUIPort, Protocol: "tcp"})
}
