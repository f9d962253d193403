package synth

import (
	"strings"

	"github.com/artpar/tunnelgate/internal/core/authpolicy"
	"github.com/artpar/tunnelgate/internal/core/compose"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/traefik"
)

// =============================================================================
// Transforms
// =============================================================================

// Transform is one feature-flag delta over a draft. Apply edits the draft in
// place; Synthesize hands every transform its own clone.
type Transform struct {
	Name  string
	Apply func(d *Draft, p params.Params) error
}

// Transforms returns the deltas in application order.
func Transforms() []Transform {
	return []Transform{
		{Name: "tls", Apply: applyTLS},
		{Name: "totp", Apply: applyTOTP},
		{Name: "metrics", Apply: applyMetrics},
	}
}

// routerServices maps each routed hostname's router to the service carrying it.
var routerServices = map[string]string{
	RouterAuth:      ServiceAuthelia,
	RouterAdmin:     ServiceWGEasy,
	RouterDashboard: ServiceTraefik,
}

func routers() []string {
	return []string{RouterAuth, RouterAdmin, RouterDashboard}
}

// applyTLS installs exactly one certificate source.
func applyTLS(d *Draft, p params.Params) error {
	switch p.TLSMethod {
	case params.TLSLetsEncrypt:
		if p.ACMEEmail == "" {
			return NewSynthesisError("tls", "automated issuance needs an ACME contact email", ErrUnsatisfiable)
		}
		if err := d.EditService(ServiceTraefik, func(s *compose.ServiceSpec) {
			s.Command = append(s.Command, traefik.ACMEArgs(p.ACMEEmail)...)
			s.Volumes = append(s.Volumes, "./"+layout.LetsEncryptDir+":/letsencrypt")
		}); err != nil {
			return NewSynthesisError("tls", err.Error(), ErrInvalidTopology)
		}
		for _, router := range routers() {
			if err := d.EditService(routerServices[router], func(s *compose.ServiceSpec) {
				s.Labels[traefik.CertResolverKey(router)] = traefik.ACMEResolver
			}); err != nil {
				return NewSynthesisError("tls", err.Error(), ErrInvalidTopology)
			}
		}
		d.TLS.TLS.Certificates = nil

	case params.TLSSelfSigned:
		if err := d.EditService(ServiceTraefik, func(s *compose.ServiceSpec) {
			s.Volumes = append(s.Volumes, "./"+layout.CertsDir+":"+traefik.CertsDir+":ro")
		}); err != nil {
			return NewSynthesisError("tls", err.Error(), ErrInvalidTopology)
		}
		d.TLS.TLS.Certificates = []traefik.Certificate{traefik.StaticCertificate()}

	default:
		return NewSynthesisError("tls", "unknown tls method "+string(p.TLSMethod), ErrUnsatisfiable)
	}
	return nil
}

// applyTOTP couples the second factor across both artifacts: the admin
// router gets forward-auth and the admin and dashboard hostnames require
// two factors, or neither happens and enrolment is disabled.
func applyTOTP(d *Draft, p params.Params) error {
	if !p.TOTPEnabled {
		d.Auth.TOTP.Disable = true
		if err := d.SetRulePolicy(p.AdminHost(), authpolicy.Policy(p.FallbackPolicy)); err != nil {
			return NewSynthesisError("totp", err.Error(), ErrInvalidTopology)
		}
		return nil
	}

	d.Auth.TOTP.Disable = false
	err := d.EditService(ServiceWGEasy, func(s *compose.ServiceSpec) {
		addMiddleware(s.Labels, RouterAdmin, traefik.ForwardAuthMiddleware)
	})
	if err != nil {
		return NewSynthesisError("totp", err.Error(), ErrInvalidTopology)
	}
	for _, host := range []string{p.AdminHost(), p.DashboardHost()} {
		if err := d.SetRulePolicy(host, authpolicy.PolicyTwoFactor); err != nil {
			return NewSynthesisError("totp", err.Error(), ErrInvalidTopology)
		}
	}
	return nil
}

// applyMetrics exposes the admin panel's metrics endpoint on loopback only.
// The binding publishes the panel's whole UI port, so a local user reaches
// the panel there without forward-auth; Exposures reports it.
func applyMetrics(d *Draft, p params.Params) error {
	if !p.MetricsEnabled {
		return nil
	}
	err := d.EditService(ServiceWGEasy, func(s *compose.ServiceSpec) {
		s.Environment[EnvMetrics] = "true"
		s.Ports = append(s.Ports, metricsPort())
	})
	if err != nil {
		return NewSynthesisError("metrics", err.Error(), ErrInvalidTopology)
	}
	return nil
}

// EnvMetrics switches the admin panel's metrics endpoint on.
const EnvMetrics = "ENABLE_PROMETHEUS_METRICS"

func addMiddleware(labels map[string]string, router, middleware string) {
	if traefik.HasMiddleware(labels, router, middleware) {
		return
	}
	current := traefik.RouterMiddlewares(labels, router)
	labels[traefik.MiddlewaresKey(router)] = strings.Join(append(current, middleware), ",")
}
