package traefik

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// GenerateLabels Tests
// =============================================================================

func TestGenerateLabels_Basic(t *testing.T) {
	labels := GenerateLabels(LabelParams{
		Router:   "wg",
		Hostname: "wg.example.com",
		Port:     51821,
	})

	assert.Equal(t, "true", labels["traefik.enable"])
	assert.Equal(t, "Host(`wg.example.com`)", labels["traefik.http.routers.wg.rule"])
	assert.Equal(t, "websecure", labels["traefik.http.routers.wg.entrypoints"])
	assert.Equal(t, "true", labels["traefik.http.routers.wg.tls"])
	assert.Equal(t, "wg", labels["traefik.http.routers.wg.service"])
	assert.Equal(t, "51821", labels["traefik.http.services.wg.loadbalancer.server.port"])
}

func TestGenerateLabels_NoOptionalLabels(t *testing.T) {
	labels := GenerateLabels(LabelParams{Router: "wg", Hostname: "wg.example.com", Port: 80})

	_, hasMiddlewares := labels[MiddlewaresKey("wg")]
	assert.False(t, hasMiddlewares)
	_, hasResolver := labels[CertResolverKey("wg")]
	assert.False(t, hasResolver)
}

func TestGenerateLabels_NamedService(t *testing.T) {
	labels := GenerateLabels(LabelParams{
		Router:   "dashboard",
		Hostname: "traefik.example.com",
		Service:  "api@internal",
		Port:     8080,
	})

	assert.Equal(t, "api@internal", labels["traefik.http.routers.dashboard.service"])
	_, hasPort := labels["traefik.http.services.dashboard.loadbalancer.server.port"]
	assert.False(t, hasPort)
}

func TestGenerateLabels_MiddlewaresAndResolver(t *testing.T) {
	labels := GenerateLabels(LabelParams{
		Router:       "wg",
		Hostname:     "wg.example.com",
		Port:         51821,
		Middlewares:  []string{ForwardAuthMiddleware, "headers"},
		CertResolver: ACMEResolver,
	})

	assert.Equal(t, "authelia,headers", labels[MiddlewaresKey("wg")])
	assert.Equal(t, "letsencrypt", labels[CertResolverKey("wg")])
	assert.Equal(t, []string{"authelia", "headers"}, RouterMiddlewares(labels, "wg"))
	assert.True(t, HasMiddleware(labels, "wg", ForwardAuthMiddleware))
	assert.False(t, HasMiddleware(labels, "wg", "other"))
}

func TestGenerateLabels_Deterministic(t *testing.T) {
	params := LabelParams{Router: "wg", Hostname: "wg.example.com", Port: 51821}
	assert.Equal(t, GenerateLabels(params), GenerateLabels(params))
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestForwardAuthLabels(t *testing.T) {
	labels := ForwardAuthLabels("http://authelia:9091/api/authz/forward-auth")

	assert.Equal(t, "http://authelia:9091/api/authz/forward-auth", labels["traefik.http.middlewares.authelia.forwardauth.address"])
	assert.Equal(t, "true", labels["traefik.http.middlewares.authelia.forwardauth.trustForwardHeader"])
	assert.Contains(t, labels["traefik.http.middlewares.authelia.forwardauth.authResponseHeaders"], "Remote-User")
}

func TestRoutedHosts(t *testing.T) {
	labels := map[string]string{}
	for k, v := range GenerateLabels(LabelParams{Router: "wg", Hostname: "wg.example.com", Port: 1}) {
		labels[k] = v
	}
	for k, v := range GenerateLabels(LabelParams{Router: "dashboard", Hostname: "traefik.example.com", Service: "api@internal"}) {
		labels[k] = v
	}
	labels["traefik.http.routers.odd.rule"] = "PathPrefix(`/x`)"

	assert.Equal(t, map[string]string{
		"wg":        "wg.example.com",
		"dashboard": "traefik.example.com",
	}, RoutedHosts(labels))
}

func TestRouterMiddlewares_None(t *testing.T) {
	assert.Nil(t, RouterMiddlewares(map[string]string{}, "wg"))
}

// =============================================================================
// Static Configuration Tests
// =============================================================================

func TestStaticArgs(t *testing.T) {
	args := StaticArgs("tunnelgate_edge")

	assert.Contains(t, args, "--entrypoints.web.address=:80")
	assert.Contains(t, args, "--entrypoints.websecure.address=:443")
	assert.Contains(t, args, "--providers.docker.exposedbydefault=false")
	assert.Contains(t, args, "--providers.docker.network=tunnelgate_edge")
	assert.Contains(t, args, "--providers.file.directory=/etc/traefik/dynamic")
	for _, a := range args {
		assert.False(t, IsACMEArg(a), "static args must not carry ACME flags: %s", a)
	}
}

func TestACMEArgs(t *testing.T) {
	args := ACMEArgs("ops@example.com")

	assert.Contains(t, args, "--certificatesresolvers.letsencrypt.acme.email=ops@example.com")
	assert.Contains(t, args, "--certificatesresolvers.letsencrypt.acme.storage=/letsencrypt/acme.json")
	assert.Contains(t, args, "--certificatesresolvers.letsencrypt.acme.httpchallenge.entrypoint=web")
	for _, a := range args {
		assert.True(t, IsACMEArg(a))
	}
}

// =============================================================================
// Dynamic Configuration Tests
// =============================================================================

func TestRenderDynamic_RoundTrip(t *testing.T) {
	cfg := DynamicTLS()
	cfg.TLS.Certificates = []Certificate{StaticCertificate()}

	out, err := RenderDynamic(cfg)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "minVersion: VersionTLS12"))
	assert.Contains(t, string(out), "certFile: /certs/cert.pem")

	parsed, err := ParseDynamic(out)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestRenderDynamic_NoCertificates(t *testing.T) {
	out, err := RenderDynamic(DynamicTLS())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "certificates")
}

func TestDynamicTLS_Independent(t *testing.T) {
	a := DynamicTLS()
	a.TLS.Options["default"].CipherSuites[0] = "changed"

	assert.Equal(t, DefaultCipherSuites[0], DynamicTLS().TLS.Options["default"].CipherSuites[0])
}
