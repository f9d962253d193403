package traefik

import (
	"fmt"
	"strings"
)

// Entrypoint names.
const (
	EntryPointWeb       = "web"
	EntryPointWebSecure = "websecure"
)

// ForwardAuthMiddleware is the name of the forward-auth middleware.
const ForwardAuthMiddleware = "authelia"

// =============================================================================
// Label Keys
// =============================================================================

// RuleKey is the label holding a router's rule.
func RuleKey(router string) string {
	return fmt.Sprintf("traefik.http.routers.%s.rule", router)
}

// MiddlewaresKey is the label holding a router's middleware list.
func MiddlewaresKey(router string) string {
	return fmt.Sprintf("traefik.http.routers.%s.middlewares", router)
}

// CertResolverKey is the label naming a router's certificate resolver.
func CertResolverKey(router string) string {
	return fmt.Sprintf("traefik.http.routers.%s.tls.certresolver", router)
}

// HostRule returns the router rule matching exactly hostname.
func HostRule(hostname string) string {
	return fmt.Sprintf("Host(`%s`)", hostname)
}

// =============================================================================
// Traefik Label Generation Functions
// =============================================================================

// GenerateLabels generates router labels for one hostname.
//
// The router listens on the websecure entrypoint only; plain HTTP is
// redirected at the entrypoint level (see StaticArgs). Middleware order is
// preserved.
//
// Example:
//
//	labels := GenerateLabels(LabelParams{
//	    Router:   "wg",
//	    Hostname: "wg.example.com",
//	    Port:     51821,
//	})
//	// Returns:
//	// {
//	//   "traefik.enable": "true",
//	//   "traefik.http.routers.wg.rule": "Host(`wg.example.com`)",
//	//   "traefik.http.routers.wg.entrypoints": "websecure",
//	//   "traefik.http.routers.wg.tls": "true",
//	//   "traefik.http.routers.wg.service": "wg",
//	//   "traefik.http.services.wg.loadbalancer.server.port": "51821",
//	// }
func GenerateLabels(params LabelParams) map[string]string {
	name := params.Router

	labels := map[string]string{
		"traefik.enable": "true",

		RuleKey(name): HostRule(params.Hostname),
		fmt.Sprintf("traefik.http.routers.%s.entrypoints", name): EntryPointWebSecure,
		fmt.Sprintf("traefik.http.routers.%s.tls", name):         "true",
	}

	if params.Service != "" {
		labels[fmt.Sprintf("traefik.http.routers.%s.service", name)] = params.Service
	} else {
		labels[fmt.Sprintf("traefik.http.routers.%s.service", name)] = name
		labels[fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", name)] = fmt.Sprintf("%d", params.Port)
	}

	if len(params.Middlewares) > 0 {
		labels[MiddlewaresKey(name)] = strings.Join(params.Middlewares, ",")
	}

	if params.CertResolver != "" {
		labels[CertResolverKey(name)] = params.CertResolver
	}

	return labels
}

// ForwardAuthLabels defines the forward-auth middleware pointing at the
// authentication service's authz endpoint.
func ForwardAuthLabels(address string) map[string]string {
	prefix := "traefik.http.middlewares." + ForwardAuthMiddleware + ".forwardauth."
	return map[string]string{
		prefix + "address":             address,
		prefix + "trustForwardHeader":  "true",
		prefix + "authResponseHeaders": "Remote-User,Remote-Groups,Remote-Email,Remote-Name",
	}
}

// RouterMiddlewares splits a middleware label value back into names.
func RouterMiddlewares(labels map[string]string, router string) []string {
	v := labels[MiddlewaresKey(router)]
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// HasMiddleware reports whether router carries the named middleware.
func HasMiddleware(labels map[string]string, router, middleware string) bool {
	for _, m := range RouterMiddlewares(labels, router) {
		if m == middleware {
			return true
		}
	}
	return false
}

// RoutedHosts returns the hostname of every router whose rule is a single
// Host matcher, keyed by router name.
func RoutedHosts(labels map[string]string) map[string]string {
	hosts := make(map[string]string)
	for k, v := range labels {
		if !strings.HasPrefix(k, "traefik.http.routers.") || !strings.HasSuffix(k, ".rule") {
			continue
		}
		router := strings.TrimSuffix(strings.TrimPrefix(k, "traefik.http.routers."), ".rule")
		if strings.HasPrefix(v, "Host(`") && strings.HasSuffix(v, "`)") {
			hosts[router] = strings.TrimSuffix(strings.TrimPrefix(v, "Host(`"), "`)")
		}
	}
	return hosts
}
