// Package traefik provides pure functions for generating Traefik edge proxy
// configuration.
//
// This package contains the functional core logic for three kinds of Traefik
// input. All functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - GenerateLabels: router labels for a routed container
//   - ForwardAuthLabels: the forward-auth middleware definition
//   - StaticArgs, ACMEArgs: static configuration passed as command flags
//   - DynamicTLS, RenderDynamic: the file-provider TLS descriptor
//
// # Usage
//
// The synthesizer attaches labels to the admin-facing service:
//
//	labels := traefik.GenerateLabels(traefik.LabelParams{
//	    Router:      "wg",
//	    Hostname:    "wg.example.com",
//	    Port:        51821,
//	    Middlewares: []string{traefik.ForwardAuthMiddleware},
//	})
//	for k, v := range labels {
//	    service.Labels[k] = v
//	}
package traefik
