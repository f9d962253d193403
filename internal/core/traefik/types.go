package traefik

// =============================================================================
// Traefik Label Generation Types
// =============================================================================

// LabelParams contains parameters for generating router labels.
type LabelParams struct {
	// Router is the router name (e.g., "wg", "dashboard").
	Router string

	// Hostname is the routed hostname (e.g., "wg.example.com").
	Hostname string

	// Port is the container port to route traffic to. Ignored when Service
	// is set.
	Port int

	// Service routes to a named Traefik service instead of the container,
	// e.g. "api@internal" for the dashboard.
	Service string

	// Middlewares are attached to the router in order.
	Middlewares []string

	// CertResolver requests certificates from the named ACME resolver.
	// Empty means certificates come from the file provider.
	CertResolver string
}

// =============================================================================
// Dynamic Configuration Types
// =============================================================================

// DynamicConfig is the file-provider document holding TLS settings.
type DynamicConfig struct {
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig is the tls section of a dynamic configuration file.
type TLSConfig struct {
	Options      map[string]TLSOptions `yaml:"options"`
	Certificates []Certificate         `yaml:"certificates,omitempty"`
}

// TLSOptions is a named TLS option set.
type TLSOptions struct {
	MinVersion   string   `yaml:"minVersion"`
	CipherSuites []string `yaml:"cipherSuites,omitempty"`
	SNIStrict    bool     `yaml:"sniStrict,omitempty"`
}

// Certificate is a static certificate pair served by the file provider.
type Certificate struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}
