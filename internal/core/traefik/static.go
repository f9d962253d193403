package traefik

import "strings"

// =============================================================================
// Static Configuration
// =============================================================================

// Paths inside the proxy container.
const (
	DynamicDir  = "/etc/traefik/dynamic"
	ACMEStorage = "/letsencrypt/acme.json"
	CertsDir    = "/certs"
)

// ACMEResolver is the certificate resolver name.
const ACMEResolver = "letsencrypt"

// StaticArgs returns the command-line static configuration shared by every
// TLS method: entrypoints, HTTP to HTTPS redirection, the docker provider
// limited to labelled containers on network, and the file provider.
func StaticArgs(network string) []string {
	return []string{
		"--api.dashboard=true",
		"--entrypoints." + EntryPointWeb + ".address=:80",
		"--entrypoints." + EntryPointWeb + ".http.redirections.entrypoint.to=" + EntryPointWebSecure,
		"--entrypoints." + EntryPointWeb + ".http.redirections.entrypoint.scheme=https",
		"--entrypoints." + EntryPointWebSecure + ".address=:443",
		"--providers.docker=true",
		"--providers.docker.exposedbydefault=false",
		"--providers.docker.network=" + network,
		"--providers.file.directory=" + DynamicDir,
		"--providers.file.watch=true",
		"--log.level=INFO",
	}
}

// ACMEArgs returns the automated issuance block: an ACME resolver using the
// HTTP challenge on the web entrypoint.
func ACMEArgs(email string) []string {
	prefix := "--certificatesresolvers." + ACMEResolver + ".acme."
	return []string{
		prefix + "email=" + email,
		prefix + "storage=" + ACMEStorage,
		prefix + "httpchallenge=true",
		prefix + "httpchallenge.entrypoint=" + EntryPointWeb,
	}
}

// IsACMEArg reports whether a command flag belongs to the ACME block.
func IsACMEArg(arg string) bool {
	return strings.HasPrefix(arg, "--certificatesresolvers.")
}
