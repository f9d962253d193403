package synth

import "github.com/artpar/tunnelgate/internal/core/compose"

// Project is the compose project name of the stack.
const Project = compose.DefaultProjectName

// Services of the fixed catalog.
const (
	ServicePostgres = "postgres"
	ServiceRedis    = "redis"
	ServiceAuthelia = "authelia"
	ServiceTraefik  = "traefik"
	ServiceWGEasy   = "wg-easy"
)

// Images of the fixed catalog.
const (
	ImagePostgres = "postgres:16-alpine"
	ImageRedis    = "redis:7-alpine"
	ImageAuthelia = "authelia/authelia:4.38"
	ImageTraefik  = "traefik:v3.1"
	ImageWGEasy   = "ghcr.io/wg-easy/wg-easy:14"
)

// Networks. The backend network is internal: nothing on it is reachable
// from outside the host.
const (
	NetworkEdge    = "edge"
	NetworkBackend = "backend"
)

// Named volumes.
const (
	VolumePostgres  = "postgres-data"
	VolumeRedis     = "redis-data"
	VolumeWireGuard = "wireguard"
)

// Router names.
const (
	RouterAuth      = "auth"
	RouterAdmin     = "wg"
	RouterDashboard = "dashboard"
)

// Ports.
const (
	AutheliaPort  = 9091
	WireGuardPort = 51820
	AdminUIPort   = 51821
	PostgresPort  = 5432
	RedisPort     = 6379
)

// Container paths used by the lifecycle and backup layers.
const (
	WireGuardStateDir = "/etc/wireguard"
)

// DataTier lists the services whose health gates readiness.
func DataTier() []string {
	return []string{ServicePostgres, ServiceRedis}
}

// BringUpOrder is the order services must start in.
func BringUpOrder() []string {
	return []string{ServicePostgres, ServiceRedis, ServiceAuthelia, ServiceTraefik, ServiceWGEasy}
}

// ForwardAuthAddress is the authz endpoint the edge proxy consults.
const ForwardAuthAddress = "http://authelia:9091/api/authz/forward-auth"
