package synth

import (
	"fmt"
	"strings"

	"github.com/artpar/tunnelgate/internal/core/authpolicy"
	"github.com/artpar/tunnelgate/internal/core/compose"
	"github.com/artpar/tunnelgate/internal/core/crypto"
	"github.com/artpar/tunnelgate/internal/core/deployment"
	"github.com/artpar/tunnelgate/internal/core/layout"
	"github.com/artpar/tunnelgate/internal/core/params"
	"github.com/artpar/tunnelgate/internal/core/secrets"
	"github.com/artpar/tunnelgate/internal/core/traefik"
)

// =============================================================================
// Draft
// =============================================================================

// Draft holds the structured form of every artifact while transforms run.
type Draft struct {
	Compose compose.File
	Auth    authpolicy.Config
	TLS     traefik.DynamicConfig
	Users   authpolicy.UsersDatabase
}

// Clone returns a deep copy of d.
func (d Draft) Clone() Draft {
	out := Draft{
		Compose: d.Compose.Clone(),
		Auth:    d.Auth,
		TLS:     traefik.DynamicConfig{TLS: traefik.TLSConfig{Options: map[string]traefik.TLSOptions{}}},
		Users:   authpolicy.UsersDatabase{Users: map[string]authpolicy.User{}},
	}

	out.Auth.AccessControl.Rules = make([]authpolicy.Rule, len(d.Auth.AccessControl.Rules))
	for i, r := range d.Auth.AccessControl.Rules {
		out.Auth.AccessControl.Rules[i] = authpolicy.Rule{Domain: append([]string(nil), r.Domain...), Policy: r.Policy}
	}
	out.Auth.Session.Cookies = append([]authpolicy.SessionCookie(nil), d.Auth.Session.Cookies...)

	for k, v := range d.TLS.TLS.Options {
		v.CipherSuites = append([]string(nil), v.CipherSuites...)
		out.TLS.TLS.Options[k] = v
	}
	out.TLS.TLS.Certificates = append([]traefik.Certificate(nil), d.TLS.TLS.Certificates...)

	for k, u := range d.Users.Users {
		u.Groups = append([]string(nil), u.Groups...)
		out.Users.Users[k] = u
	}
	return out
}

// EditService applies fn to the named service in place.
func (d *Draft) EditService(name string, fn func(*compose.ServiceSpec)) error {
	svc, ok := d.Compose.Services[name]
	if !ok {
		return fmt.Errorf("service %q not in topology", name)
	}
	fn(&svc)
	d.Compose.Services[name] = svc
	return nil
}

// SetRulePolicy sets the policy of the rule governing exactly host.
func (d *Draft) SetRulePolicy(host string, policy authpolicy.Policy) error {
	for i, r := range d.Auth.AccessControl.Rules {
		for _, dom := range r.Domain {
			if dom == host {
				d.Auth.AccessControl.Rules[i].Policy = policy
				return nil
			}
		}
	}
	return fmt.Errorf("no rule for %s", host)
}

// RoutedHosts returns every hostname routed by any service, keyed by router.
func (d Draft) RoutedHosts() map[string]string {
	hosts := make(map[string]string)
	for _, name := range d.Compose.ServiceNames() {
		for router, host := range traefik.RoutedHosts(d.Compose.Services[name].Labels) {
			hosts[router] = host
		}
	}
	return hosts
}

// =============================================================================
// Base Topology
// =============================================================================

// Base returns the fixed base artifacts before any feature-flag delta. The
// admin hostname starts on the fallback policy without forward-auth; the
// totp transform decides its final form.
func Base(p params.Params, m secrets.Material) Draft {
	return Draft{
		Compose: baseCompose(p),
		Auth:    baseAuth(p),
		TLS:     traefik.DynamicTLS(),
		Users:   authpolicy.NewUsersDatabase(p.AdminUsername, p.AdminEmail, m.AdminPasswordHash),
	}
}

func ref(key string) string {
	return "${" + key + "}"
}

func baseCompose(p params.Params) compose.File {
	tz := p.Timezone

	postgres := compose.ServiceSpec{
		Image:         ImagePostgres,
		ContainerName: deployment.ContainerName(Project, ServicePostgres),
		Restart:       compose.RestartUnlessStopped,
		Environment: map[string]string{
			"POSTGRES_DB":       authpolicy.DatabaseName,
			"POSTGRES_USER":     authpolicy.DatabaseUser,
			"POSTGRES_PASSWORD": ref(secrets.KeyPostgresPassword),
			"TZ":                tz,
		},
		Volumes:  []string{VolumePostgres + ":/var/lib/postgresql/data"},
		Networks: []string{NetworkBackend},
		HealthCheck: &compose.HealthCheckSpec{
			Test:        []string{"CMD-SHELL", fmt.Sprintf("pg_isready -U %s -d %s", authpolicy.DatabaseUser, authpolicy.DatabaseName)},
			Interval:    "5s",
			Timeout:     "5s",
			Retries:     10,
			StartPeriod: "10s",
		},
	}

	redis := compose.ServiceSpec{
		Image:         ImageRedis,
		ContainerName: deployment.ContainerName(Project, ServiceRedis),
		Restart:       compose.RestartUnlessStopped,
		Command:       []string{"redis-server", "--requirepass", ref(secrets.KeyRedisPassword), "--appendonly", "yes"},
		Environment: map[string]string{
			"REDIS_PASSWORD": ref(secrets.KeyRedisPassword),
			"TZ":             tz,
		},
		Volumes:  []string{VolumeRedis + ":/data"},
		Networks: []string{NetworkBackend},
		HealthCheck: &compose.HealthCheckSpec{
			Test:        []string{"CMD-SHELL", `redis-cli --no-auth-warning -a "$$REDIS_PASSWORD" ping | grep -q PONG`},
			Interval:    "5s",
			Timeout:     "5s",
			Retries:     10,
			StartPeriod: "5s",
		},
	}

	authLabels := traefik.GenerateLabels(traefik.LabelParams{
		Router:   RouterAuth,
		Hostname: p.AuthHost(),
		Port:     AutheliaPort,
	})
	for k, v := range traefik.ForwardAuthLabels(ForwardAuthAddress) {
		authLabels[k] = v
	}

	authelia := compose.ServiceSpec{
		Image:         ImageAuthelia,
		ContainerName: deployment.ContainerName(Project, ServiceAuthelia),
		Restart:       compose.RestartUnlessStopped,
		Environment: map[string]string{
			authpolicy.EnvJWTSecret:            ref(secrets.KeyJWTSecret),
			authpolicy.EnvSessionSecret:        ref(secrets.KeySessionSecret),
			authpolicy.EnvStorageEncryptionKey: ref(secrets.KeyStorageEncryptionKey),
			authpolicy.EnvPostgresPassword:     ref(secrets.KeyPostgresPassword),
			authpolicy.EnvRedisPassword:        ref(secrets.KeyRedisPassword),
			"TZ":                               tz,
		},
		Volumes:  []string{"./" + layout.AutheliaDir + ":" + authpolicy.ConfigDir},
		Networks: []string{NetworkBackend, NetworkEdge},
		DependsOn: map[string]compose.DependsOnSpec{
			ServicePostgres: {Condition: compose.ConditionHealthy},
			ServiceRedis:    {Condition: compose.ConditionHealthy},
		},
		Labels: authLabels,
	}

	proxy := compose.ServiceSpec{
		Image:         ImageTraefik,
		ContainerName: deployment.ContainerName(Project, ServiceTraefik),
		Restart:       compose.RestartUnlessStopped,
		Command:       traefik.StaticArgs(deployment.NetworkName(Project, NetworkEdge)),
		Environment:   map[string]string{"TZ": tz},
		Ports:         []string{"80:80", "443:443"},
		Volumes: []string{
			"/var/run/docker.sock:/var/run/docker.sock:ro",
			"./" + layout.TraefikDynamicDir + ":" + traefik.DynamicDir + ":ro",
		},
		Networks: []string{NetworkEdge},
		DependsOn: map[string]compose.DependsOnSpec{
			ServiceAuthelia: {Condition: compose.ConditionStarted},
		},
		Labels: traefik.GenerateLabels(traefik.LabelParams{
			Router:      RouterDashboard,
			Hostname:    p.DashboardHost(),
			Service:     "api@internal",
			Middlewares: []string{traefik.ForwardAuthMiddleware},
		}),
	}

	wg := compose.ServiceSpec{
		Image:         ImageWGEasy,
		ContainerName: deployment.ContainerName(Project, ServiceWGEasy),
		Restart:       compose.RestartUnlessStopped,
		Environment: map[string]string{
			"WG_HOST":        p.PublicHost,
			"WG_PORT":        fmt.Sprintf("%d", WireGuardPort),
			"PORT":           fmt.Sprintf("%d", AdminUIPort),
			"WG_DEFAULT_DNS": strings.Join(p.WireGuardDNS, ","),
			"WG_ALLOWED_IPS": strings.Join(p.WireGuardAllowedIPs, ","),
			"LANG":           "en",
			"TZ":             tz,
		},
		Ports:    []string{compose.PortString(compose.Port{Target: WireGuardPort, Published: WireGuardPort, Protocol: "udp"})},
		Volumes:  []string{VolumeWireGuard + ":" + WireGuardStateDir},
		Networks: []string{NetworkEdge},
		CapAdd:   []string{"NET_ADMIN", "SYS_MODULE"},
		Sysctls: map[string]string{
			"net.ipv4.ip_forward":              "1",
			"net.ipv4.conf.all.src_valid_mark": "1",
		},
		DependsOn: map[string]compose.DependsOnSpec{
			ServiceAuthelia: {Condition: compose.ConditionStarted},
			ServiceTraefik:  {Condition: compose.ConditionStarted},
		},
		Labels: traefik.GenerateLabels(traefik.LabelParams{
			Router:   RouterAdmin,
			Hostname: p.AdminHost(),
			Port:     AdminUIPort,
		}),
	}

	return compose.File{
		Name: Project,
		Services: map[string]compose.ServiceSpec{
			ServicePostgres: postgres,
			ServiceRedis:    redis,
			ServiceAuthelia: authelia,
			ServiceTraefik:  proxy,
			ServiceWGEasy:   wg,
		},
		Networks: map[string]compose.NetworkSpec{
			NetworkEdge:    {Driver: "bridge"},
			NetworkBackend: {Driver: "bridge", Internal: true},
		},
		Volumes: map[string]compose.VolumeSpec{
			VolumePostgres:  {},
			VolumeRedis:     {},
			VolumeWireGuard: {},
		},
	}
}

func baseAuth(p params.Params) authpolicy.Config {
	argon := crypto.DefaultArgon2Params()

	return authpolicy.Config{
		Theme:  "auto",
		Server: authpolicy.ServerConfig{Address: authpolicy.ListenAddress},
		Log:    authpolicy.LogConfig{Level: "info"},
		TOTP:   authpolicy.TOTPConfig{Disable: true, Issuer: p.BaseDomain},
		AuthenticationBackend: authpolicy.AuthenticationBackend{
			File: authpolicy.FileBackend{
				Path:  authpolicy.UsersFile,
				Watch: true,
				Password: authpolicy.PasswordOptions{
					Algorithm: "argon2",
					Argon2: authpolicy.Argon2Options{
						Variant:     "argon2id",
						Iterations:  argon.Iterations,
						Memory:      argon.Memory,
						Parallelism: argon.Parallelism,
						KeyLength:   argon.KeyLength,
						SaltLength:  argon.SaltLength,
					},
				},
			},
		},
		AccessControl: authpolicy.AccessControl{
			DefaultPolicy: authpolicy.PolicyDeny,
			Rules: []authpolicy.Rule{
				{Domain: []string{p.AuthHost()}, Policy: authpolicy.PolicyBypass},
				{Domain: []string{p.AdminHost()}, Policy: authpolicy.Policy(p.FallbackPolicy)},
				{Domain: []string{p.DashboardHost()}, Policy: authpolicy.PolicyOneFactor},
			},
		},
		Session: authpolicy.SessionConfig{
			Cookies: []authpolicy.SessionCookie{{
				Domain:      p.BaseDomain,
				AutheliaURL: p.AuthURL(),
				Expiration:  "1h",
				Inactivity:  "5m",
			}},
			Redis: authpolicy.RedisConfig{Host: ServiceRedis, Port: RedisPort},
		},
		Regulation: authpolicy.RegulationConfig{MaxRetries: 3, FindTime: "2m", BanTime: "5m"},
		Storage: authpolicy.StorageConfig{
			Postgres: authpolicy.PostgresConfig{
				Address:  fmt.Sprintf("tcp://%s:%d", ServicePostgres, PostgresPort),
				Database: authpolicy.DatabaseName,
				Username: authpolicy.DatabaseUser,
			},
		},
		Notifier: authpolicy.NotifierConfig{
			Filesystem: authpolicy.FilesystemNotifier{Filename: authpolicy.NotificationFile},
		},
	}
}
