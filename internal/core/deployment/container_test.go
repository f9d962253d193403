package deployment

import (
	"testing"
	"time"

	"github.com/artpar/tunnelgate/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BuildContainerPlan Tests
// =============================================================================

func TestBuildContainerPlan_BasicService(t *testing.T) {
	plan := BuildContainerPlan(BuildContainerPlanParams{
		Project: "tunnelgate",
		Service: compose.Service{Name: "redis", Image: "redis:7-alpine", Networks: []string{"backend"}},
	})

	assert.Equal(t, "tunnelgate-redis", plan.Name)
	assert.Equal(t, "redis", plan.Service)
	assert.Equal(t, "redis:7-alpine", plan.Image)
	assert.Equal(t, []string{"tunnelgate_backend"}, plan.Networks)
	assert.Equal(t, "true", plan.Labels[LabelManaged])
	assert.Equal(t, "tunnelgate", plan.Labels[LabelProject])
	assert.Equal(t, "redis", plan.Labels[LabelService])
	assert.Equal(t, "no", plan.RestartPolicy.Name)
}

func TestBuildContainerPlan_ContainerNameOverride(t *testing.T) {
	plan := BuildContainerPlan(BuildContainerPlanParams{
		Project: "tunnelgate",
		Service: compose.Service{Name: "redis", Image: "redis", ContainerName: "custom"},
	})
	assert.Equal(t, "custom", plan.Name)
}

func TestBuildContainerPlan_Full(t *testing.T) {
	svc := compose.Service{
		Name:        "wg-easy",
		Image:       "ghcr.io/wg-easy/wg-easy:14",
		Environment: map[string]string{"WG_HOST": "203.0.113.7"},
		Ports: []compose.Port{
			{Target: 51820, Published: 51820, Protocol: "udp"},
			{Target: 51821, Published: 51821, HostIP: "127.0.0.1"},
		},
		Volumes: []compose.VolumeMount{
			{Type: compose.VolumeMountTypeVolume, Source: "wireguard", Target: "/etc/wireguard"},
			{Type: compose.VolumeMountTypeBind, Source: "/opt/tg/certs", Target: "/certs", ReadOnly: true},
		},
		Networks: []string{"edge"},
		Labels:   map[string]string{"traefik.enable": "true"},
		CapAdd:   []string{"NET_ADMIN", "SYS_MODULE"},
		Sysctls:  map[string]string{"net.ipv4.ip_forward": "1"},
		Restart:  compose.RestartUnlessStopped,
		HealthCheck: &compose.HealthCheck{
			Test:     []string{"CMD", "true"},
			Interval: "5s",
			Timeout:  "bogus",
			Retries:  3,
		},
	}

	plan := BuildContainerPlan(BuildContainerPlanParams{Project: "tunnelgate", Service: svc})

	assert.Equal(t, "203.0.113.7", plan.Env["WG_HOST"])
	require.Len(t, plan.Ports, 2)
	assert.Equal(t, PortPlan{ContainerPort: 51820, HostPort: 51820, Protocol: "udp"}, plan.Ports[0])
	assert.Equal(t, PortPlan{ContainerPort: 51821, HostPort: 51821, Protocol: "tcp", HostIP: "127.0.0.1"}, plan.Ports[1])

	require.Len(t, plan.Volumes, 2)
	assert.Equal(t, "tunnelgate_wireguard", plan.Volumes[0].Source)
	assert.Equal(t, "/opt/tg/certs", plan.Volumes[1].Source)
	assert.True(t, plan.Volumes[1].ReadOnly)

	assert.Equal(t, "true", plan.Labels["traefik.enable"])
	assert.Equal(t, []string{"NET_ADMIN", "SYS_MODULE"}, plan.CapAdd)
	assert.Equal(t, "1", plan.Sysctls["net.ipv4.ip_forward"])
	assert.Equal(t, "unless-stopped", plan.RestartPolicy.Name)

	require.NotNil(t, plan.HealthCheck)
	assert.Equal(t, 5*time.Second, plan.HealthCheck.Interval)
	assert.Zero(t, plan.HealthCheck.Timeout, "unparseable durations become zero")
	assert.Equal(t, 3, plan.HealthCheck.Retries)
}

func TestBuildContainerPlan_ServiceLabelsCannotSpoofIdentity(t *testing.T) {
	svc := compose.Service{
		Name:   "redis",
		Image:  "redis",
		Labels: map[string]string{LabelProject: "spoofed"},
	}
	plan := BuildContainerPlan(BuildContainerPlanParams{Project: "tunnelgate", Service: svc})
	assert.Equal(t, "tunnelgate", plan.Labels[LabelProject])
}

func TestBuildContainerPlan_ConfigHash(t *testing.T) {
	base := compose.Service{
		Name:        "authelia",
		Image:       "authelia/authelia:4.38",
		Environment: map[string]string{"TZ": "UTC"},
		Labels:      map[string]string{"traefik.enable": "true"},
	}
	build := func(mutate func(*compose.Service)) ContainerPlan {
		svc := base
		svc.Environment = map[string]string{"TZ": "UTC"}
		svc.Labels = map[string]string{"traefik.enable": "true"}
		if mutate != nil {
			mutate(&svc)
		}
		return BuildContainerPlan(BuildContainerPlanParams{Project: "tunnelgate", Service: svc})
	}

	plan := build(nil)
	hash := plan.Labels[LabelConfigHash]
	require.Len(t, hash, 64)
	assert.Equal(t, hash, ConfigHash(plan), "the stamp does not feed its own hash")
	assert.Equal(t, hash, build(nil).Labels[LabelConfigHash])

	tests := []struct {
		name   string
		mutate func(*compose.Service)
	}{
		{name: "env", mutate: func(s *compose.Service) { s.Environment["TZ"] = "Europe/Berlin" }},
		{name: "label", mutate: func(s *compose.Service) { s.Labels["traefik.http.routers.admin.middlewares"] = "authelia@file" }},
		{name: "image", mutate: func(s *compose.Service) { s.Image = "authelia/authelia:4.39" }},
		{name: "command", mutate: func(s *compose.Service) { s.Command = []string{"--config", "/config/configuration.yml"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, hash, build(tt.mutate).Labels[LabelConfigHash])
		})
	}
}

func TestMapRestartPolicy(t *testing.T) {
	tests := []struct {
		in   compose.RestartPolicy
		want string
	}{
		{compose.RestartAlways, "always"},
		{compose.RestartOnFailure, "on-failure"},
		{compose.RestartUnlessStopped, "unless-stopped"},
		{compose.RestartNo, "no"},
		{"", "no"},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, mapRestartPolicy(tt.in).Name)
		})
	}
}
