package compose

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalValidSpec = `
services:
  app:
    image: nginx:latest
`

const stackSpec = `
name: tunnelgate
services:
  db:
    image: postgres:16-alpine
    environment:
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
    volumes:
      - pgdata:/var/lib/postgresql/data
    networks:
      - backend
    healthcheck:
      test: ["CMD-SHELL", "pg_isready -U authelia"]
      interval: 5s
      timeout: 3s
      retries: 10
  auth:
    image: authelia/authelia:4.38
    volumes:
      - ./authelia:/config
    networks:
      - backend
      - edge
    depends_on:
      db:
        condition: service_healthy
  vpn:
    image: ghcr.io/wg-easy/wg-easy:14
    ports:
      - "51820:51820/udp"
      - "127.0.0.1:9586:9586"
    cap_add:
      - NET_ADMIN
    sysctls:
      net.ipv4.ip_forward: "1"
    networks:
      - edge
    depends_on:
      auth:
        condition: service_started
networks:
  edge:
    driver: bridge
  backend:
    internal: true
volumes:
  pgdata:
`

func load(t *testing.T, content string, opts LoadOptions) *ParsedSpec {
	t.Helper()
	spec, err := Load(context.Background(), []byte(content), opts)
	require.NoError(t, err)
	return spec
}

// =============================================================================
// Input Validation Tests
// =============================================================================

func TestLoad_EmptyInput(t *testing.T) {
	_, err := Load(context.Background(), []byte("  \n"), LoadOptions{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(context.Background(), []byte("services: [unclosed"), LoadOptions{})
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoad_YAMLNotObject(t *testing.T) {
	_, err := Load(context.Background(), []byte("just a string"), LoadOptions{})
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoad_MinimalValid(t *testing.T) {
	spec := load(t, minimalValidSpec, LoadOptions{})

	require.Len(t, spec.Services, 1)
	assert.Equal(t, "app", spec.Services[0].Name)
	assert.Equal(t, "nginx:latest", spec.Services[0].Image)
	assert.Equal(t, DefaultProjectName, spec.Name)
}

// =============================================================================
// Conversion Tests
// =============================================================================

func TestLoad_Stack(t *testing.T) {
	spec := load(t, stackSpec, LoadOptions{
		WorkingDir:  "/opt/tunnelgate",
		Environment: map[string]string{"POSTGRES_PASSWORD": "s3cret"},
	})

	names := make([]string, 0, len(spec.Services))
	for _, svc := range spec.Services {
		names = append(names, svc.Name)
	}
	assert.Equal(t, []string{"auth", "db", "vpn"}, names, "services sorted by name")

	db, ok := spec.Service("db")
	require.True(t, ok)
	assert.Equal(t, "s3cret", db.Environment["POSTGRES_PASSWORD"])
	assert.Equal(t, []string{"backend"}, db.Networks)
	assert.Empty(t, db.Ports)
	require.NotNil(t, db.HealthCheck)
	assert.Equal(t, []string{"CMD-SHELL", "pg_isready -U authelia"}, db.HealthCheck.Test)
	assert.Equal(t, 10, db.HealthCheck.Retries)
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, VolumeMountTypeVolume, db.Volumes[0].Type)

	auth, _ := spec.Service("auth")
	assert.Equal(t, []string{"backend", "edge"}, auth.Networks)
	assert.Equal(t, []string{"db"}, auth.DependsOn)
	require.Len(t, auth.Volumes, 1)
	assert.Equal(t, VolumeMountTypeBind, auth.Volumes[0].Type)
	assert.Equal(t, "/opt/tunnelgate/authelia", auth.Volumes[0].Source)

	vpn, _ := spec.Service("vpn")
	require.Len(t, vpn.Ports, 2)
	assert.Equal(t, Port{Target: 51820, Published: 51820, Protocol: "udp"}, vpn.Ports[0])
	assert.Equal(t, "127.0.0.1", vpn.Ports[1].HostIP)
	assert.Equal(t, []string{"NET_ADMIN"}, vpn.CapAdd)
	assert.Equal(t, "1", vpn.Sysctls["net.ipv4.ip_forward"])

	require.Len(t, spec.Networks, 2)
	assert.Equal(t, "backend", spec.Networks[0].Name)
	assert.True(t, spec.Networks[0].Internal)
	assert.False(t, spec.Networks[1].Internal)

	require.Len(t, spec.Volumes, 1)
	assert.Equal(t, "pgdata", spec.Volumes[0].Name)
}

func TestLoad_ProjectName(t *testing.T) {
	spec := load(t, minimalValidSpec, LoadOptions{ProjectName: "other"})
	assert.Equal(t, "other", spec.Name)
}

// =============================================================================
// Dependency Tests
// =============================================================================

func TestLoad_CircularDependency(t *testing.T) {
	content := `
services:
  a:
    image: x
    depends_on: [b]
  b:
    image: x
    depends_on: [a]
`
	_, err := Load(context.Background(), []byte(content), LoadOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircularDependency) || errors.Is(err, ErrInvalidYAML))
}

func TestValidateDependencies(t *testing.T) {
	tests := []struct {
		name     string
		services []Service
		wantErr  error
	}{
		{
			name: "valid chain",
			services: []Service{
				{Name: "a", DependsOn: []string{"b"}},
				{Name: "b", DependsOn: []string{"c"}},
				{Name: "c"},
			},
		},
		{
			name:     "self reference",
			services: []Service{{Name: "a", DependsOn: []string{"a"}}},
			wantErr:  ErrCircularDependency,
		},
		{
			name: "cycle",
			services: []Service{
				{Name: "a", DependsOn: []string{"b"}},
				{Name: "b", DependsOn: []string{"a"}},
			},
			wantErr: ErrCircularDependency,
		},
		{
			name:     "unknown",
			services: []Service{{Name: "a", DependsOn: []string{"ghost"}}},
			wantErr:  ErrUnknownDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDependencies(tt.services)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// =============================================================================
// Port Validation Tests
// =============================================================================

func TestValidatePorts(t *testing.T) {
	tests := []struct {
		name    string
		port    Port
		wantErr bool
	}{
		{"valid", Port{Target: 80, Published: 8080}, false},
		{"zero target", Port{Target: 0}, true},
		{"target too high", Port{Target: 70000}, true},
		{"published too high", Port{Target: 80, Published: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePorts([]Service{{Name: "web", Ports: []Port{tt.port}}})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrServiceInvalidPort)
				assert.Contains(t, err.Error(), "services.web.ports[0]")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// Variable Extraction Tests
// =============================================================================

func TestExtractVariablesFromYAML(t *testing.T) {
	content := `
environment:
  A: ${JWT_SECRET}
  B: ${SESSION_SECRET:-fallback}
  C: ${JWT_SECRET}
  D: $$NOT_A_VAR
`
	assert.Equal(t, []string{"JWT_SECRET", "SESSION_SECRET"}, ExtractVariablesFromYAML(content))
}

func TestExtractVariablesFromYAML_None(t *testing.T) {
	assert.Empty(t, ExtractVariablesFromYAML(minimalValidSpec))
}

// =============================================================================
// Error Tests
// =============================================================================

func TestParseError_Error(t *testing.T) {
	err := NewParseError("services.web", "bad", ErrServiceNoImage)
	assert.Equal(t, "services.web: bad", err.Error())

	err = NewParseError("", "bad", ErrServiceNoImage)
	assert.Equal(t, "bad", err.Error())
}

func TestParseError_Unwrap(t *testing.T) {
	err := NewParseError("services.web", "bad", ErrServiceNoImage)
	assert.ErrorIs(t, err, ErrServiceNoImage)
}
