package compose

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// File - Render Model
// =============================================================================

// File is the document form of a compose file, as written to disk. Maps are
// emitted with sorted keys, so rendering the same File always yields the
// same bytes.
type File struct {
	Name     string                 `yaml:"name,omitempty"`
	Services map[string]ServiceSpec `yaml:"services"`
	Networks map[string]NetworkSpec `yaml:"networks,omitempty"`
	Volumes  map[string]VolumeSpec  `yaml:"volumes,omitempty"`
}

// ServiceSpec is one service entry of a File.
type ServiceSpec struct {
	Image         string                   `yaml:"image"`
	ContainerName string                   `yaml:"container_name,omitempty"`
	Restart       RestartPolicy            `yaml:"restart,omitempty"`
	Command       []string                 `yaml:"command,omitempty"`
	Environment   map[string]string        `yaml:"environment,omitempty"`
	Ports         []string                 `yaml:"ports,omitempty"`
	Volumes       []string                 `yaml:"volumes,omitempty"`
	Networks      []string                 `yaml:"networks,omitempty"`
	DependsOn     map[string]DependsOnSpec `yaml:"depends_on,omitempty"`
	CapAdd        []string                 `yaml:"cap_add,omitempty"`
	Sysctls       map[string]string        `yaml:"sysctls,omitempty"`
	Labels        map[string]string        `yaml:"labels,omitempty"`
	HealthCheck   *HealthCheckSpec         `yaml:"healthcheck,omitempty"`
}

// DependsOnSpec is the long form of a depends_on entry.
type DependsOnSpec struct {
	Condition string `yaml:"condition"`
}

// Dependency conditions.
const (
	ConditionStarted = "service_started"
	ConditionHealthy = "service_healthy"
)

// HealthCheckSpec is a service healthcheck block.
type HealthCheckSpec struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

// NetworkSpec is a top-level network entry.
type NetworkSpec struct {
	Driver   string `yaml:"driver,omitempty"`
	Internal bool   `yaml:"internal,omitempty"`
}

// VolumeSpec is a top-level volume entry.
type VolumeSpec struct {
	Driver string `yaml:"driver,omitempty"`
}

// =============================================================================
// Helpers
// =============================================================================

// Clone returns a deep copy of f so transforms never share maps or slices
// with their input.
func (f File) Clone() File {
	out := File{
		Name:     f.Name,
		Services: make(map[string]ServiceSpec, len(f.Services)),
		Networks: make(map[string]NetworkSpec, len(f.Networks)),
		Volumes:  make(map[string]VolumeSpec, len(f.Volumes)),
	}
	for name, svc := range f.Services {
		out.Services[name] = svc.clone()
	}
	for name, n := range f.Networks {
		out.Networks[name] = n
	}
	for name, v := range f.Volumes {
		out.Volumes[name] = v
	}
	return out
}

func (s ServiceSpec) clone() ServiceSpec {
	out := s
	out.Command = append([]string(nil), s.Command...)
	out.Ports = append([]string(nil), s.Ports...)
	out.Volumes = append([]string(nil), s.Volumes...)
	out.Networks = append([]string(nil), s.Networks...)
	out.CapAdd = append([]string(nil), s.CapAdd...)
	out.Environment = cloneMap(s.Environment)
	out.Sysctls = cloneMap(s.Sysctls)
	out.Labels = cloneMap(s.Labels)
	if s.DependsOn != nil {
		out.DependsOn = make(map[string]DependsOnSpec, len(s.DependsOn))
		for k, v := range s.DependsOn {
			out.DependsOn[k] = v
		}
	}
	if s.HealthCheck != nil {
		hc := *s.HealthCheck
		hc.Test = append([]string(nil), s.HealthCheck.Test...)
		out.HealthCheck = &hc
	}
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ServiceNames returns the service names in sorted order.
func (f File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PortString formats a short-syntax port mapping.
func PortString(p Port) string {
	s := fmt.Sprintf("%d:%d", p.Published, p.Target)
	if p.HostIP != "" {
		s = p.HostIP + ":" + s
	}
	if p.Protocol != "" && p.Protocol != "tcp" {
		s += "/" + p.Protocol
	}
	return s
}

// =============================================================================
// Render
// =============================================================================

// Render encodes f as YAML with two-space indentation.
func Render(f File) ([]byte, error) {
	if len(f.Services) == 0 {
		return nil, NewParseError("services", "no services to render", ErrNoServices)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, NewParseError("", err.Error(), ErrRender)
	}
	if err := enc.Close(); err != nil {
		return nil, NewParseError("", err.Error(), ErrRender)
	}
	return buf.Bytes(), nil
}
