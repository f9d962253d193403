package compose

// =============================================================================
// Loaded Topology
// =============================================================================

// ParsedSpec is a loaded and interpolated topology, decoupled from
// compose-go types. Services, networks and volumes are sorted by name.
type ParsedSpec struct {
	Name     string
	Services []Service
	Networks []Network
	Volumes  []Volume
}

// Service returns the named service.
func (s *ParsedSpec) Service(name string) (Service, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// Service is one loaded service. Environment values are already
// interpolated, so a Service built from the real secret file carries
// secret values and must not be logged.
type Service struct {
	Name          string
	Image         string
	ContainerName string
	Command       []string
	Ports         []Port
	Environment   map[string]string
	Volumes       []VolumeMount
	Networks      []string // sorted
	DependsOn     []string // sorted
	Restart       RestartPolicy
	HealthCheck   *HealthCheck
	Labels        map[string]string
	CapAdd        []string
	Sysctls       map[string]string
}

// Port is a port mapping. Published 0 means the port is not published;
// HostIP narrows the binding, e.g. to loopback.
type Port struct {
	Target    uint32
	Published uint32
	Protocol  string
	HostIP    string
}

type VolumeMount struct {
	Type     VolumeMountType
	Source   string // host path for binds, volume name otherwise
	Target   string
	ReadOnly bool
}

type VolumeMountType string

const (
	VolumeMountTypeBind   VolumeMountType = "bind"
	VolumeMountTypeVolume VolumeMountType = "volume"
	VolumeMountTypeTmpfs  VolumeMountType = "tmpfs"
)

type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// HealthCheck keeps durations in compose notation ("10s").
type HealthCheck struct {
	Test        []string
	Interval    string
	Timeout     string
	Retries     int
	StartPeriod string
}

// Network is a top-level network. The stack uses an internal backend
// network so the data tier has no route out.
type Network struct {
	Name     string
	Driver   string
	External bool
	Internal bool
	Labels   map[string]string
}

// Volume is a top-level named volume.
type Volume struct {
	Name     string
	Driver   string
	External bool
	Labels   map[string]string
}
