// Package docker drives the container runtime: a thin Client over the Docker
// SDK and an Orchestrator that brings a loaded topology up and down.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec is what CreateContainer needs to create one container.
type ContainerSpec struct {
	Name           string
	Image          string
	Command        []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortBinding
	Volumes        []VolumeMount
	Networks       []string
	NetworkAliases map[string][]string // network name → aliases (the service name, for DNS)
	RestartPolicy  RestartPolicy
	HealthCheck    *HealthCheck
	CapAdd         []string
	Sysctls        map[string]string
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Bind     bool   // host path when true, named volume otherwise
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// HealthCheck defines container health check configuration.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID           string
	Name         string
	Image        string
	Status       ContainerStatus
	Health       string // "healthy", "unhealthy", "starting", ""
	RestartCount int
	CreatedAt    time.Time
	StartedAt    *time.Time
	Ports        []PortBinding
	Labels       map[string]string
	ExitCode     int
}

// =============================================================================
// Network and Volume Types
// =============================================================================

// NetworkSpec describes a network to create.
type NetworkSpec struct {
	Name     string
	Driver   string
	Internal bool
	Labels   map[string]string
}

// VolumeSpec describes a named volume to create.
type VolumeSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

// =============================================================================
// Exec Types
// =============================================================================

// ExecSpec is a command run inside a running container.
type ExecSpec struct {
	Cmd   []string
	Env   map[string]string
	Stdin io.Reader // optional
}

// ExecResult is the outcome of an exec. A non-zero ExitCode is not an error
// at this layer.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.tunnelgate.project=tunnelgate"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Timestamps bool
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the Docker client interface.
type Client interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RestartContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)

	// Exec and file transfer
	Exec(ctx context.Context, containerID string, spec ExecSpec) (*ExecResult, error)
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error)
	CopyToContainer(ctx context.Context, containerID, dstDir string, tarStream io.Reader) error

	// Network operations
	CreateNetwork(ctx context.Context, spec NetworkSpec) (networkID string, err error)
	RemoveNetwork(ctx context.Context, networkID string) error
	ConnectNetwork(ctx context.Context, networkID, containerID string, aliases []string) error

	// Volume operations
	CreateVolume(ctx context.Context, spec VolumeSpec) (volumeName string, err error)
	RemoveVolume(ctx context.Context, volumeName string, force bool) error

	// Image operations
	PullImage(ctx context.Context, image string) error
	ImageExists(ctx context.Context, image string) (bool, error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}
