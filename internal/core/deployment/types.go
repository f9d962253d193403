package deployment

import (
	"time"

	"github.com/artpar/tunnelgate/internal/core/compose"
)

// =============================================================================
// Container Plans
// =============================================================================

// ContainerPlan is one stack service resolved into runtime terms: final
// container name, interpolated environment and project labels. The
// orchestrator executes it as is.
type ContainerPlan struct {
	Name          string
	Service       string
	Image         string
	Command       []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	Volumes       []VolumePlan
	Networks      []string // full network names; the first is attached at create
	RestartPolicy RestartPolicyPlan
	HealthCheck   *HealthCheckPlan
	CapAdd        []string
	Sysctls       map[string]string
}

// PortPlan is a published port. HostIP "127.0.0.1" keeps it on loopback.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// VolumePlan is a named volume or a bind mount from the install dir.
type VolumePlan struct {
	Type     compose.VolumeMountType
	Source   string
	Target   string
	ReadOnly bool
}

type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// HealthCheckPlan mirrors the service healthcheck; the data tier carries
// one so AwaitHealthy can read State.Health.Status.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// BuildContainerPlanParams are the inputs of BuildContainerPlan.
type BuildContainerPlanParams struct {
	Project string
	Service compose.Service
}

// Labels stamped on every runtime object the stack owns. Status and down
// select containers by LabelProject.
const (
	LabelManaged = "com.tunnelgate.managed"
	LabelProject = "com.tunnelgate.project"
	// LabelConfigHash fingerprints the plan a container was created from.
	LabelConfigHash = "com.tunnelgate.config-hash"
	LabelService = "com.tunnelgate.service"
)
