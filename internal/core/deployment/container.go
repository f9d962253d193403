package deployment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/artpar/tunnelgate/internal/core/compose"
)

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds a ContainerPlan from a loaded compose service.
//
// The service is expected to be interpolated already (compose.Load does it).
// The function:
//   - Uses container_name when set, otherwise ContainerName()
//   - Prefixes networks and named volumes with the project name
//   - Parses health check durations
//   - Maps restart policy to Docker format
//   - Adds identification labels on top of the service labels
//   - Stamps LabelConfigHash so a changed service can be detected
//
// Example:
//
//	plan := BuildContainerPlan(BuildContainerPlanParams{
//	    Project: "tunnelgate",
//	    Service: compose.Service{Name: "redis", Image: "redis:7-alpine"},
//	})
//	// plan.Name == "tunnelgate-redis"
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	svc := params.Service

	name := svc.ContainerName
	if name == "" {
		name = ContainerName(params.Project, svc.Name)
	}

	plan := ContainerPlan{
		Name:    name,
		Service: svc.Name,
		Image:   svc.Image,
		Command: svc.Command,
		Env:     make(map[string]string, len(svc.Environment)),
		Labels:  make(map[string]string, len(svc.Labels)+3),
		CapAdd:  svc.CapAdd,
		Sysctls: svc.Sysctls,
	}

	for k, v := range svc.Labels {
		plan.Labels[k] = v
	}
	plan.Labels[LabelManaged] = "true"
	plan.Labels[LabelProject] = params.Project
	plan.Labels[LabelService] = svc.Name

	for k, v := range svc.Environment {
		plan.Env[k] = v
	}

	for _, n := range svc.Networks {
		plan.Networks = append(plan.Networks, NetworkName(params.Project, n))
	}

	for _, p := range svc.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		plan.Ports = append(plan.Ports, PortPlan{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      proto,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		source := v.Source
		if v.Type == compose.VolumeMountTypeVolume {
			source = VolumeName(params.Project, v.Source)
		}
		plan.Volumes = append(plan.Volumes, VolumePlan{
			Type:     v.Type,
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if svc.HealthCheck != nil {
		plan.HealthCheck = &HealthCheckPlan{
			Test:        svc.HealthCheck.Test,
			Retries:     svc.HealthCheck.Retries,
			Interval:    parseDuration(svc.HealthCheck.Interval),
			Timeout:     parseDuration(svc.HealthCheck.Timeout),
			StartPeriod: parseDuration(svc.HealthCheck.StartPeriod),
		}
	}

	plan.RestartPolicy = mapRestartPolicy(svc.Restart)
	plan.Labels[LabelConfigHash] = ConfigHash(plan)

	return plan
}

// ConfigHash fingerprints everything a container is created from. The
// LabelConfigHash label itself is excluded, so the hash of a stamped plan
// equals the stamp. Map keys are encoded sorted, so the result is stable.
func ConfigHash(plan ContainerPlan) string {
	labels := make(map[string]string, len(plan.Labels))
	for k, v := range plan.Labels {
		if k != LabelConfigHash {
			labels[k] = v
		}
	}
	plan.Labels = labels

	// ContainerPlan holds only strings, ints, slices and maps; encoding
	// cannot fail.
	data, _ := json.Marshal(plan)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// mapRestartPolicy maps compose restart policy to Docker restart policy name.
func mapRestartPolicy(policy compose.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case compose.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case compose.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure"}
	case compose.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}
