// Package monitoring provides pure functions for judging stack health from
// container state. This package contains NO I/O.
package monitoring

import (
	"sort"
	"time"
)

// =============================================================================
// Health Types
// =============================================================================

// HealthStatus represents the health of a container or of the stack.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ContainerHealth is the observed health of one container.
type ContainerHealth struct {
	Service  string       `json:"service"`
	Name     string       `json:"name"`
	State    string       `json:"state"`
	Check    string       `json:"check,omitempty"` // docker health check result
	Restarts int          `json:"restarts"`
	Health   HealthStatus `json:"health"`
}

// HealthReport is the outcome of waiting for the stack. Status is either
// Healthy or Degraded; a timeout is reported, never raised.
type HealthReport struct {
	Status     HealthStatus      `json:"status"`
	Containers []ContainerHealth `json:"containers"`
	Waiting    []string          `json:"waiting,omitempty"` // services not yet healthy
	Attempts   int               `json:"attempts"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// Healthy reports whether the report is Healthy.
func (r HealthReport) Healthy() bool {
	return r.Status == HealthStatusHealthy
}

// =============================================================================
// Health Aggregation (Pure Functions)
// =============================================================================

// AggregateHealth determines overall stack health from container states.
func AggregateHealth(containers []ContainerHealth) HealthStatus {
	if len(containers) == 0 {
		return HealthStatusUnknown
	}

	unhealthy := 0
	degraded := 0

	for _, c := range containers {
		switch c.Health {
		case HealthStatusUnhealthy:
			unhealthy++
		case HealthStatusDegraded, HealthStatusUnknown:
			degraded++
		}
	}

	if unhealthy == len(containers) {
		return HealthStatusUnhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

// DetermineContainerHealth maps container state to health.
//
// Parameters:
// - status: Container status (running, exited, restarting, ...)
// - healthCheck: Docker health check result if the image defines one
// - restarts: Number of restarts since container creation
func DetermineContainerHealth(status string, healthCheck *string, restarts int) HealthStatus {
	if status != "running" {
		return HealthStatusUnhealthy
	}

	if healthCheck != nil && *healthCheck == "unhealthy" {
		return HealthStatusUnhealthy
	}

	// Many restarts indicate instability
	if restarts > 3 {
		return HealthStatusDegraded
	}

	if healthCheck != nil && *healthCheck == "starting" {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

// Pending returns the required services that are not healthy in
// containers, sorted. A required service with no container is pending.
func Pending(containers []ContainerHealth, required []string) []string {
	healthy := make(map[string]bool, len(containers))
	for _, c := range containers {
		if c.Health == HealthStatusHealthy {
			healthy[c.Service] = true
		}
	}

	var pending []string
	for _, svc := range required {
		if !healthy[svc] {
			pending = append(pending, svc)
		}
	}
	sort.Strings(pending)
	return pending
}
