package deployment

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the name of a project network. It matches the name
// docker compose would give the same network.
// Pattern: {project}_{network}
//
// Example:
//
//	NetworkName("tunnelgate", "edge") // returns "tunnelgate_edge"
func NetworkName(project, network string) string {
	return fmt.Sprintf("%s_%s", project, network)
}

// VolumeName generates the name of a project volume.
// Pattern: {project}_{volume}
//
// Example:
//
//	VolumeName("tunnelgate", "postgres-data") // returns "tunnelgate_postgres-data"
func VolumeName(project, volume string) string {
	return fmt.Sprintf("%s_%s", project, volume)
}

// ContainerName generates a container name for a service.
// Pattern: {project}-{service}
//
// Example:
//
//	ContainerName("tunnelgate", "postgres") // returns "tunnelgate-postgres"
func ContainerName(project, service string) string {
	return fmt.Sprintf("%s-%s", project, service)
}
