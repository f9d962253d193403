// Package deployment plans the bring-up of a loaded topology and holds the
// lifecycle state machine of an install target. Everything here is pure.
//
//   - Naming: runtime object names (NetworkName, VolumeName, ContainerName)
//   - Ordering: services sorted by depends_on (TopologicalSort)
//   - Container: runtime plans from compose services (BuildContainerPlan)
//   - States: lifecycle transitions (CanTransition, DetermineStartPath)
//
// The docker orchestrator executes the plans; the lifecycle manager checks
// every ledger transition against the state machine.
//
//	ordered, err := deployment.TopologicalSort(spec.Services)
//	plan := deployment.BuildContainerPlan(params)
package deployment
