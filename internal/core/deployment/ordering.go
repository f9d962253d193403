package deployment

import (
	"errors"
	"sort"

	"github.com/artpar/tunnelgate/internal/core/compose"
)

// ErrDependencyCycle is returned when services cannot be ordered.
var ErrDependencyCycle = errors.New("services have a dependency cycle")

// =============================================================================
// Service Ordering Functions
// =============================================================================

// TopologicalSort sorts services by their dependencies using Kahn's algorithm.
// Services with no dependencies come first; among services that are ready at
// the same time, names sort alphabetically, so the order is deterministic.
//
// Example:
//
//	// Services: web → api → db
//	services := []compose.Service{
//	    {Name: "web", DependsOn: []string{"api"}},
//	    {Name: "api", DependsOn: []string{"db"}},
//	    {Name: "db"},
//	}
//	sorted, _ := TopologicalSort(services)
//	// Result: [db, api, web]
func TopologicalSort(services []compose.Service) ([]compose.Service, error) {
	if len(services) == 0 {
		return services, nil
	}

	serviceMap := make(map[string]compose.Service, len(services))
	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
	}
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if _, ok := serviceMap[dep]; !ok {
				continue // external or undefined; not ours to order
			}
			inDegree[svc.Name]++
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var ready []string
	for name := range serviceMap {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	result := make([]compose.Service, 0, len(services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		result = append(result, serviceMap[name])

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(result) < len(serviceMap) {
		return nil, ErrDependencyCycle
	}
	return result, nil
}

// ServiceNames returns the names of services in order.
func ServiceNames(services []compose.Service) []string {
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	return names
}
