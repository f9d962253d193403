package compose

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Loader
// =============================================================================

// LoadOptions control how a compose file is loaded.
type LoadOptions struct {
	// ProjectName names the project; defaults to DefaultProjectName.
	ProjectName string
	// WorkingDir is the base for relative bind mounts. When empty, paths are
	// left as written.
	WorkingDir string
	// Environment feeds ${VAR} interpolation.
	Environment map[string]string
}

// DefaultProjectName is the compose project name of the stack.
const DefaultProjectName = "tunnelgate"

// Load parses compose YAML with compose-go and converts it to a ParsedSpec.
// No files are read; bind sources are resolved lexically against WorkingDir.
func Load(ctx context.Context, content []byte, opts LoadOptions) (*ParsedSpec, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(ctx, content, opts)
	if err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	spec := &ParsedSpec{
		Name:     project.Name,
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		spec.Services = append(spec.Services, converted)
	}
	sort.Slice(spec.Services, func(i, j int) bool { return spec.Services[i].Name < spec.Services[j].Name })

	if err := validateDependencies(spec.Services); err != nil {
		return nil, err
	}
	if err := validatePorts(spec.Services); err != nil {
		return nil, err
	}

	for name, net := range project.Networks {
		spec.Networks = append(spec.Networks, convertNetwork(name, net))
	}
	sort.Slice(spec.Networks, func(i, j int) bool { return spec.Networks[i].Name < spec.Networks[j].Name })

	for name, vol := range project.Volumes {
		spec.Volumes = append(spec.Volumes, convertVolume(name, vol))
	}
	sort.Slice(spec.Volumes, func(i, j int) bool { return spec.Volumes[i].Name < spec.Volumes[j].Name })

	return spec, nil
}

func loadProject(ctx context.Context, content []byte, opts LoadOptions) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil || dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	name := opts.ProjectName
	if name == "" {
		name = DefaultProjectName
	}

	project, err := loader.LoadWithContext(ctx, types.ConfigDetails{
		WorkingDir: opts.WorkingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "docker-compose.yml",
				Content:  content,
				Config:   dict,
			},
		},
		Environment: types.Mapping(opts.Environment),
	}, func(o *loader.Options) {
		o.SetProjectName(name, true)
		o.SkipExtends = true
		o.SkipInclude = true
		o.ResolvePaths = opts.WorkingDir != ""
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "depends_on cycle", ErrCircularDependency)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// convertService maps a compose-go service onto Service. Map-valued fields
// become sorted slices so two loads of the same file compare equal.
func convertService(svc types.ServiceConfig) (Service, error) {
	if svc.Image == "" {
		return Service{}, NewParseError("services."+svc.Name, "no image", ErrServiceNoImage)
	}

	service := Service{
		Name:          svc.Name,
		Image:         svc.Image,
		ContainerName: svc.ContainerName,
		Command:       svc.Command,
		Environment:   make(map[string]string, len(svc.Environment)),
		Labels:        maps.Clone(map[string]string(svc.Labels)),
		Networks:      slices.Sorted(maps.Keys(svc.Networks)),
		DependsOn:     slices.Sorted(maps.Keys(svc.DependsOn)),
		CapAdd:        svc.CapAdd,
		Restart:       RestartPolicy(svc.Restart),
		Sysctls:       maps.Clone(map[string]string(svc.Sysctls)),
		HealthCheck:   convertHealthCheck(svc.HealthCheck),
	}
	if service.Labels == nil {
		service.Labels = map[string]string{}
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for i, p := range svc.Ports {
		port := Port{Target: p.Target, Protocol: p.Protocol, HostIP: p.HostIP}
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err != nil {
				field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
				return Service{}, NewParseError(field, "published port must be numeric", ErrServiceInvalidPort)
			}
			port.Published = uint32(pub)
		}
		service.Ports = append(service.Ports, port)
	}

	for _, v := range svc.Volumes {
		service.Volumes = append(service.Volumes, VolumeMount{
			Type:     mountType(v.Type),
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	return service, nil
}

func mountType(t string) VolumeMountType {
	switch t {
	case types.VolumeTypeBind:
		return VolumeMountTypeBind
	case types.VolumeTypeTmpfs:
		return VolumeMountTypeTmpfs
	default:
		return VolumeMountTypeVolume
	}
}

func convertHealthCheck(hc *types.HealthCheckConfig) *HealthCheck {
	if hc == nil || hc.Disable {
		return nil
	}
	out := &HealthCheck{Test: hc.Test}
	if hc.Retries != nil {
		out.Retries = int(*hc.Retries)
	}
	if hc.Interval != nil {
		out.Interval = hc.Interval.String()
	}
	if hc.Timeout != nil {
		out.Timeout = hc.Timeout.String()
	}
	if hc.StartPeriod != nil {
		out.StartPeriod = hc.StartPeriod.String()
	}
	return out
}

func convertNetwork(name string, net types.NetworkConfig) Network {
	return Network{
		Name:     name,
		Driver:   net.Driver,
		External: bool(net.External),
		Internal: net.Internal,
		Labels:   net.Labels,
	}
}

func convertVolume(name string, vol types.VolumeConfig) Volume {
	return Volume{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}

// validateDependencies rejects depends_on entries naming undefined services
// and dependency cycles. Cycles are found by peeling off services whose
// dependencies are all resolved; anything left over sits on a cycle.
func validateDependencies(services []Service) error {
	pending := make(map[string][]string, len(services))
	for _, svc := range services {
		pending[svc.Name] = svc.DependsOn
	}
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if _, ok := pending[dep]; !ok {
				return NewParseError("services."+svc.Name+".depends_on", fmt.Sprintf("unknown service %q", dep), ErrUnknownDependency)
			}
		}
	}

	resolved := make(map[string]bool, len(services))
	for progress := true; progress; {
		progress = false
		for name, deps := range pending {
			if slices.ContainsFunc(deps, func(d string) bool { return !resolved[d] }) {
				continue
			}
			resolved[name] = true
			delete(pending, name)
			progress = true
		}
	}
	if len(pending) > 0 {
		stuck := slices.Sorted(maps.Keys(pending))
		return NewParseError("services."+stuck[0]+".depends_on", "dependency cycle through "+strings.Join(stuck, ", "), ErrCircularDependency)
	}
	return nil
}

// validatePorts checks port ranges; compose-go accepts out-of-range values.
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			switch {
			case port.Target == 0:
				return NewParseError(field, "target port is 0", ErrServiceInvalidPort)
			case port.Target > 65535:
				return NewParseError(field, "target port out of range", ErrServiceInvalidPort)
			case port.Published > 65535:
				return NewParseError(field, "published port out of range", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}

// =============================================================================
// Variable Extraction
// =============================================================================

// placeholderPattern matches ${NAME} and ${NAME:-default}.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-[^}]*)?\}`)

// ExtractVariablesFromYAML lists the ${NAME} placeholders of an
// uninterpolated descriptor, unique and in order of first appearance.
func ExtractVariablesFromYAML(content string) []string {
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if !slices.Contains(names, match[1]) {
			names = append(names, match[1])
		}
	}
	return names
}
