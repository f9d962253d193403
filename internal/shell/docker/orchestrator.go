package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/artpar/tunnelgate/internal/core/compose"
	"github.com/artpar/tunnelgate/internal/core/deployment"
	"github.com/artpar/tunnelgate/internal/core/monitoring"
)

// =============================================================================
// Orchestrator - Manages the Stack Lifecycle
// =============================================================================

// DefaultStopTimeout is the grace period given to a container on stop.
const DefaultStopTimeout = 10 * time.Second

// Orchestrator runs one compose project on a Docker daemon. Containers are
// found again through their project and service labels.
type Orchestrator struct {
	docker      Client
	logger      *slog.Logger
	project     string
	stopTimeout time.Duration
}

// NewOrchestrator creates a new orchestrator for project.
func NewOrchestrator(docker Client, logger *slog.Logger, project string) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if project == "" {
		project = compose.DefaultProjectName
	}
	return &Orchestrator{
		docker:      docker,
		logger:      logger.With("component", "orchestrator"),
		project:     project,
		stopTimeout: DefaultStopTimeout,
	}
}

// Project returns the compose project name.
func (o *Orchestrator) Project() string {
	return o.project
}

// =============================================================================
// Up
// =============================================================================

// Up creates networks and volumes, then creates and starts every service in
// dependency order. An existing container is reused and started if stopped
// when its config hash matches the service; otherwise it is recreated.
// It returns the started containers in start order.
func (o *Orchestrator) Up(ctx context.Context, spec *compose.ParsedSpec) ([]ContainerInfo, error) {
	ordered, err := deployment.TopologicalSort(spec.Services)
	if err != nil {
		return nil, fmt.Errorf("order services: %w", err)
	}

	o.logger.Info("bringing stack up",
		"project", o.project,
		"services", deployment.ServiceNames(ordered),
	)

	if err := o.ensureNetworks(ctx, spec.Networks); err != nil {
		return nil, err
	}
	if err := o.ensureVolumes(ctx, spec.Volumes); err != nil {
		return nil, err
	}
	o.ensureImages(ctx, ordered)

	existing, err := o.containersByService(ctx)
	if err != nil {
		return nil, err
	}

	var started []ContainerInfo
	for _, svc := range ordered {
		if err := ctx.Err(); err != nil {
			return started, err
		}

		id, err := o.ensureContainer(ctx, svc, existing)
		if err != nil {
			return started, err
		}

		if err := o.docker.StartContainer(ctx, id); err != nil && !errors.Is(err, ErrContainerAlreadyRunning) {
			return started, fmt.Errorf("start %s: %w", svc.Name, err)
		}

		info, err := o.docker.InspectContainer(ctx, id)
		if err != nil {
			return started, fmt.Errorf("inspect %s: %w", svc.Name, err)
		}
		o.logger.Info("service started", "service", svc.Name, "container", info.Name)
		started = append(started, *info)
	}

	return started, nil
}

func (o *Orchestrator) ensureContainer(ctx context.Context, svc compose.Service, existing map[string]ContainerInfo) (string, error) {
	plan := deployment.BuildContainerPlan(deployment.BuildContainerPlanParams{
		Project: o.project,
		Service: svc,
	})

	if c, ok := existing[svc.Name]; ok {
		if c.Labels[deployment.LabelConfigHash] == plan.Labels[deployment.LabelConfigHash] {
			o.logger.Debug("reusing container", "service", svc.Name, "container", c.Name)
			return c.ID, nil
		}
		o.logger.Info("configuration changed, recreating container", "service", svc.Name, "container", c.Name)
		if err := o.docker.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
			return "", fmt.Errorf("remove %s: %w", svc.Name, err)
		}
	}

	spec := specFromPlan(plan)

	id, err := o.docker.CreateContainer(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", svc.Name, err)
	}
	for _, n := range spec.Networks[min(1, len(spec.Networks)):] {
		if err := o.docker.ConnectNetwork(ctx, n, id, spec.NetworkAliases[n]); err != nil {
			return "", fmt.Errorf("connect %s to %s: %w", svc.Name, n, err)
		}
	}
	o.logger.Debug("created container", "service", svc.Name, "container", spec.Name)
	return id, nil
}

func (o *Orchestrator) ensureNetworks(ctx context.Context, networks []compose.Network) error {
	for _, n := range networks {
		if n.External {
			continue
		}
		name := deployment.NetworkName(o.project, n.Name)
		_, err := o.docker.CreateNetwork(ctx, NetworkSpec{
			Name:     name,
			Driver:   n.Driver,
			Internal: n.Internal,
			Labels:   o.labels(),
		})
		if err != nil && !errors.Is(err, ErrNetworkAlreadyExists) {
			return fmt.Errorf("create network %s: %w", name, err)
		}
	}
	return nil
}

func (o *Orchestrator) ensureVolumes(ctx context.Context, volumes []compose.Volume) error {
	for _, v := range volumes {
		if v.External {
			continue
		}
		name := deployment.VolumeName(o.project, v.Name)
		if _, err := o.docker.CreateVolume(ctx, VolumeSpec{Name: name, Driver: v.Driver, Labels: o.labels()}); err != nil {
			return fmt.Errorf("create volume %s: %w", name, err)
		}
	}
	return nil
}

func (o *Orchestrator) ensureImages(ctx context.Context, services []compose.Service) {
	for _, svc := range services {
		exists, _ := o.docker.ImageExists(ctx, svc.Image)
		if exists {
			continue
		}
		o.logger.Info("pulling image", "image", svc.Image)
		if err := o.docker.PullImage(ctx, svc.Image); err != nil {
			o.logger.Warn("failed to pull image, trying anyway", "image", svc.Image, "error", err)
		}
	}
}

func (o *Orchestrator) labels() map[string]string {
	return map[string]string{
		deployment.LabelManaged: "true",
		deployment.LabelProject: o.project,
	}
}

// specFromPlan converts a container plan into a runtime spec. Every network
// carries the service name as alias so peers resolve it by name.
func specFromPlan(plan deployment.ContainerPlan) ContainerSpec {
	spec := ContainerSpec{
		Name:           plan.Name,
		Image:          plan.Image,
		Command:        plan.Command,
		Env:            plan.Env,
		Labels:         plan.Labels,
		Networks:       plan.Networks,
		NetworkAliases: make(map[string][]string, len(plan.Networks)),
		RestartPolicy: RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
		CapAdd:  plan.CapAdd,
		Sysctls: plan.Sysctls,
	}

	for _, n := range plan.Networks {
		spec.NetworkAliases[n] = []string{plan.Service}
	}
	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}
	for _, v := range plan.Volumes {
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Bind:     v.Type == compose.VolumeMountTypeBind,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}
	if plan.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:        plan.HealthCheck.Test,
			Interval:    plan.HealthCheck.Interval,
			Timeout:     plan.HealthCheck.Timeout,
			Retries:     plan.HealthCheck.Retries,
			StartPeriod: plan.HealthCheck.StartPeriod,
		}
	}
	return spec
}

// =============================================================================
// Stop / Restart / Down
// =============================================================================

// Stop stops every running container of the project, dependents first.
func (o *Orchestrator) Stop(ctx context.Context, spec *compose.ParsedSpec) error {
	containers, err := o.ordered(ctx, spec, true)
	if err != nil {
		return err
	}

	for _, c := range containers {
		if c.Status != ContainerStatusRunning {
			continue
		}
		if err := o.docker.StopContainer(ctx, c.ID, &o.stopTimeout); err != nil && !errors.Is(err, ErrContainerNotRunning) {
			return fmt.Errorf("stop %s: %w", c.Name, err)
		}
		o.logger.Info("container stopped", "container", c.Name)
	}
	return nil
}

// Restart restarts every container of the project in dependency order.
func (o *Orchestrator) Restart(ctx context.Context, spec *compose.ParsedSpec) error {
	containers, err := o.ordered(ctx, spec, false)
	if err != nil {
		return err
	}

	for _, c := range containers {
		if err := o.docker.RestartContainer(ctx, c.ID, &o.stopTimeout); err != nil {
			return fmt.Errorf("restart %s: %w", c.Name, err)
		}
		o.logger.Info("container restarted", "container", c.Name)
	}
	return nil
}

// Down stops and removes every container and network of the project.
// Named volumes survive unless removeVolumes is set.
func (o *Orchestrator) Down(ctx context.Context, spec *compose.ParsedSpec, removeVolumes bool) error {
	if err := o.Stop(ctx, spec); err != nil {
		return err
	}

	containers, err := o.ordered(ctx, spec, true)
	if err != nil {
		return err
	}
	for _, c := range containers {
		if err := o.docker.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
			return fmt.Errorf("remove %s: %w", c.Name, err)
		}
		o.logger.Debug("removed container", "container", c.Name)
	}

	for _, n := range spec.Networks {
		if n.External {
			continue
		}
		name := deployment.NetworkName(o.project, n.Name)
		if err := o.docker.RemoveNetwork(ctx, name); err != nil && !errors.Is(err, ErrNetworkNotFound) {
			o.logger.Warn("failed to remove network", "network", name, "error", err)
		}
	}

	if removeVolumes {
		for _, v := range spec.Volumes {
			if v.External {
				continue
			}
			name := deployment.VolumeName(o.project, v.Name)
			if err := o.docker.RemoveVolume(ctx, name, true); err != nil && !errors.Is(err, ErrVolumeNotFound) {
				o.logger.Warn("failed to remove volume", "volume", name, "error", err)
			}
		}
	}

	o.logger.Info("stack removed", "project", o.project, "volumes_removed", removeVolumes)
	return nil
}

// Update pulls every image and recreates all containers. Volumes and
// networks are kept.
func (o *Orchestrator) Update(ctx context.Context, spec *compose.ParsedSpec) ([]ContainerInfo, error) {
	for _, svc := range spec.Services {
		o.logger.Info("pulling image", "image", svc.Image)
		if err := o.docker.PullImage(ctx, svc.Image); err != nil {
			return nil, fmt.Errorf("pull %s: %w", svc.Image, err)
		}
	}

	if err := o.Stop(ctx, spec); err != nil {
		return nil, err
	}
	containers, err := o.ordered(ctx, spec, true)
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if err := o.docker.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
			return nil, fmt.Errorf("remove %s: %w", c.Name, err)
		}
	}

	return o.Up(ctx, spec)
}

// ordered returns the project's containers in dependency order, reversed
// when reverse is set. Containers of services absent from spec come last.
func (o *Orchestrator) ordered(ctx context.Context, spec *compose.ParsedSpec, reverse bool) ([]ContainerInfo, error) {
	byService, err := o.containersByService(ctx)
	if err != nil {
		return nil, err
	}

	sorted, err := deployment.TopologicalSort(spec.Services)
	if err != nil {
		return nil, fmt.Errorf("order services: %w", err)
	}

	var out []ContainerInfo
	for _, svc := range sorted {
		if c, ok := byService[svc.Name]; ok {
			out = append(out, c)
			delete(byService, svc.Name)
		}
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	var rest []string
	for name := range byService {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, byService[name])
	}
	return out, nil
}

// =============================================================================
// Inspection
// =============================================================================

// containersByService lists the project's containers keyed by service.
func (o *Orchestrator) containersByService(ctx context.Context) (map[string]ContainerInfo, error) {
	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", deployment.LabelProject, o.project),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make(map[string]ContainerInfo, len(containers))
	for _, c := range containers {
		if svc, ok := c.Labels[deployment.LabelService]; ok {
			out[svc] = c
		}
	}
	return out, nil
}

// ContainerID returns the container running service.
func (o *Orchestrator) ContainerID(ctx context.Context, service string) (string, error) {
	byService, err := o.containersByService(ctx)
	if err != nil {
		return "", err
	}
	c, ok := byService[service]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}
	return c.ID, nil
}

// Health inspects every project container and reports its health, sorted
// by service name.
func (o *Orchestrator) Health(ctx context.Context) ([]monitoring.ContainerHealth, error) {
	byService, err := o.containersByService(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(byService))
	for name := range byService {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]monitoring.ContainerHealth, 0, len(names))
	for _, name := range names {
		info, err := o.docker.InspectContainer(ctx, byService[name].ID)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}

		var check *string
		if info.Health != "" {
			check = &info.Health
		}
		out = append(out, monitoring.ContainerHealth{
			Service:  name,
			Name:     info.Name,
			State:    string(info.Status),
			Check:    info.Health,
			Restarts: info.RestartCount,
			Health:   monitoring.DetermineContainerHealth(string(info.Status), check, info.RestartCount),
		})
	}
	return out, nil
}

// =============================================================================
// Service Access
// =============================================================================

// Logs writes the demultiplexed logs of service to w.
func (o *Orchestrator) Logs(ctx context.Context, service string, opts LogOptions, w io.Writer) error {
	id, err := o.ContainerID(ctx, service)
	if err != nil {
		return err
	}
	reader, err := o.docker.ContainerLogs(ctx, id, opts)
	if err != nil {
		return err
	}
	defer reader.Close()

	if _, err := stdcopy.StdCopy(w, w, reader); err != nil {
		return fmt.Errorf("read logs of %s: %w", service, err)
	}
	return nil
}

// Exec runs a command in service's container.
func (o *Orchestrator) Exec(ctx context.Context, service string, spec ExecSpec) (*ExecResult, error) {
	id, err := o.ContainerID(ctx, service)
	if err != nil {
		return nil, err
	}
	return o.docker.Exec(ctx, id, spec)
}

// CopyFrom returns a tar stream of path inside service's container.
func (o *Orchestrator) CopyFrom(ctx context.Context, service, path string) (io.ReadCloser, error) {
	id, err := o.ContainerID(ctx, service)
	if err != nil {
		return nil, err
	}
	return o.docker.CopyFromContainer(ctx, id, path)
}

// CopyTo extracts a tar stream into dir inside service's container.
func (o *Orchestrator) CopyTo(ctx context.Context, service, dir string, tarStream io.Reader) error {
	id, err := o.ContainerID(ctx, service)
	if err != nil {
		return err
	}
	return o.docker.CopyToContainer(ctx, id, dir, tarStream)
}
