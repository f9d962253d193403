package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Engine Client
// =============================================================================

// DockerClient implements Client against a Docker Engine API endpoint.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient connects to host, or to DOCKER_HOST and the default
// socket when host is empty. The API version is negotiated on first use.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", host, err.Error(), ErrConnectionFailed)
	}
	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", d.cli.DaemonHost(), err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Error Translation
// =============================================================================

var notFound = map[string]error{
	"container": ErrContainerNotFound,
	"network":   ErrNetworkNotFound,
	"volume":    ErrVolumeNotFound,
	"image":     ErrImageNotFound,
}

var alreadyExists = map[string]error{
	"container": ErrContainerAlreadyExists,
	"network":   ErrNetworkAlreadyExists,
}

// engineMessages maps engine message fragments that carry no typed class.
var engineMessages = []struct {
	fragment string
	sentinel error
}{
	{"port is already allocated", ErrPortAlreadyAllocated},
	{"is already running", ErrContainerAlreadyRunning},
	{"is not running", ErrContainerNotRunning},
	{"has active endpoints", ErrNetworkInUse},
	{"volume is in use", ErrVolumeInUse},
}

// translate maps an engine error onto the package sentinels. fallback
// is wrapped when nothing more specific matches; nil keeps err itself.
func translate(op, entity, id string, err, fallback error) error {
	msg := err.Error()
	if cerrdefs.IsNotFound(err) {
		if sentinel, ok := notFound[entity]; ok {
			return NewDockerError(op, entity, id, sentinel.Error(), sentinel)
		}
	}
	for _, m := range engineMessages {
		if strings.Contains(msg, m.fragment) {
			return NewDockerError(op, entity, id, msg, m.sentinel)
		}
	}
	if cerrdefs.IsConflict(err) || cerrdefs.IsAlreadyExists(err) || strings.Contains(msg, "already exists") {
		if sentinel, ok := alreadyExists[entity]; ok && strings.HasPrefix(op, "Create") {
			return NewDockerError(op, entity, id, sentinel.Error(), sentinel)
		}
	}
	if fallback == nil {
		fallback = err
	}
	return NewDockerError(op, entity, id, msg, fallback)
}

// =============================================================================
// Container Operations
// =============================================================================

// CreateContainer creates a new container from the given spec. Only the
// first network is attached here; the caller connects the rest.
func (d *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Labels: spec.Labels,
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		config.Env = append(config.Env, k+"="+spec.Env[k])
	}

	hostConfig := &container.HostConfig{
		CapAdd:  spec.CapAdd,
		Sysctls: spec.Sysctls,
	}

	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.HostPort != 0 {
				hostPort = fmt.Sprintf("%d", p.HostPort)
			}
			portBindings[containerPort] = append(portBindings[containerPort], nat.PortBinding{
				HostIP:   p.HostIP,
				HostPort: hostPort,
			})
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	for _, v := range spec.Volumes {
		mountType := mount.TypeVolume
		if v.Bind {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if spec.RestartPolicy.Name != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	if spec.HealthCheck != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:        spec.HealthCheck.Test,
			Interval:    spec.HealthCheck.Interval,
			Timeout:     spec.HealthCheck.Timeout,
			Retries:     spec.HealthCheck.Retries,
			StartPeriod: spec.HealthCheck.StartPeriod,
		}
	}

	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		first := spec.Networks[0]
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				first: {Aliases: spec.NetworkAliases[first]},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", translate("CreateContainer", "container", spec.Name, err, nil)
	}

	return resp.ID, nil
}

// StartContainer starts a stopped container.
func (d *DockerClient) StartContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return translate("StartContainer", "container", containerID, err, nil)
	}
	return nil
}

func stopOptions(timeout *time.Duration) container.StopOptions {
	opts := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		opts.Timeout = &seconds
	}
	return opts
}

// StopContainer stops a running container.
func (d *DockerClient) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	if err := d.cli.ContainerStop(ctx, containerID, stopOptions(timeout)); err != nil {
		return translate("StopContainer", "container", containerID, err, nil)
	}
	return nil
}

// RestartContainer stops then starts a container.
func (d *DockerClient) RestartContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	if err := d.cli.ContainerRestart(ctx, containerID, stopOptions(timeout)); err != nil {
		return translate("RestartContainer", "container", containerID, err, nil)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	})
	if err != nil {
		return translate("RemoveContainer", "container", containerID, err, nil)
	}
	return nil
}

// InspectContainer returns detailed information about a container.
func (d *DockerClient) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, translate("InspectContainer", "container", containerID, err, nil)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, resp.Created)

	info := &ContainerInfo{
		ID:           resp.ID,
		Name:         strings.TrimPrefix(resp.Name, "/"),
		CreatedAt:    createdAt,
		RestartCount: resp.RestartCount,
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	if resp.State != nil {
		info.Status = ContainerStatus(resp.State.Status)
		info.ExitCode = resp.State.ExitCode
		if resp.State.Health != nil {
			info.Health = resp.State.Health.Status
		}
		if resp.State.StartedAt != "" && resp.State.StartedAt != "0001-01-01T00:00:00Z" {
			t, _ := time.Parse(time.RFC3339Nano, resp.State.StartedAt)
			info.StartedAt = &t
		}
	}
	if resp.NetworkSettings != nil {
		for containerPort, bindings := range resp.NetworkSettings.Ports {
			for _, binding := range bindings {
				var hostPort int
				fmt.Sscanf(binding.HostPort, "%d", &hostPort)
				info.Ports = append(info.Ports, PortBinding{
					ContainerPort: containerPort.Int(),
					HostPort:      hostPort,
					Protocol:      containerPort.Proto(),
					HostIP:        binding.HostIP,
				})
			}
		}
	}

	return info, nil
}

// ListContainers returns a list of containers matching the given options.
func (d *DockerClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{All: opts.All}
	if len(opts.Filters) > 0 {
		f := filters.NewArgs()
		for k, v := range opts.Filters {
			f.Add(k, v)
		}
		listOpts.Filters = f
	}

	containers, err := d.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, translate("ListContainers", "container", "", err, nil)
	}

	var result []ContainerInfo
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		})
	}

	return result, nil
}

// ContainerLogs returns the multiplexed log stream of a container.
func (d *DockerClient) ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error) {
	reader, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	})
	if err != nil {
		return nil, translate("ContainerLogs", "container", containerID, err, nil)
	}
	return reader, nil
}

// =============================================================================
// Exec and Copy
// =============================================================================

// Exec runs a command inside a running container and collects its output.
func (d *DockerClient) Exec(ctx context.Context, containerID string, spec ExecSpec) (*ExecResult, error) {
	opts := container.ExecOptions{
		Cmd:          spec.Cmd,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  spec.Stdin != nil,
	}
	for k, v := range spec.Env {
		opts.Env = append(opts.Env, k+"="+v)
	}
	sort.Strings(opts.Env)

	created, err := d.cli.ContainerExecCreate(ctx, containerID, opts)
	if err != nil {
		return nil, translate("Exec", "container", containerID, err, ErrExecFailed)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, NewDockerError("Exec", "container", containerID, err.Error(), ErrExecFailed)
	}
	defer attach.Close()

	stdinErr := make(chan error, 1)
	if spec.Stdin != nil {
		go func() {
			_, err := io.Copy(attach.Conn, spec.Stdin)
			_ = attach.CloseWrite()
			stdinErr <- err
		}()
	} else {
		stdinErr <- nil
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, NewDockerError("Exec", "container", containerID, err.Error(), ErrExecFailed)
	}
	if err := <-stdinErr; err != nil {
		return nil, NewDockerError("Exec", "container", containerID, "write stdin: "+err.Error(), ErrExecFailed)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, NewDockerError("Exec", "container", containerID, err.Error(), ErrExecFailed)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// CopyFromContainer returns a tar stream of srcPath.
func (d *DockerClient) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		return nil, translate("CopyFromContainer", "container", containerID, err, ErrCopyFailed)
	}
	return rc, nil
}

// CopyToContainer extracts a tar stream into dstDir.
func (d *DockerClient) CopyToContainer(ctx context.Context, containerID, dstDir string, tarStream io.Reader) error {
	if err := d.cli.CopyToContainer(ctx, containerID, dstDir, tarStream, container.CopyToContainerOptions{}); err != nil {
		return translate("CopyToContainer", "container", containerID, err, ErrCopyFailed)
	}
	return nil
}

// =============================================================================
// Network Operations
// =============================================================================

// CreateNetwork creates a new Docker network.
func (d *DockerClient) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}

	resp, err := d.cli.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver:   driver,
		Internal: spec.Internal,
		Labels:   spec.Labels,
	})
	if err != nil {
		return "", translate("CreateNetwork", "network", spec.Name, err, nil)
	}

	return resp.ID, nil
}

// RemoveNetwork removes a Docker network.
func (d *DockerClient) RemoveNetwork(ctx context.Context, networkID string) error {
	if err := d.cli.NetworkRemove(ctx, networkID); err != nil {
		return translate("RemoveNetwork", "network", networkID, err, nil)
	}
	return nil
}

// ConnectNetwork connects a container to a network under the given aliases.
func (d *DockerClient) ConnectNetwork(ctx context.Context, networkID, containerID string, aliases []string) error {
	err := d.cli.NetworkConnect(ctx, networkID, containerID, &network.EndpointSettings{Aliases: aliases})
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "already exists"):
		// endpoint already attached
		return nil
	case cerrdefs.IsNotFound(err) && !strings.Contains(err.Error(), "network"):
		return translate("ConnectNetwork", "container", containerID, err, nil)
	default:
		return translate("ConnectNetwork", "network", networkID, err, nil)
	}
}

// =============================================================================
// Volume Operations
// =============================================================================

// CreateVolume creates a new Docker volume. Creating an existing volume
// returns it unchanged.
func (d *DockerClient) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "local"
	}

	resp, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   spec.Name,
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		return "", translate("CreateVolume", "volume", spec.Name, err, nil)
	}

	return resp.Name, nil
}

// RemoveVolume removes a Docker volume.
func (d *DockerClient) RemoveVolume(ctx context.Context, volumeName string, force bool) error {
	if err := d.cli.VolumeRemove(ctx, volumeName, force); err != nil {
		return translate("RemoveVolume", "volume", volumeName, err, nil)
	}
	return nil
}

// =============================================================================
// Image Operations
// =============================================================================

// PullImage pulls an image from the registry.
func (d *DockerClient) PullImage(ctx context.Context, imageName string) error {
	reader, err := d.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		if strings.Contains(err.Error(), "manifest unknown") || strings.Contains(err.Error(), "pull access denied") {
			return NewDockerError("PullImage", "image", imageName, "image not found", ErrImageNotFound)
		}
		return translate("PullImage", "image", imageName, err, ErrImagePullFailed)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewDockerError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// ImageExists checks if an image exists locally.
func (d *DockerClient) ImageExists(ctx context.Context, imageName string) (bool, error) {
	_, err := d.cli.ImageInspect(ctx, imageName)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, translate("ImageExists", "image", imageName, err, nil)
	}
	return true, nil
}
