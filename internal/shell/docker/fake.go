package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Fake Client
// =============================================================================

// FakeClient is an in-memory Client for tests. Containers are addressed by
// ID or name, like the real daemon.
type FakeClient struct {
	mu sync.Mutex

	Containers map[string]*FakeContainer // by ID
	Networks   map[string]NetworkSpec
	Volumes    map[string]VolumeSpec
	Images     map[string]bool

	// Calls records every mutating call as "Op name".
	Calls []string

	// HealthFunc reports the health of a container on each inspect.
	// Nil reports "healthy" for containers with a health check.
	HealthFunc func(name string) string

	// ExecFunc handles Exec. Nil returns exit code 0 and no output.
	ExecFunc func(name string, spec ExecSpec) (*ExecResult, error)

	// PingErr is returned by Ping.
	PingErr error

	nextID int
}

// FakeContainer is one container held by a FakeClient.
type FakeContainer struct {
	ID       string
	Spec     ContainerSpec
	Status   ContainerStatus
	Networks []string
	Restarts int
	Files    map[string][]byte // absolute path → content
	Logs     string
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Containers: make(map[string]*FakeContainer),
		Networks:   make(map[string]NetworkSpec),
		Volumes:    make(map[string]VolumeSpec),
		Images:     make(map[string]bool),
	}
}

func (f *FakeClient) record(op, name string) {
	f.Calls = append(f.Calls, op+" "+name)
}

func (f *FakeClient) find(idOrName string) (*FakeContainer, error) {
	if c, ok := f.Containers[idOrName]; ok {
		return c, nil
	}
	for _, c := range f.Containers {
		if c.Spec.Name == idOrName {
			return c, nil
		}
	}
	return nil, NewDockerError("find", "container", idOrName, "container not found", ErrContainerNotFound)
}

// Container returns the container named name, or nil.
func (f *FakeClient) Container(name string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, _ := f.find(name)
	return c
}

// CallsWithPrefix returns the recorded calls for op, in order.
func (f *FakeClient) CallsWithPrefix(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if rest, ok := strings.CutPrefix(c, op+" "); ok {
			out = append(out, rest)
		}
	}
	return out
}

func (f *FakeClient) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.Containers {
		if c.Spec.Name == spec.Name {
			return "", NewDockerError("CreateContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
		}
	}
	f.nextID++
	id := fmt.Sprintf("%064d", f.nextID)
	c := &FakeContainer{ID: id, Spec: spec, Status: ContainerStatusCreated, Files: map[string][]byte{}}
	if len(spec.Networks) > 0 {
		c.Networks = []string{spec.Networks[0]}
	}
	f.Containers[id] = c
	f.record("CreateContainer", spec.Name)
	return id, nil
}

func (f *FakeClient) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return err
	}
	if c.Status == ContainerStatusRunning {
		return NewDockerError("StartContainer", "container", id, "container is already running", ErrContainerAlreadyRunning)
	}
	c.Status = ContainerStatusRunning
	f.record("StartContainer", c.Spec.Name)
	return nil
}

func (f *FakeClient) StopContainer(_ context.Context, id string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return err
	}
	c.Status = ContainerStatusExited
	f.record("StopContainer", c.Spec.Name)
	return nil
}

func (f *FakeClient) RestartContainer(_ context.Context, id string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return err
	}
	c.Status = ContainerStatusRunning
	c.Restarts++
	f.record("RestartContainer", c.Spec.Name)
	return nil
}

func (f *FakeClient) RemoveContainer(_ context.Context, id string, _ RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return err
	}
	delete(f.Containers, c.ID)
	f.record("RemoveContainer", c.Spec.Name)
	return nil
}

func (f *FakeClient) info(c *FakeContainer) *ContainerInfo {
	info := &ContainerInfo{
		ID:           c.ID,
		Name:         c.Spec.Name,
		Image:        c.Spec.Image,
		Status:       c.Status,
		RestartCount: c.Restarts,
		Labels:       c.Spec.Labels,
		Ports:        c.Spec.Ports,
	}
	if c.Spec.HealthCheck != nil && c.Status == ContainerStatusRunning {
		info.Health = "healthy"
		if f.HealthFunc != nil {
			info.Health = f.HealthFunc(c.Spec.Name)
		}
	}
	return info
}

func (f *FakeClient) InspectContainer(_ context.Context, id string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return nil, err
	}
	return f.info(c), nil
}

// ListContainers supports the "label" filter in "key=value" form.
func (f *FakeClient) ListContainers(_ context.Context, opts ListOptions) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, value, _ := strings.Cut(opts.Filters["label"], "=")

	var out []ContainerInfo
	for _, c := range f.Containers {
		if !opts.All && c.Status != ContainerStatusRunning {
			continue
		}
		if key != "" && c.Spec.Labels[key] != value {
			continue
		}
		out = append(out, *f.info(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ContainerLogs returns the container's Logs as a single stdout frame.
func (f *FakeClient) ContainerLogs(_ context.Context, id string, _ LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	header := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	n := len(c.Logs)
	header[4], header[5], header[6], header[7] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
	buf.Write(header)
	buf.WriteString(c.Logs)
	return io.NopCloser(&buf), nil
}

func (f *FakeClient) Exec(_ context.Context, id string, spec ExecSpec) (*ExecResult, error) {
	f.mu.Lock()
	c, err := f.find(id)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if c.Status != ContainerStatusRunning {
		f.mu.Unlock()
		return nil, NewDockerError("Exec", "container", id, "container is not running", ErrContainerNotRunning)
	}
	name := c.Spec.Name
	f.record("Exec", name)
	fn := f.ExecFunc
	f.mu.Unlock()

	if fn == nil {
		return &ExecResult{}, nil
	}
	return fn(name, spec)
}

// CopyFromContainer returns a tar stream of every file under srcPath, with
// names relative to the parent of srcPath as the daemon does.
func (f *FakeClient) CopyFromContainer(_ context.Context, id, srcPath string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return nil, err
	}

	srcPath = path.Clean(srcPath)
	parent, base := path.Dir(srcPath), path.Base(srcPath)

	var paths []string
	for p := range c.Files {
		if p == srcPath || strings.HasPrefix(p, srcPath+"/") {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, NewDockerError("CopyFromContainer", "container", id, "no such path "+srcPath, ErrCopyFailed)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.WriteHeader(&tar.Header{Name: base + "/", Typeflag: tar.TypeDir, Mode: 0o700})
	for _, p := range paths {
		data := c.Files[p]
		_ = tw.WriteHeader(&tar.Header{Name: strings.TrimPrefix(p, parent+"/"), Mode: 0o600, Size: int64(len(data)), Typeflag: tar.TypeReg})
		_, _ = tw.Write(data)
	}
	_ = tw.Close()
	return io.NopCloser(&buf), nil
}

// CopyToContainer extracts regular files of the stream under dstDir.
func (f *FakeClient) CopyToContainer(_ context.Context, id, dstDir string, tarStream io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.find(id)
	if err != nil {
		return err
	}
	tr := tar.NewReader(tarStream)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return NewDockerError("CopyToContainer", "container", id, err.Error(), ErrCopyFailed)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return NewDockerError("CopyToContainer", "container", id, err.Error(), ErrCopyFailed)
		}
		c.Files[path.Join(dstDir, hdr.Name)] = data
	}
	f.record("CopyToContainer", c.Spec.Name)
	return nil
}

func (f *FakeClient) CreateNetwork(_ context.Context, spec NetworkSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Networks[spec.Name]; ok {
		return "", NewDockerError("CreateNetwork", "network", spec.Name, "network already exists", ErrNetworkAlreadyExists)
	}
	f.Networks[spec.Name] = spec
	f.record("CreateNetwork", spec.Name)
	return spec.Name, nil
}

func (f *FakeClient) RemoveNetwork(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Networks[id]; !ok {
		return NewDockerError("RemoveNetwork", "network", id, "network not found", ErrNetworkNotFound)
	}
	delete(f.Networks, id)
	f.record("RemoveNetwork", id)
	return nil
}

func (f *FakeClient) ConnectNetwork(_ context.Context, networkID, containerID string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Networks[networkID]; !ok {
		return NewDockerError("ConnectNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
	}
	c, err := f.find(containerID)
	if err != nil {
		return err
	}
	for _, n := range c.Networks {
		if n == networkID {
			return nil
		}
	}
	c.Networks = append(c.Networks, networkID)
	f.record("ConnectNetwork", networkID+" "+c.Spec.Name)
	return nil
}

func (f *FakeClient) CreateVolume(_ context.Context, spec VolumeSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Volumes[spec.Name]; !ok {
		f.Volumes[spec.Name] = spec
		f.record("CreateVolume", spec.Name)
	}
	return spec.Name, nil
}

func (f *FakeClient) RemoveVolume(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Volumes[name]; !ok {
		return NewDockerError("RemoveVolume", "volume", name, "volume not found", ErrVolumeNotFound)
	}
	delete(f.Volumes, name)
	f.record("RemoveVolume", name)
	return nil
}

func (f *FakeClient) PullImage(_ context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Images[image] = true
	f.record("PullImage", image)
	return nil
}

func (f *FakeClient) ImageExists(_ context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Images[image], nil
}

func (f *FakeClient) Ping(context.Context) error {
	return f.PingErr
}

func (f *FakeClient) Close() error {
	return nil
}

var _ Client = (*FakeClient)(nil)
var _ Client = (*DockerClient)(nil)
