package docker

import (
	"errors"
	"strings"
)

// =============================================================================
// Sentinels
// =============================================================================

// Runtime object errors. Client implementations translate engine responses
// into these so the orchestrator and its fakes agree on meaning.
var (
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")

	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")
	ErrNetworkInUse         = errors.New("network has active endpoints")

	ErrVolumeNotFound = errors.New("volume not found")
	ErrVolumeInUse    = errors.New("volume is in use")

	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")

	// ErrExecFailed covers exec sessions that could not be created or
	// attached. A command that ran and exited non-zero is not an error.
	ErrExecFailed = errors.New("exec failed")
	ErrCopyFailed = errors.New("copy failed")

	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("container runtime unreachable")

	// ErrServiceNotFound means a stack service has no container yet.
	ErrServiceNotFound = errors.New("service has no container")
)

// DockerError is a failed runtime call on one object of the stack.
type DockerError struct {
	Op      string // runtime call, e.g. "ContainerCreate"
	Entity  string // container, network, volume, image, exec
	ID      string // name or id when known
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	for _, part := range []string{e.Entity, e.ID} {
		if part != "" {
			b.WriteByte(' ')
			b.WriteString(part)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}
