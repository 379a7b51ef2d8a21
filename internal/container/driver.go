// Package container provides a thin typed Docker driver for agent
// containers.
package container

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/opencommander/opencommander/internal/ocerr"
)

// Mount describes a single bind/volume mount for a container.
type Mount struct {
	Source string
	Target string
	// Mode is an optional Docker mount mode suffix (e.g. "ro").
	Mode string
}

// Spec describes a container to create.
type Spec struct {
	Name       string
	Image      string
	Network    string
	Env        map[string]string
	Mounts     []Mount
	ExtraHosts []string
	Args       []string
}

// NetworkOptions configures network creation.
type NetworkOptions struct {
	Internal bool
}

// ExecResult is the outcome of a one-shot exec call.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Driver abstracts a container engine. Every method except Run has bounded
// wall time or returns promptly; Run is the only operation allowed to block
// indefinitely.
type Driver interface {
	Run(ctx context.Context, spec Spec) error
	Start(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, timeout time.Duration) error
	SafeRemove(ctx context.Context, name string) error
	// IsRunning returns (running, ok). ok is false when no such container
	// exists, distinguishing absence from "exists, not running".
	IsRunning(ctx context.Context, name string) (running bool, ok bool, err error)
	Exec(ctx context.Context, name string, argv []string) (ExecResult, error)
	// ExecAttach starts argv in the named container with stdin attached and
	// returns the hijacked duplex stream, for the WebSocket proxy's
	// exec-tunnel fallback path.
	ExecAttach(ctx context.Context, name string, argv []string) (io.ReadWriteCloser, error)
	Pull(ctx context.Context, image string) error
	EnsureNetwork(ctx context.Context, name string, opts NetworkOptions) (string, error)
}

// DockerDriver implements Driver against the Docker Engine API.
type DockerDriver struct {
	cli     *client.Client
	runtime string
}

// NewDockerDriver creates a Docker-backed driver. runtime selects an
// alternate OCI runtime ("" = default runc, "runsc" = gVisor).
func NewDockerDriver(runtime string) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerDriver{cli: cli, runtime: runtime}, nil
}

// Client exposes the underlying Docker client for callers (e.g. the proxy's
// exec-tunnel fallback) that need lower-level access than Driver provides.
func (d *DockerDriver) Client() *client.Client {
	return d.cli
}

// Run creates and starts a container from spec. It classifies failures into
// NameConflict, LayerLocked, ImageMissing, or Other; it does not retry —
// retry-on-conflict and retry-on-layer-lock are the Session Service's
// responsibility (its create loop).
func (d *DockerDriver) Run(ctx context.Context, spec Spec) error {
	envVars := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.Mode == "ro",
		})
	}

	cfg := &dockercontainer.Config{
		Image: spec.Image,
		Env:   envVars,
		Tty:   true,
		Cmd:   spec.Args,
	}

	hostCfg := &dockercontainer.HostConfig{
		Runtime:     d.runtime,
		NetworkMode: dockercontainer.NetworkMode(spec.Network),
		Mounts:      mounts,
		ExtraHosts:  spec.ExtraHosts,
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return classifyCreateError(spec.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		_ = d.cli.ContainerRemove(ctx, resp.ID, dockercontainer.RemoveOptions{Force: true})
		return ocerr.New(ocerr.KindOther, "container.Run", fmt.Errorf("start container %s: %w", resp.ID, err))
	}
	return nil
}

func classifyCreateError(name string, err error) error {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "already in use") || strings.Contains(errStr, "conflict"):
		return ocerr.New(ocerr.KindConflict, "container.Run", fmt.Errorf("container %s: %w", name, err))
	case strings.Contains(errStr, "is being") && strings.Contains(errStr, "extract") ||
		strings.Contains(errStr, "layer") && strings.Contains(errStr, "lock"):
		return ocerr.New(ocerr.KindLayerLocked, "container.Run", err)
	case strings.Contains(errStr, "no such image") || strings.Contains(errStr, "not found"):
		return ocerr.New(ocerr.KindImageMissing, "container.Run", err)
	default:
		return ocerr.New(ocerr.KindOther, "container.Run", err)
	}
}

// Start starts an existing, stopped container by name.
func (d *DockerDriver) Start(ctx context.Context, name string) error {
	if err := d.cli.ContainerStart(ctx, name, dockercontainer.StartOptions{}); err != nil {
		return ocerr.New(ocerr.KindOther, "container.Start", err)
	}
	return nil
}

// Restart restarts an existing container by name.
func (d *DockerDriver) Restart(ctx context.Context, name string) error {
	timeout := 10
	if err := d.cli.ContainerRestart(ctx, name, dockercontainer.StopOptions{Timeout: &timeout}); err != nil {
		return ocerr.New(ocerr.KindOther, "container.Restart", err)
	}
	return nil
}

// Stop stops a running container by name, tolerating an already-stopped
// container.
func (d *DockerDriver) Stop(ctx context.Context, name string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := d.cli.ContainerStop(ctx, name, dockercontainer.StopOptions{Timeout: &secs}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return ocerr.New(ocerr.KindOther, "container.Stop", err)
	}
	return nil
}

// SafeRemove force-removes a container, swallowing "no such container"
// and reporting everything else.
func (d *DockerDriver) SafeRemove(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, dockercontainer.RemoveOptions{Force: true})
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "already in progress") {
		return nil
	}
	return ocerr.New(ocerr.KindOther, "container.SafeRemove", err)
}

// IsRunning inspects a container. ok is false when the container does not
// exist at all, distinguishing that from "exists, not running".
func (d *DockerDriver) IsRunning(ctx context.Context, name string) (running bool, ok bool, err error) {
	inspect, inspectErr := d.cli.ContainerInspect(ctx, name)
	if inspectErr != nil {
		if errdefs.IsNotFound(inspectErr) {
			return false, false, nil
		}
		return false, false, ocerr.New(ocerr.KindOther, "container.IsRunning", inspectErr)
	}
	return inspect.State.Running, true, nil
}

// Exec runs argv in the named container and waits for completion,
// returning combined output and the exit code.
func (d *DockerDriver) Exec(ctx context.Context, name string, argv []string) (ExecResult, error) {
	resp, err := d.cli.ContainerExecCreate(ctx, name, dockercontainer.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, ocerr.New(ocerr.KindOther, "container.Exec", fmt.Errorf("create exec: %w", err))
	}

	attach, err := d.cli.ContainerExecAttach(ctx, resp.ID, dockercontainer.ExecStartOptions{})
	if err != nil {
		return ExecResult{}, ocerr.New(ocerr.KindOther, "container.Exec", fmt.Errorf("attach exec: %w", err))
	}
	defer attach.Close()

	out, err := io.ReadAll(attach.Reader)
	if err != nil {
		return ExecResult{}, ocerr.New(ocerr.KindOther, "container.Exec", fmt.Errorf("read exec output: %w", err))
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return ExecResult{}, ocerr.New(ocerr.KindOther, "container.Exec", fmt.Errorf("inspect exec: %w", err))
	}

	return ExecResult{Stdout: string(out), ExitCode: inspect.ExitCode}, nil
}

// ExecAttach starts argv in the named container with stdin/stdout attached
// and no TTY, returning the hijacked connection as a duplex stream. Callers
// must Close it to release the underlying connection.
func (d *DockerDriver) ExecAttach(ctx context.Context, name string, argv []string) (io.ReadWriteCloser, error) {
	resp, err := d.cli.ContainerExecCreate(ctx, name, dockercontainer.ExecOptions{
		Cmd:          argv,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, ocerr.New(ocerr.KindOther, "container.ExecAttach", fmt.Errorf("create exec: %w", err))
	}

	attach, err := d.cli.ContainerExecAttach(ctx, resp.ID, dockercontainer.ExecStartOptions{})
	if err != nil {
		return nil, ocerr.New(ocerr.KindOther, "container.ExecAttach", fmt.Errorf("attach exec: %w", err))
	}
	return attach.Conn, nil
}

// Pull is idempotent; the engine deduplicates concurrent pulls of the same
// image natively. Callers that also call Run must serialize around the
// create to avoid LayerLocked races; see session.Service.
func (d *DockerDriver) Pull(ctx context.Context, imageRef string) error {
	rc, err := d.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return ocerr.New(ocerr.KindOther, "container.Pull", fmt.Errorf("pull %s: %w", imageRef, err))
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return ocerr.New(ocerr.KindOther, "container.Pull", fmt.Errorf("drain pull stream for %s: %w", imageRef, err))
	}
	return nil
}

// EnsureNetwork creates the named bridge network if it doesn't already
// exist (idempotent).
func (d *DockerDriver) EnsureNetwork(ctx context.Context, name string, opts NetworkOptions) (string, error) {
	networks, err := d.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", ocerr.New(ocerr.KindOther, "container.EnsureNetwork", fmt.Errorf("list networks: %w", err))
	}
	for _, nw := range networks {
		if nw.Name == name {
			return nw.ID, nil
		}
	}

	resp, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:   "bridge",
		Internal: opts.Internal,
	})
	if err != nil {
		return "", ocerr.New(ocerr.KindOther, "container.EnsureNetwork", fmt.Errorf("create network %s: %w", name, err))
	}
	return resp.ID, nil
}
