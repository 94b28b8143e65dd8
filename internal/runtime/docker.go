package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"devenv/pkg/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerAPI is the subset of the Engine API client the engine uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	NetworkRemove(ctx context.Context, networkID string) error
	Close() error
}

// Docker drives standalone containers and networks through the Engine API.
type Docker struct {
	api dockerAPI
}

// NewDocker creates a client from the environment (DOCKER_HOST etc.). It does
// not contact the daemon; call Ping for that.
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Docker{api: cli}, nil
}

// Close releases the client's transport.
func (d *Docker) Close() error {
	return d.api.Close()
}

// Ping checks that the daemon answers.
func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return &Error{Kind: ErrRuntimeUnavailable, Op: "ping", Err: err}
	}
	return nil
}

// EnsureNetwork returns the ID of the named bridge network, creating it when absent.
func (d *Docker) EnsureNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	existing, err := d.api.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return existing.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", classify("inspect network "+name, err)
	}

	created, err := d.api.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		// Another process may have created it in between.
		if errdefs.IsConflict(err) {
			existing, inspectErr := d.api.NetworkInspect(ctx, name, network.InspectOptions{})
			if inspectErr == nil {
				return existing.ID, nil
			}
		}
		return "", classify("create network "+name, err)
	}
	logging.Info("Runtime", "Created network %s", name)
	return created.ID, nil
}

// RemoveNetwork deletes the named network; a missing network is not an error.
func (d *Docker) RemoveNetwork(ctx context.Context, name string) error {
	if err := d.api.NetworkRemove(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return classify("remove network "+name, err)
	}
	return nil
}

// EnsureContainer makes sure a container named spec.Name is running. An
// existing running container is reused, a stopped one is started, and a
// missing one is created (pulling the image if needed) and started.
func (d *Docker) EnsureContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	info, err := d.api.ContainerInspect(ctx, spec.Name)
	switch {
	case err == nil && info.ContainerJSONBase != nil:
		id := info.ID
		if info.State != nil && info.State.Running {
			logging.Debug("Runtime", "Reusing running container %s", spec.Name)
		} else {
			logging.Info("Runtime", "Starting existing container %s", spec.Name)
			if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
				return "", classify("start container "+spec.Name, err)
			}
		}
		if spec.Network != "" {
			if err := d.ConnectContainer(ctx, spec.Network, id, spec.Aliases); err != nil && !errors.Is(err, ErrAlreadyAttached) {
				return "", err
			}
		}
		return id, nil
	case err != nil && !errdefs.IsNotFound(err):
		return "", classify("inspect container "+spec.Name, err)
	}

	id, err := d.createContainer(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if rmErr := d.api.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); rmErr != nil {
			logging.Warn("Runtime", "Failed to remove container %s after failed start: %v", spec.Name, rmErr)
		}
		return "", classify("start container "+spec.Name, err)
	}
	logging.Info("Runtime", "Created and started container %s (%s)", spec.Name, shortID(id))
	return id, nil
}

func (d *Docker) createContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg, hostCfg, netCfg, err := buildContainerConfig(spec)
	if err != nil {
		return "", err
	}

	resp, err := d.api.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil && errdefs.IsNotFound(err) {
		if pullErr := d.pullImage(ctx, spec.Image); pullErr != nil {
			return "", pullErr
		}
		resp, err = d.api.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	}
	if err != nil {
		return "", classify("create container "+spec.Name, err)
	}
	for _, warning := range resp.Warnings {
		logging.Warn("Runtime", "Container %s: %s", spec.Name, warning)
	}
	return resp.ID, nil
}

func (d *Docker) pullImage(ctx context.Context, ref string) error {
	logging.Info("Runtime", "Pulling image %s", ref)
	reader, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify("pull image "+ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

func buildContainerConfig(spec ContainerSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid port mapping for %s: %w", spec.Name, err)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          envList(spec.Env),
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        spec.Volumes,
		ExtraHosts:   spec.ExtraHosts,
	}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {Aliases: spec.Aliases},
			},
		}
	}
	return cfg, hostCfg, netCfg, nil
}

// Exec runs cmd inside a running container and collects its combined output.
func (d *Docker) Exec(ctx context.Context, containerID string, cmd []string) (ExecResult, error) {
	created, err := d.api.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, classify("exec create", err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, classify("exec attach", err)
	}
	defer attach.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("exec output: %w", err)
	}

	inspect, err := d.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, classify("exec inspect", err)
	}
	return ExecResult{ExitCode: inspect.ExitCode, Output: out.String()}, nil
}

// StopContainer stops a container, giving it timeout to exit. A missing
// container is not an error.
func (d *Docker) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := d.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil && !errdefs.IsNotFound(err) {
		return classify("stop container "+id, err)
	}
	return nil
}

// RemoveContainer force-removes a container by name or ID. A missing
// container is not an error.
func (d *Docker) RemoveContainer(ctx context.Context, nameOrID string) error {
	if err := d.api.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return classify("remove container "+nameOrID, err)
	}
	return nil
}

// ConnectContainer attaches a container to a network under the given aliases.
// An already attached container yields an error matching ErrAlreadyAttached.
func (d *Docker) ConnectContainer(ctx context.Context, networkName, containerID string, aliases []string) error {
	err := d.api.NetworkConnect(ctx, networkName, containerID, &network.EndpointSettings{Aliases: aliases})
	return classifyConnect(networkName, err)
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
