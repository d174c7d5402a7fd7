package container

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
)

// DockerConfig configures the Docker runtime connection.
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host string

	// ConnectTimeout bounds the startup ping.
	ConnectTimeout time.Duration

	// ResponseTimeout bounds every API round trip.
	ResponseTimeout time.Duration
}

// DockerEngine implements Engine on the Docker Engine API.
type DockerEngine struct {
	cli *client.Client
}

var _ Engine = (*DockerEngine)(nil)

// NewDockerEngine connects to the Docker daemon and pings it once. A failed
// ping is returned as an error; callers are expected to treat it as fatal.
func NewDockerEngine(ctx context.Context, cfg DockerConfig) (*DockerEngine, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = 45 * time.Second
	}

	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
		client.WithTimeout(cfg.ResponseTimeout),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("container: docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("container: docker daemon unreachable: %w", err)
	}

	return &DockerEngine{cli: cli}, nil
}

// Ping checks the daemon connection.
func (e *DockerEngine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

// Find lists all containers (running or not) filtered by name and returns
// the one whose name matches exactly. The daemon's name filter is a
// substring match, so "rabbitmq-a" would also match "rabbitmq-ab".
func (e *DockerEngine) Find(ctx context.Context, name string) (*Summary, error) {
	list, err := e.cli.ContainerList(ctx, containertypes.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return nil, err
	}

	for _, c := range list {
		for _, n := range c.Names {
			if n == "/"+name || n == name {
				return &Summary{ID: c.ID, Name: name, State: c.State}, nil
			}
		}
	}
	return nil, nil //nolint:nilnil // absence is not an error
}

// Create creates the container, pulling the image once if it is missing locally.
func (e *DockerEngine) Create(ctx context.Context, req CreateRequest) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for containerPort, hostPort := range req.Ports {
		p := nat.Port(strconv.Itoa(containerPort) + "/tcp")
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}}
	}

	restart := containertypes.RestartPolicy{Name: containertypes.RestartPolicyUnlessStopped}
	if req.RestartPolicy == RestartNo {
		restart = containertypes.RestartPolicy{Name: containertypes.RestartPolicyDisabled}
	}

	cfg := &containertypes.Config{
		Image:        req.Image,
		Env:          req.Env,
		ExposedPorts: exposed,
	}
	hostCfg := &containertypes.HostConfig{
		PortBindings:  bindings,
		RestartPolicy: restart,
		AutoRemove:    false,
		Resources:     containertypes.Resources{Memory: req.MemoryBytes},
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, req.Name)
	if err == nil {
		return resp.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", err
	}

	if pullErr := e.pull(ctx, req.Image); pullErr != nil {
		return "", fmt.Errorf("pull %s: %w", req.Image, pullErr)
	}

	resp, err = e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, req.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *DockerEngine) pull(ctx context.Context, ref string) error {
	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Start starts a created container.
func (e *DockerEngine) Start(ctx context.Context, containerID string) error {
	return e.cli.ContainerStart(ctx, containerID, containertypes.StartOptions{})
}

// Stop stops a running container, waiting up to timeout before killing it.
func (e *DockerEngine) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return e.cli.ContainerStop(ctx, containerID, containertypes.StopOptions{Timeout: &secs})
}

// Remove deletes a stopped container.
func (e *DockerEngine) Remove(ctx context.Context, containerID string) error {
	return e.cli.ContainerRemove(ctx, containerID, containertypes.RemoveOptions{})
}

// Close closes the daemon connection.
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}
