package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/p-arndt/compilerz/internal/config"
	"github.com/p-arndt/compilerz/internal/runtime"
)

const labelPrefix = "compilerz."

const execPollInterval = 100 * time.Millisecond

// apiClient is the subset of the Docker SDK the backend uses.
type apiClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	Close() error
}

// Client is the Docker backend. It implements runtime.Driver,
// runtime.ImageStore and runtime.Inventory.
type Client struct {
	docker apiClient
	cfg    config.Sandbox
}

func New(cfg config.Sandbox) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// Create creates and starts a hardened, idle sandbox container and returns its ID.
func (c *Client) Create(ctx context.Context, opts runtime.CreateOpts) (string, error) {
	resp, err := c.docker.ContainerCreate(ctx, containerConfig(opts), hostConfig(c.cfg), nil, nil, "compilerz-"+opts.SessionID)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

func containerConfig(opts runtime.CreateOpts) *container.Config {
	return &container.Config{
		Image:      opts.Image,
		Cmd:        []string{"tail", "-f", "/dev/null"},
		WorkingDir: runtime.WorkDir,
		Tty:        true,
		OpenStdin:  true,
		Labels: map[string]string{
			labelPrefix + "managed":    "true",
			labelPrefix + "session_id": opts.SessionID,
			labelPrefix + "language":   opts.Language,
		},
	}
}

func hostConfig(cfg config.Sandbox) *container.HostConfig {
	hc := &container.HostConfig{
		AutoRemove: true,
		Resources: container.Resources{
			Memory:    cfg.MemoryBytes(),
			CPUQuota:  cfg.CPUQuota,
			CPUShares: cfg.CPUShares,
		},
		NetworkMode: container.NetworkMode(cfg.NetworkMode),
		Tmpfs: map[string]string{
			"/tmp": "rw,size=" + strconv.FormatInt(cfg.TmpfsBytes(), 10),
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		CapAdd:      []string{"CHOWN", "SETGID", "SETUID"},
	}
	if cfg.PidsLimit > 0 {
		limit := cfg.PidsLimit
		hc.Resources.PidsLimit = &limit
	}
	return hc
}

// Stop stops the container. It is auto-removed by the daemon once stopped.
func (c *Client) Stop(ctx context.Context, containerID string) error {
	timeout := c.cfg.StopTimeoutSeconds
	err := c.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", runtime.ErrNotFound, containerID)
		}
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// Remove force-removes a container whatever its state.
func (c *Client) Remove(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// CopyTo extracts a tar archive into dir inside the container.
func (c *Client) CopyTo(ctx context.Context, containerID, dir string, archive io.Reader) error {
	err := c.docker.CopyToContainer(ctx, containerID, dir, archive, container.CopyToContainerOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", runtime.ErrNotFound, containerID)
		}
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

// Exec starts cmd inside the container with a pseudo-terminal and all
// standard streams attached.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string) (runtime.Process, error) {
	size := &[2]uint{runtime.TermRows, runtime.TermCols}
	execResp, err := c.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   runtime.WorkDir,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		ConsoleSize:  size,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", runtime.ErrNotFound, containerID)
		}
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := c.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{
		Tty:         true,
		ConsoleSize: size,
	})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}

	return &execProcess{docker: c.docker, execID: execResp.ID, conn: attach}, nil
}

// execProcess adapts a hijacked exec connection to runtime.Process.
// With a TTY the stream is raw, so no stdcopy demultiplexing is needed.
type execProcess struct {
	docker apiClient
	execID string
	conn   types.HijackedResponse
}

func (p *execProcess) Read(b []byte) (int, error) {
	return p.conn.Reader.Read(b)
}

func (p *execProcess) Write(b []byte) (int, error) {
	return p.conn.Conn.Write(b)
}

func (p *execProcess) Close() error {
	p.conn.Close()
	return nil
}

func (p *execProcess) Wait(ctx context.Context) (int, error) {
	ticker := time.NewTicker(execPollInterval)
	defer ticker.Stop()

	for {
		inspect, err := p.docker.ContainerExecInspect(ctx, p.execID)
		if err != nil {
			return -1, fmt.Errorf("exec inspect: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListManaged returns all containers carrying the compilerz labels.
func (c *Client) ListManaged(ctx context.Context) ([]runtime.Sandbox, error) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	var result []runtime.Sandbox
	for _, ctr := range containers {
		sessionID := ctr.Labels[labelPrefix+"session_id"]
		if sessionID == "" {
			continue
		}
		result = append(result, runtime.Sandbox{
			Handle:    ctr.ID,
			SessionID: sessionID,
			CreatedAt: time.Unix(ctr.Created, 0),
		})
	}
	return result, nil
}

// ImageExists reports whether ref is present in the local image store.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	images, err := c.docker.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, fmt.Errorf("image list: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == ref {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Client) PullImage(ctx context.Context, ref string, progress func(string)) error {
	body, err := c.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer body.Close()

	if err := readProgress(body, progress); err != nil {
		return fmt.Errorf("image pull %s: %w", ref, err)
	}
	return nil
}

// BuildImage builds ref from a tar build context holding a Dockerfile.
func (c *Client) BuildImage(ctx context.Context, ref string, buildContext io.Reader, progress func(string)) error {
	resp, err := c.docker.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:        []string{ref},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("image build: %w", err)
	}
	defer resp.Body.Close()

	if err := readProgress(resp.Body, progress); err != nil {
		return fmt.Errorf("image build %s: %w", ref, err)
	}
	return nil
}

// readProgress drains a daemon JSON message stream, forwarding each line to
// progress. An error message in the stream fails the operation.
func readProgress(r io.Reader, progress func(string)) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode progress: %w", err)
		}
		if msg.Error != nil {
			return msg.Error
		}
		if progress == nil {
			continue
		}
		switch {
		case msg.Stream != "":
			if line := strings.TrimRight(msg.Stream, "\r\n"); line != "" {
				progress(line)
			}
		case msg.Status != "":
			line := msg.Status
			if msg.ID != "" {
				line = msg.ID + ": " + line
			}
			progress(line)
		}
	}
}
