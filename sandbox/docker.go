package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sandboxUser is the identity every sandbox runs as (nobody:nogroup).
const sandboxUser = "65534:65534"

// defaultScratchMB sizes the /tmp tmpfs when the profile does not say.
const defaultScratchMB = 64

// scratchTmpfs renders the mount options for the writable scratch area.
func scratchTmpfs(sizeMB int64) string {
	if sizeMB <= 0 {
		sizeMB = defaultScratchMB
	}
	return fmt.Sprintf("rw,nosuid,nodev,size=%dm", sizeMB)
}

// DockerRuntime implements Runtime against the Docker Engine API. Podman's
// compatibility socket speaks the same protocol, so the backend choice is
// purely the configured endpoint.
type DockerRuntime struct {
	logger *zap.Logger
	cli    *client.Client
	max    int

	mu     sync.Mutex
	active map[string]struct{}
}

// NewDockerRuntime connects a client for the configured endpoint. The daemon
// is not contacted until the first request, matching lazy CLI behavior.
func NewDockerRuntime(logger *zap.Logger, cfg Config) (*DockerRuntime, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Endpoint != "" {
		opts = append(opts, client.WithHost(cfg.Endpoint))
	} else {
		opts = append(opts, client.FromEnv)
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRuntime{
		logger: logger,
		cli:    cli,
		max:    cfg.MaxConcurrent,
		active: make(map[string]struct{}),
	}, nil
}

// admit reserves an admission slot for a new sandbox.
func (r *DockerRuntime) admit(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.active) >= r.max {
		return ErrTooManySandboxes
	}
	r.active[id] = struct{}{}
	return nil
}

func (r *DockerRuntime) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// Active reports how many sandboxes currently hold an admission slot.
func (r *DockerRuntime) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// sandboxConfigs renders a Spec into the engine's create payload with the
// fixed hardening applied. The workspace is declared as an anonymous volume:
// with a read-only rootfs the daemon refuses archive extraction into any
// path that is not a writable mount point, so injection needs one. Remove
// destroys the volume along with the sandbox.
func sandboxConfigs(spec Spec) (*container.Config, *container.HostConfig) {
	var pids *int64
	if spec.Limits.PidsLimit > 0 {
		p := spec.Limits.PidsLimit
		pids = &p
	}
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             strslice.StrSlice(spec.Cmd),
		Env:             spec.Env,
		WorkingDir:      spec.WorkDir,
		User:            sandboxUser,
		Tty:             spec.Tty,
		OpenStdin:       spec.OpenStdin,
		StdinOnce:       spec.OpenStdin && !spec.Tty,
		AttachStdin:     spec.OpenStdin,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}
	if spec.WorkDir != "" {
		cfg.Volumes = map[string]struct{}{spec.WorkDir: {}}
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    container.NetworkMode("none"),
		ReadonlyRootfs: true,
		CapDrop:        strslice.StrSlice{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		Tmpfs:          map[string]string{"/tmp": scratchTmpfs(spec.Limits.ScratchMB)},
		Resources: container.Resources{
			Memory:    spec.Limits.MemoryBytes,
			NanoCPUs:  spec.Limits.NanoCPUs,
			PidsLimit: pids,
		},
	}
	return cfg, hostCfg
}

func (r *DockerRuntime) Create(ctx context.Context, spec Spec) (string, error) {
	name := "runbox-" + uuid.NewString()
	if err := r.admit(name); err != nil {
		return "", err
	}

	cfg, hostCfg := sandboxConfigs(spec)
	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		r.release(name)
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	r.logger.Debug("sandbox created",
		zap.String("name", name),
		zap.String("id", resp.ID),
		zap.String("image", spec.Image))

	// Track by engine id; the admission slot moves with it.
	r.mu.Lock()
	delete(r.active, name)
	r.active[resp.ID] = struct{}{}
	r.mu.Unlock()
	return resp.ID, nil
}

func (r *DockerRuntime) CopyIn(ctx context.Context, id, path string, archive io.Reader) error {
	if err := r.cli.CopyToContainer(ctx, id, path, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy into sandbox: %w", err)
	}
	return nil
}

func (r *DockerRuntime) Attach(ctx context.Context, id string) (IO, error) {
	hj, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach sandbox: %w", err)
	}
	return &hijackIO{hj: hj}, nil
}

func (r *DockerRuntime) Start(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start sandbox: %w", err)
	}
	return nil
}

func (r *DockerRuntime) Wait(ctx context.Context, id string) <-chan WaitResult {
	out := make(chan WaitResult, 1)
	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	go func() {
		select {
		case res := <-waitCh:
			var err error
			if res.Error != nil {
				err = errors.New(res.Error.Message)
			}
			out <- WaitResult{ExitCode: res.StatusCode, Err: err}
		case err := <-errCh:
			out <- WaitResult{Err: err}
		}
	}()
	return out
}

func (r *DockerRuntime) Resize(ctx context.Context, id string, cols, rows uint) error {
	if err := r.cli.ContainerResize(ctx, id, container.ResizeOptions{Height: rows, Width: cols}); err != nil {
		return fmt.Errorf("resize sandbox: %w", err)
	}
	return nil
}

func (r *DockerRuntime) Kill(ctx context.Context, id string) error {
	err := r.cli.ContainerKill(ctx, id, "KILL")
	if err == nil || cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err) {
		// Already exited or already removed; the goal state holds.
		return nil
	}
	return fmt.Errorf("kill sandbox: %w", err)
}

func (r *DockerRuntime) Remove(ctx context.Context, id string) error {
	defer r.release(id)
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("remove sandbox: %w", err)
	}
	return nil
}

func (r *DockerRuntime) CopyOut(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := r.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, fmt.Errorf("copy from sandbox: %w", err)
	}
	return rc, nil
}

func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// hijackIO adapts the engine's hijacked attach connection to the IO
// interface. Reads come from the buffered demux side, writes go to the
// sandbox's stdin.
type hijackIO struct {
	hj types.HijackedResponse
}

func (h *hijackIO) Read(p []byte) (int, error)  { return h.hj.Reader.Read(p) }
func (h *hijackIO) Write(p []byte) (int, error) { return h.hj.Conn.Write(p) }
func (h *hijackIO) CloseWrite() error           { return h.hj.CloseWrite() }

func (h *hijackIO) Close() error {
	h.hj.Close()
	return nil
}
