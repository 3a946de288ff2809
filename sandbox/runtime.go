package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ErrTooManySandboxes is returned by Create when the host's concurrent
// sandbox cap is reached. Callers may retry with backoff; the engine never
// retries internally.
var ErrTooManySandboxes = errors.New("sandbox: concurrent sandbox limit reached")

// Limits are the per-sandbox resource ceilings, taken from the language
// profile. Zero values leave the runtime default in place.
type Limits struct {
	MemoryBytes int64
	NanoCPUs    int64 // 1e9 == one full core
	PidsLimit   int64
	// ScratchMB sizes the writable /tmp area. Compilers and interpreter
	// caches live there, so compiled languages need more than the default.
	ScratchMB int64
}

// Spec describes one sandbox to create. Isolation settings (network, user,
// capabilities, read-only root) are deliberately absent: they are fixed and
// applied to every sandbox unconditionally.
type Spec struct {
	Image     string
	Cmd       []string
	Env       []string
	WorkDir   string
	Tty       bool
	OpenStdin bool
	Limits    Limits
}

// WaitResult reports how a sandbox's main process ended.
type WaitResult struct {
	ExitCode int64
	Err      error
}

// IO is the attached bidirectional stream of a sandbox. For Tty sandboxes
// Read yields the raw terminal stream; otherwise it yields the runtime's
// multiplexed stdout/stderr framing.
type IO interface {
	io.Reader
	io.Writer
	// CloseWrite half-closes the stream, signalling EOF on the sandbox's
	// stdin. Many runtimes block awaiting EOF without it.
	CloseWrite() error
	Close() error
}

// Runtime is the container control plane consumed by the engine.
type Runtime interface {
	// Create provisions a stopped sandbox and returns its id.
	Create(ctx context.Context, spec Spec) (string, error)
	// CopyIn extracts a tar archive at path inside the sandbox. Archive
	// transfer is atomic per file, avoiding partial-write races.
	CopyIn(ctx context.Context, id, path string, archive io.Reader) error
	// Attach opens the sandbox's I/O stream. Call before Start so no
	// output is missed.
	Attach(ctx context.Context, id string) (IO, error)
	// Start launches the sandbox's command.
	Start(ctx context.Context, id string) error
	// Wait completes when the sandbox's main process exits.
	Wait(ctx context.Context, id string) <-chan WaitResult
	// Resize propagates terminal geometry to a Tty sandbox.
	Resize(ctx context.Context, id string, cols, rows uint) error
	// Kill force-terminates the sandbox. Killing an already-dead sandbox
	// is not an error.
	Kill(ctx context.Context, id string) error
	// Remove destroys the sandbox and its writable layer. Idempotent.
	Remove(ctx context.Context, id string) error
	// CopyOut streams a tar archive of path from the sandbox.
	CopyOut(ctx context.Context, id, path string) (io.ReadCloser, error)

	Close() error
}

// Config selects the runtime endpoint and the admission cap.
type Config struct {
	// Endpoint is the control-plane address. Empty uses the environment
	// (DOCKER_HOST et al.); podman's docker-compatible socket works the
	// same way, e.g. "unix:///run/podman/podman.sock".
	Endpoint string
	// MaxConcurrent caps sandboxes alive at once. Zero means no cap.
	MaxConcurrent int
}

// NewRuntime builds the Docker-API runtime for the configured endpoint.
func NewRuntime(logger *zap.Logger, cfg Config) (Runtime, error) {
	rt, err := NewDockerRuntime(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("sandbox runtime: %w", err)
	}
	return rt, nil
}
