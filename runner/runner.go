package runner

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/pipeline"
	"github.com/isdmx/runbox/sandbox"
	"github.com/isdmx/runbox/stream"
)

// workspaceDir is where the source file lands inside a sandbox. The
// directory is created at sandbox creation; the read-only root keeps it
// immutable while the code runs.
const workspaceDir = "/workspace"

// removeGrace bounds how long cleanup may take after a run concludes.
const removeGrace = 10 * time.Second

// TimeoutExitCode is the exit-code sentinel for runs killed by timeout.
const TimeoutExitCode = -1

// Request is one batch execution.
type Request struct {
	Language string
	Code     []byte
	Stdin    []byte
	// Timeout is clamped to the profile's ceiling; zero uses the ceiling.
	Timeout time.Duration
	// CollectArtifacts returns the workspace as a tar archive.
	CollectArtifacts bool
}

// Result is the outcome of one batch execution. Error distinguishes "the
// platform could not run your code" from an ordinary non-zero exit, which
// is the user's bug and not an engine failure.
type Result struct {
	Success   bool
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	Duration  time.Duration
	Error     string
	Artifacts []byte
	Stats     stream.Stats
}

// Options tunes a Runner.
type Options struct {
	// MaxOutputBytes caps each captured channel.
	MaxOutputBytes int
	// MaxArtifactBytes caps artifact collection.
	MaxArtifactBytes int64
	// MaxCodeBytes caps submitted source size.
	MaxCodeBytes int
	// Validate enables the pipeline's dangerous-pattern scan.
	Validate bool
}

// Runner executes batch requests. Safe for concurrent use; requests
// proceed independently.
type Runner struct {
	logger   *zap.Logger
	rt       sandbox.Runtime
	pipe     *pipeline.Pipeline
	profiles config.Profiles
	opts     Options
}

// New creates a Runner.
func New(logger *zap.Logger, rt sandbox.Runtime, pipe *pipeline.Pipeline, profiles config.Profiles, opts Options) *Runner {
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	if opts.MaxArtifactBytes <= 0 {
		opts.MaxArtifactBytes = 20 << 20
	}
	return &Runner{logger: logger, rt: rt, pipe: pipe, profiles: profiles, opts: opts}
}

// NewFromConfig wires a Runner from the engine configuration.
func NewFromConfig(logger *zap.Logger, rt sandbox.Runtime, pipe *pipeline.Pipeline, cfg *config.Config, profiles config.Profiles) *Runner {
	return New(logger, rt, pipe, profiles, Options{
		MaxOutputBytes:   cfg.Sandbox.MaxOutputKB * 1024,
		MaxArtifactBytes: int64(cfg.Sandbox.MaxArtifactSizeMB) << 20,
		MaxCodeBytes:     cfg.Pipeline.MaxCodeKB * 1024,
		Validate:         cfg.Pipeline.Validation,
	})
}

func failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Run executes one request start to finish. The sandbox, if one was
// created, is removed before Run returns, on every path. Cancelling ctx
// force-kills the sandbox; cleanup still happens.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	profile, err := r.profiles.Lookup(req.Language)
	if err != nil {
		return failure(err.Error())
	}

	res := r.pipe.Process(req.Code, req.Language, pipeline.Options{
		Validate: r.opts.Validate,
		MaxBytes: r.opts.MaxCodeBytes,
	})
	if !res.Accepted {
		r.logger.Info("batch run rejected",
			zap.String("language", req.Language),
			zap.String("reason", res.Reason))
		return failure("validation failed: " + res.Reason)
	}
	code := res.Normalized

	if len(req.Stdin) > 0 {
		// Stdin is data, not code: accounted, never pattern-scanned.
		in := r.pipe.Process(req.Stdin, req.Language, pipeline.Options{Binary: true})
		if !in.Accepted {
			return failure("validation failed: " + in.Reason)
		}
	}

	timeout := profile.Timeout()
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}

	spec := sandbox.Spec{
		Image:     profile.Image,
		Cmd:       []string{"/bin/sh", "-c", composeCommand(profile)},
		WorkDir:   workspaceDir,
		OpenStdin: true,
		Limits: sandbox.Limits{
			MemoryBytes: profile.MemoryBytes(),
			NanoCPUs:    profile.NanoCPUs(),
			PidsLimit:   int64(profile.ProcessLimit),
			ScratchMB:   int64(profile.ScratchSizeMB),
		},
	}

	id, err := r.rt.Create(ctx, spec)
	if err != nil {
		return failure("provisioning failed: " + err.Error())
	}
	defer func() {
		// Unconditional removal, detached from the caller's context so
		// cancellation cannot leak a sandbox.
		rmCtx, cancel := context.WithTimeout(context.Background(), removeGrace)
		defer cancel()
		if rmErr := r.rt.Remove(rmCtx, id); rmErr != nil {
			r.logger.Error("failed to remove sandbox",
				zap.String("sandbox", id), zap.Error(rmErr))
		}
	}()

	return r.execute(ctx, id, profile, code, req, timeout)
}

// execute drives a created sandbox through injection, execution, capture
// and wait. Removal is owned by the caller's defer.
func (r *Runner) execute(ctx context.Context, id string, profile config.LanguageProfile, code []byte, req Request, timeout time.Duration) Result {
	archive, err := sandbox.FileArchive(profile.FileName(), code)
	if err != nil {
		return failure("provisioning failed: " + err.Error())
	}
	if err := r.rt.CopyIn(ctx, id, workspaceDir, archive); err != nil {
		return failure("provisioning failed: " + err.Error())
	}

	io, err := r.rt.Attach(ctx, id)
	if err != nil {
		return failure("provisioning failed: " + err.Error())
	}
	defer io.Close()

	if err := r.rt.Start(ctx, id); err != nil {
		return failure("provisioning failed: " + err.Error())
	}
	start := time.Now()

	// Write stdin then signal EOF. Closed immediately when empty: many
	// runtimes block awaiting EOF otherwise. Write failures are logged,
	// not fatal; the program may simply not read stdin.
	go func() {
		if len(req.Stdin) > 0 {
			if _, werr := io.Write(req.Stdin); werr != nil {
				r.logger.Warn("stdin write failed",
					zap.String("sandbox", id), zap.Error(werr))
			}
		}
		if cerr := io.CloseWrite(); cerr != nil {
			r.logger.Debug("stdin close failed",
				zap.String("sandbox", id), zap.Error(cerr))
		}
	}()

	stdout := newCapture(r.opts.MaxOutputBytes)
	stderr := newCapture(r.opts.MaxOutputBytes)
	demuxDone := make(chan error, 1)
	go func() {
		demuxDone <- demux(io, stdout, stderr)
	}()

	waitCh := r.rt.Wait(ctx, id)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		result   Result
		killDone bool
	)
	select {
	case wr := <-waitCh:
		result.Duration = time.Since(start)
		if wr.Err != nil {
			result.Error = "sandbox failed: " + wr.Err.Error()
		} else {
			result.ExitCode = int(wr.ExitCode)
			result.Success = wr.ExitCode == 0
		}

	case <-timer.C:
		result.Duration = time.Since(start)
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
		result.Error = "execution timed out"
		killDone = r.kill(id)

	case <-ctx.Done():
		result.Duration = time.Since(start)
		result.Error = "execution canceled: " + ctx.Err().Error()
		killDone = r.kill(id)
	}

	// Collect whatever output exists. After a kill the attach stream
	// closes and the demultiplexer finishes; bound the wait so a stuck
	// stream cannot wedge the run.
	select {
	case derr := <-demuxDone:
		if derr != nil && !killDone {
			r.logger.Warn("output demux error",
				zap.String("sandbox", id), zap.Error(derr))
		}
	case <-time.After(removeGrace):
		r.logger.Warn("output stream did not close", zap.String("sandbox", id))
	}

	result.Stdout = string(stdout.finish())
	result.Stderr = string(stderr.finish())
	result.Stats = stdout.stats().Merge(stderr.stats())

	if req.CollectArtifacts && result.Error == "" {
		result.Artifacts = r.collectArtifacts(id)
	}

	r.logger.Debug("batch run finished",
		zap.String("sandbox", id),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", result.Duration))
	return result
}

func (r *Runner) kill(id string) bool {
	killCtx, cancel := context.WithTimeout(context.Background(), removeGrace)
	defer cancel()
	if err := r.rt.Kill(killCtx, id); err != nil {
		r.logger.Error("failed to kill sandbox",
			zap.String("sandbox", id), zap.Error(err))
		return false
	}
	return true
}

func (r *Runner) collectArtifacts(id string) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), removeGrace)
	defer cancel()
	rc, err := r.rt.CopyOut(ctx, id, workspaceDir)
	if err != nil {
		r.logger.Warn("artifact collection failed", zap.String("sandbox", id), zap.Error(err))
		return nil
	}
	data, err := sandbox.ReadArchiveCapped(rc, r.opts.MaxArtifactBytes)
	if err != nil {
		r.logger.Warn("artifact collection failed", zap.String("sandbox", id), zap.Error(err))
		return nil
	}
	return data
}

// composeCommand joins compile and run into one logical unit. A compile
// failure is ordinary stderr plus a non-zero exit, not a separate error
// class.
func composeCommand(p config.LanguageProfile) string {
	if p.CompileCommand == "" {
		return p.RunCommand
	}
	return strings.Join([]string{p.CompileCommand, p.RunCommand}, " && ")
}
