package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/pipeline"
	"github.com/isdmx/runbox/sandbox"
	"github.com/isdmx/runbox/stream"
)

// ErrNotFound is returned for operations on an unknown or already-removed
// session.
var ErrNotFound = errors.New("session: not found")

// ErrRejected wraps an input validation rejection.
var ErrRejected = errors.New("session: input rejected")

// teardownGrace bounds sandbox kill/remove and the final close event.
const teardownGrace = 10 * time.Second

// readBuffer is the PTY read chunk size.
const readBuffer = 4096

// Options tunes a Manager.
type Options struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// EventBuffer bounds the shared output event queue. Pumps block when
	// it is full; output is never dropped or reordered.
	EventBuffer int
	// Validate enables text input validation. Control and escape bytes
	// always pass through untouched regardless.
	Validate bool
}

// session is the manager-owned state for one live terminal.
type session struct {
	id        string
	language  string
	sandboxID string
	createdAt time.Time

	io sandbox.IO

	// tcMu serializes the pump's transcoder use with Info's stats reads.
	tcMu sync.Mutex
	tc   *stream.Transcoder

	// Guarded by the manager's mutex.
	state        State
	lastActivity time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// Manager multiplexes many concurrent terminal sessions over one runtime.
// All methods are safe for concurrent use; Stop may be called from a
// different goroutine than the one consuming output.
type Manager struct {
	logger   *zap.Logger
	rt       sandbox.Runtime
	pipe     *pipeline.Pipeline
	profiles config.Profiles
	opts     Options

	mu       sync.RWMutex
	sessions map[string]*session

	events    chan Event
	sweepStop chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager and starts its idle sweep.
func NewManager(logger *zap.Logger, rt sandbox.Runtime, pipe *pipeline.Pipeline, profiles config.Profiles, opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	m := &Manager{
		logger:    logger,
		rt:        rt,
		pipe:      pipe,
		profiles:  profiles,
		opts:      opts,
		sessions:  make(map[string]*session),
		events:    make(chan Event, opts.EventBuffer),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go m.sweep()
	return m
}

// NewFromConfig wires a Manager from the engine configuration.
func NewFromConfig(logger *zap.Logger, rt sandbox.Runtime, pipe *pipeline.Pipeline, cfg *config.Config, profiles config.Profiles) *Manager {
	return NewManager(logger, rt, pipe, profiles, Options{
		IdleTimeout:   cfg.IdleTimeout(),
		SweepInterval: cfg.SweepInterval(),
		EventBuffer:   cfg.Session.EventBuffer,
		Validate:      cfg.Pipeline.Validation,
	})
}

// Events is the manager's output stream. It is never closed; an EventClosed
// per session marks its end.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start provisions a PTY-backed sandbox for the language and returns the new
// session id.
func (m *Manager) Start(ctx context.Context, language string) (string, error) {
	profile, err := m.profiles.Lookup(language)
	if err != nil {
		return "", err
	}
	if profile.ReplCommand == "" {
		return "", fmt.Errorf("language %s has no interactive interpreter", language)
	}

	spec := sandbox.Spec{
		Image:     profile.Image,
		Cmd:       []string{"/bin/sh", "-c", profile.ReplCommand},
		Env:       []string{"TERM=xterm-256color", "HOME=/tmp"},
		WorkDir:   "/workspace",
		Tty:       true,
		OpenStdin: true,
		Limits: sandbox.Limits{
			MemoryBytes: profile.MemoryBytes(),
			NanoCPUs:    profile.NanoCPUs(),
			PidsLimit:   int64(profile.ProcessLimit),
			ScratchMB:   int64(profile.ScratchSizeMB),
		},
	}

	sandboxID, err := m.rt.Create(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("provision session: %w", err)
	}

	s := &session{
		id:           uuid.NewString(),
		language:     language,
		sandboxID:    sandboxID,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		state:        StateStarting,
		tc:           stream.New(stream.NormalizeNone),
		done:         make(chan struct{}),
	}

	attached, err := m.rt.Attach(ctx, sandboxID)
	if err != nil {
		m.destroySandbox(sandboxID)
		return "", fmt.Errorf("provision session: %w", err)
	}
	s.io = attached

	if err := m.rt.Start(ctx, sandboxID); err != nil {
		_ = attached.Close()
		m.destroySandbox(sandboxID)
		return "", fmt.Errorf("provision session: %w", err)
	}

	m.mu.Lock()
	s.state = StateActive
	m.sessions[s.id] = s
	m.mu.Unlock()

	go m.pump(s)
	go m.watch(s)

	m.logger.Info("session started",
		zap.String("session", s.id),
		zap.String("language", language),
		zap.String("sandbox", sandboxID))
	return s.id, nil
}

// Send forwards input bytes to the session's PTY. Text input goes through
// validation when enabled; input containing control or escape bytes passes
// through untouched so interactive key handling keeps working.
func (m *Manager) Send(id string, data []byte) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}

	res := m.pipe.Process(data, s.language, pipeline.Options{
		Validate: m.opts.Validate && !hasControlBytes(data),
		Binary:   hasControlBytes(data),
	})
	if !res.Accepted {
		return fmt.Errorf("%w: %s", ErrRejected, res.Reason)
	}

	if _, err := s.io.Write(res.Normalized); err != nil {
		return fmt.Errorf("session write: %w", err)
	}
	m.touch(s)
	return nil
}

// Resize propagates terminal geometry so wrapping and cursor addressing
// stay correct.
func (m *Manager) Resize(ctx context.Context, id string, cols, rows uint) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if cols == 0 || rows == 0 {
		return fmt.Errorf("session resize: invalid geometry %dx%d", cols, rows)
	}
	if err := m.rt.Resize(ctx, s.sandboxID, cols, rows); err != nil {
		return err
	}
	m.touch(s)
	return nil
}

// Stop ends a session and removes its sandbox. Idempotent: stopping an
// unknown or already-stopped session is a no-op.
func (m *Manager) Stop(id string) {
	s, err := m.lookup(id)
	if err != nil {
		return
	}
	m.teardown(s, StateStopped, "stopped")
}

// Info snapshots one session.
func (m *Manager) Info(id string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	s.tcMu.Lock()
	stats := s.tc.Stats()
	s.tcMu.Unlock()
	return Info{
		ID:           s.id,
		Language:     s.language,
		SandboxID:    s.sandboxID,
		State:        s.state,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Stats:        stats,
	}, nil
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the sweep and tears down every session.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.sweepStop)
		<-m.sweepDone
	})
	for _, s := range m.snapshot() {
		m.teardown(s, StateStopped, "manager shutdown")
	}
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) snapshot() []*session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) touch(s *session) {
	m.mu.Lock()
	s.lastActivity = time.Now()
	m.mu.Unlock()
}

// pump reads PTY output for one session, transcodes it and forwards it in
// order. It exits when the stream closes; any held tail is flushed first.
func (m *Manager) pump(s *session) {
	buf := make([]byte, readBuffer)
	for {
		n, err := s.io.Read(buf)
		if n > 0 {
			s.tcMu.Lock()
			emit := s.tc.Transcode(buf[:n])
			s.tcMu.Unlock()
			if len(emit) > 0 && !m.forward(s, emit) {
				return
			}
			m.touch(s)
		}
		if err != nil {
			s.tcMu.Lock()
			tail := s.tc.Flush()
			s.tcMu.Unlock()
			if len(tail) > 0 {
				m.forward(s, tail)
			}
			return
		}
	}
}

// forward delivers one output chunk, blocking on the bounded queue to
// preserve order. Delivery aborts if the session ends while blocked.
func (m *Manager) forward(s *session, data []byte) bool {
	ev := Event{
		SessionID: s.id,
		Type:      EventOutput,
		Data:      append([]byte(nil), data...),
	}
	select {
	case m.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// watch detects unexpected sandbox exit. A crash is surfaced to the caller
// as a close event rather than silently dropping the session.
func (m *Manager) watch(s *session) {
	wr := <-m.rt.Wait(context.Background(), s.sandboxID)
	select {
	case <-s.done:
		return // ended on purpose
	default:
	}
	reason := fmt.Sprintf("crashed: exit code %d", wr.ExitCode)
	if wr.Err != nil {
		reason = "crashed: " + wr.Err.Error()
	}
	m.teardown(s, StateCrashed, reason)
}

// sweep periodically reclaims idle sessions.
func (m *Manager) sweep() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-m.opts.IdleTimeout)
			for _, s := range m.snapshot() {
				m.mu.RLock()
				idle := s.lastActivity.Before(cutoff)
				m.mu.RUnlock()
				if idle {
					m.logger.Info("reclaiming idle session",
						zap.String("session", s.id))
					m.teardown(s, StateIdle, "idle timeout")
				}
			}
		case <-m.sweepStop:
			return
		}
	}
}

// teardown ends a session exactly once: state change, deregistration,
// sandbox destruction, close notification. Safe to call from any goroutine,
// including concurrently with the pump.
func (m *Manager) teardown(s *session, state State, reason string) {
	s.stopOnce.Do(func() {
		m.mu.Lock()
		s.state = state
		delete(m.sessions, s.id)
		m.mu.Unlock()

		close(s.done)
		_ = s.io.Close()
		m.destroySandbox(s.sandboxID)

		ev := Event{SessionID: s.id, Type: EventClosed, Reason: reason}
		select {
		case m.events <- ev:
		case <-time.After(teardownGrace):
			m.logger.Warn("close event dropped; consumer stalled",
				zap.String("session", s.id))
		}

		m.logger.Info("session ended",
			zap.String("session", s.id),
			zap.String("state", state.String()),
			zap.String("reason", reason))
	})
}

// destroySandbox kills and removes a sandbox, detached from any caller
// context so cancellation cannot leak it.
func (m *Manager) destroySandbox(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownGrace)
	defer cancel()
	if err := m.rt.Kill(ctx, id); err != nil {
		m.logger.Warn("session sandbox kill failed",
			zap.String("sandbox", id), zap.Error(err))
	}
	if err := m.rt.Remove(ctx, id); err != nil {
		m.logger.Error("session sandbox remove failed",
			zap.String("sandbox", id), zap.Error(err))
	}
}

// hasControlBytes reports whether data contains control or escape bytes
// that must reach the PTY untouched (interrupt, EOF, arrow keys, ...).
// Plain line endings and tabs do not count; they appear in ordinary typed
// text.
func hasControlBytes(data []byte) bool {
	for _, b := range data {
		if b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		if b < 0x20 || b == 0x7f {
			return true
		}
	}
	return false
}
