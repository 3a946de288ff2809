package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/isdmx/runbox/sandbox"
)

// fakeRuntime is a scriptable in-memory sandbox.Runtime. Each created
// sandbox gets its own attach pipe; Start plays the configured output as
// properly framed stdout/stderr, then reports the configured exit.
type fakeRuntime struct {
	mu      sync.Mutex
	boxes   map[string]*fakeBox
	created []string
	started []string
	killed  []string
	removed []string
	gone    map[string]bool
	copied  map[string][]byte
	specs   map[string]sandbox.Spec

	createErr error
	copyErr   error
	attachErr error
	startErr  error

	exitCode  int64
	waitErr   error
	runDelay  time.Duration
	outputFn  func(w io.Writer)
	artifacts []byte

	active     int
	peakActive int
}

type fakeBox struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu          sync.Mutex
	stdin       bytes.Buffer
	stdinClosed bool

	waitCh    chan sandbox.WaitResult
	closeOnce sync.Once
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		boxes:  make(map[string]*fakeBox),
		gone:   make(map[string]bool),
		copied: make(map[string][]byte),
		specs:  make(map[string]sandbox.Spec),
	}
}

// stdoutFrames returns an outputFn writing s as stdout frames.
func stdoutFrames(s string) func(io.Writer) {
	return func(w io.Writer) {
		_, _ = stdcopy.NewStdWriter(w, stdcopy.Stdout).Write([]byte(s))
	}
}

func (f *fakeRuntime) box(id string) *fakeBox {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boxes[id]
}

func (f *fakeRuntime) spec(id string) sandbox.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[id]
}

func (f *fakeRuntime) Create(_ context.Context, spec sandbox.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := fmt.Sprintf("fake-%d", len(f.created)+1)
	f.specs[id] = spec
	pr, pw := io.Pipe()
	f.boxes[id] = &fakeBox{
		pr:     pr,
		pw:     pw,
		waitCh: make(chan sandbox.WaitResult, 1),
	}
	f.created = append(f.created, id)
	f.active++
	if f.active > f.peakActive {
		f.peakActive = f.active
	}
	return id, nil
}

func (f *fakeRuntime) CopyIn(_ context.Context, id, _ string, archive io.Reader) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	data, err := io.ReadAll(archive)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.copied[id] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) Attach(_ context.Context, id string) (sandbox.IO, error) {
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	b := f.box(id)
	if b == nil {
		return nil, fmt.Errorf("no such sandbox: %s", id)
	}
	return &fakeIO{box: b}, nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	if f.startErr != nil {
		return f.startErr
	}
	b := f.box(id)
	if b == nil {
		return fmt.Errorf("no such sandbox: %s", id)
	}
	f.mu.Lock()
	f.started = append(f.started, id)
	outputFn, delay := f.outputFn, f.runDelay
	exit, waitErr := f.exitCode, f.waitErr
	f.mu.Unlock()

	go func() {
		if outputFn != nil {
			outputFn(b.pw)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		select {
		case b.waitCh <- sandbox.WaitResult{ExitCode: exit, Err: waitErr}:
		default:
		}
		b.closeOnce.Do(func() { _ = b.pw.Close() })
	}()
	return nil
}

func (f *fakeRuntime) Wait(_ context.Context, id string) <-chan sandbox.WaitResult {
	b := f.box(id)
	if b == nil {
		ch := make(chan sandbox.WaitResult, 1)
		ch <- sandbox.WaitResult{Err: fmt.Errorf("no such sandbox: %s", id)}
		return ch
	}
	return b.waitCh
}

func (f *fakeRuntime) Resize(_ context.Context, _ string, _, _ uint) error {
	return nil
}

func (f *fakeRuntime) Kill(_ context.Context, id string) error {
	b := f.box(id)
	if b == nil {
		return nil
	}
	f.mu.Lock()
	f.killed = append(f.killed, id)
	f.mu.Unlock()
	select {
	case b.waitCh <- sandbox.WaitResult{ExitCode: 137}:
	default:
	}
	b.closeOnce.Do(func() { _ = b.pw.Close() })
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	b := f.box(id)
	if b != nil {
		b.closeOnce.Do(func() { _ = b.pw.Close() })
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.boxes[id]; ok && !f.gone[id] {
		// Boxes stay inspectable after removal; only the slot is freed.
		f.gone[id] = true
		f.active--
		f.removed = append(f.removed, id)
	}
	return nil
}

func (f *fakeRuntime) CopyOut(_ context.Context, _, _ string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.artifacts)), nil
}

func (f *fakeRuntime) Close() error { return nil }

func (f *fakeRuntime) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeRuntime) killedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.killed...)
}

type fakeIO struct {
	box *fakeBox
}

func (f *fakeIO) Read(p []byte) (int, error) { return f.box.pr.Read(p) }

func (f *fakeIO) Write(p []byte) (int, error) {
	f.box.mu.Lock()
	defer f.box.mu.Unlock()
	return f.box.stdin.Write(p)
}

func (f *fakeIO) CloseWrite() error {
	f.box.mu.Lock()
	defer f.box.mu.Unlock()
	f.box.stdinClosed = true
	return nil
}

func (f *fakeIO) Close() error {
	_ = f.box.pr.Close()
	return nil
}

func (b *fakeBox) stdinContents() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stdin.String(), b.stdinClosed
}
