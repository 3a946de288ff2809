package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/isdmx/runbox/sandbox"
)

// fakeRuntime is an in-memory sandbox.Runtime for terminal sessions. Each
// sandbox exposes a raw pipe the test writes PTY output into and a buffer
// collecting forwarded input.
type fakeRuntime struct {
	mu      sync.Mutex
	seq     int
	boxes   map[string]*fakeBox
	killed  []string
	removed []string

	createErr error
	attachErr error
	startErr  error
}

type fakeBox struct {
	id string

	outR *io.PipeReader // session side
	outW *io.PipeWriter // test side: PTY output

	mu      sync.Mutex
	input   bytes.Buffer
	resizes []geometry

	waitCh    chan sandbox.WaitResult
	closeOnce sync.Once
}

type geometry struct{ cols, rows uint }

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{boxes: make(map[string]*fakeBox)}
}

func (f *fakeRuntime) box(id string) *fakeBox {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boxes[id]
}

func (f *fakeRuntime) killedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.killed...)
}

func (f *fakeRuntime) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// emit writes raw PTY output into the sandbox's stream.
func (b *fakeBox) emit(s string) {
	_, _ = b.outW.Write([]byte(s))
}

// exit ends the sandbox's main process: the stream closes and Wait fires.
func (b *fakeBox) exit(code int64) {
	b.closeOnce.Do(func() {
		_ = b.outW.Close()
		b.waitCh <- sandbox.WaitResult{ExitCode: code}
	})
}

func (b *fakeBox) inputString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.input.String()
}

func (b *fakeBox) resizeLog() []geometry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]geometry(nil), b.resizes...)
}

func (f *fakeRuntime) Create(_ context.Context, spec sandbox.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	if !spec.Tty || !spec.OpenStdin {
		return "", fmt.Errorf("fake: session sandboxes need a tty with open stdin")
	}
	f.seq++
	id := fmt.Sprintf("fake-%d", f.seq)
	r, w := io.Pipe()
	f.boxes[id] = &fakeBox{
		id:     id,
		outR:   r,
		outW:   w,
		waitCh: make(chan sandbox.WaitResult, 1),
	}
	return id, nil
}

func (f *fakeRuntime) CopyIn(context.Context, string, string, io.Reader) error {
	return nil
}

func (f *fakeRuntime) Attach(_ context.Context, id string) (sandbox.IO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	b, ok := f.boxes[id]
	if !ok {
		return nil, fmt.Errorf("fake: no sandbox %s", id)
	}
	return &fakeIO{box: b}, nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startErr
}

func (f *fakeRuntime) Wait(_ context.Context, id string) <-chan sandbox.WaitResult {
	return f.box(id).waitCh
}

func (f *fakeRuntime) Resize(_ context.Context, id string, cols, rows uint) error {
	b := f.box(id)
	if b == nil {
		return fmt.Errorf("fake: no sandbox %s", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resizes = append(b.resizes, geometry{cols, rows})
	return nil
}

func (f *fakeRuntime) Kill(_ context.Context, id string) error {
	f.mu.Lock()
	b := f.boxes[id]
	f.killed = append(f.killed, id)
	f.mu.Unlock()
	if b != nil {
		b.exit(137)
	}
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeRuntime) CopyOut(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeRuntime) Close() error { return nil }

// fakeIO adapts a fakeBox to the sandbox.IO stream contract.
type fakeIO struct {
	box *fakeBox
}

func (s *fakeIO) Read(p []byte) (int, error) {
	return s.box.outR.Read(p)
}

func (s *fakeIO) Write(p []byte) (int, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	return s.box.input.Write(p)
}

func (s *fakeIO) CloseWrite() error { return nil }

func (s *fakeIO) Close() error {
	_ = s.box.outR.Close()
	return nil
}
