package runner

import (
	"io"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/isdmx/runbox/stream"
)

// capture accumulates one output channel through a Transcoder, capping the
// stored bytes on a complete-character boundary while continuing to drain
// the source so the sandbox never blocks on a full pipe. Write and finish
// may race on the stuck-stream path, so both hold the mutex; writes after
// finish are drained and discarded.
type capture struct {
	mu        sync.Mutex
	tc        *stream.Transcoder
	buf       []byte
	max       int
	truncated bool
	closed    bool
}

func newCapture(max int) *capture {
	return &capture{tc: stream.New(stream.NormalizeCRLF), max: max}
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return len(p), nil
	}
	c.store(c.tc.Transcode(p))
	return len(p), nil
}

func (c *capture) store(emit []byte) {
	if len(emit) == 0 {
		return
	}
	room := c.max - len(c.buf)
	if room <= 0 {
		c.truncated = true
		return
	}
	if len(emit) > room {
		emit = stream.CutOnBoundary(emit, room)
		c.truncated = true
	}
	c.buf = append(c.buf, emit...)
}

// finish flushes the transcoder tail, seals the capture against further
// writes and returns the captured bytes.
func (c *capture) finish() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.store(c.tc.Flush())
		c.closed = true
	}
	return c.buf
}

// stats snapshots the capture's transcoder counters.
func (c *capture) stats() stream.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tc.Stats()
}

// demux splits the runtime's interleaved output stream (1-byte channel id,
// 3 reserved bytes, 4-byte big-endian length, payload) into the two
// captures, reading until EOF.
func demux(r io.Reader, stdout, stderr *capture) error {
	_, err := stdcopy.StdCopy(stdout, stderr, r)
	return err
}
