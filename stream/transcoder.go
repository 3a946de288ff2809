package stream

import (
	"unicode/utf8"
)

// Normalization selects the line-ending policy applied to printable text
// regions. Escape sequences are never rewritten regardless of mode.
type Normalization int

const (
	// NormalizeNone forwards line endings untouched. Interactive sessions
	// use this mode; the PTY line discipline owns CR/LF handling there.
	NormalizeNone Normalization = iota
	// NormalizeCRLF collapses CRLF pairs to LF, including pairs split
	// across chunk boundaries. Used for batch output capture.
	NormalizeCRLF
)

// Stats holds per-stream diagnostic counters. They never drive control flow.
type Stats struct {
	Chunks       uint64
	Bytes        uint64
	Controls     uint64
	Escapes      uint64
	DecodeErrors uint64
}

// Merge returns the counter-wise sum of two snapshots, for reporting over a
// pair of stream directions or channels.
func (s Stats) Merge(o Stats) Stats {
	return Stats{
		Chunks:       s.Chunks + o.Chunks,
		Bytes:        s.Bytes + o.Bytes,
		Controls:     s.Controls + o.Controls,
		Escapes:      s.Escapes + o.Escapes,
		DecodeErrors: s.DecodeErrors + o.DecodeErrors,
	}
}

const (
	escByte = 0x1b
	delByte = 0x7f

	// maxTail bounds how many bytes may be held waiting for a sequence
	// terminator. An "escape sequence" longer than this is not one; it is
	// flushed verbatim so a hostile stream cannot pin output forever.
	maxTail = 64
)

// Transcoder is a stateful chunk processor for one byte stream. It is not
// safe for concurrent use; each stream direction owns its own instance.
type Transcoder struct {
	mode  Normalization
	tail  []byte
	stats Stats
}

// New returns a Transcoder with the given normalization mode.
func New(mode Normalization) *Transcoder {
	return &Transcoder{mode: mode}
}

// Stats returns a snapshot of the stream counters.
func (t *Transcoder) Stats() Stats {
	return t.stats
}

// Pending reports how many bytes are currently held as an incomplete tail.
func (t *Transcoder) Pending() int {
	return len(t.tail)
}

// Flush returns any held tail verbatim and clears it. Call at end of stream
// so a trailing partial sequence is not silently lost.
func (t *Transcoder) Flush() []byte {
	out := t.tail
	t.tail = nil
	return out
}

// Transcode processes one chunk, prepending any tail held from the previous
// call, and returns the bytes safe to emit. The returned slice contains only
// complete UTF-8 characters and complete escape sequences; an unterminated
// trailing sequence is retained for the next call.
func (t *Transcoder) Transcode(chunk []byte) []byte {
	t.stats.Chunks++
	t.stats.Bytes += uint64(len(chunk))

	data := chunk
	if len(t.tail) > 0 {
		data = make([]byte, 0, len(t.tail)+len(chunk))
		data = append(data, t.tail...)
		data = append(data, chunk...)
		t.tail = nil
	}

	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		b := data[i]
		switch {
		case b == escByte:
			n, complete, malformed := scanEscape(data[i:])
			if !complete {
				if len(data)-i <= maxTail {
					t.hold(data[i:])
					return out
				}
				// Unterminated and implausibly long: forward as-is.
				t.stats.DecodeErrors++
				out = append(out, data[i:]...)
				return out
			}
			if malformed {
				t.stats.DecodeErrors++
			} else {
				t.stats.Escapes++
			}
			out = append(out, data[i:i+n]...)
			i += n

		case b == '\r' && t.mode == NormalizeCRLF:
			if i == len(data)-1 {
				// The LF half of a CRLF pair may be in the next chunk.
				// Counted once, on emission, after the re-scan.
				t.hold(data[i:])
				return out
			}
			t.stats.Controls++
			if data[i+1] == '\n' {
				out = append(out, '\n')
				i += 2
			} else {
				out = append(out, '\r')
				i++
			}

		case b < 0x20 || b == delByte:
			t.stats.Controls++
			out = append(out, b)
			i++

		case b < utf8.RuneSelf:
			out = append(out, b)
			i++

		default:
			if !utf8.FullRune(data[i:]) {
				// Truncated multi-byte character; at most three bytes.
				t.hold(data[i:])
				return out
			}
			r, size := utf8.DecodeRune(data[i:])
			if r == utf8.RuneError && size == 1 {
				t.stats.DecodeErrors++
			}
			out = append(out, data[i:i+size]...)
			i += size
		}
	}
	return out
}

func (t *Transcoder) hold(p []byte) {
	t.tail = append([]byte(nil), p...)
}

// scanEscape inspects an escape sequence starting at data[0] == ESC. It
// returns the sequence length in bytes, whether a terminator was found before
// the end of data, and whether the sequence is malformed (an illegal byte
// inside it; the scanned prefix is still reported so it passes through).
func scanEscape(data []byte) (n int, complete, malformed bool) {
	if len(data) < 2 {
		return 0, false, false
	}
	switch data[1] {
	case '[': // CSI: parameters, intermediates, then a final byte.
		i := 2
		for i < len(data) && data[i] >= 0x30 && data[i] <= 0x3f {
			i++
		}
		for i < len(data) && data[i] >= 0x20 && data[i] <= 0x2f {
			i++
		}
		if i >= len(data) {
			return 0, false, false
		}
		if data[i] >= 0x40 && data[i] <= 0x7e {
			return i + 1, true, false
		}
		// Illegal byte inside a CSI sequence. Emit what was scanned.
		return i, true, true

	case ']': // OSC: terminated by BEL or ST (ESC \).
		for i := 2; i < len(data); i++ {
			if data[i] == 0x07 {
				return i + 1, true, false
			}
			if data[i] == escByte {
				if i+1 >= len(data) {
					return 0, false, false
				}
				if data[i+1] == '\\' {
					return i + 2, true, false
				}
				return i, true, true
			}
		}
		return 0, false, false

	default:
		// Simple sequences: optional intermediates then one final byte.
		i := 1
		for i < len(data) && data[i] >= 0x20 && data[i] <= 0x2f {
			i++
		}
		if i >= len(data) {
			return 0, false, false
		}
		if data[i] >= 0x30 && data[i] <= 0x7e {
			return i + 1, true, false
		}
		return i, true, true
	}
}

// CutOnBoundary truncates p to at most limit bytes without splitting a
// multi-byte character: a rune the cut would bisect is dropped entirely.
// Used when capping captured output.
func CutOnBoundary(p []byte, limit int) []byte {
	if limit < 0 || len(p) <= limit {
		return p
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(p[cut]) {
		cut--
	}
	return p[:cut]
}
