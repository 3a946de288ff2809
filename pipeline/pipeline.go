package pipeline

import (
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/stream"
)

// DefaultMaxBytes is the hard input ceiling when Options.MaxBytes is zero.
const DefaultMaxBytes = 1 << 20 // 1 MiB

// Handler is the per-language extension point. Implementations register by
// language name; no subclassing involved.
type Handler interface {
	// Preprocess rewrites code before injection (e.g. wraps it in
	// harness statements). Returning the input unchanged is fine.
	Preprocess(code string) string
	// Validate may reject code with a language-specific reason.
	Validate(code string) error
	// MultilinePatterns marks lines that open a multiline statement.
	MultilinePatterns() []*regexp.Regexp
}

// Options controls one Process call.
type Options struct {
	// Validate enables the dangerous-pattern scan.
	Validate bool
	// MaxBytes overrides the input ceiling; zero means DefaultMaxBytes.
	MaxBytes int
	// Binary marks payloads that bypass text validation. They still flow
	// through a Transcoder for accounting.
	Binary bool
}

// Result reports the outcome of Process. When Accepted is false, Reason
// explains the rejection and the input must not reach a sandbox.
type Result struct {
	Accepted   bool
	Normalized []byte
	Reason     string
}

// Pipeline validates and transforms inbound code and terminal input.
// Safe for concurrent use.
type Pipeline struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	statsMu sync.Mutex
	binTC   *stream.Transcoder
}

// New creates a Pipeline with no handlers registered.
func New(logger *zap.Logger) *Pipeline {
	return &Pipeline{
		logger:   logger,
		handlers: make(map[string]Handler),
		binTC:    stream.New(stream.NormalizeNone),
	}
}

// Register installs a handler for a language, replacing any existing one.
func (p *Pipeline) Register(language string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[language] = h
}

// Unregister removes the handler for a language, if any.
func (p *Pipeline) Unregister(language string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, language)
}

func (p *Pipeline) handler(language string) Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[language]
}

func reject(reason string) Result {
	return Result{Accepted: false, Reason: reason}
}

// Process runs the validation order fixed by the design: size ceiling, then
// the dangerous-pattern scan, then the language handler hook. The first
// failure wins and blocks sandbox creation entirely.
func (p *Pipeline) Process(input []byte, language string, opts Options) Result {
	limit := opts.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if len(input) > limit {
		return reject(fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(input), limit))
	}

	if opts.Binary {
		// Accounting only; binary bytes are never pattern-scanned.
		p.statsMu.Lock()
		p.binTC.Transcode(input)
		p.statsMu.Unlock()
		return Result{Accepted: true, Normalized: input}
	}

	if opts.Validate {
		code := string(input)
		for _, r := range rulesFor(language) {
			if r.re.MatchString(code) {
				p.logger.Warn("input rejected by validation",
					zap.String("language", language),
					zap.String("rule", r.name))
				return reject("dangerous pattern detected: " + r.name)
			}
		}
	}

	out := input
	if h := p.handler(language); h != nil {
		if err := h.Validate(string(out)); err != nil {
			return reject(err.Error())
		}
		out = []byte(h.Preprocess(string(out)))
	}

	return Result{Accepted: true, Normalized: out}
}

// IsIncomplete reports whether line opens a multiline statement in the given
// language, consulting the registered handler first and falling back to the
// built-in patterns. REPL frontends use this to defer submission.
func (p *Pipeline) IsIncomplete(language, line string) bool {
	var patterns []*regexp.Regexp
	if h := p.handler(language); h != nil {
		patterns = h.MultilinePatterns()
	}
	if patterns == nil {
		patterns = defaultMultiline[language]
	}
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// BinaryStats returns the accounting counters for binary payloads.
func (p *Pipeline) BinaryStats() stream.Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.binTC.Stats()
}
