package document

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/mdstream/internal/completeness"
	"github.com/samsaffron/mdstream/internal/diagram"
	"github.com/samsaffron/mdstream/internal/scheduler"
	"github.com/samsaffron/mdstream/internal/viewport"
)

// ErrClosed is returned when writing to a closed session.
var ErrClosed = errors.New("document session closed")

// Options configures a Session.
type Options struct {
	// Loader provides the diagram library. Required.
	Loader scheduler.LibraryLoader
	// Languages lists the fence languages rendered as diagrams. Empty means
	// mermaid and mmd.
	Languages []string
	Delays    scheduler.Delays
	// Clock overrides the wall clock, mostly for tests.
	Clock scheduler.Clock
	// Viewport gates rendering of blocks that were never on screen. Nil
	// renders every block.
	Viewport *viewport.Tail
	Logger   *slog.Logger
	// Context is passed to library calls.
	Context context.Context
	// NewID returns a unique block id. Defaults to a random id.
	NewID func() string
}

// Diagram is the current state of one diagram block.
type Diagram struct {
	Block    Block
	Snapshot scheduler.Snapshot
	// Markup is the host content: the isolation wrapper around the rendered
	// svg, empty when nothing is rendered.
	Markup string
	// SVG is the displayed svg element alone.
	SVG string
}

// Session accumulates streamed markdown and keeps one scheduler per diagram
// block. Blocks are matched across writes by their position among diagram
// blocks.
type Session struct {
	opts Options

	mu       sync.Mutex
	buf      bytes.Buffer
	blocks   []Block
	entries  []*entry
	finished bool
	closed   bool
}

type entry struct {
	id    string
	block Block
	span  *span
	host  *diagram.Container
	gate  *viewport.Gate
	sched *scheduler.Scheduler
}

// span is a block's line range, updated as the document grows.
type span struct {
	mu         sync.Mutex
	start, end int
}

func (s *span) set(start, end int) {
	s.mu.Lock()
	s.start, s.end = start, end
	s.mu.Unlock()
}

func (s *span) Bounds() viewport.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return viewport.LineSpan{Start: s.start, End: s.end}.Bounds()
}

// NewSession creates an empty session.
func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Delays == (scheduler.Delays{}) {
		opts.Delays = scheduler.DefaultDelays()
	}
	if opts.NewID == nil {
		opts.NewID = newBlockID
	}
	return &Session{opts: opts}
}

// newBlockID returns an id that is safe to use as an element id and as a
// file name.
func newBlockID() string {
	return "m" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Write appends streamed markdown and reconciles diagram blocks.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.buf.Write(p)
	s.syncLocked()
	return len(p), nil
}

// WriteString is like Write.
func (s *Session) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Finish marks the end of input. Blocks left without a closing fence stop
// counting as changing so their errors can surface.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.finished {
		return
	}
	s.finished = true
	for _, e := range s.entries {
		e.sched.SetChanging(false)
	}
}

// Wait blocks until no render work is pending or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.settled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Session) settled() bool {
	s.mu.Lock()
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()
	for _, e := range entries {
		if !e.sched.Settled() {
			return false
		}
	}
	return true
}

// Close tears down every block. Further writes fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.dropLocked(0)
}

// Markdown returns the source written so far.
func (s *Session) Markdown() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Blocks returns every code block found so far.
func (s *Session) Blocks() []Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Block(nil), s.blocks...)
}

// Diagrams returns the state of every diagram block in document order.
func (s *Session) Diagrams() []Diagram {
	s.mu.Lock()
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()

	out := make([]Diagram, 0, len(entries))
	for _, e := range entries {
		out = append(out, Diagram{
			Block:    e.block,
			Snapshot: e.sched.Snapshot(),
			Markup:   e.host.InnerHTML(),
			SVG:      e.host.SVG(),
		})
	}
	return out
}

// IsDiagram reports whether blocks in the given fence language are rendered.
func (s *Session) IsDiagram(lang string) bool {
	return LanguageMatcher(s.opts.Languages)(lang)
}

// LanguageMatcher returns a case-insensitive test for the diagram languages
// langs. Empty langs means mermaid and mmd.
func LanguageMatcher(langs []string) func(string) bool {
	if len(langs) == 0 {
		return completeness.IsDiagramLanguage
	}
	set := make(map[string]bool, len(langs))
	for _, l := range langs {
		set[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return func(lang string) bool {
		return set[strings.ToLower(strings.TrimSpace(lang))]
	}
}

func (s *Session) syncLocked() {
	src := s.buf.Bytes()
	s.blocks = Parse(src)

	n := 0
	var started []*entry
	for _, b := range s.blocks {
		if b.Indented || !s.IsDiagram(b.Language) {
			continue
		}
		if n < len(s.entries) && !strings.EqualFold(s.entries[n].block.Language, b.Language) {
			s.dropLocked(n)
		}
		if n == len(s.entries) {
			e := s.newEntry(b)
			s.entries = append(s.entries, e)
			started = append(started, e)
		}
		e := s.entries[n]
		e.block = b
		e.span.set(b.StartLine, b.EndLine)
		e.sched.SetChanging(!b.Closed && !s.finished)
		e.sched.Update(b.Value)
		n++
	}
	if n < len(s.entries) {
		s.dropLocked(n)
	}

	// Notify gates only once spans are current.
	if s.opts.Viewport != nil {
		s.opts.Viewport.SetContentLines(newLineIndex(src).count())
	}
	for _, e := range started {
		e.gate.Start()
	}
}

func (s *Session) newEntry(b Block) *entry {
	e := &entry{
		id:    s.opts.NewID(),
		block: b,
		span:  &span{start: b.StartLine, end: b.EndLine},
	}
	e.host = diagram.NewContainer(e.id)

	var gateOpts []viewport.GateOption
	if s.opts.Viewport != nil {
		gateOpts = append(gateOpts, viewport.WithRoot(s.opts.Viewport), viewport.WithObserver(s.opts.Viewport))
	}
	e.gate = viewport.NewGate(e.span, gateOpts...)

	schedOpts := []scheduler.Option{
		scheduler.WithLanguage(b.Language),
		scheduler.WithDiagramHeuristic(true),
		scheduler.WithVisibility(e.gate),
		scheduler.WithDelays(s.opts.Delays),
		scheduler.WithLogger(s.opts.Logger),
		scheduler.WithContext(s.opts.Context),
	}
	if s.opts.Clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(s.opts.Clock))
	}
	e.sched = scheduler.New(e.id, s.opts.Loader, e.host, schedOpts...)

	s.opts.Logger.Debug("diagram block opened", "block", e.id, "index", b.Index, "language", b.Language)
	return e
}

// dropLocked tears down entries from index i on.
func (s *Session) dropLocked(i int) {
	for _, e := range s.entries[i:] {
		e.sched.Close()
		e.gate.Stop()
		e.host.Clear()
		s.opts.Logger.Debug("diagram block closed", "block", e.id)
	}
	s.entries = s.entries[:i]
}
