// Package scheduler renders one diagram block while its source is still
// streaming in.
//
// Every change to the source cancels pending work and waits for the text to
// settle in two tiers: a change-detection delay, then a render-commit delay.
// Both tiers are shorter when the text already looks complete. Each scheduled
// render carries a generation token and its result is discarded unless it is
// still current when it returns. Render failures are only surfaced once the
// source stops changing; until then the previous good render stays on screen.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/html"

	"github.com/samsaffron/mdstream/internal/completeness"
	"github.com/samsaffron/mdstream/internal/diagram"
)

var renderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mdstream_render_attempts_total",
	Help: "Diagram render attempts by result",
}, []string{"result"})

// LibraryLoader provides the shared diagram library.
type LibraryLoader interface {
	Load(ctx context.Context) (diagram.Library, error)
}

// Host displays the rendered markup for one block.
type Host interface {
	Replace(n *html.Node)
	Clear()
}

// Visibility gates rendering until the block has been seen.
type Visibility interface {
	Visible() bool
	OnVisible(fn func())
}

// Phase is where a block is in its render lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDebouncing
	PhaseRendering
	PhaseRendered
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseDebouncing:
		return "debouncing"
	case PhaseRendering:
		return "rendering"
	case PhaseRendered:
		return "rendered"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// FailureKind classifies a surfaced render failure.
type FailureKind string

const (
	FailureLoad   FailureKind = "load"
	FailureSyntax FailureKind = "syntax"
	FailureRender FailureKind = "render"
)

// Failure is a render error that was shown to the user.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s error: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Snapshot is a point-in-time copy of a block's state.
type Snapshot struct {
	ID            string
	Language      string
	Value         string
	RenderedValue string
	Error         string
	Kind          FailureKind
	Phase         Phase
	Changing      bool
	Attempts      int
}

// UpToDate reports whether the display shows the current value.
func (s Snapshot) UpToDate() bool {
	return s.Value != "" && s.Value == s.RenderedValue && s.Error == ""
}

// Scheduler owns the render lifecycle of one block.
type Scheduler struct {
	id     string
	loader LibraryLoader
	host   Host

	language   string
	diagram    bool
	diagramSet bool
	vis        Visibility
	clock      Clock
	delays     Delays
	logger     *slog.Logger
	ctx        context.Context

	mu            sync.Mutex
	observed      bool
	value         string
	renderedValue string
	errText       string
	failure       *Failure
	changing      bool
	changes       int
	lastChange    time.Time
	attempts      int
	inflight      bool
	generation    uint64
	timer         Timer
	phase         Phase
	closed        bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLanguage sets the fence language used by the completeness heuristic.
func WithLanguage(lang string) Option {
	return func(s *Scheduler) {
		s.language = lang
	}
}

// WithDiagramHeuristic picks the diagram completeness heuristic (or the
// generic one) regardless of the fence language.
func WithDiagramHeuristic(on bool) Option {
	return func(s *Scheduler) {
		s.diagram = on
		s.diagramSet = true
	}
}

// WithVisibility defers rendering until v reports the block as visible.
func WithVisibility(v Visibility) Option {
	return func(s *Scheduler) {
		s.vis = v
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithDelays sets the debounce delays.
func WithDelays(d Delays) Option {
	return func(s *Scheduler) {
		s.delays = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithContext sets the context passed to library calls.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		s.ctx = ctx
	}
}

// New creates a scheduler for the block with the given unique id.
func New(id string, loader LibraryLoader, host Host, opts ...Option) *Scheduler {
	s := &Scheduler{
		id:       id,
		loader:   loader,
		host:     host,
		language: "mermaid",
		clock:    realClock{},
		delays:   DefaultDelays(),
		logger:   slog.Default(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.diagramSet {
		s.diagram = completeness.IsDiagramLanguage(s.language)
	}
	s.logger = s.logger.With("block", id)
	if s.vis != nil {
		s.vis.OnVisible(s.becameVisible)
	}
	return s
}

// ID returns the block id.
func (s *Scheduler) ID() string { return s.id }

// Update delivers the latest source text. Repeating the last value is a
// no-op.
func (s *Scheduler) Update(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.observed && value == s.value) {
		return
	}
	s.observed = true
	s.value = value
	s.noteChangeLocked()

	if s.upToDateLocked() {
		s.cancelLocked()
		s.phase = PhaseRendered
		if value == "" {
			s.phase = PhaseIdle
		}
		return
	}
	s.evaluateLocked()
}

// SetChanging records whether more input is expected for this block. A
// failure seen while the block is changing stays hidden; clearing the flag
// retries so a persistent failure can surface.
func (s *Scheduler) SetChanging(changing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	was := s.changing
	s.changing = changing
	if !was || changing || !s.observed || s.upToDateLocked() {
		return
	}
	if s.phase == PhaseDebouncing || s.phase == PhaseRendering || s.phase == PhaseFailed {
		return
	}
	s.evaluateLocked()
}

// Snapshot returns the current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:            s.id,
		Language:      s.language,
		Value:         s.value,
		RenderedValue: s.renderedValue,
		Error:         s.errText,
		Phase:         s.phase,
		Changing:      s.changing,
		Attempts:      s.attempts,
	}
	if s.failure != nil {
		snap.Kind = s.failure.Kind
	}
	return snap
}

// Settled reports whether no render work is pending or in flight.
func (s *Scheduler) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || (s.timer == nil && !s.inflight)
}

// Close cancels pending work. Results of a render already in flight are
// dropped when it returns.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelLocked()
	s.closed = true
}

func (s *Scheduler) becameVisible() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.observed || s.upToDateLocked() || s.timer != nil {
		return
	}
	s.evaluateLocked()
}

func (s *Scheduler) upToDateLocked() bool {
	return s.value == s.renderedValue && s.errText == ""
}

func (s *Scheduler) noteChangeLocked() {
	now := s.clock.Now()
	if s.delays.IdleReset > 0 && !s.lastChange.IsZero() && now.Sub(s.lastChange) > s.delays.IdleReset {
		s.changes = 0
	}
	s.changes++
	s.lastChange = now
}

// cancelLocked invalidates every scheduled or in-flight render.
func (s *Scheduler) cancelLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) evaluateLocked() {
	s.cancelLocked()
	if s.value == "" {
		s.clearLocked()
		s.phase = PhaseIdle
		return
	}
	if s.vis != nil && !s.vis.Visible() {
		s.phase = PhaseIdle
		return
	}

	gen, value := s.generation, s.value
	wait := time.Duration(0)
	if s.attempts > 0 {
		wait = s.delays.settle(s.complete(value), s.changes)
	}
	s.phase = PhaseDebouncing
	s.timer = s.clock.AfterFunc(wait, func() { s.settled(gen, value) })
}

func (s *Scheduler) complete(value string) bool {
	return completeness.LikelyComplete(value, s.diagram)
}

func (s *Scheduler) clearLocked() {
	s.host.Clear()
	s.renderedValue = ""
	s.errText = ""
	s.failure = nil
}

func (s *Scheduler) currentLocked(gen uint64, value string) bool {
	return !s.closed && gen == s.generation && value == s.value
}

// settled runs when the change-detection tier expires.
func (s *Scheduler) settled(gen uint64, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen, value) {
		return
	}
	s.timer = s.clock.AfterFunc(s.delays.commit(s.complete(value)), func() { s.commit(gen, value) })
}

// commit runs when the render-commit tier expires.
func (s *Scheduler) commit(gen uint64, value string) {
	s.mu.Lock()
	if !s.currentLocked(gen, value) {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	text := strings.TrimSpace(value)
	if text == "" {
		s.clearLocked()
		s.phase = PhaseIdle
		s.mu.Unlock()
		return
	}
	s.phase = PhaseRendering
	s.inflight = true
	s.attempts++
	s.mu.Unlock()

	node, fail := s.render(text)
	s.finish(gen, value, node, fail)
}

func (s *Scheduler) render(text string) (*html.Node, *Failure) {
	lib, err := s.loader.Load(s.ctx)
	if err != nil {
		return nil, &Failure{Kind: FailureLoad, Err: err}
	}
	if sw, ok := lib.(diagram.Sweeper); ok {
		defer func() {
			if err := sw.Sweep(s.id); err != nil {
				s.logger.Debug("artifact cleanup failed", "error", err)
			}
		}()
	}

	res, err := lib.Render(s.ctx, s.id, text)
	if err != nil {
		return nil, &Failure{Kind: s.classify(lib, text), Err: err}
	}
	node, err := diagram.Isolate(s.id, res.Markup)
	if err != nil {
		return nil, &Failure{Kind: FailureRender, Err: err}
	}
	return node, nil
}

func (s *Scheduler) classify(lib diagram.Library, text string) FailureKind {
	p, ok := lib.(diagram.Parser)
	if !ok {
		return FailureRender
	}
	if err := p.Parse(s.ctx, text); err != nil {
		return FailureSyntax
	}
	return FailureRender
}

func (s *Scheduler) finish(gen uint64, value string, node *html.Node, fail *Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if s.closed {
		renderAttempts.WithLabelValues("stale").Inc()
		return
	}
	current := s.currentLocked(gen, value)

	if fail == nil {
		if !current {
			renderAttempts.WithLabelValues("stale").Inc()
			return
		}
		s.host.Replace(node)
		s.renderedValue = value
		s.errText = ""
		s.failure = nil
		s.changes = 0
		s.phase = PhaseRendered
		renderAttempts.WithLabelValues("success").Inc()
		s.logger.Debug("diagram rendered", "bytes", len(value))
		return
	}

	if !current || s.changing {
		renderAttempts.WithLabelValues("suppressed").Inc()
		s.logger.Debug("render failed while source changing", "kind", fail.Kind, "error", fail.Err)
		if current {
			s.phase = PhaseIdle
		}
		return
	}

	s.failure = fail
	s.errText = fail.Error()
	s.renderedValue = ""
	s.host.Clear()
	s.phase = PhaseFailed
	renderAttempts.WithLabelValues("failure").Inc()
	if errors.Is(fail.Err, diagram.ErrUnavailable) {
		s.logger.Warn("diagram library unavailable", "error", fail.Err)
	} else {
		s.logger.Warn("diagram render failed", "kind", fail.Kind, "error", fail.Err)
	}
}
