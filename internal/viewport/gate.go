// Package viewport reports whether an element has ever been visible.
package viewport

import "sync"

// Rect is an axis-aligned box in viewport coordinates. Bottom and Right are
// exclusive.
type Rect struct {
	Top, Left, Bottom, Right int
}

// Intersects reports whether r and o overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.Top < o.Bottom && r.Bottom > o.Top && r.Left < o.Right && r.Right > o.Left
}

// Height returns the number of rows covered by r.
func (r Rect) Height() int {
	if r.Bottom < r.Top {
		return 0
	}
	return r.Bottom - r.Top
}

// Element is anything with a current bounding box.
type Element interface {
	Bounds() Rect
}

// Entry is one intersection notification.
type Entry struct {
	Intersecting bool
	Ratio        float64
}

// Observer delivers intersection notifications for an element until the
// returned disconnect func is called.
type Observer interface {
	Observe(el Element, fn func(Entry)) (disconnect func())
}

// State is the lifecycle of a Gate.
type State int

const (
	StateNotObserved State = iota
	StateObserving
	StateVisible
)

func (s State) String() string {
	switch s {
	case StateObserving:
		return "observing"
	case StateVisible:
		return "visible"
	default:
		return "not-observed"
	}
}

// Gate is a one-shot visibility latch. It starts closed, opens at most once
// and never closes again. Once open it stops observing.
type Gate struct {
	el       Element
	root     Element
	observer Observer
	width    int
	height   int

	mu         sync.Mutex
	state      State
	disconnect func()
	subs       []func()
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithRoot checks visibility against root instead of the viewport.
func WithRoot(root Element) GateOption {
	return func(g *Gate) {
		g.root = root
	}
}

// WithObserver sets the asynchronous intersection primitive. Without one the
// gate opens as soon as it starts.
func WithObserver(o Observer) GateOption {
	return func(g *Gate) {
		g.observer = o
	}
}

// WithViewport sets the viewport size used for the first synchronous check
// when no root is given.
func WithViewport(width, height int) GateOption {
	return func(g *Gate) {
		g.width = width
		g.height = height
	}
}

// NewGate creates a closed gate for el. Call Start to begin observing.
func NewGate(el Element, opts ...GateOption) *Gate {
	g := &Gate{el: el}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start checks the element geometry right away and falls back to the
// observer if it is not yet in view. Calling Start again is a no-op.
func (g *Gate) Start() {
	g.mu.Lock()
	if g.state != StateNotObserved {
		g.mu.Unlock()
		return
	}
	if g.inView() || g.observer == nil {
		g.mu.Unlock()
		g.confirm()
		return
	}
	g.state = StateObserving
	g.mu.Unlock()

	disconnect := g.observer.Observe(g.el, g.handle)

	g.mu.Lock()
	if g.state == StateObserving {
		g.disconnect = disconnect
		disconnect = nil
	}
	g.mu.Unlock()

	// Visible already (or stopped) while Observe ran.
	if disconnect != nil {
		disconnect()
	}
}

// Visible reports whether the element has ever been visible.
func (g *Gate) Visible() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateVisible
}

// State returns the current lifecycle state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// OnVisible registers fn to run once when the gate opens. If the gate is
// already open fn runs immediately.
func (g *Gate) OnVisible(fn func()) {
	g.mu.Lock()
	if g.state == StateVisible {
		g.mu.Unlock()
		fn()
		return
	}
	g.subs = append(g.subs, fn)
	g.mu.Unlock()
}

// Stop detaches the observer and drops pending callbacks. An open gate stays
// open.
func (g *Gate) Stop() {
	g.mu.Lock()
	disconnect := g.disconnect
	g.disconnect = nil
	g.subs = nil
	if g.state == StateObserving {
		g.state = StateNotObserved
	}
	g.mu.Unlock()

	if disconnect != nil {
		disconnect()
	}
}

func (g *Gate) handle(e Entry) {
	if e.Intersecting || e.Ratio > 0 {
		g.confirm()
	}
}

func (g *Gate) confirm() {
	g.mu.Lock()
	if g.state == StateVisible {
		g.mu.Unlock()
		return
	}
	g.state = StateVisible
	disconnect := g.disconnect
	g.disconnect = nil
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	if disconnect != nil {
		disconnect()
	}
	for _, fn := range subs {
		fn()
	}
}

// inView performs the synchronous geometry check. Must be called with lock held.
func (g *Gate) inView() bool {
	if g.el == nil {
		return false
	}
	r := g.el.Bounds()
	if g.root != nil {
		return r.Intersects(g.root.Bounds())
	}
	if g.width > 0 && g.height > 0 {
		return r.Intersects(Rect{Top: 0, Left: 0, Bottom: g.height, Right: g.width})
	}
	return false
}
