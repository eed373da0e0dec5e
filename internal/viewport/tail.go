package viewport

import "sync"

// Tail is a terminal viewport that follows the end of a growing document.
//
// Rows are document lines. With no scroll offset the last height lines are
// visible; scrolling up by n lines moves the window n lines toward the top.
// When the document is shorter than the viewport the window starts at line 0.
type Tail struct {
	mu     sync.Mutex
	width  int
	height int
	lines  int
	offset int

	nextID    int
	observers map[int]observation
}

type observation struct {
	el Element
	fn func(Entry)
}

// NewTail creates a viewport of the given size in columns and rows.
func NewTail(width, height int) *Tail {
	if width < 1 {
		width = 80
	}
	if height < 1 {
		height = 24
	}
	return &Tail{
		width:     width,
		height:    height,
		observers: make(map[int]observation),
	}
}

// Bounds returns the visible window in document coordinates.
func (t *Tail) Bounds() Rect {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boundsLocked()
}

func (t *Tail) boundsLocked() Rect {
	end := t.lines - t.offset
	if end < t.height {
		end = t.height
	}
	return Rect{Top: end - t.height, Left: 0, Bottom: end, Right: t.width}
}

// Observe implements Observer. Notifications are delivered whenever the
// content or scroll position changes.
func (t *Tail) Observe(el Element, fn func(Entry)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = observation{el: el, fn: fn}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

// Observed returns the number of attached observations.
func (t *Tail) Observed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observers)
}

// SetContentLines updates the document length and notifies observers.
func (t *Tail) SetContentLines(n int) {
	t.mu.Lock()
	if n < 0 {
		n = 0
	}
	t.lines = n
	t.clampLocked()
	t.mu.Unlock()
	t.notify()
}

// Scroll sets how many lines the window is scrolled up from the bottom.
func (t *Tail) Scroll(offset int) {
	t.mu.Lock()
	t.offset = offset
	t.clampLocked()
	t.mu.Unlock()
	t.notify()
}

// Resize changes the viewport size.
func (t *Tail) Resize(width, height int) {
	t.mu.Lock()
	if width > 0 {
		t.width = width
	}
	if height > 0 {
		t.height = height
	}
	t.clampLocked()
	t.mu.Unlock()
	t.notify()
}

func (t *Tail) clampLocked() {
	maxOffset := t.lines - t.height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if t.offset > maxOffset {
		t.offset = maxOffset
	}
	if t.offset < 0 {
		t.offset = 0
	}
}

func (t *Tail) notify() {
	t.mu.Lock()
	view := t.boundsLocked()
	obs := make([]observation, 0, len(t.observers))
	for _, o := range t.observers {
		obs = append(obs, o)
	}
	t.mu.Unlock()

	for _, o := range obs {
		o.fn(intersect(o.el.Bounds(), view))
	}
}

func intersect(r, view Rect) Entry {
	if !r.Intersects(view) {
		return Entry{}
	}
	top := max(r.Top, view.Top)
	bottom := min(r.Bottom, view.Bottom)
	ratio := 1.0
	if h := r.Height(); h > 0 {
		ratio = float64(bottom-top) / float64(h)
	}
	return Entry{Intersecting: true, Ratio: ratio}
}

// LineSpan is an Element covering document lines [Start, End).
type LineSpan struct {
	Start, End int
}

// Bounds implements Element. Empty spans still occupy one row.
func (s LineSpan) Bounds() Rect {
	end := s.End
	if end <= s.Start {
		end = s.Start + 1
	}
	return Rect{Top: s.Start, Left: 0, Bottom: end, Right: 1}
}
