package viewport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTail_BoundsFollowEnd(t *testing.T) {
	tail := NewTail(80, 10)
	assert.Equal(t, Rect{Top: 0, Left: 0, Bottom: 10, Right: 80}, tail.Bounds())

	tail.SetContentLines(25)
	assert.Equal(t, Rect{Top: 15, Left: 0, Bottom: 25, Right: 80}, tail.Bounds())

	tail.Scroll(5)
	assert.Equal(t, Rect{Top: 10, Left: 0, Bottom: 20, Right: 80}, tail.Bounds())

	tail.Scroll(100)
	assert.Equal(t, Rect{Top: 0, Left: 0, Bottom: 10, Right: 80}, tail.Bounds())
}

func TestTail_GateOpensWhenBlockScrollsIn(t *testing.T) {
	tail := NewTail(80, 10)
	tail.SetContentLines(40)
	tail.Scroll(30)

	g := NewGate(LineSpan{Start: 30, End: 34}, WithRoot(tail), WithObserver(tail))
	g.Start()
	assert.Equal(t, StateObserving, g.State())
	assert.Equal(t, 1, tail.Observed())

	tail.Scroll(10)
	assert.False(t, g.Visible())

	tail.Scroll(5)
	assert.True(t, g.Visible())
	assert.Equal(t, 0, tail.Observed())
}

func TestTail_NewContentAtEndIsVisible(t *testing.T) {
	tail := NewTail(80, 5)
	tail.SetContentLines(100)

	g := NewGate(LineSpan{Start: 99, End: 100}, WithRoot(tail), WithObserver(tail))
	g.Start()
	assert.True(t, g.Visible())
}

func TestLineSpan_EmptyOccupiesOneRow(t *testing.T) {
	assert.Equal(t, 1, LineSpan{Start: 3, End: 3}.Bounds().Height())
}

func TestTail_ResizeRevealsEarlierLines(t *testing.T) {
	tail := NewTail(80, 5)
	tail.SetContentLines(20)

	g := NewGate(LineSpan{Start: 10, End: 12}, WithRoot(tail), WithObserver(tail))
	g.Start()
	require.False(t, g.Visible())

	tail.Resize(0, 12)
	assert.Equal(t, Rect{Top: 8, Left: 0, Bottom: 20, Right: 80}, tail.Bounds())
	assert.True(t, g.Visible())
}
