// Package diagram loads and drives an external diagram renderer.
//
// The renderer is treated as a black box: it is initialized once per
// process, turns diagram source into markup, and may leave temporary
// artifacts behind that must be swept by block id.
package diagram

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the environment cannot host a renderer.
	ErrUnavailable = errors.New("diagram renderer unavailable")
	// ErrEmptyMarkup is returned when a renderer produced no usable markup.
	ErrEmptyMarkup = errors.New("diagram renderer returned no markup")
)

// InitOptions is passed to Library.Initialize exactly once.
type InitOptions struct {
	Theme string
}

// Result is the output of a successful render.
type Result struct {
	Markup string
}

// Library renders diagram source into markup.
type Library interface {
	Initialize(opts InitOptions) error
	Render(ctx context.Context, id, text string) (Result, error)
}

// Parser is an optional capability used to tell syntax errors apart from
// other render failures.
type Parser interface {
	Parse(ctx context.Context, text string) error
}

// Sweeper is an optional capability that removes artifacts a render left
// behind for the given block id. Missing artifacts are not an error.
type Sweeper interface {
	Sweep(id string) error
}
