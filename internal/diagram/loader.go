package diagram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var libraryLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mdstream_library_loads_total",
	Help: "Diagram library load attempts by result",
}, []string{"result"})

// Factory creates an uninitialized Library. It may be slow.
type Factory func(ctx context.Context) (Library, error)

// Precheck checks synchronously whether the environment can host a library.
type Precheck func() error

// Loader loads a Library at most once and shares it with every caller.
//
// Concurrent callers wait on the same in-flight load. A failed load is not
// cached, so the next call starts over.
type Loader struct {
	factory  Factory
	precheck Precheck
	opts     InitOptions
	logger   *slog.Logger

	group singleflight.Group

	mu  sync.Mutex
	lib Library
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPrecheck sets the environment check run before any load work.
func WithPrecheck(p Precheck) LoaderOption {
	return func(l *Loader) {
		l.precheck = p
	}
}

// WithInitOptions sets the options passed to Library.Initialize.
func WithInitOptions(opts InitOptions) LoaderOption {
	return func(l *Loader) {
		l.opts = opts
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a Loader around factory.
func NewLoader(factory Factory, opts ...LoaderOption) *Loader {
	l := &Loader{
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the shared Library, loading and initializing it on first use.
func (l *Loader) Load(ctx context.Context) (Library, error) {
	if l.factory == nil {
		return nil, fmt.Errorf("%w: no renderer configured", ErrUnavailable)
	}
	if l.precheck != nil {
		if err := l.precheck(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if lib := l.cached(); lib != nil {
		return lib, nil
	}

	v, err, _ := l.group.Do("library", func() (any, error) {
		if lib := l.cached(); lib != nil {
			return lib, nil
		}

		lib, err := l.factory(ctx)
		if err != nil {
			libraryLoads.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("load diagram library: %w", err)
		}
		if err := lib.Initialize(l.opts); err != nil {
			libraryLoads.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("initialize diagram library: %w", err)
		}

		l.mu.Lock()
		l.lib = lib
		l.mu.Unlock()

		libraryLoads.WithLabelValues("success").Inc()
		l.logger.Debug("diagram library loaded", "theme", l.opts.Theme)
		return lib, nil
	})
	if err != nil {
		l.logger.Warn("diagram library load failed", "error", err)
		return nil, err
	}

	lib, ok := v.(Library)
	if !ok {
		return nil, fmt.Errorf("unexpected type from load group: got %T", v)
	}
	return lib, nil
}

// Loaded reports whether a Library has been loaded successfully.
func (l *Loader) Loaded() bool {
	return l.cached() != nil
}

func (l *Loader) cached() Library {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lib
}
