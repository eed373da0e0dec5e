package diagram

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLibrary struct {
	inits atomic.Int32
	opts  InitOptions
}

func (s *stubLibrary) Initialize(opts InitOptions) error {
	s.inits.Add(1)
	s.opts = opts
	return nil
}

func (s *stubLibrary) Render(ctx context.Context, id, text string) (Result, error) {
	return Result{Markup: "<svg/>"}, nil
}

func TestLoader_LoadsOnce(t *testing.T) {
	lib := &stubLibrary{}
	var calls atomic.Int32
	release := make(chan struct{})

	loader := NewLoader(func(ctx context.Context) (Library, error) {
		calls.Add(1)
		<-release
		return lib, nil
	}, WithInitOptions(InitOptions{Theme: "dark"}))

	const n = 8
	var wg sync.WaitGroup
	results := make([]Library, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = loader.Load(context.Background())
		}(i)
	}
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, lib, results[i])
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), lib.inits.Load())
	assert.Equal(t, "dark", lib.opts.Theme)

	again, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, lib, again)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, loader.Loaded())
}

func TestLoader_RetriesAfterFailure(t *testing.T) {
	lib := &stubLibrary{}
	var calls atomic.Int32
	loader := NewLoader(func(ctx context.Context) (Library, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("network down")
		}
		return lib, nil
	})

	_, err := loader.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.False(t, loader.Loaded())

	got, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, lib, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoader_PrecheckFailsFast(t *testing.T) {
	var calls atomic.Int32
	loader := NewLoader(func(ctx context.Context) (Library, error) {
		calls.Add(1)
		return &stubLibrary{}, nil
	}, WithPrecheck(func() error { return errors.New("no display") }))

	_, err := loader.Load(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(0), calls.Load())
}

func TestLoader_NilFactory(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

type failingInit struct{ stubLibrary }

func (f *failingInit) Initialize(InitOptions) error { return errors.New("bad theme") }

func TestLoader_InitializeFailureNotCached(t *testing.T) {
	loader := NewLoader(func(ctx context.Context) (Library, error) {
		return &failingInit{}, nil
	})
	_, err := loader.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad theme")
	assert.False(t, loader.Loaded())
}
