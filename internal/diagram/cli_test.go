package diagram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCLI writes a fixed SVG to the -o argument.
func fakeCLI(svg string, fail error) runFunc {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if fail != nil {
			return []byte("Parse error on line 1"), fail
		}
		for i := 0; i+1 < len(args); i++ {
			if args[i] == "-o" {
				return nil, os.WriteFile(args[i+1], []byte(svg), 0644)
			}
		}
		return nil, errors.New("no output flag")
	}
}

func TestCLIRenderer_RenderAndSweep(t *testing.T) {
	dir := t.TempDir()
	r := NewCLIRenderer("mmdc", dir)
	r.run = fakeCLI("<svg><g/></svg>", nil)
	require.NoError(t, r.Initialize(InitOptions{Theme: "neutral"}))

	res, err := r.Render(context.Background(), "m42", "graph TD\nA-->B")
	require.NoError(t, err)
	assert.Equal(t, "<svg><g/></svg>", res.Markup)

	assert.FileExists(t, filepath.Join(dir, "dm42.mmd"))
	assert.FileExists(t, filepath.Join(dir, "dm42.svg"))

	other := filepath.Join(dir, "dm43.mmd")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))
	longer := filepath.Join(dir, "dm420.svg")
	require.NoError(t, os.WriteFile(longer, []byte("x"), 0644))

	require.NoError(t, r.Sweep("m42"))
	assert.NoFileExists(t, filepath.Join(dir, "dm42.mmd"))
	assert.NoFileExists(t, filepath.Join(dir, "dm42.svg"))
	assert.FileExists(t, other)
	assert.FileExists(t, longer)

	// Nothing left to remove is fine.
	assert.NoError(t, r.Sweep("m42"))
}

func TestCLIRenderer_Failure(t *testing.T) {
	r := NewCLIRenderer("mmdc", t.TempDir())
	r.run = fakeCLI("", errors.New("exit status 1"))
	require.NoError(t, r.Initialize(InitOptions{}))

	_, err := r.Render(context.Background(), "m1", "graph TD\nA[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
	assert.Contains(t, err.Error(), "Parse error")
}

func TestCLIRenderer_EmptyOutput(t *testing.T) {
	r := NewCLIRenderer("", t.TempDir())
	r.run = fakeCLI("  ", nil)
	require.NoError(t, r.Initialize(InitOptions{}))

	_, err := r.Render(context.Background(), "m1", "graph TD")
	assert.ErrorIs(t, err, ErrEmptyMarkup)
}

func TestCLIRenderer_TempWorkDir(t *testing.T) {
	r := NewCLIRenderer("", "")
	require.NoError(t, r.Initialize(InitOptions{}))
	defer os.RemoveAll(r.WorkDir())
	assert.DirExists(t, r.WorkDir())
}

func TestCLIPrecheck(t *testing.T) {
	assert.Error(t, CLIPrecheck("definitely-not-a-real-mermaid-cli")())
}
