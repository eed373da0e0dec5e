package diagram

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultCLIPath is the mermaid CLI executable name.
const DefaultCLIPath = "mmdc"

// runFunc runs an external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CLIRenderer renders diagrams with the mermaid CLI. Each render writes
// d<id>.mmd and d<id>.svg into the work dir; Sweep removes them.
type CLIRenderer struct {
	path    string
	workDir string
	theme   string
	run     runFunc
}

// NewCLIRenderer creates a renderer that invokes the executable at path.
// An empty workDir gets a fresh temporary directory on Initialize.
func NewCLIRenderer(path, workDir string) *CLIRenderer {
	if path == "" {
		path = DefaultCLIPath
	}
	return &CLIRenderer{
		path:    path,
		workDir: workDir,
		theme:   "default",
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// CLIPrecheck returns a Precheck that fails when the executable is not on PATH.
func CLIPrecheck(path string) Precheck {
	if path == "" {
		path = DefaultCLIPath
	}
	return func() error {
		_, err := exec.LookPath(path)
		return err
	}
}

// Initialize prepares the work dir and applies the theme.
func (r *CLIRenderer) Initialize(opts InitOptions) error {
	if opts.Theme != "" {
		r.theme = opts.Theme
	}
	if r.workDir == "" {
		dir, err := os.MkdirTemp("", "mdstream-diagrams-")
		if err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}
		r.workDir = dir
		return nil
	}
	if err := os.MkdirAll(r.workDir, 0755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	return nil
}

// WorkDir returns the directory renders write into.
func (r *CLIRenderer) WorkDir() string {
	return r.workDir
}

// Render writes text to disk, runs the CLI and reads the produced SVG.
func (r *CLIRenderer) Render(ctx context.Context, id, text string) (Result, error) {
	in, out := r.artifactPaths(id)
	if err := os.WriteFile(in, []byte(text), 0644); err != nil {
		return Result{}, fmt.Errorf("write diagram source: %w", err)
	}

	output, err := r.run(ctx, r.path, "-i", in, "-o", out, "-t", r.theme, "-q")
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			return Result{}, fmt.Errorf("%s: %w", r.path, err)
		}
		return Result{}, fmt.Errorf("%s: %w: %s", r.path, err, msg)
	}

	svg, err := os.ReadFile(out)
	if err != nil {
		return Result{}, fmt.Errorf("read rendered svg: %w", err)
	}
	if len(strings.TrimSpace(string(svg))) == 0 {
		return Result{}, ErrEmptyMarkup
	}
	return Result{Markup: string(svg)}, nil
}

// Sweep removes every d<id>.* artifact from the work dir. Artifacts of ids
// that merely start with id are left alone.
func (r *CLIRenderer) Sweep(id string) error {
	if r.workDir == "" {
		return nil
	}
	matches, err := doublestar.Glob(os.DirFS(r.workDir), "d"+id+".*")
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(filepath.Join(r.workDir, m)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *CLIRenderer) artifactPaths(id string) (string, string) {
	base := filepath.Join(r.workDir, "d"+id)
	return base + ".mmd", base + ".svg"
}
