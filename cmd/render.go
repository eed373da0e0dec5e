package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/samsaffron/mdstream/internal/config"
	"github.com/samsaffron/mdstream/internal/diagram"
	"github.com/samsaffron/mdstream/internal/document"
	"github.com/samsaffron/mdstream/internal/ui"
	"github.com/samsaffron/mdstream/internal/viewport"
)

var (
	renderFormat        string
	renderChunk         int
	renderInterval      time.Duration
	renderSVGDir        string
	renderRenderer      string
	renderViewportLines int
	renderMetrics       bool
	renderTimeout       time.Duration
)

var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Stream markdown through the diagram renderer",
	Long: `Stream a markdown file (or stdin) into a document session in small
chunks, the way a model would produce it, then print the final document.

Diagram blocks render while the text is still arriving. Errors for a block
are only reported once it stops changing.

Examples:
  mdstream render notes.md
  mdstream render notes.md --format html > notes.html
  mdstream render notes.md --renderer mmdc --svg-dir diagrams/
  mdstream render notes.md --chunk 4 --interval 10ms --metrics`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "term", "Output format (term or html)")
	renderCmd.Flags().IntVar(&renderChunk, "chunk", 64, "Bytes written per chunk")
	renderCmd.Flags().DurationVar(&renderInterval, "interval", 0, "Pause between chunks")
	renderCmd.Flags().StringVar(&renderSVGDir, "svg-dir", "", "Write rendered diagrams to this directory")
	renderCmd.Flags().StringVarP(&renderRenderer, "renderer", "r", "", "Diagram renderer (ink or mmdc)")
	renderCmd.Flags().IntVar(&renderViewportLines, "viewport-lines", -1, "Only render diagrams seen in a tail viewport of this many lines (0 renders all)")
	renderCmd.Flags().BoolVar(&renderMetrics, "metrics", false, "Print render counters to stderr")
	renderCmd.Flags().DurationVar(&renderTimeout, "timeout", 30*time.Second, "Maximum time to wait for diagrams")
}

func runRender(cmd *cobra.Command, args []string) error {
	if renderFormat != "term" && renderFormat != "html" {
		return fmt.Errorf("unknown format %q (want term or html)", renderFormat)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(renderRenderer, renderSVGDir, renderViewportLines)
	if err := cfg.Validate(); err != nil {
		return err
	}

	loader, cleanup, err := newLoader(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	in, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), renderTimeout)
	defer cancel()

	width, _ := ui.TerminalSize(os.Stdout)
	var tail *viewport.Tail
	if cfg.Viewport.Lines > 0 {
		tail = viewport.NewTail(width, cfg.Viewport.Lines)
	}

	sess := document.NewSession(document.Options{
		Loader:    loader,
		Languages: cfg.Languages,
		Delays:    cfg.Delays,
		Viewport:  tail,
		Logger:    slog.Default(),
		Context:   ctx,
	})
	defer sess.Close()

	if err := streamInto(ctx, sess, in, renderChunk, renderInterval); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	sess.Finish()
	if err := sess.Wait(ctx); err != nil {
		slog.Warn("gave up waiting for diagrams", "error", err)
	}

	diagrams := sess.Diagrams()
	if cfg.Output.SVGDir != "" {
		n, err := writeSVGs(cfg.Output.SVGDir, diagrams)
		if err != nil {
			return err
		}
		slog.Info("wrote diagrams", "count", n, "dir", cfg.Output.SVGDir)
	}

	if cfg.Renderer == "ink" {
		ink := diagram.NewInkRenderer(cfg.Ink.BaseURL, nil)
		_ = ink.Initialize(diagram.InitOptions{Theme: cfg.Ink.Theme})
		reportFailures(diagrams, ink.LiveURL)
	} else {
		reportFailures(diagrams, nil)
	}

	out := cmd.OutOrStdout()
	switch {
	case renderFormat == "html":
		doc, err := sess.HTML()
		if err != nil {
			return err
		}
		fmt.Fprint(out, doc)
	case ui.IsTerminal(os.Stdout):
		fmt.Fprint(out, ui.RenderMarkdown(sess.Terminal(), width))
	default:
		fmt.Fprint(out, sess.Terminal())
	}

	if renderMetrics {
		if err := printMetrics(cmd.ErrOrStderr(), prometheus.DefaultGatherer); err != nil {
			return err
		}
	}
	return nil
}

// newLoader builds the configured diagram library loader. The returned
// cleanup removes temporary files the renderer created.
func newLoader(cfg *config.Config) (*diagram.Loader, func(), error) {
	logger := diagram.WithLoaderLogger(slog.Default())
	switch cfg.Renderer {
	case "mmdc":
		r := diagram.NewCLIRenderer(cfg.Mmdc.Path, cfg.Mmdc.WorkDir)
		cleanup := func() {}
		if cfg.Mmdc.WorkDir == "" {
			cleanup = func() {
				if dir := r.WorkDir(); dir != "" {
					_ = os.RemoveAll(dir)
				}
			}
		}
		loader := diagram.NewLoader(
			func(context.Context) (diagram.Library, error) { return r, nil },
			diagram.WithPrecheck(diagram.CLIPrecheck(cfg.Mmdc.Path)),
			diagram.WithInitOptions(diagram.InitOptions{Theme: cfg.Mmdc.Theme}),
			logger,
		)
		return loader, cleanup, nil
	case "ink":
		r := diagram.NewInkRenderer(cfg.Ink.BaseURL, &http.Client{Timeout: cfg.Ink.Timeout})
		loader := diagram.NewLoader(
			func(context.Context) (diagram.Library, error) { return r, nil },
			diagram.WithPrecheck(diagram.InkPrecheck(cfg.Ink.BaseURL)),
			diagram.WithInitOptions(diagram.InitOptions{Theme: cfg.Ink.Theme}),
			logger,
		)
		return loader, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown renderer %q", cfg.Renderer)
	}
}

// reportFailures logs every diagram whose error was surfaced. When link is
// set it also logs an editor URL for the failing source.
func reportFailures(diagrams []document.Diagram, link func(string) (string, error)) int {
	failed := 0
	for i, d := range diagrams {
		if d.Snapshot.Error == "" {
			continue
		}
		failed++
		attrs := []any{"diagram", i + 1, "line", d.Block.StartLine + 1, "error", d.Snapshot.Error}
		if link != nil {
			if u, err := link(d.Block.Value); err == nil {
				attrs = append(attrs, "edit", u)
			}
		}
		slog.Warn("diagram failed", attrs...)
	}
	return failed
}

// streamInto copies r to w in chunks of at most size bytes, pausing for
// interval between chunks.
func streamInto(ctx context.Context, w io.Writer, r io.Reader, size int, interval time.Duration) error {
	if size <= 0 {
		size = 4096
	}
	buf := make([]byte, size)
	for first := true; ; first = false {
		if !first && interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// writeSVGs atomically writes each rendered diagram as diagram-N.svg, N
// counting diagram blocks from 1.
func writeSVGs(dir string, diagrams []document.Diagram) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create svg dir: %w", err)
	}
	written := 0
	for i, d := range diagrams {
		if d.SVG == "" {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("diagram-%d.svg", i+1))
		if err := renameio.WriteFile(path, []byte(d.SVG+"\n"), 0644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written++
	}
	return written, nil
}

// printMetrics writes the mdstream counters from g, one per line.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "mdstream_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return nil
}
