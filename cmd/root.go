package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/samsaffron/mdstream/internal/signal"
)

// Version is set at build time.
var Version = "dev"

var debugLogs bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Enable debug logging to stderr")
}

var rootCmd = &cobra.Command{
	Use:   "mdstream",
	Short: "Render diagrams in markdown as it streams in",
	Long: `mdstream feeds markdown into a streaming document, renders mermaid
diagram blocks as soon as they look complete, and prints the result.

Examples:
  cat notes.md | mdstream render                 # render to the terminal
  mdstream render notes.md --format html         # HTML with inline SVG
  mdstream render notes.md --chunk 8 --interval 20ms --svg-dir out/
  mdstream classify notes.md                     # block completeness report
  mdstream config                                # view configuration`,
	Version:           Version,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr(), debugLogs)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func setupLogging(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// openInput returns the named file, or stdin when no file or "-" is given.
func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(args[0])
}
