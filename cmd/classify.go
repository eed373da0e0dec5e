package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samsaffron/mdstream/internal/completeness"
	"github.com/samsaffron/mdstream/internal/config"
	"github.com/samsaffron/mdstream/internal/document"
	"github.com/samsaffron/mdstream/internal/ui"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file]",
	Short: "Report the completeness of each code block",
	Long: `Parse markdown (a file or stdin) and print one line per code block with
its language, line range, stream status and whether its text looks complete.

Useful for checking how a partially streamed document would be treated.

Examples:
  mdstream classify notes.md
  head -c 300 notes.md | mdstream classify`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	in, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()

	src, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	blocks := document.Parse(src)
	if len(blocks) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No code blocks found.")
		return nil
	}
	writeClassification(cmd.OutOrStdout(), blocks, document.LanguageMatcher(cfg.Languages), ui.NewStyles(os.Stdout))
	return nil
}

func writeClassification(w io.Writer, blocks []document.Block, isDiagram func(string) bool, styles *ui.Styles) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLANGUAGE\tLINES\tSTATUS\tCOMPLETE\tFIRST LINE")
	for _, b := range blocks {
		lang := b.Language
		switch {
		case b.Indented:
			lang = "(indented)"
		case lang == "":
			lang = "-"
		}
		diagram := !b.Indented && isDiagram(b.Language)
		status := completeness.FenceStatus(b.Value, diagram, b.Closed, b.Indented)
		complete := styles.FormatResult(completeness.LikelyComplete(b.Value, diagram), "")
		first, _, _ := strings.Cut(b.Value, "\n")
		fmt.Fprintf(tw, "%d\t%s\t%d-%d\t%s\t%s\t%s\n",
			b.Index, lang, b.StartLine+1, b.EndLine, styles.FormatStatus(string(status)), strings.TrimSpace(complete), ui.Truncate(first, 40))
	}
	tw.Flush()
}
