package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"github.com/samsaffron/mdstream/internal/completeness"
)

// HTML renders the document with each diagram block replaced by its isolated
// markup, or by its source while nothing is rendered.
func (s *Session) HTML() (string, error) {
	s.mu.Lock()
	src := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()

	r := &codeBlockRenderer{session: s, diagrams: s.Diagrams()}
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(util.Prioritized(r, 100)),
		),
	)
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return buf.String(), nil
}

// codeBlockRenderer renders code blocks. Diagram blocks are matched to
// session state by their order in the document.
type codeBlockRenderer struct {
	session  *Session
	diagrams []Diagram
	next     int
}

func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFenced)
	reg.Register(ast.KindCodeBlock, r.renderIndented)
}

func (r *codeBlockRenderer) renderFenced(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	lang := string(n.Language(source))

	if r.session.IsDiagram(lang) && r.next < len(r.diagrams) {
		d := r.diagrams[r.next]
		r.next++
		writeDiagram(w, d)
		return ast.WalkSkipChildren, nil
	}

	value := blockValue(source, n)
	_, _ = w.WriteString(`<pre`)
	if lang != "" {
		_, _ = fmt.Fprintf(w, ` class="language-%s"`, util.EscapeHTML([]byte(lang)))
	}
	_, _ = w.WriteString(`><code>`)
	_, _ = w.Write(util.EscapeHTML([]byte(value)))
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

func (r *codeBlockRenderer) renderIndented(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("<pre><code>")
	_, _ = w.Write(util.EscapeHTML([]byte(blockValue(source, node))))
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

func writeDiagram(w util.BufWriter, d Diagram) {
	snap := d.Snapshot
	_, _ = fmt.Fprintf(w, `<figure class="diagram" data-diagram-id="%s">`, snap.ID)
	if d.Markup != "" {
		_, _ = w.WriteString(d.Markup)
		_, _ = w.WriteString("</figure>\n")
		return
	}

	status := completeness.FenceStatus(d.Block.Value, true, d.Block.Closed, d.Block.Indented)
	_, _ = fmt.Fprintf(w, `<pre class="diagram-source" data-status="%s" data-phase="%s"`, status, snap.Phase)
	if snap.Error != "" {
		_, _ = w.WriteString(` data-error="`)
		_, _ = w.Write(util.EscapeHTML([]byte(snap.Error)))
		_, _ = w.WriteString(`"`)
	}
	_, _ = w.WriteString(`><code>`)
	_, _ = w.Write(util.EscapeHTML([]byte(d.Block.Value)))
	_, _ = w.WriteString("</code></pre></figure>\n")
}

// Terminal returns the document as markdown for a terminal renderer. Each
// diagram block keeps its source and gets a status line underneath.
func (s *Session) Terminal() string {
	s.mu.Lock()
	src := s.buf.String()
	s.mu.Unlock()
	diagrams := s.Diagrams()

	lines := strings.SplitAfter(src, "\n")
	var sb strings.Builder
	pos := 0
	for _, d := range diagrams {
		end := min(d.Block.EndLine, len(lines))
		if end < pos {
			continue
		}
		sb.WriteString(strings.Join(lines[pos:end], ""))
		if end > 0 && !strings.HasSuffix(lines[end-1], "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(statusLine(d))
		pos = end
	}
	if pos < len(lines) {
		sb.WriteString(strings.Join(lines[pos:], ""))
	}
	return sb.String()
}

func statusLine(d Diagram) string {
	snap := d.Snapshot
	switch {
	case snap.Error != "":
		return fmt.Sprintf("\n> **diagram %s failed:** %s\n\n", snap.ID, firstLine(snap.Error))
	case d.SVG != "":
		return fmt.Sprintf("\n> diagram %s rendered (%d bytes svg)\n\n", snap.ID, len(d.SVG))
	default:
		return fmt.Sprintf("\n> diagram %s %s\n\n", snap.ID, snap.Phase)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
