// Package document tracks the code blocks of a markdown document that is
// still being written and drives one render scheduler per diagram block.
package document

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// Block is one code block found in the document.
type Block struct {
	// Index is the position among all code blocks, starting at 0.
	Index    int
	Language string
	Value    string
	// Closed is true when a closing fence has been seen. Indented blocks
	// are always closed.
	Closed   bool
	Indented bool
	// StartLine and EndLine delimit the block's source lines, end exclusive.
	StartLine int
	EndLine   int
}

// Parse returns the code blocks of src in document order.
func Parse(src []byte) []Block {
	doc := markdown.Parser().Parse(text.NewReader(src))
	lines := newLineIndex(src)

	var blocks []Block
	cursor := 0
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			b := fencedBlock(src, node, cursor, lines)
			b.Index = len(blocks)
			blocks = append(blocks, b)
			cursor = lines.offset(b.EndLine)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			b := Block{
				Index:    len(blocks),
				Value:    blockValue(src, node),
				Closed:   true,
				Indented: true,
			}
			if segs := node.Lines(); segs.Len() > 0 {
				b.StartLine = lines.line(segs.At(0).Start)
				b.EndLine = lines.line(segs.At(segs.Len()-1).Start) + 1
				cursor = lines.offset(b.EndLine)
			}
			blocks = append(blocks, b)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

func blockValue(src []byte, n ast.Node) string {
	var sb strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		sb.Write(seg.Value(src))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func fencedBlock(src []byte, n *ast.FencedCodeBlock, cursor int, lines *lineIndex) Block {
	b := Block{
		Language: string(n.Language(src)),
		Value:    blockValue(src, n),
	}

	opener := -1
	switch {
	case n.Info != nil:
		opener = lines.start(n.Info.Segment.Start)
	case n.Lines().Len() > 0:
		first := lines.start(n.Lines().At(0).Start)
		if first > 0 {
			opener = lines.start(first - 1)
		}
	default:
		opener = findOpener(src, cursor)
	}
	if opener < 0 {
		b.StartLine = lines.line(cursor)
		b.EndLine = lines.count()
		return b
	}

	b.StartLine = lines.line(opener)
	prefix, char, width := parseFence(lines.text(src, b.StartLine))
	for i := b.StartLine + 1; i < lines.count(); i++ {
		if isClosingFence(lines.text(src, i), prefix, char, width) {
			b.Closed = true
			b.EndLine = i + 1
			return b
		}
	}
	b.EndLine = lines.count()
	return b
}

// parseFence returns the prefix before the fence, the fence character and
// the fence width of an opening fence line.
func parseFence(line string) (int, byte, int) {
	i := strings.IndexAny(line, "`~")
	if i < 0 {
		return 0, '`', 3
	}
	c := line[i]
	w := 0
	for i+w < len(line) && line[i+w] == c {
		w++
	}
	return i, c, w
}

func isClosingFence(line string, prefix int, char byte, width int) bool {
	if len(line) < prefix {
		return false
	}
	rest := line[prefix:]
	trimmed := strings.TrimLeft(rest, " ")
	if len(rest)-len(trimmed) > 3 {
		return false
	}
	w := 0
	for w < len(trimmed) && trimmed[w] == char {
		w++
	}
	return w >= width && strings.TrimSpace(trimmed[w:]) == ""
}

func findOpener(src []byte, from int) int {
	for off := from; off < len(src); {
		end := bytes.IndexByte(src[off:], '\n')
		line := src[off:]
		if end >= 0 {
			line = src[off : off+end]
		}
		t := bytes.TrimLeft(line, " >")
		if bytes.HasPrefix(t, []byte("```")) || bytes.HasPrefix(t, []byte("~~~")) {
			return off
		}
		if end < 0 {
			break
		}
		off += end + 1
	}
	return -1
}

// lineIndex maps byte offsets to line numbers.
type lineIndex struct {
	starts []int
	size   int
}

func newLineIndex(src []byte) *lineIndex {
	idx := &lineIndex{starts: []int{0}, size: len(src)}
	for i, c := range src {
		if c == '\n' && i+1 < len(src) {
			idx.starts = append(idx.starts, i+1)
		}
	}
	return idx
}

func (l *lineIndex) count() int {
	if l.size == 0 {
		return 0
	}
	return len(l.starts)
}

// line returns the line containing offset.
func (l *lineIndex) line(offset int) int {
	lo, hi := 0, len(l.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if l.starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// start returns the offset of the line containing offset.
func (l *lineIndex) start(offset int) int {
	return l.starts[l.line(offset)]
}

// offset returns the start offset of line n, or the end of input.
func (l *lineIndex) offset(n int) int {
	if n < len(l.starts) {
		return l.starts[n]
	}
	return l.size
}

func (l *lineIndex) text(src []byte, n int) string {
	end := l.offset(n + 1)
	return strings.TrimRight(string(src[l.starts[n]:end]), "\r\n")
}
