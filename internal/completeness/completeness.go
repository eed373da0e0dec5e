// Package completeness guesses whether a streamed code block is finished
// enough to be interpreted.
//
// The verdicts are advisory. A wrong answer only shifts when a render is
// attempted; it never decides what is finally displayed.
package completeness

import (
	"regexp"
	"strings"

	"github.com/samsaffron/mdstream/internal/delim"
)

const (
	minGenericLen = 5
	minDiagramLen = 10
)

// diagramLanguages are the fence languages that use the diagram heuristic.
var diagramLanguages = map[string]bool{
	"mermaid": true,
	"mmd":     true,
}

// diagramKeywords are matched as raw, case-sensitive substrings.
var diagramKeywords = []string{
	"graph",
	"flowchart",
	"sequenceDiagram",
	"gantt",
	"pie",
	"classDiagram",
	"stateDiagram",
	"erDiagram",
	"journey",
	"gitGraph",
	"gitgraph",
}

var bracketPairs = [][2]string{
	{"(", ")"},
	{"[", "]"},
	{"{", "}"},
}

var (
	// trailing edge arrow with nothing after it: "A --" or "A -->"
	danglingArrow = regexp.MustCompile(`-->?\s*$`)
	trailingGraph = regexp.MustCompile(`(?i)graph\s*$`)
	openComment   = regexp.MustCompile(`/\*`)
)

// IsDiagramLanguage reports whether language selects the diagram heuristic.
func IsDiagramLanguage(language string) bool {
	return diagramLanguages[strings.ToLower(strings.TrimSpace(language))]
}

// IsLikelyComplete reports whether code looks finished for the given fence
// language. Empty or whitespace-only code is never complete.
func IsLikelyComplete(code, language string) bool {
	return LikelyComplete(code, IsDiagramLanguage(language))
}

// LikelyComplete is IsLikelyComplete with the heuristic picked by the caller,
// for callers that configure their own diagram languages.
func LikelyComplete(code string, diagram bool) bool {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return false
	}
	if diagram {
		return diagramComplete(trimmed)
	}
	return genericComplete(trimmed)
}

func genericComplete(code string) bool {
	if len(code) < minGenericLen {
		return false
	}
	if HasUnclosedBrackets(code) {
		return false
	}
	if strings.HasSuffix(code, `\`) {
		return false
	}
	if unterminatedBlockComment(code) {
		return false
	}
	if unterminatedQuote(lastLine(code)) {
		return false
	}
	// A trailing // comment is a legitimate ending.
	return true
}

func diagramComplete(code string) bool {
	if !hasDiagramKeyword(code) {
		return false
	}
	if len(code) < minDiagramLen {
		return false
	}
	if HasUnclosedBrackets(code) {
		return false
	}
	if bareKeywordLine(lastLine(code)) || trailingGraph.MatchString(code) {
		return false
	}
	return !danglingArrow.MatchString(code)
}

// HasUnclosedBrackets reports whether any of (), [] or {} is left open.
//
// Each bracket class is checked independently and only the first opener of
// the class is matched, so "(a)(b" reads as closed.
func HasUnclosedBrackets(code string) bool {
	for _, pair := range bracketPairs {
		first := strings.Index(code, pair[0])
		if first == -1 {
			continue
		}
		if delim.FindMatchingClose(code, first+len(pair[0]), pair[0], pair[1]) == delim.NotFound {
			return true
		}
	}
	return false
}

func hasDiagramKeyword(code string) bool {
	for _, kw := range diagramKeywords {
		if strings.Contains(code, kw) {
			return true
		}
	}
	return false
}

func bareKeywordLine(line string) bool {
	line = strings.TrimSpace(line)
	for _, kw := range diagramKeywords {
		if strings.EqualFold(line, kw) {
			return true
		}
	}
	return false
}

func unterminatedBlockComment(code string) bool {
	locs := openComment.FindAllStringIndex(code, -1)
	if len(locs) == 0 {
		return false
	}
	last := locs[len(locs)-1]
	return !strings.Contains(code[last[1]:], "*/")
}

// unterminatedQuote scans a single line for a quote run left open at the end.
// Scanning stops at a // comment outside of quotes.
func unterminatedQuote(line string) bool {
	var open byte
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if open != 0 {
			switch ch {
			case '\\':
				i++
			case open:
				open = 0
			}
			continue
		}
		switch ch {
		case '"', '\'', '`':
			open = ch
		case '/':
			if i+1 < len(line) && line[i+1] == '/' {
				return false
			}
		}
	}
	return open != 0
}

func lastLine(code string) string {
	if i := strings.LastIndexByte(code, '\n'); i >= 0 {
		return code[i+1:]
	}
	return code
}
