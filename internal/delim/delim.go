// Package delim finds matching close delimiters in partially streamed text.
//
// It is used to decide whether a fenced region (code fences, math walls,
// bracket pairs) has been closed yet. The scan is a single forward pass with
// no backtracking, so it is safe to call on every streamed update.
package delim

import "strings"

// NotFound is returned when no unescaped close delimiter exists.
const NotFound = -1

// FindMatchingClose returns the byte offset of the close delimiter matching
// an already-consumed open delimiter, scanning forward from start.
//
// Nesting is tracked with single-character proxies: the last byte of open
// raises the depth and the last byte of close lowers it. A close occurrence
// preceded by an odd number of consecutive backslashes is escaped and does
// not count.
//
// When open and close are the same two-byte token made of one repeated
// character (a "wall" such as "$$"), nesting is not tracked and the first
// unescaped occurrence after start is returned. A wall token sitting exactly
// at start is treated as the opener itself and skipped.
func FindMatchingClose(src string, start int, open, close string) int {
	if open == "" || close == "" {
		return NotFound
	}
	if start < 0 {
		start = 0
	}
	if start >= len(src) {
		return NotFound
	}

	if isWall(open, close) {
		return findWall(src, start, close)
	}

	openChar := open[len(open)-1]
	closeChar := close[len(close)-1]
	depth := 0
	i := start

	for i < len(src) {
		if strings.HasPrefix(src[i:], close) && !escaped(src, i) {
			if depth == 0 {
				return i
			}
			depth--
			i += len(close)
			continue
		}

		ch := src[i]

		// An escape swallows the next byte without inspecting it.
		if ch == '\\' {
			i += 2
			continue
		}

		if ch == openChar {
			depth++
		} else if ch == closeChar && depth > 0 {
			depth--
		}
		i++
	}

	return NotFound
}

// isWall reports whether open/close form a symmetric two-character fence.
func isWall(open, close string) bool {
	return open == close && len(open) == 2 && open[0] == open[1]
}

func findWall(src string, start int, token string) int {
	i := start
	if strings.HasPrefix(src[i:], token) && !escaped(src, i) {
		i += len(token)
	}
	for i+len(token) <= len(src) {
		if src[i] == token[0] && src[i+1] == token[1] && !escaped(src, i) {
			return i
		}
		i++
	}
	return NotFound
}

// escaped reports whether the byte at pos is preceded by an odd run of
// backslashes.
func escaped(src string, pos int) bool {
	n := 0
	for k := pos - 1; k >= 0 && src[k] == '\\'; k-- {
		n++
	}
	return n%2 == 1
}
