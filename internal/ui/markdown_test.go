package ui

import (
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdown(t *testing.T) {
	assert.Equal(t, "", RenderMarkdown("", 80))

	out, err := RenderMarkdownWithError("# Title\n\nSome body text.\n", 80)
	require.NoError(t, err)
	plain := ansi.Strip(out)
	assert.Contains(t, plain, "Title")
	assert.Contains(t, plain, "body")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestRenderMarkdown_CachesByWidth(t *testing.T) {
	a, err := getRenderer(61)
	require.NoError(t, err)
	b, err := getRenderer(61)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestFormatStatus(t *testing.T) {
	s := NewStyles(os.Stderr)
	assert.Contains(t, ansi.Strip(s.FormatStatus("done")), SuccessIcon+" done")
	assert.Contains(t, ansi.Strip(s.FormatStatus("loading")), PendingIcon+" loading")
	assert.Contains(t, ansi.Strip(s.FormatResult(false, "boom")), FailIcon)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "日本...", Truncate("日本語のテキスト", 7))
}

func TestTerminalSizeFallback(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notty")
	require.NoError(t, err)
	defer f.Close()

	w, h := TerminalSize(f)
	assert.Equal(t, 80, w)
	assert.Equal(t, 24, h)
	assert.False(t, IsTerminal(f))
}
