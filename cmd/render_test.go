package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/mdstream/internal/config"
	"github.com/samsaffron/mdstream/internal/document"
	"github.com/samsaffron/mdstream/internal/ui"
)

type recordingWriter struct {
	chunks []string
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.chunks = append(w.chunks, string(p))
	return len(p), nil
}

func TestStreamInto_Chunks(t *testing.T) {
	w := &recordingWriter{}
	err := streamInto(context.Background(), w, strings.NewReader("abcdefghij"), 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, w.chunks)
}

func TestStreamInto_ShortReads(t *testing.T) {
	w := &recordingWriter{}
	err := streamInto(context.Background(), w, iotest.OneByteReader(strings.NewReader("abcdef")), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "def"}, w.chunks)
}

func TestStreamInto_CancelledBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &recordingWriter{}
	err := streamInto(ctx, w, strings.NewReader("abcdef"), 2, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"ab"}, w.chunks)
}

func TestWriteSVGs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	diagrams := []document.Diagram{
		{SVG: "<svg>1</svg>"},
		{},
		{SVG: "<svg>3</svg>"},
	}
	n, err := writeSVGs(dir, diagrams)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(filepath.Join(dir, "diagram-3.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg>3</svg>\n", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "diagram-2.svg"))
}

func TestPrintMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mdstream_test_total", Help: "test"}, []string{"result"})
	reg.MustRegister(c)
	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "other_total", Help: "test"})
	reg.MustRegister(other)
	c.WithLabelValues("success").Add(2)
	other.Inc()

	var buf bytes.Buffer
	require.NoError(t, printMetrics(&buf, reg))
	assert.Equal(t, "mdstream_test_total{result=\"success\"} 2\n", buf.String())
}

func TestReportFailures(t *testing.T) {
	diagrams := []document.Diagram{
		{Block: document.Block{Value: "graph TD\nA-->"}},
		{Block: document.Block{Value: "graph TD\nA-->B["}},
	}
	diagrams[1].Snapshot.Error = "syntax error: bad"

	var links []string
	n := reportFailures(diagrams, func(text string) (string, error) {
		links = append(links, text)
		return "https://example.com/edit", nil
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"graph TD\nA-->B["}, links)
	assert.Equal(t, 0, reportFailures(diagrams[:1], nil))
}

func TestNewLoader_UnknownRenderer(t *testing.T) {
	_, _, err := newLoader(&config.Config{Renderer: "kroki"})
	assert.Error(t, err)
}

func TestNewLoader_InkRejectsBadURL(t *testing.T) {
	loader, cleanup, err := newLoader(&config.Config{Renderer: "ink", Ink: config.InkConfig{BaseURL: "ftp://example.com"}})
	require.NoError(t, err)
	defer cleanup()

	_, err = loader.Load(context.Background())
	assert.Error(t, err)
}

func TestWriteClassification(t *testing.T) {
	src := "```mermaid\ngraph TD\nA-->B\n```\n\n```mermaid\nflowchart TD\nA[x\n"
	var buf bytes.Buffer
	writeClassification(&buf, document.Parse([]byte(src)), document.LanguageMatcher(nil), ui.NewStyles(os.Stderr))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "LANGUAGE")
	assert.Contains(t, lines[1], "done")
	assert.Contains(t, lines[1], "graph TD")
	assert.Contains(t, lines[2], "loading")
	assert.Contains(t, lines[2], "6-8")
}

func TestWriteClassification_ConfiguredLanguage(t *testing.T) {
	src := "```diagram\nflowchart TD\nA-->\n"
	blocks := document.Parse([]byte(src))

	var asDiagram, asCode bytes.Buffer
	writeClassification(&asDiagram, blocks, document.LanguageMatcher([]string{"diagram"}), ui.NewStyles(os.Stderr))
	writeClassification(&asCode, blocks, document.LanguageMatcher(nil), ui.NewStyles(os.Stderr))

	assert.Contains(t, asDiagram.String(), "loading")
	assert.Contains(t, asCode.String(), "done")
}

func TestRenderCommand_HTMLWithInk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/svg/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg"><text>ok</text></svg>`))
	}))
	defer srv.Close()

	cfgDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgDir)
	require.NoError(t, os.MkdirAll(filepath.Join(cfgDir, "mdstream"), 0o755))
	cfgYAML := "renderer: ink\nink:\n  base_url: " + srv.URL + "\n" + fastDelaysYAML
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "mdstream", "config.yaml"), []byte(cfgYAML), 0o600))

	input := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(input, []byte("# Doc\n\n```mermaid\ngraph TD\nA-->B\n```\n"), 0o600))
	svgDir := filepath.Join(t.TempDir(), "svg")

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"render", input, "--format", "html", "--chunk", "7", "--svg-dir", svgDir})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute(), errOut.String())
	assert.Contains(t, out.String(), "<h1>Doc</h1>")
	assert.Contains(t, out.String(), `<figure class="diagram"`)
	assert.Contains(t, out.String(), `data-diagram-wrapper="true"`)
	assert.Contains(t, out.String(), "<text data-diagram-internal=\"true\">ok</text>")
	assert.FileExists(t, filepath.Join(svgDir, "diagram-1.svg"))
}

// fastDelaysYAML sets near-zero debounce delays.
const fastDelaysYAML = `delays:
  settle: 1ms
  settle_incomplete: 1ms
  backoff: 1ms
  max_settle: 2ms
  commit: 1ms
  commit_incomplete: 1ms
`
