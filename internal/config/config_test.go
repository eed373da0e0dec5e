package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/mdstream/internal/scheduler"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "ink", cfg.Renderer)
	assert.Equal(t, []string{"mermaid", "mmd"}, cfg.Languages)
	assert.Equal(t, "https://mermaid.ink", cfg.Ink.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Ink.Timeout)
	assert.Equal(t, "mmdc", cfg.Mmdc.Path)
	assert.Equal(t, scheduler.DefaultDelays(), cfg.Delays)
	assert.Zero(t, cfg.Viewport.Lines)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MDSTREAM_TEST_INK", "http://localhost:3000/")
	yaml := `renderer: MMDC
languages: [mermaid]
ink:
  base_url: ${MDSTREAM_TEST_INK}
mmdc:
  work_dir: /tmp/mdstream
delays:
  settle: 20ms
  commit_incomplete: 1s
viewport:
  lines: 40
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, "mmdc", cfg.Renderer)
	assert.Equal(t, []string{"mermaid"}, cfg.Languages)
	assert.Equal(t, "http://localhost:3000", cfg.Ink.BaseURL)
	assert.Equal(t, "/tmp/mdstream", cfg.Mmdc.WorkDir)
	assert.Equal(t, 20*time.Millisecond, cfg.Delays.Settle)
	assert.Equal(t, time.Second, cfg.Delays.CommitIncomplete)
	assert.Equal(t, scheduler.DefaultDelays().Commit, cfg.Delays.Commit)
	assert.Equal(t, 40, cfg.Viewport.Lines)
}

func TestLoad_RejectsUnknownRenderer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("renderer: kroki\n"), 0o600))

	_, err := load(viper.New(), dir)
	assert.ErrorContains(t, err, "unknown renderer")
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{Renderer: "ink", Viewport: ViewportConfig{Lines: 30}}

	cfg.ApplyOverrides("", "", -1)
	assert.Equal(t, "ink", cfg.Renderer)
	assert.Equal(t, 30, cfg.Viewport.Lines)

	cfg.ApplyOverrides("MMDC", "/tmp/out", 0)
	assert.Equal(t, "mmdc", cfg.Renderer)
	assert.Equal(t, "/tmp/out", cfg.Output.SVGDir)
	assert.Zero(t, cfg.Viewport.Lines)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("MDSTREAM_TEST_VAR", "value")
	assert.Equal(t, "value", expandEnv("$MDSTREAM_TEST_VAR"))
	assert.Equal(t, "value", expandEnv("${MDSTREAM_TEST_VAR}"))
	assert.Equal(t, "plain", expandEnv("plain"))
}

func TestGetConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg", "mdstream"), dir)
}
