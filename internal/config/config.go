package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/samsaffron/mdstream/internal/scheduler"
)

type Config struct {
	Renderer  string           `mapstructure:"renderer" yaml:"renderer"` // "ink" or "mmdc"
	Languages []string         `mapstructure:"languages" yaml:"languages"`
	Ink       InkConfig        `mapstructure:"ink" yaml:"ink"`
	Mmdc      MmdcConfig       `mapstructure:"mmdc" yaml:"mmdc"`
	Delays    scheduler.Delays `mapstructure:"delays" yaml:"delays"`
	Viewport  ViewportConfig   `mapstructure:"viewport" yaml:"viewport"`
	Output    OutputConfig     `mapstructure:"output" yaml:"output"`
}

// InkConfig configures rendering through a mermaid.ink compatible service
type InkConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"` // Default: https://mermaid.ink
	Theme   string        `mapstructure:"theme" yaml:"theme"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MmdcConfig configures rendering through the mermaid CLI
type MmdcConfig struct {
	Path    string `mapstructure:"path" yaml:"path"`         // Default: mmdc on PATH
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"` // Empty uses a temp dir
	Theme   string `mapstructure:"theme" yaml:"theme"`
}

// ViewportConfig sizes the terminal viewport used to defer offscreen diagrams.
// Lines of 0 renders every diagram regardless of position.
type ViewportConfig struct {
	Lines int `mapstructure:"lines" yaml:"lines"`
}

type OutputConfig struct {
	SVGDir string `mapstructure:"svg_dir" yaml:"svg_dir"`
}

func setDefaults(v *viper.Viper) {
	d := scheduler.DefaultDelays()
	v.SetDefault("renderer", "ink")
	v.SetDefault("languages", []string{"mermaid", "mmd"})
	v.SetDefault("ink.base_url", "https://mermaid.ink")
	v.SetDefault("ink.theme", "default")
	v.SetDefault("ink.timeout", 10*time.Second)
	v.SetDefault("mmdc.path", "mmdc")
	v.SetDefault("mmdc.theme", "default")
	v.SetDefault("delays.settle", d.Settle)
	v.SetDefault("delays.settle_incomplete", d.SettleIncomplete)
	v.SetDefault("delays.backoff", d.Backoff)
	v.SetDefault("delays.backoff_after", d.BackoffAfter)
	v.SetDefault("delays.max_settle", d.MaxSettle)
	v.SetDefault("delays.commit", d.Commit)
	v.SetDefault("delays.commit_incomplete", d.CommitIncomplete)
	v.SetDefault("delays.idle_reset", d.IdleReset)
	v.SetDefault("viewport.lines", 0)
}

// Load reads config.yaml from the config dir or the working directory.
// A missing file is not an error.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}
	return load(viper.GetViper(), configPath, ".")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() {
	c.Renderer = strings.ToLower(expandEnv(c.Renderer))
	c.Ink.BaseURL = strings.TrimSuffix(expandEnv(c.Ink.BaseURL), "/")
	c.Mmdc.Path = expandEnv(c.Mmdc.Path)
	c.Mmdc.WorkDir = expandPath(expandEnv(c.Mmdc.WorkDir))
	c.Output.SVGDir = expandPath(expandEnv(c.Output.SVGDir))
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Renderer {
	case "ink", "mmdc":
	default:
		return fmt.Errorf("unknown renderer %q (want ink or mmdc)", c.Renderer)
	}
	if len(c.Languages) == 0 {
		return fmt.Errorf("languages must not be empty")
	}
	if c.Viewport.Lines < 0 {
		return fmt.Errorf("viewport.lines must not be negative")
	}
	return nil
}

// ApplyOverrides applies command line overrides. Empty values keep the
// configured setting.
func (c *Config) ApplyOverrides(renderer, svgDir string, viewportLines int) {
	if renderer != "" {
		c.Renderer = strings.ToLower(renderer)
	}
	if svgDir != "" {
		c.Output.SVGDir = expandPath(svgDir)
	}
	if viewportLines >= 0 {
		c.Viewport.Lines = viewportLines
	}
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// expandPath expands a leading ~ to the home directory.
func expandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// GetConfigDir returns the XDG config directory for mdstream.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "mdstream"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "mdstream"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
