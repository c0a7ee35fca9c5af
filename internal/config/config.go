package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	configDirName = "seqthink"
	defaultConfig = ".config"
	defaultData   = ".local/share"
)

var configFiles = []string{
	"config.yaml",
	"config.yml",
}

// Config represents the structure of the configuration file used by the application.
type Config struct {
	Endpoint      string            `yaml:"endpoint" default:"http://localhost:11434"`
	Model         string            `yaml:"model" default:"deepseek-coder:1.3b"`
	Sampling      Sampling          `yaml:"sampling"`
	Render        Render            `yaml:"render"`
	History       History           `yaml:"history"`
	Cache         Cache             `yaml:"cache"`
	StrictMarkers bool              `yaml:"strict_markers"`
	LogLevel      string            `yaml:"log_level" default:"warn"`
	Prompts       map[string]Prompt `yaml:"prompts"`
}

// Sampling values are forwarded to the backend untouched. Unset values are
// left to the backend's defaults.
type Sampling struct {
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	TopK        *int     `yaml:"top_k"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

type Render struct {
	Format string `yaml:"format" default:"markdown"`
	Wrap   int    `yaml:"wrap" default:"120"`
}

type History struct {
	Enabled  bool   `yaml:"enabled" default:"true"`
	MaxItems int    `yaml:"max_items" default:"50"`
	Path     string `yaml:"path"`
}

type Cache struct {
	Enabled  bool   `yaml:"enabled" default:"true"`
	MaxItems int    `yaml:"max_items" default:"20"`
	Dir      string `yaml:"dir"`
}

// Prompt is a predefined question exposed as a subcommand.
type Prompt struct {
	Prompt string `yaml:"prompt"`
	Model  string `yaml:"model"`
}

// configResult is a struct used to return the configuration and any error that occurs during loading.
type configResult struct {
	config *Config
	err    error
}

// newDefaultConfig creates a configuration holding every default value.
func newDefaultConfig() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = map[string]Prompt{}
	}
	return cfg, nil
}

// getConfigPath retrieves the path to the configuration directory based on the XDG_CONFIG_HOME environment variable.
func getConfigPath() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", defaultConfig)
}

// DataPath is the directory holding history and cache files unless the
// configuration names other locations.
func DataPath() (string, error) {
	return xdgDir("XDG_DATA_HOME", defaultData)
}

func xdgDir(env, fallback string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		base = filepath.Join(home, fallback)
	}
	return filepath.Join(base, configDirName), nil
}

// tryLoadConfig attempts to load a configuration file from the specified path.
func tryLoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := newDefaultConfig()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfig loads the configuration from the user's home directory, with a timeout.
func LoadConfig(ctx context.Context) (*Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := make(chan configResult, 1)

	go func() {
		cfg, err := loadConfigFiles(ctx)
		result <- configResult{config: cfg, err: err}
	}()

	done := ctx.Done()
	select {
	case <-done:
		return nil, ctx.Err()
	case r := <-result:
		return r.config, r.err
	}
}

// loadConfigFiles loads configuration files from the user's home directory.
func loadConfigFiles(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before loading config: %w", err)
	}

	configDir, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	// Return default config early if directory doesn't exist
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return newDefaultConfig()
	}

	for _, filename := range configFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg, err := tryLoadConfig(filepath.Join(configDir, filename))
		if err == nil {
			return cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", filename, err)
		}
	}

	return newDefaultConfig()
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch c.Render.Format {
	case "markdown", "plain":
	default:
		return fmt.Errorf("unknown render format %q", c.Render.Format)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.History.MaxItems < 1 || c.Cache.MaxItems < 1 {
		return fmt.Errorf("max_items must be positive")
	}
	return nil
}

// HistoryPath returns the history file location.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := DataPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.json"), nil
}

// CacheDir returns the cache directory location.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	dir, err := DataPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache"), nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	return l, nil
}
