package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	dir := filepath.Join(home, configDirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", cfg.Endpoint)
	assert.Equal(t, "deepseek-coder:1.3b", cfg.Model)
	assert.Equal(t, "markdown", cfg.Render.Format)
	assert.Equal(t, 120, cfg.Render.Wrap)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 50, cfg.History.MaxItems)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 20, cfg.Cache.MaxItems)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Nil(t, cfg.Sampling.Temperature)
	assert.NotNil(t, cfg.Prompts)
}

func TestLoadConfig_File(t *testing.T) {
	writeConfig(t, "config.yml", `
model: qwen2.5-coder:7b
sampling:
  temperature: 0
  top_k: 40
render:
  format: plain
cache:
  enabled: false
strict_markers: true
prompts:
  review:
    prompt: Review this code.
    model: llama3:8b
`)

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder:7b", cfg.Model)
	require.NotNil(t, cfg.Sampling.Temperature)
	assert.Equal(t, 0.0, *cfg.Sampling.Temperature)
	require.NotNil(t, cfg.Sampling.TopK)
	assert.Equal(t, 40, *cfg.Sampling.TopK)
	assert.Nil(t, cfg.Sampling.TopP)
	assert.Equal(t, "plain", cfg.Render.Format)
	assert.Equal(t, 120, cfg.Render.Wrap, "unset keys keep their defaults")
	assert.False(t, cfg.Cache.Enabled)
	assert.True(t, cfg.History.Enabled)
	assert.True(t, cfg.StrictMarkers)
	assert.Equal(t, Prompt{Prompt: "Review this code.", Model: "llama3:8b"}, cfg.Prompts["review"])
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"yaml", "model: [unterminated"},
		{"render format", "render:\n  format: html"},
		{"log level", "log_level: loud"},
		{"max items", "history:\n  max_items: 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, "config.yaml", tt.body)
			_, err := LoadConfig(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_Cancelled(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoadConfig(ctx)
	assert.Error(t, err)
}

func TestDataLocations(t *testing.T) {
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)

	cfg, err := newDefaultConfig()
	require.NoError(t, err)

	path, err := cfg.HistoryPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(data, "seqthink", "history.json"), path)

	dir, err := cfg.CacheDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(data, "seqthink", "cache"), dir)

	cfg.History.Path = "/tmp/h.json"
	path, err = cfg.HistoryPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/h.json", path)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
