package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:3400", cfg.Listen)
	assert.Equal(t, 32, cfg.Stream.Buffer)
	assert.False(t, cfg.Stream.CancelOnDisconnect)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Upstream.TokenizeTimeout)
}

const sample = `
listen: ":9090"
db_path: "test.db"
active_provider: local
providers:
  - id: local
    name: Local llama
    base_url: http://localhost:8000/v1
    api_key: ${TEST_API_KEY}
    active_preset_id: creative
    presets:
      - id: creative
        name: Creative
        overrides:
          temperature: 1.2
          top_p: 0.9
          model: llama-3
upstream:
  timeout: 30s
stream:
  buffer: 8
log:
  level: debug
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aiswitch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "local", cfg.ActiveProvider)
	require.Len(t, cfg.Providers, 1)
	p := cfg.Providers[0]
	assert.Equal(t, "sk-test-123", p.APIKey)
	assert.Equal(t, "http://localhost:8000/v1", p.BaseURL)

	ps := p.ActivePreset()
	require.NotNil(t, ps)
	assert.Equal(t, []string{"temperature", "top_p", "model"}, ps.Keys())
	assert.Equal(t, 1.2, ps.Overrides["temperature"])

	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Upstream.TokenizeTimeout)
	assert.Equal(t, 8, cfg.Stream.Buffer)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadDuplicateProvider(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  - id: a
  - id: a
`))
	assert.ErrorContains(t, err, "duplicate id")
}

func TestWatcherReloads(t *testing.T) {
	path := writeConfig(t, "active_provider: a\nproviders:\n  - id: a\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- NewWatcher(path, 20*time.Millisecond).Watch(ctx, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("active_provider: b\nproviders:\n  - id: b\n"), 0o644))

	select {
	case c := <-got:
		assert.Equal(t, "b", c.ActiveProvider)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	assert.NoError(t, <-done)
}
