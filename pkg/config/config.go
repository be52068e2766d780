package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/aiswitch/pkg/models"
)

// Config holds all aiswitch configuration.
type Config struct {
	Listen         string            `yaml:"listen"`
	DBPath         string            `yaml:"db_path"`
	ActiveProvider string            `yaml:"active_provider"`
	Providers      []models.Provider `yaml:"providers"`
	Upstream       UpstreamConfig    `yaml:"upstream"`
	Stream         StreamConfig      `yaml:"stream"`
	Log            LogConfig         `yaml:"log"`
	Metrics        MetricsConfig     `yaml:"metrics"`
	Watch          bool              `yaml:"watch"`
}

// UpstreamConfig bounds calls to providers. Zero means no limit.
type UpstreamConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	TokenizeTimeout time.Duration `yaml:"tokenize_timeout"`
}

// StreamConfig controls the streaming bridge.
type StreamConfig struct {
	Buffer             int  `yaml:"buffer"`
	CancelOnDisconnect bool `yaml:"cancel_on_disconnect"`
}

// LogConfig selects level and output format ("console" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: "0.0.0.0:3400",
		DBPath: "aiswitch.db",
		Upstream: UpstreamConfig{
			TokenizeTimeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			Buffer: 32,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "aiswitch",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects duplicate or empty provider ids.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
