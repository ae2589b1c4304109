// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/splitpost/internal/autopost"
	"github.com/haasonsaas/splitpost/internal/experiment"
	"github.com/haasonsaas/splitpost/internal/observability"
	"github.com/haasonsaas/splitpost/internal/publish/slack"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Logging    observability.LogConfig `yaml:"logging"`
	Storage    StorageConfig           `yaml:"storage"`
	Experiment experiment.Config       `yaml:"experiment"`
	Engine     EngineConfig            `yaml:"engine"`
	Slack      slack.Config            `yaml:"slack"`
	OpenAI     OpenAIConfig            `yaml:"openai"`
	Autopost   AutopostConfig          `yaml:"autopost"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects the experiment store backend.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. Empty means in-memory.
	Path string `yaml:"path"`
}

// EngineConfig tunes the lifecycle engine.
type EngineConfig struct {
	// TickInterval is how often due experiments are polled.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// OpenAIConfig configures variant generation.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AutopostConfig configures scheduled experiment launches.
type AutopostConfig struct {
	Enabled bool           `yaml:"enabled"`
	Jobs    []autopost.Job `yaml:"jobs"`
}

// Default returns a configuration with sensible local-run values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8337,
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "splitpost.db",
		},
		Experiment: experiment.DefaultConfig(),
		Engine: EngineConfig{
			TickInterval: 10 * time.Second,
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("config: engine tick interval must be positive")
	}
	if c.Autopost.Enabled {
		if len(c.Autopost.Jobs) == 0 {
			return fmt.Errorf("config: autopost enabled with no jobs")
		}
		for i := range c.Autopost.Jobs {
			if err := c.Autopost.Jobs[i].Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
		}
	}
	return nil
}
