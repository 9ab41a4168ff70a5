// Package config provides configuration loading and management for otter.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/als-computing/otter/model"
)

// Config represents the complete otter configuration.
type Config struct {
	Archive ArchiveConfig        `yaml:"archive"`
	NATS    NATSConfig           `yaml:"nats"`
	Deploy  DeployConfig         `yaml:"deploy"`
	Model   model.RegistryConfig `yaml:"model"`
	Chat    ChatConfig           `yaml:"chat"`
	Metrics MetricsConfig        `yaml:"metrics"`
	Logging LoggingConfig        `yaml:"logging"`
}

// ArchiveConfig locates the Badger runs archive.
type ArchiveConfig struct {
	// Root is the archive root directory containing BadgerOpt-*.yaml
	// run files.
	Root string `yaml:"root"`

	// Watch enables filesystem watching so new runs appear without a
	// restart.
	Watch bool `yaml:"watch"`

	// QueryLimit caps results for queries that set no limit.
	QueryLimit int `yaml:"query_limit"`
}

// NATSConfig configures the NATS connection used for persistence.
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server).
	URL string `yaml:"url"`

	// Embedded indicates whether to run an embedded NATS server.
	Embedded bool `yaml:"embedded"`

	// Timeout bounds the initial connection attempt.
	Timeout time.Duration `yaml:"timeout"`
}

// DeployConfig controls how `otter deploy` brings up backing services.
type DeployConfig struct {
	// ComposeFile points at a docker compose file for facility
	// deployments. Empty means embedded mode.
	ComposeFile string `yaml:"compose_file"`

	// ReadyTimeout bounds the wait for services to become reachable.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// StateFile records what a deploy started so down/status find it.
	// Empty uses the default under the user state directory.
	StateFile string `yaml:"state_file"`
}

// ChatConfig tunes the chat frontend.
type ChatConfig struct {
	// HistoryLimit caps how many prior turns are sent to the model.
	HistoryLimit int `yaml:"history_limit"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Root:       defaultArchiveRoot(),
			Watch:      true,
			QueryLimit: 20,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
			Timeout:  5 * time.Second,
		},
		Deploy: DeployConfig{
			ReadyTimeout: 30 * time.Second,
		},
		Chat: ChatConfig{
			HistoryLimit: 20,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9109",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultArchiveRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "archived"
	}
	// Badger's default archive location.
	return filepath.Join(home, ".badger", "archived")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Archive.Root == "" {
		return fmt.Errorf("archive.root is required")
	}
	if c.Archive.QueryLimit < 0 {
		return fmt.Errorf("archive.query_limit must not be negative")
	}
	if c.Deploy.ReadyTimeout < 0 {
		return fmt.Errorf("deploy.ready_timeout must not be negative")
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat.history_limit must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. Environment
// references like ${STANFORD_API_KEY} are expanded before parsing so
// secrets stay out of the file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one; other takes precedence for
// non-zero values.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Archive.Root != "" {
		c.Archive.Root = other.Archive.Root
	}
	c.Archive.Watch = other.Archive.Watch
	if other.Archive.QueryLimit != 0 {
		c.Archive.QueryLimit = other.Archive.QueryLimit
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	c.NATS.Embedded = other.NATS.Embedded
	if other.NATS.Timeout != 0 {
		c.NATS.Timeout = other.NATS.Timeout
	}

	if other.Deploy.ComposeFile != "" {
		c.Deploy.ComposeFile = other.Deploy.ComposeFile
	}
	if other.Deploy.ReadyTimeout != 0 {
		c.Deploy.ReadyTimeout = other.Deploy.ReadyTimeout
	}
	if other.Deploy.StateFile != "" {
		c.Deploy.StateFile = other.Deploy.StateFile
	}

	if len(other.Model.Capabilities) > 0 || len(other.Model.Endpoints) > 0 || other.Model.Defaults != nil {
		c.Model = other.Model
	}

	if other.Chat.HistoryLimit != 0 {
		c.Chat.HistoryLimit = other.Chat.HistoryLimit
	}

	c.Metrics.Enabled = other.Metrics.Enabled
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
}
