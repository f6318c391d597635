package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTarget is the triple documentation is built for when neither the
// service config nor the crate's own metadata overrides it.
const DefaultTarget = "x86_64-unknown-linux-gnu"

// RetryBackoffMode selects the delay growth strategy for transient failures.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// Config represents the application configuration
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Index      IndexConfig      `yaml:"index"`
	Build      BuildConfig      `yaml:"build"`
	Retry      RetryConfig      `yaml:"retry"`
	Events     EventsConfig     `yaml:"events"`
	EventStore EventStoreConfig `yaml:"eventstore"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServiceConfig holds service-wide defaults applied when a crate's own
// metadata leaves a setting unspecified.
type ServiceConfig struct {
	DefaultTarget string `yaml:"default_target,omitempty"`
}

// IndexConfig configures the registry index mirror.
type IndexConfig struct {
	URL          string        `yaml:"url"`
	Dir          string        `yaml:"dir"`
	SyncInterval time.Duration `yaml:"sync_interval,omitempty"`
}

// BuildConfig configures the build queue and workspaces.
type BuildConfig struct {
	Workers             int    `yaml:"workers,omitempty"`
	QueueSize           int    `yaml:"queue_size,omitempty"`
	HistorySize         int    `yaml:"history_size,omitempty"`
	WorkspaceDir        string `yaml:"workspace_dir,omitempty"`
	PersistentWorkspace bool   `yaml:"persistent_workspace,omitempty"`
}

// RetryConfig configures backoff for transient build failures.
type RetryConfig struct {
	Backoff    RetryBackoffMode `yaml:"backoff,omitempty"`
	Initial    time.Duration    `yaml:"initial,omitempty"`
	Max        time.Duration    `yaml:"max,omitempty"`
	MaxRetries int              `yaml:"max_retries,omitempty"`
}

// EventsConfig configures the NATS build-event publisher.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
	Stream        string `yaml:"stream,omitempty"`
}

// EventStoreConfig configures the local build-event journal.
type EventStoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just log it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns a configuration populated entirely from defaults, used by
// CLI paths that run without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Service.DefaultTarget == "" {
		c.Service.DefaultTarget = DefaultTarget
	}
	if c.Index.URL == "" {
		c.Index.URL = "https://github.com/rust-lang/crates.io-index"
	}
	if c.Index.Dir == "" {
		c.Index.Dir = "./data/index"
	}
	if c.Index.SyncInterval <= 0 {
		c.Index.SyncInterval = 5 * time.Minute
	}
	if c.Build.Workers <= 0 {
		c.Build.Workers = 2
	}
	if c.Build.QueueSize <= 0 {
		c.Build.QueueSize = 100
	}
	if c.Build.HistorySize <= 0 {
		c.Build.HistorySize = 50
	}
	if c.Build.WorkspaceDir == "" {
		c.Build.WorkspaceDir = "./data/workspace"
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = RetryBackoffLinear
	}
	if c.Retry.Initial <= 0 {
		c.Retry.Initial = time.Second
	}
	if c.Retry.Max <= 0 {
		c.Retry.Max = 30 * time.Second
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Events.NATSURL == "" {
		c.Events.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "cratedocs.builds"
	}
	if c.Events.Stream == "" {
		c.Events.Stream = "CRATEDOCS"
	}
	if c.EventStore.Path == "" {
		c.EventStore.Path = "./data/events.db"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
}
