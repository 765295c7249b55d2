// Package config loads the automations service configuration from YAML,
// applies defaults and environment overrides, and validates the result.
package config

import "time"

// Config is the root configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures Postgres. An empty URL runs the service with
// in-memory stores.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// EngineConfig configures rule dispatch
type EngineConfig struct {
	QueueSize        int           `yaml:"queue_size"`
	RulesCacheTTL    time.Duration `yaml:"rules_cache_ttl"`
	RulesFile        string        `yaml:"rules_file"`
	ExecutionLogSize int           `yaml:"execution_log_size"`
	ReentryWait      time.Duration `yaml:"reentry_wait"`
}

// WebhookConfig configures the call_webhook action handler
type WebhookConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// MetricsConfig configures the Prometheus collectors
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Defaults
const (
	DefaultPort             = 8080
	DefaultReadTimeout      = 15 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultIdleTimeout      = 120 * time.Second
	DefaultShutdownTimeout  = 20 * time.Second
	DefaultMaxOpenConns     = 20
	DefaultMaxIdleConns     = 5
	DefaultQueueSize        = 256
	DefaultExecutionLogSize = 1000
	DefaultReentryWait      = 5 * time.Second
	DefaultWebhookTimeout   = 10 * time.Second
	DefaultWebhookUserAgent = "automations-webhook/1.0"
	DefaultMetricsNamespace = "automations"
	DefaultMetricsSubsystem = "engine"
	DefaultLogLevel         = "INFO"
)

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = DefaultMaxIdleConns
	}

	if cfg.Engine.QueueSize == 0 {
		cfg.Engine.QueueSize = DefaultQueueSize
	}
	if cfg.Engine.ExecutionLogSize == 0 {
		cfg.Engine.ExecutionLogSize = DefaultExecutionLogSize
	}
	if cfg.Engine.ReentryWait == 0 {
		cfg.Engine.ReentryWait = DefaultReentryWait
	}

	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = DefaultWebhookTimeout
	}
	if cfg.Webhook.UserAgent == "" {
		cfg.Webhook.UserAgent = DefaultWebhookUserAgent
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}
