package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/automations/internal/logger"
)

// Load reads the YAML file at path, applies defaults and environment
// overrides, then validates. An empty path skips the file.
//
// Environment variables take precedence over the file:
// DATABASE_URL, PORT, LOG_LEVEL, AUTOMATIONS_QUEUE_SIZE, AUTOMATIONS_RULES_FILE,
// AUTOMATIONS_METRICS_ENABLED.
func Load(path string) (*Config, error) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := os.Getenv("PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", val, err)
		}
		cfg.Server.Port = port
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("AUTOMATIONS_QUEUE_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid AUTOMATIONS_QUEUE_SIZE %q: %w", val, err)
		}
		cfg.Engine.QueueSize = n
	}
	if val := os.Getenv("AUTOMATIONS_RULES_FILE"); val != "" {
		cfg.Engine.RulesFile = val
	}
	if val := os.Getenv("AUTOMATIONS_METRICS_ENABLED"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid AUTOMATIONS_METRICS_ENABLED %q: %w", val, err)
		}
		cfg.Metrics.Enabled = b
	}
	return nil
}

// ValidationError lists every invalid field
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "configuration validation failed: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration, collecting every problem
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port: %d out of range 1-65535", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.IdleTimeout < 0 {
		problems = append(problems, "server: timeouts cannot be negative")
	}

	if cfg.Database.MaxOpenConns < 0 || cfg.Database.MaxIdleConns < 0 {
		problems = append(problems, "database: connection limits cannot be negative")
	}
	if cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns {
		problems = append(problems, fmt.Sprintf("database.max_idle_conns: %d exceeds max_open_conns %d",
			cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns))
	}

	if cfg.Engine.QueueSize < 1 {
		problems = append(problems, fmt.Sprintf("engine.queue_size: must be positive, got %d", cfg.Engine.QueueSize))
	}
	if cfg.Engine.RulesCacheTTL < 0 {
		problems = append(problems, "engine.rules_cache_ttl: cannot be negative")
	}
	if cfg.Engine.ReentryWait < 0 {
		problems = append(problems, "engine.reentry_wait: cannot be negative")
	}
	if cfg.Engine.ExecutionLogSize < 1 {
		problems = append(problems, fmt.Sprintf("engine.execution_log_size: must be positive, got %d", cfg.Engine.ExecutionLogSize))
	}

	if cfg.Webhook.Timeout <= 0 {
		problems = append(problems, "webhook.timeout: must be positive")
	}

	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		problems = append(problems, fmt.Sprintf("logging.level: %v", err))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
