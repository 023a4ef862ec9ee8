// Package config loads the engine's configuration surface in layers:
// compiled-in defaults, an optional YAML file, then WORKFLOW_-prefixed
// environment variables. The CLI layers cobra flags on top of this.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
)

// Config is the full recognized configuration surface (§6).
type Config struct {
	MaxConcurrentSteps               int    `yaml:"max_concurrent_steps"`
	DefaultTimeoutSeconds            int    `yaml:"default_timeout_seconds"`
	MaxEventHistory                  int    `yaml:"max_event_history"`
	SubscriberCleanupIntervalSeconds int    `yaml:"subscriber_cleanup_interval_seconds"`
	BaseDirectory                    string `yaml:"base_directory"`
	DatabasePath                     string `yaml:"database_path"`
	BackupDirectory                  string `yaml:"backup_directory"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		MaxConcurrentSteps:               3,
		DefaultTimeoutSeconds:            300,
		MaxEventHistory:                  1000,
		SubscriberCleanupIntervalSeconds: 300,
		BaseDirectory:                    "projects",
		DatabasePath:                     "workflow.db",
		BackupDirectory:                  "backups",
	}
}

// Load builds a Config by layering defaults, an optional YAML file at
// path (skipped if path is empty or the file does not exist), then
// WORKFLOW_-prefixed environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, taxonomy.NewConfigurationError("config_file", "readable YAML file").WithCause(err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, taxonomy.NewConfigurationError("config_file", "valid YAML").WithCause(err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := envInt("WORKFLOW_MAX_CONCURRENT_STEPS"); ok {
		cfg.MaxConcurrentSteps = v
	}
	if v, ok := envInt("WORKFLOW_DEFAULT_TIMEOUT_SECONDS"); ok {
		cfg.DefaultTimeoutSeconds = v
	}
	if v, ok := envInt("WORKFLOW_MAX_EVENT_HISTORY"); ok {
		cfg.MaxEventHistory = v
	}
	if v, ok := envInt("WORKFLOW_SUBSCRIBER_CLEANUP_INTERVAL_SECONDS"); ok {
		cfg.SubscriberCleanupIntervalSeconds = v
	}
	if v, ok := os.LookupEnv("WORKFLOW_BASE_DIRECTORY"); ok {
		cfg.BaseDirectory = v
	}
	if v, ok := os.LookupEnv("WORKFLOW_DATABASE_PATH"); ok {
		cfg.DatabasePath = v
	}
	if v, ok := os.LookupEnv("WORKFLOW_BACKUP_DIRECTORY"); ok {
		cfg.BackupDirectory = v
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DefaultTimeout returns DefaultTimeoutSeconds as a time.Duration.
func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// SubscriberCleanupInterval returns SubscriberCleanupIntervalSeconds as a
// time.Duration.
func (c Config) SubscriberCleanupInterval() time.Duration {
	return time.Duration(c.SubscriberCleanupIntervalSeconds) * time.Second
}
