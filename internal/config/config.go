package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `mapstructure:"port"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	NumWorkers  int    `mapstructure:"num_workers"`
	LogLevel    string `mapstructure:"log_level"`

	UserAgent         string        `mapstructure:"delivery_user_agent"`
	DisableThreshold  int           `mapstructure:"disable_threshold"`
	RetryPollInterval time.Duration `mapstructure:"retry_poll_interval"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

var defaults = map[string]any{
	"port":                "8080",
	"database_url":        "",
	"redis_url":           "",
	"num_workers":         50,
	"log_level":           "info",
	"delivery_user_agent": "SaaS-POS-Webhook/1.0",
	"disable_threshold":   10,
	"retry_poll_interval": 100 * time.Millisecond,
	"shutdown_timeout":    30 * time.Second,
}

// Load reads configuration from environment variables, optionally layered
// over the file named by CONFIG_FILE.
//
// An empty DATABASE_URL selects the in-memory store and an empty REDIS_URL
// keeps retries in process timers.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("NUM_WORKERS must be positive, got %d", cfg.NumWorkers)
	}
	if cfg.DisableThreshold <= 0 {
		return nil, fmt.Errorf("DISABLE_THRESHOLD must be positive, got %d", cfg.DisableThreshold)
	}
	if cfg.RetryPollInterval <= 0 {
		return nil, fmt.Errorf("RETRY_POLL_INTERVAL must be positive, got %s", cfg.RetryPollInterval)
	}

	return &cfg, nil
}

// Level maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
