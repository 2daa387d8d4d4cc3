package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HealthAddr string `yaml:"health_addr"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	DefaultVariant     string `yaml:"default_variant"`
	DefaultInitialMS   int64  `yaml:"default_initial_ms"`
	DefaultIncrementMS int64  `yaml:"default_increment_ms"`
	GracePeriodMS      int64  `yaml:"grace_period_ms"`
}

func (c *AppConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMS) * time.Millisecond
}

// Load builds the configuration in three layers: defaults, an optional
// YAML file named by CONFIG_FILE, then environment variables on top.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":8080",
		HealthAddr:         ":8081",
		DefaultVariant:     "unbalanced",
		DefaultInitialMS:   180000,
		DefaultIncrementMS: 2000,
		GracePeriodMS:      20000,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("HEALTH_ADDR")); v != "" {
		cfg.HealthAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_VARIANT")); v != "" {
		cfg.DefaultVariant = v
	}
	if n, ok := envInt64("DEFAULT_INITIAL_MS"); ok {
		cfg.DefaultInitialMS = n
	}
	if n, ok := envInt64("DEFAULT_INCREMENT_MS"); ok {
		cfg.DefaultIncrementMS = n
	}
	if n, ok := envInt64("GRACE_PERIOD_MS"); ok {
		cfg.GracePeriodMS = n
	}

	switch cfg.DefaultVariant {
	case "balanced", "unbalanced":
	default:
		return nil, fmt.Errorf("invalid DEFAULT_VARIANT %q", cfg.DefaultVariant)
	}
	if cfg.DefaultInitialMS <= 0 {
		return nil, fmt.Errorf("DEFAULT_INITIAL_MS must be positive")
	}
	if cfg.GracePeriodMS <= 0 {
		return nil, fmt.Errorf("GRACE_PERIOD_MS must be positive")
	}
	return cfg, nil
}

func envInt64(key string) (int64, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
