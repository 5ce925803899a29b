// Package config loads execution manager settings from a TOML file, a .env file and
// the process environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Environment variables that override the file.
const (
	EnvWorkers       = "TASKENGINE_WORKERS"
	EnvName          = "TASKENGINE_NAME"
	EnvHistory       = "TASKENGINE_HISTORY"
	EnvPriorityQueue = "TASKENGINE_PRIORITY_QUEUE"
	EnvLogLevel      = "LOG_LEVEL"
)

// Config holds the settings for one execution manager and its pool.
type Config struct {
	Name            string        `toml:"name"`
	Workers         int           `toml:"workers"`
	PriorityQueue   bool          `toml:"priority_queue"`
	HistoryCapacity int           `toml:"history_capacity"`
	LogLevel        string        `toml:"log_level"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	Metrics         MetricsConfig `toml:"metrics"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled      bool          `toml:"enabled"`
	Namespace    string        `toml:"namespace"`
	Addr         string        `toml:"addr"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Name:            "default",
		Workers:         4,
		HistoryCapacity: 100,
		LogLevel:        "info",
		ShutdownTimeout: 30 * time.Second,
		Metrics: MetricsConfig{
			Namespace:    "taskengine",
			Addr:         ":9090",
			PollInterval: 5 * time.Second,
		},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when path is
// empty), a .env file in the working directory if one exists, and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML text on top of the defaults. The environment is not consulted.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the variables lookup reports as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvName); ok && v != "" {
		c.Name = v
	}
	if v, ok := lookup(EnvWorkers); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", EnvWorkers)
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvHistory); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", EnvHistory)
		}
		c.HistoryCapacity = n
	}
	if v, ok := lookup(EnvPriorityQueue); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", EnvPriorityQueue)
		}
		c.PriorityQueue = b
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.HistoryCapacity < 0:
		return errors.Errorf("history_capacity must not be negative, got %d", c.HistoryCapacity)
	case c.ShutdownTimeout < 0:
		return errors.Errorf("shutdown_timeout must not be negative, got %s", c.ShutdownTimeout)
	case c.Metrics.Enabled && c.Metrics.PollInterval <= 0:
		return errors.Errorf("metrics.poll_interval must be positive, got %s", c.Metrics.PollInterval)
	}
	return nil
}
