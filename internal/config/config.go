// Package config loads the server configuration from a YAML file,
// filling in defaults for anything unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHost            = "localhost"
	DefaultPort            = 8080
	DefaultDBPath          = "netpass.db"
	DefaultLocations       = 3
	DefaultRetentionDays   = 30
	DefaultCleanupInterval = time.Second
	DefaultMatchInterval   = time.Hour
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	DB struct {
		Path string `yaml:"path"`
	} `yaml:"db"`
	// Locations is the number of configured locations; valid location
	// IDs are [0, Locations).
	Locations     int    `yaml:"locations"`
	RetentionDays int    `yaml:"retention_days"`
	Cleanup       string `yaml:"cleanup_interval"`
	BulkMatch     string `yaml:"bulk_match_interval"`

	cleanupInterval time.Duration
	matchInterval   time.Duration
}

// Load reads the config at path. A missing file yields pure defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() (Config, error) {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.DB.Path == "" {
		c.DB.Path = DefaultDBPath
	}
	if c.Locations <= 0 {
		c.Locations = DefaultLocations
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	var err error
	if c.cleanupInterval, err = parseInterval(c.Cleanup, DefaultCleanupInterval); err != nil {
		return c, fmt.Errorf("cleanup_interval: %w", err)
	}
	if c.matchInterval, err = parseInterval(c.BulkMatch, DefaultMatchInterval); err != nil {
		return c, fmt.Errorf("bulk_match_interval: %w", err)
	}
	return c, nil
}

func parseInterval(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Retention is how long inactive rows survive.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// CleanupInterval is the retention sweep cadence.
func (c Config) CleanupInterval() time.Duration { return c.cleanupInterval }

// BulkMatchInterval is the background bulk-matching cadence.
func (c Config) BulkMatchInterval() time.Duration { return c.matchInterval }
