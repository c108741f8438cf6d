// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with ENV > file > defaults
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the effective daemon configuration.
type Config struct {
	ListenAddr     string `yaml:"listenAddr"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	MetricsAddr    string `yaml:"metricsAddr"`

	// AuthRateLimit caps login/register attempts per client IP per minute.
	AuthRateLimit int `yaml:"authRateLimit"`

	DataDir   string `yaml:"dataDir"`
	VideosDir string `yaml:"videosDir"`
	UnitDir   string `yaml:"unitDir"`

	// Timezone governs daily schedule wall-clock times.
	Timezone string `yaml:"timezone"`

	LogLevel string `yaml:"logLevel"`

	// Reconciliation cadence and the post-stop grace window.
	OverdueInterval time.Duration `yaml:"overdueInterval"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	StopGraceWindow time.Duration `yaml:"stopGraceWindow"`

	// Supervisor call budgets.
	StartSettleDelay time.Duration `yaml:"startSettleDelay"`
	StopTimeout      time.Duration `yaml:"stopTimeout"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		MetricsEnabled:   true,
		MetricsAddr:      ":9090",
		AuthRateLimit:    10,
		DataDir:          "./data",
		VideosDir:        "",
		UnitDir:          "/etc/systemd/system",
		Timezone:         "Local",
		LogLevel:         "info",
		OverdueInterval:  time.Minute,
		CleanupInterval:  5 * time.Minute,
		StopGraceWindow:  2 * time.Minute,
		StartSettleDelay: 2 * time.Second,
		StopTimeout:      15 * time.Second,
	}
}

// Load builds the configuration: defaults, then the optional YAML file,
// then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = ParseString("RESTREAMD_LISTEN", cfg.ListenAddr)
	cfg.MetricsEnabled = ParseBool("RESTREAMD_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsAddr = ParseString("RESTREAMD_METRICS_ADDR", cfg.MetricsAddr)
	cfg.AuthRateLimit = ParseInt("RESTREAMD_AUTH_RATE_LIMIT", cfg.AuthRateLimit)
	cfg.DataDir = ParseString("RESTREAMD_DATA", cfg.DataDir)
	cfg.VideosDir = ParseString("RESTREAMD_VIDEOS", cfg.VideosDir)
	cfg.UnitDir = ParseString("RESTREAMD_UNIT_DIR", cfg.UnitDir)
	cfg.Timezone = ParseString("RESTREAMD_TIMEZONE", cfg.Timezone)
	cfg.LogLevel = ParseString("RESTREAMD_LOG_LEVEL", cfg.LogLevel)
	cfg.OverdueInterval = ParseDuration("RESTREAMD_OVERDUE_INTERVAL", cfg.OverdueInterval)
	cfg.CleanupInterval = ParseDuration("RESTREAMD_CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.StopGraceWindow = ParseDuration("RESTREAMD_STOP_GRACE", cfg.StopGraceWindow)
	cfg.StartSettleDelay = ParseDuration("RESTREAMD_START_SETTLE", cfg.StartSettleDelay)
	cfg.StopTimeout = ParseDuration("RESTREAMD_STOP_TIMEOUT", cfg.StopTimeout)

	if cfg.VideosDir == "" {
		cfg.VideosDir = filepath.Join(cfg.DataDir, "videos")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	if c.AuthRateLimit <= 0 {
		return fmt.Errorf("auth rate limit must be positive")
	}
	if c.OverdueInterval <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("reconciliation intervals must be positive")
	}
	if c.StopGraceWindow < 0 {
		return fmt.Errorf("stop grace window must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SessionsPath returns the ledger document path.
func (c Config) SessionsPath() string { return filepath.Join(c.DataDir, "sessions.json") }

// UsersPath returns the credential document path.
func (c Config) UsersPath() string { return filepath.Join(c.DataDir, "users.json") }

// DomainPath returns the reverse-proxy config document path.
func (c Config) DomainPath() string { return filepath.Join(c.DataDir, "domain_config.json") }
