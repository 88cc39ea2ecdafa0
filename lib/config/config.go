// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the retrieval daemon configuration.
type Config struct {
	// ListenAddress is the daemon's HTTP bind address. Port 0 binds
	// an ephemeral port, reported on stdout when the daemon is ready.
	ListenAddress string `yaml:"listen_address"`

	// AccessToken is the bearer token required on daemon requests.
	// Empty disables authentication; only safe on loopback.
	AccessToken string `yaml:"access_token"`

	// UserAgent overrides the User-Agent header sent to origins.
	// Empty uses the built-in "retrieval/<version>" string.
	UserAgent string `yaml:"user_agent"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// OriginAllowlist restricts which origin hosts may be fetched
	// from. Entries are hostnames, compared case-insensitively,
	// ports ignored. Empty allows every origin.
	OriginAllowlist []string `yaml:"origin_allowlist"`

	// Limits bounds individual retrievals.
	Limits LimitsConfig `yaml:"limits"`

	// Spool configures the verified-content cache.
	Spool SpoolConfig `yaml:"spool"`
}

// LimitsConfig bounds individual retrievals.
type LimitsConfig struct {
	// MaxBytes caps the decoded payload size per retrieval.
	MaxBytes int64 `yaml:"max_bytes"`

	// MaxChunkBytes caps a single declared chunk size.
	MaxChunkBytes int64 `yaml:"max_chunk_bytes"`

	// SessionTimeout bounds a whole retrieval, dial through verify.
	SessionTimeout Duration `yaml:"session_timeout"`

	// ConnectTimeout bounds the dial phase alone.
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// SpoolConfig configures the verified-content cache.
type SpoolConfig struct {
	// Directory is the spool root. Empty disables the spool.
	Directory string `yaml:"directory"`

	// MaxBytes caps stored bytes; the janitor evicts
	// least-recently-used entries above it. 0 means no cap.
	MaxBytes int64 `yaml:"max_bytes"`

	// MaxAge evicts entries idle longer than this. 0 disables age
	// eviction.
	MaxAge Duration `yaml:"max_age"`

	// Compression is zstd, lz4, or none.
	Compression string `yaml:"compression"`

	// SweepInterval is the janitor cadence.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Duration wraps time.Duration for YAML string parsing ("20s", "168h").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "20s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the loopback defaults: ephemeral port, no token, no
// spool directory. A config file is still the expected path for real
// deployments; these exist so every field has a sensible value before
// the file is merged in.
func Default() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:0",
		LogLevel:      "info",
		Limits: LimitsConfig{
			MaxBytes:       4 << 30,
			MaxChunkBytes:  16 << 20,
			SessionTimeout: Duration{20 * time.Second},
			ConnectTimeout: Duration{5 * time.Second},
		},
		Spool: SpoolConfig{
			MaxBytes:      1 << 30,
			MaxAge:        Duration{168 * time.Hour},
			Compression:   "zstd",
			SweepInterval: Duration{time.Minute},
		},
	}
}

// Load loads configuration from the path in RETRIEVAL_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("RETRIEVAL_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("RETRIEVAL_CONFIG environment variable not set; " +
			"set it to the path of your retrieval.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// RETRIEVAL_* environment overrides, and expands ${VAR} patterns.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvOverrides applies the small set of environment overrides.
// Env wins over the file so deployments can inject the bind address
// and token.
func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		name   string
		target *string
	}{
		{"RETRIEVAL_LISTEN_ADDRESS", &c.ListenAddress},
		{"RETRIEVAL_ACCESS_TOKEN", &c.AccessToken},
		{"RETRIEVAL_USER_AGENT", &c.UserAgent},
		{"RETRIEVAL_LOG_LEVEL", &c.LogLevel},
		{"RETRIEVAL_SPOOL_DIRECTORY", &c.Spool.Directory},
	}
	for _, override := range overrides {
		if value := os.Getenv(override.name); value != "" {
			*override.target = value
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// fields that commonly reference the environment.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.AccessToken = expandVars(c.AccessToken, vars)
	c.Spool.Directory = expandVars(c.Spool.Directory, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// ParseLogLevel maps a log_level string to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (want debug, info, warn, or error)", s)
	}
}

// AllowsOrigin reports whether the allowlist admits the host. An empty
// allowlist admits everything.
func (c *Config) AllowsOrigin(host string) bool {
	if len(c.OriginAllowlist) == 0 {
		return true
	}
	for _, entry := range c.OriginAllowlist {
		if strings.EqualFold(entry, host) {
			return true
		}
	}
	return false
}

// Validate checks the configuration and reports every failure.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	} else if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		errs = append(errs, fmt.Errorf("listen_address: %w", err))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	for _, entry := range c.OriginAllowlist {
		if entry == "" || strings.ContainsAny(entry, "/:") {
			errs = append(errs, fmt.Errorf("origin_allowlist entry %q must be a bare hostname", entry))
		}
	}

	if c.Limits.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("limits.max_bytes must not be negative"))
	}
	if c.Limits.MaxChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("limits.max_chunk_bytes must not be negative"))
	}
	if c.Limits.SessionTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("limits.session_timeout must not be negative"))
	}
	if c.Limits.ConnectTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("limits.connect_timeout must not be negative"))
	}

	switch c.Spool.Compression {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("spool.compression must be zstd, lz4, or none"))
	}
	if c.Spool.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("spool.max_bytes must not be negative"))
	}
	if c.Spool.MaxAge.Duration < 0 {
		errs = append(errs, fmt.Errorf("spool.max_age must not be negative"))
	}
	if c.Spool.SweepInterval.Duration < 0 {
		errs = append(errs, fmt.Errorf("spool.sweep_interval must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
