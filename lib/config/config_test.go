// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retrieval.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddress != "127.0.0.1:0" {
		t.Errorf("ListenAddress = %q, want 127.0.0.1:0", cfg.ListenAddress)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Limits.MaxBytes != 4<<30 {
		t.Errorf("Limits.MaxBytes = %d, want %d", cfg.Limits.MaxBytes, int64(4<<30))
	}
	if cfg.Limits.SessionTimeout.Duration != 20*time.Second {
		t.Errorf("SessionTimeout = %v, want 20s", cfg.Limits.SessionTimeout.Duration)
	}
	if cfg.Spool.Compression != "zstd" {
		t.Errorf("Spool.Compression = %q, want zstd", cfg.Spool.Compression)
	}
	if cfg.Spool.Directory != "" {
		t.Errorf("Spool.Directory = %q, want empty (disabled)", cfg.Spool.Directory)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadRequiresConfigPath(t *testing.T) {
	t.Setenv("RETRIEVAL_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded with RETRIEVAL_CONFIG unset, want error")
	}
}

func TestLoadWithConfigPath(t *testing.T) {
	path := writeConfig(t, `
listen_address: "0.0.0.0:9157"
access_token: secret
`)
	t.Setenv("RETRIEVAL_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9157" {
		t.Errorf("ListenAddress = %q, want 0.0.0.0:9157", cfg.ListenAddress)
	}
	if cfg.AccessToken != "secret" {
		t.Errorf("AccessToken = %q, want secret", cfg.AccessToken)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen_address: "127.0.0.1:8080"
user_agent: "probe/1"
log_level: debug
origin_allowlist:
  - mirror.example.com
  - Backup.Example.Com
limits:
  max_bytes: 1048576
  session_timeout: "90s"
spool:
  directory: /var/spool/retrieval
  compression: lz4
  max_age: "24h"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if cfg.ListenAddress != "127.0.0.1:8080" {
		t.Errorf("ListenAddress = %q", cfg.ListenAddress)
	}
	if cfg.UserAgent != "probe/1" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Limits.MaxBytes != 1048576 {
		t.Errorf("Limits.MaxBytes = %d, want 1048576", cfg.Limits.MaxBytes)
	}
	if cfg.Limits.SessionTimeout.Duration != 90*time.Second {
		t.Errorf("SessionTimeout = %v, want 90s", cfg.Limits.SessionTimeout.Duration)
	}
	// Unset file fields keep their defaults.
	if cfg.Limits.ConnectTimeout.Duration != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want default 5s", cfg.Limits.ConnectTimeout.Duration)
	}
	if cfg.Spool.Directory != "/var/spool/retrieval" {
		t.Errorf("Spool.Directory = %q", cfg.Spool.Directory)
	}
	if cfg.Spool.Compression != "lz4" {
		t.Errorf("Spool.Compression = %q, want lz4", cfg.Spool.Compression)
	}
	if cfg.Spool.MaxAge.Duration != 24*time.Hour {
		t.Errorf("Spool.MaxAge = %v, want 24h", cfg.Spool.MaxAge.Duration)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
limits:
  session_timeout: "twenty seconds"
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() succeeded with malformed duration, want error")
	}
}

func TestEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, `
listen_address: "127.0.0.1:8080"
access_token: from-file
log_level: info
`)
	t.Setenv("RETRIEVAL_LISTEN_ADDRESS", "127.0.0.1:9000")
	t.Setenv("RETRIEVAL_ACCESS_TOKEN", "from-env")
	t.Setenv("RETRIEVAL_LOG_LEVEL", "warn")
	t.Setenv("RETRIEVAL_SPOOL_DIRECTORY", "/env/spool")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("ListenAddress = %q, want env override", cfg.ListenAddress)
	}
	if cfg.AccessToken != "from-env" {
		t.Errorf("AccessToken = %q, want env override", cfg.AccessToken)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want env override", cfg.LogLevel)
	}
	if cfg.Spool.Directory != "/env/spool" {
		t.Errorf("Spool.Directory = %q, want env override", cfg.Spool.Directory)
	}
}

func TestTokenExpandsFromEnvironment(t *testing.T) {
	path := writeConfig(t, `
access_token: "${RETRIEVAL_TEST_TOKEN:-fallback}"
`)
	t.Setenv("RETRIEVAL_TEST_TOKEN", "expanded-secret")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.AccessToken != "expanded-secret" {
		t.Errorf("AccessToken = %q, want expansion from environment", cfg.AccessToken)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/spool",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/spool",
		},
		{
			input:    "${MISSING_FOR_SURE:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, test := range tests {
		result := expandVars(test.input, test.vars)
		if result != test.expected {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, result, test.expected)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, test := range tests {
		got, err := ParseLogLevel(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
			continue
		}
		if !test.wantErr && got != test.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", test.input, got, test.want)
		}
	}
}

func TestAllowsOrigin(t *testing.T) {
	open := Default()
	if !open.AllowsOrigin("anything.example.com") {
		t.Error("empty allowlist rejected an origin")
	}

	restricted := Default()
	restricted.OriginAllowlist = []string{"mirror.example.com"}
	if !restricted.AllowsOrigin("Mirror.Example.Com") {
		t.Error("allowlist match is not case-insensitive")
	}
	if restricted.AllowsOrigin("other.example.com") {
		t.Error("allowlist admitted an unlisted origin")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty listen address",
			modify: func(c *Config) {
				c.ListenAddress = ""
			},
			wantErr: true,
		},
		{
			name: "listen address without port",
			modify: func(c *Config) {
				c.ListenAddress = "127.0.0.1"
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.LogLevel = "chatty"
			},
			wantErr: true,
		},
		{
			name: "allowlist entry with scheme",
			modify: func(c *Config) {
				c.OriginAllowlist = []string{"https://mirror.example.com"}
			},
			wantErr: true,
		},
		{
			name: "negative max bytes",
			modify: func(c *Config) {
				c.Limits.MaxBytes = -1
			},
			wantErr: true,
		},
		{
			name: "negative session timeout",
			modify: func(c *Config) {
				c.Limits.SessionTimeout = Duration{-time.Second}
			},
			wantErr: true,
		},
		{
			name: "unknown compression",
			modify: func(c *Config) {
				c.Spool.Compression = "brotli"
			},
			wantErr: true,
		},
		{
			name: "negative sweep interval",
			modify: func(c *Config) {
				c.Spool.SweepInterval = Duration{-time.Minute}
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != test.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, test.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryFailure(t *testing.T) {
	cfg := Default()
	cfg.ListenAddress = ""
	cfg.LogLevel = "chatty"
	cfg.Spool.Compression = "brotli"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() succeeded, want error")
	}
	for _, fragment := range []string{"listen_address", "log_level", "spool.compression"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Validate() error %q missing %q", err, fragment)
		}
	}
}
