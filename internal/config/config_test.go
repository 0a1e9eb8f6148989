package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
api:
  base_url: https://auction.example.com
  timeout: 5s
auth:
  token_file: /run/secrets/token
connection:
  sockjs: false
  max_reconnect_attempts: 7
  backoff_delay: 2s
live:
  resync_interval: 1m
user:
  id: "12"
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.BaseURL != "https://auction.example.com" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("API.Timeout = %v, want 5s", cfg.API.Timeout)
	}
	if cfg.Auth.TokenFile != "/run/secrets/token" {
		t.Errorf("Auth.TokenFile = %q", cfg.Auth.TokenFile)
	}
	if cfg.Connection.UseSockJS() {
		t.Error("Connection.UseSockJS() = true, want false")
	}
	if cfg.Connection.MaxReconnectAttempts != 7 || cfg.Connection.BackoffDelay != 2*time.Second {
		t.Errorf("Connection = %+v", cfg.Connection)
	}
	if cfg.Live.ResyncInterval != time.Minute {
		t.Errorf("Live.ResyncInterval = %v, want 1m", cfg.Live.ResyncInterval)
	}
	if cfg.User.ID != "12" {
		t.Errorf("User.ID = %q, want 12", cfg.User.ID)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_AUCTION_TOKEN", "secret123")

	yaml := `
auth:
  token: ${TEST_AUCTION_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Token != "secret123" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "user:\n  id: u1\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.BaseURL != DefaultBaseURL {
		t.Errorf("API.BaseURL = %q, want default %q", cfg.API.BaseURL, DefaultBaseURL)
	}
	if cfg.Connection.URL != DefaultBaseURL {
		t.Errorf("Connection.URL = %q, want api.base_url", cfg.Connection.URL)
	}
	if !cfg.Connection.UseSockJS() {
		t.Error("Connection.UseSockJS() = false, want default true")
	}
	if cfg.Connection.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want %d", cfg.Connection.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Connection.BackoffDelay != DefaultBackoffDelay {
		t.Errorf("BackoffDelay = %v, want %v", cfg.Connection.BackoffDelay, DefaultBackoffDelay)
	}
	if cfg.Live.PageSize != DefaultPageSize {
		t.Errorf("Live.PageSize = %d, want %d", cfg.Live.PageSize, DefaultPageSize)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad base url scheme", func(c *Config) { c.API.BaseURL = "ftp://x" }, "api.base_url"},
		{"base url without host", func(c *Config) { c.API.BaseURL = "http://" }, "api.base_url must include a host"},
		{"bad connection url", func(c *Config) { c.Connection.URL = "x" }, "connection.url"},
		{"zero reconnect attempts", func(c *Config) { c.Connection.MaxReconnectAttempts = -1 }, "max_reconnect_attempts"},
		{"negative backoff", func(c *Config) { c.Connection.BackoffDelay = -time.Second }, "backoff_delay"},
		{"negative heartbeat", func(c *Config) { c.Connection.HeartbeatIncoming = -1 }, "heartbeats"},
		{"zero concurrency", func(c *Config) { c.Live.ResyncConcurrency = -2 }, "resync_concurrency"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad health port", func(c *Config) { c.Health.Port = 70000 }, "health.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "log:\n  level: loud\n")

	_, err := LoadAndValidate(path)
	if err == nil || !strings.Contains(err.Error(), "validate config") {
		t.Errorf("LoadAndValidate() = %v, want validation error", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeTempFile(t, "api: [unclosed")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("Load() = %v, want parse error", err)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
