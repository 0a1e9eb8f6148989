package config

import "time"

// Config is the root configuration for the auction watcher.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Connection ConnectionConfig `yaml:"connection"`
	Live       LiveConfig       `yaml:"live"`
	Log        LogConfig        `yaml:"log"`
	Health     HealthConfig     `yaml:"health"`
	User       UserConfig       `yaml:"user"`
}

// APIConfig holds REST settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// AuthConfig holds the bearer credential. Token wins over TokenFile.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// ConnectionConfig holds push connection settings.
type ConnectionConfig struct {
	URL                  string        `yaml:"url"`    // Defaults to api.base_url
	SockJS               *bool         `yaml:"sockjs"` // Defaults to true
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	BackoffDelay         time.Duration `yaml:"backoff_delay"`
	ReadyTimeout         time.Duration `yaml:"ready_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HeartbeatOutgoing    time.Duration `yaml:"heartbeat_outgoing"`
	HeartbeatIncoming    time.Duration `yaml:"heartbeat_incoming"`
	PingInterval         time.Duration `yaml:"ping_interval"`
}

// UseSockJS reports whether SockJS framing is enabled.
func (c ConnectionConfig) UseSockJS() bool {
	return c.SockJS == nil || *c.SockJS
}

// LiveConfig holds per-auction session settings.
type LiveConfig struct {
	ResyncInterval    time.Duration `yaml:"resync_interval"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout"`
	ResyncConcurrency int           `yaml:"resync_concurrency"`
	PageSize          int           `yaml:"page_size"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// HealthConfig holds the health/debug HTTP server settings. Port 0 disables it.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// UserConfig identifies the signed-in user for the notification feed.
type UserConfig struct {
	ID string `yaml:"id"`
}
