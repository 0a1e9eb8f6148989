package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL              = "http://localhost:8080"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultMaxReconnectAttempts = 5
	DefaultBackoffDelay         = 3 * time.Second
	DefaultReadyTimeout         = 10 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHeartbeat            = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultResyncInterval       = 30 * time.Second
	DefaultRefreshTimeout       = 10 * time.Second
	DefaultResyncConcurrency    = 4
	DefaultPageSize             = 50
	DefaultLogLevel             = "info"
)

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.URL == "" {
		c.Connection.URL = c.API.BaseURL
	}
	if c.Connection.SockJS == nil {
		on := true
		c.Connection.SockJS = &on
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.BackoffDelay == 0 {
		c.Connection.BackoffDelay = DefaultBackoffDelay
	}
	if c.Connection.ReadyTimeout == 0 {
		c.Connection.ReadyTimeout = DefaultReadyTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.HeartbeatOutgoing == 0 {
		c.Connection.HeartbeatOutgoing = DefaultHeartbeat
	}
	if c.Connection.HeartbeatIncoming == 0 {
		c.Connection.HeartbeatIncoming = DefaultHeartbeat
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}

	// Live defaults
	if c.Live.ResyncInterval == 0 {
		c.Live.ResyncInterval = DefaultResyncInterval
	}
	if c.Live.RefreshTimeout == 0 {
		c.Live.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.Live.ResyncConcurrency == 0 {
		c.Live.ResyncConcurrency = DefaultResyncConcurrency
	}
	if c.Live.PageSize == 0 {
		c.Live.PageSize = DefaultPageSize
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
