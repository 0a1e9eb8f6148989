package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if err := validateURL("connection.url", c.Connection.URL); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.Connection.BackoffDelay < 0 {
		return errors.New("connection.backoff_delay must be >= 0")
	}
	if c.Connection.ReadyTimeout <= 0 {
		return errors.New("connection.ready_timeout must be > 0")
	}
	if c.Connection.HandshakeTimeout <= 0 {
		return errors.New("connection.handshake_timeout must be > 0")
	}
	if c.Connection.HeartbeatOutgoing < 0 || c.Connection.HeartbeatIncoming < 0 {
		return errors.New("connection heartbeats must be >= 0")
	}

	if c.Live.ResyncConcurrency < 1 {
		return errors.New("live.resync_concurrency must be >= 1")
	}
	if c.Live.PageSize < 1 {
		return errors.New("live.page_size must be >= 1")
	}
	if c.Live.ResyncInterval < 0 {
		return errors.New("live.resync_interval must be >= 0")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%s must use http, https, ws or wss, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}
