package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rickgao/auction-sync/internal/api"
	"github.com/rickgao/auction-sync/internal/auction"
	"github.com/rickgao/auction-sync/internal/auth"
	"github.com/rickgao/auction-sync/internal/config"
	"github.com/rickgao/auction-sync/internal/connection"
	"github.com/rickgao/auction-sync/internal/live"
	"github.com/rickgao/auction-sync/internal/logging"
	"github.com/rickgao/auction-sync/internal/stomp"
)

// app holds the collaborators built from config.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	tokens  auth.TokenSource
	backend *api.Backend
}

func newApp(opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	tokens := auth.FromConfig(cfg.Auth.Token, cfg.Auth.TokenFile)
	client := api.NewClient(cfg.API.BaseURL, tokens,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, api.DefaultRetryBackoff),
		api.WithLogger(logger.Named("api")),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		tokens:  tokens,
		backend: api.NewBackend(client, cfg.Live.PageSize),
	}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (a *app) newManager() *connection.Manager {
	return connection.NewManager(managerConfig(a.cfg.Connection), a.tokens, a.logger.Named("connection"))
}

func (a *app) newWatcher(conn live.Conn) *live.Watcher {
	return live.NewWatcher(watcherConfig(a.cfg.Live), conn, a.backend, a.logger.Named("live"))
}

// managerConfig maps the connection section onto the manager.
func managerConfig(c config.ConnectionConfig) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.BaseURL = c.URL
	mc.SockJS = c.UseSockJS()
	mc.MaxReconnectAttempts = c.MaxReconnectAttempts
	mc.BackoffDelay = c.BackoffDelay
	mc.ReadyTimeout = c.ReadyTimeout
	mc.HandshakeTimeout = c.HandshakeTimeout
	mc.WriteTimeout = c.WriteTimeout
	mc.HeartBeat = stomp.HeartBeat{Outgoing: c.HeartbeatOutgoing, Incoming: c.HeartbeatIncoming}
	if c.PingInterval > 0 {
		mc.PingInterval = c.PingInterval
		mc.PingTimeout = c.PingInterval * 5 / 2
	}
	return mc
}

func watcherConfig(c config.LiveConfig) live.Config {
	return live.Config{
		ResyncInterval:    c.ResyncInterval,
		ResyncConcurrency: c.ResyncConcurrency,
		Engine:            auction.Config{RefreshTimeout: c.RefreshTimeout},
	}
}
