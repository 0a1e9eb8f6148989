package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rickgao/auction-sync/internal/connection"
	"github.com/rickgao/auction-sync/internal/live"
	"github.com/rickgao/auction-sync/internal/notification"
	"github.com/rickgao/auction-sync/internal/version"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	UserID     string
	HealthPort int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <auction-id>...",
		Short: "Follow auctions live",
		Long: `Connect to the push endpoint and print every change to the given auctions.

Example:
  auctionwatch watch 42
  auctionwatch watch --config watch.yaml --user 7 --health-port 8081 42 43`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, args, newPrinter(cmd.OutOrStdout(), opts.Format))
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id for the notification feed (overrides user.id)")
	cmd.Flags().IntVar(&opts.HealthPort, "health-port", 0, "health server port (overrides health.port)")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, auctionIDs []string, out *printer) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	logger := a.logger
	logger.Info("starting auctionwatch",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.Strings("auctions", auctionIDs),
	)

	manager := a.newManager()
	manager.OnStateChange(out.state)
	watcher := a.newWatcher(manager)

	if err := manager.Connect(ctx); err != nil {
		if errors.Is(err, connection.ErrAuth) {
			return fmt.Errorf("no credential configured (auth.token or auth.token_file): %w", err)
		}
		// Not fatal: the manager keeps retrying and Watch blocks on it.
		logger.Warn("initial connect failed", zap.Error(err))
	}

	if err := watcher.Start(); err != nil {
		return err
	}

	for _, id := range auctionIDs {
		s, err := watcher.Watch(ctx, id)
		if err != nil {
			shutdown(logger, watcher, manager, nil)
			return fmt.Errorf("watch %s: %w", id, err)
		}
		out.snapshot(s.Snapshot())
		s.OnChange(out.snapshot)
		go func() {
			select {
			case <-s.Deleted():
				out.message("auction %s was deleted", s.AuctionID())
				s.Close()
			case <-ctx.Done():
			}
		}()
	}

	userID := opts.UserID
	if userID == "" {
		userID = a.cfg.User.ID
	}
	if userID != "" {
		feed, err := watcher.Notifications(ctx, userID, notification.DefaultConfig())
		if err != nil {
			logger.Warn("notification feed unavailable", zap.Error(err))
		} else {
			go func() {
				for {
					n, err := feed.Next(ctx)
					if err != nil {
						return
					}
					out.notification(n)
				}
			}()
		}
	}

	var server *http.Server
	port := opts.HealthPort
	if port == 0 {
		port = a.cfg.Health.Port
	}
	if port > 0 {
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newHealthRouter(manager, watcher),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting health server", zap.Int("port", port))
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	shutdown(logger, watcher, manager, server)
	logger.Info("auctionwatch stopped")
	return nil
}

func shutdown(logger *zap.Logger, watcher *live.Watcher, manager *connection.Manager, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := watcher.Stop(ctx); err != nil {
		logger.Warn("stop watcher", zap.Error(err))
	}
	if err := manager.Disconnect(ctx); err != nil {
		logger.Warn("disconnect", zap.Error(err))
	}
	if server != nil {
		server.Shutdown(ctx)
	}
}
