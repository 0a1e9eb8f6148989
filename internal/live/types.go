package live

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/auction-sync/internal/auction"
	"github.com/rickgao/auction-sync/internal/connection"
	"github.com/rickgao/auction-sync/internal/dispatch"
	"github.com/rickgao/auction-sync/internal/model"
	"github.com/rickgao/auction-sync/internal/subscription"
)

var (
	ErrInvalidPrice  = errors.New("bid price must be positive")
	ErrAuctionClosed = errors.New("auction is no longer open")
	ErrSessionClosed = errors.New("session closed")
	ErrWatcherClosed = errors.New("watcher stopped")
)

// Conn is the part of the connection manager a Watcher uses.
type Conn interface {
	Subscribe(ctx context.Context, topic string, handler subscription.Handler) (subscription.Subscription, error)
	Unsubscribe(topic string) error
	OnStateChange(fn connection.StateListener)
	State() connection.State
}

// Backend is the REST collaborator: refreshes plus bid actions.
type Backend interface {
	auction.Refresher
	PlaceBid(ctx context.Context, auctionID string, price int64) (model.Bid, error)
	CancelBid(ctx context.Context, auctionID, bidID string) error
	EndAuction(ctx context.Context, auctionID string) error
	DeleteAuction(ctx context.Context, auctionID string) error
}

// Config holds watcher configuration.
type Config struct {
	ResyncInterval    time.Duration // 0 disables the periodic resync
	ResyncConcurrency int
	Engine            auction.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResyncInterval:    30 * time.Second,
		ResyncConcurrency: 4,
		Engine:            auction.DefaultConfig(),
	}
}

// SessionStats contains per-session statistics.
type SessionStats struct {
	Engine   auction.Stats
	Dispatch dispatch.Stats
}

// Stats contains watcher statistics.
type Stats struct {
	Sessions       int
	ResyncCycles   int64
	ResyncFailures int64
	Reconnects     int64
}
