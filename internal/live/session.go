package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rickgao/auction-sync/internal/auction"
	"github.com/rickgao/auction-sync/internal/dispatch"
	"github.com/rickgao/auction-sync/internal/model"
)

// Session is a live view of one auction.
type Session struct {
	watcher    *Watcher
	auctionID  string
	engine     *auction.Engine
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	mu     sync.Mutex
	topics []string
	closed bool

	deleted     chan struct{}
	deletedOnce sync.Once
}

// AuctionID returns the watched auction.
func (s *Session) AuctionID() string {
	return s.auctionID
}

// Snapshot returns the current derived view.
func (s *Session) Snapshot() auction.Snapshot {
	return s.engine.Snapshot()
}

// OnChange registers fn to receive every new snapshot.
func (s *Session) OnChange(fn func(auction.Snapshot)) {
	s.engine.OnChange(fn)
}

// Deleted is closed when the auction is deleted. The caller should leave
// the view and Close the session.
func (s *Session) Deleted() <-chan struct{} {
	return s.deleted
}

// Stats returns current statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Engine:   s.engine.Stats(),
		Dispatch: s.dispatcher.Stats(),
	}
}

// PlaceBid places a bid and feeds it to the engine as a new bid. REST
// failures are returned once; use api.UserMessage for display.
func (s *Session) PlaceBid(ctx context.Context, price int64) (model.Bid, error) {
	if price <= 0 {
		return model.Bid{}, ErrInvalidPrice
	}
	if err := s.checkOpen(); err != nil {
		return model.Bid{}, err
	}

	bid, err := s.watcher.backend.PlaceBid(ctx, s.auctionID, price)
	if err != nil {
		s.logger.Info("bid rejected", zap.Int64("price", price), zap.Error(err))
		return model.Bid{}, err
	}

	s.engine.Apply(model.NewBid{Price: price})
	return bid, nil
}

// CancelBid cancels one bid and applies the cancellation locally.
func (s *Session) CancelBid(ctx context.Context, bidID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.watcher.backend.CancelBid(ctx, s.auctionID, bidID); err != nil {
		s.logger.Info("cancel rejected", zap.String("bid_id", bidID), zap.Error(err))
		return err
	}

	s.engine.Apply(model.BidCanceled{BidID: bidID})
	return nil
}

// End closes the auction early. The outcome arrives as a won or failed
// push; the resync covers the case where it does not.
func (s *Session) End(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.watcher.backend.EndAuction(ctx, s.auctionID); err != nil {
		return err
	}

	s.engine.Resync()
	return nil
}

// Delete deletes the auction.
func (s *Session) Delete(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.watcher.backend.DeleteAuction(ctx, s.auctionID); err != nil {
		return err
	}

	s.engine.Apply(model.AuctionDeleted{})
	return nil
}

// Close unsubscribes the auction topics and disposes the engine. Results of
// in-flight refreshes are dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	topics := s.topics
	s.topics = nil
	s.mu.Unlock()

	var errs []error
	for _, t := range topics {
		if err := s.watcher.conn.Unsubscribe(t); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", t, err))
		}
	}

	s.engine.Dispose()
	s.watcher.remove(s)
	s.logger.Debug("session closed")
	return errors.Join(errs...)
}

func (s *Session) checkOpen() error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.engine.Snapshot().Terminal {
		return ErrAuctionClosed
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) markDeleted() {
	s.deletedOnce.Do(func() {
		close(s.deleted)
	})
}
