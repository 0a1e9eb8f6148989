package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/auction-sync/internal/auction"
	"github.com/rickgao/auction-sync/internal/connection"
	"github.com/rickgao/auction-sync/internal/dispatch"
	"github.com/rickgao/auction-sync/internal/notification"
	"github.com/rickgao/auction-sync/internal/topic"
)

// Watcher manages live auction sessions over one connection.
type Watcher struct {
	cfg     Config
	conn    Conn
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	watchGroup singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
	feeds    map[string]*notification.Feed
	cron     *cron.Cron
	stopped  bool

	resyncCycles   atomic.Int64
	resyncFailures atomic.Int64
	reconnects     atomic.Int64
}

// NewWatcher creates a Watcher. It registers a state listener on conn so
// sessions resync after every reconnect.
func NewWatcher(cfg Config, conn Conn, backend Backend, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResyncConcurrency < 1 {
		cfg.ResyncConcurrency = 1
	}

	w := &Watcher{
		cfg:      cfg,
		conn:     conn,
		backend:  backend,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		feeds:    make(map[string]*notification.Feed),
	}
	conn.OnStateChange(w.handleStateChange)
	return w
}

// Start schedules the periodic resync.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWatcherClosed
	}
	if w.cron != nil || w.cfg.ResyncInterval <= 0 {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := fmt.Sprintf("@every %s", w.cfg.ResyncInterval)
	if _, err := c.AddFunc(schedule, w.tick); err != nil {
		return fmt.Errorf("schedule resync: %w", err)
	}
	c.Start()
	w.cron = c

	w.logger.Info("live watcher started",
		zap.Duration("resync_interval", w.cfg.ResyncInterval),
		zap.Int("resync_concurrency", w.cfg.ResyncConcurrency),
	)
	return nil
}

// Stop cancels the schedule and closes every session and feed.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	c := w.cron
	w.cron = nil
	sessions := w.sessionsLocked()
	feeds := w.feeds
	w.feeds = make(map[string]*notification.Feed)
	w.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for userID, f := range feeds {
		if err := w.conn.Unsubscribe(f.Topic()); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe notifications for %s: %w", userID, err))
		}
		f.Close()
	}

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	w.logger.Info("live watcher stopped")
	return errors.Join(errs...)
}

// Watch loads auctionID and subscribes its topics. Concurrent calls for
// the same auction share one session.
func (w *Watcher) Watch(ctx context.Context, auctionID string) (*Session, error) {
	v, err, _ := w.watchGroup.Do(auctionID, func() (any, error) {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return nil, ErrWatcherClosed
		}
		if s, ok := w.sessions[auctionID]; ok {
			w.mu.Unlock()
			return s, nil
		}
		w.mu.Unlock()

		return w.open(ctx, auctionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Session returns the open session for auctionID.
func (w *Watcher) Session(auctionID string) (*Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[auctionID]
	return s, ok
}

// Sessions returns all open sessions.
func (w *Watcher) Sessions() []*Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionsLocked()
}

// Notifications subscribes the notification feed for userID. Repeat calls
// return the same feed.
func (w *Watcher) Notifications(ctx context.Context, userID string, cfg notification.Config) (*notification.Feed, error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil, ErrWatcherClosed
	}
	if f, ok := w.feeds[userID]; ok {
		w.mu.Unlock()
		return f, nil
	}
	f := notification.NewFeed(userID, cfg, w.logger.Named("notification"))
	w.feeds[userID] = f
	w.mu.Unlock()

	if _, err := w.conn.Subscribe(ctx, f.Topic(), f.Handle); err != nil {
		w.mu.Lock()
		delete(w.feeds, userID)
		w.mu.Unlock()
		f.Close()
		return nil, fmt.Errorf("subscribe notifications: %w", err)
	}
	return f, nil
}

// ResyncAll reloads every session concurrently, bounded by
// ResyncConcurrency. Individual failures are logged and counted.
func (w *Watcher) ResyncAll(ctx context.Context) {
	sessions := w.Sessions()
	if len(sessions) == 0 {
		return
	}

	start := time.Now()
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.ResyncConcurrency)
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.engine.Load(gctx); err != nil {
				s.logger.Warn("resync failed", zap.Error(err))
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	w.resyncCycles.Add(1)
	w.resyncFailures.Add(failed.Load())
	w.logger.Debug("resync cycle complete",
		zap.Int("sessions", len(sessions)),
		zap.Int64("failed", failed.Load()),
		zap.Duration("duration", time.Since(start)),
	)
}

// CheckExpiry marks sessions whose end time has passed.
func (w *Watcher) CheckExpiry(now time.Time) int {
	n := 0
	for _, s := range w.Sessions() {
		if s.engine.CheckExpiry(now) {
			n++
		}
	}
	return n
}

// Stats returns current statistics.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	n := len(w.sessions)
	w.mu.Unlock()

	return Stats{
		Sessions:       n,
		ResyncCycles:   w.resyncCycles.Load(),
		ResyncFailures: w.resyncFailures.Load(),
		Reconnects:     w.reconnects.Load(),
	}
}

// open builds, loads and subscribes a new session.
func (w *Watcher) open(ctx context.Context, auctionID string) (*Session, error) {
	logger := w.logger.With(zap.String("auction_id", auctionID))
	engine := auction.NewEngine(auctionID, w.cfg.Engine, w.backend, logger.Named("engine"))
	s := &Session{
		watcher:    w,
		auctionID:  auctionID,
		engine:     engine,
		dispatcher: dispatch.New(auctionID, engine, logger.Named("dispatch")),
		logger:     logger,
		deleted:    make(chan struct{}),
	}
	engine.OnDeleted(func() {
		logger.Info("auction deleted")
		s.markDeleted()
	})

	// Subscribe before loading so nothing pushed during the load is lost.
	for _, t := range topic.AuctionAll(auctionID) {
		s.topics = append(s.topics, t)
		if _, err := w.conn.Subscribe(ctx, t, s.dispatcher.Handle); err != nil {
			s.Close()
			return nil, fmt.Errorf("subscribe %s: %w", t, err)
		}
	}

	if err := engine.Load(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("load auction %s: %w", auctionID, err)
	}
	if engine.Snapshot().Summary.IsDeleted {
		s.markDeleted()
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		s.Close()
		return nil, ErrWatcherClosed
	}
	w.sessions[auctionID] = s
	w.mu.Unlock()

	logger.Info("watching auction")
	return s, nil
}

func (w *Watcher) remove(s *Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sessions[s.auctionID] == s {
		delete(w.sessions, s.auctionID)
	}
}

func (w *Watcher) sessionsLocked() []*Session {
	out := make([]*Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		out = append(out, s)
	}
	return out
}

// tick is the scheduled job.
func (w *Watcher) tick() {
	w.CheckExpiry(w.now())

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ResyncInterval)
	defer cancel()
	w.ResyncAll(ctx)
}

// handleStateChange runs on the connection's goroutine; it must not block.
func (w *Watcher) handleStateChange(from, to connection.State) {
	switch {
	case to == connection.StateConnected && from == connection.StateReconnecting:
		w.reconnects.Add(1)
		sessions := w.Sessions()
		w.logger.Info("reconnected, resyncing sessions", zap.Int("sessions", len(sessions)))
		for _, s := range sessions {
			s.engine.Resync()
		}
	case to == connection.StateReconnecting:
		w.logger.Warn("push connection lost, live updates paused")
	case to == connection.StateFailed:
		w.logger.Error("push connection failed, live updates stopped")
	}
}
