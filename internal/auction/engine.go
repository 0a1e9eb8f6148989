package auction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/auction-sync/internal/model"
)

// Refresher fetches authoritative auction state.
type Refresher interface {
	FetchBids(ctx context.Context, auctionID string) ([]model.Bid, error)
	FetchAuction(ctx context.Context, auctionID string) (model.AuctionSummary, error)
}

// Snapshot is a consistent copy of an engine's derived state.
type Snapshot struct {
	Summary       model.AuctionSummary
	Bids          []model.Bid // Display order
	HasActiveBids bool
	Terminal      bool
}

// Config holds engine configuration.
type Config struct {
	RefreshTimeout time.Duration // Per-fetch timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshTimeout: 10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	EventsApplied int64
	EventsIgnored int64
	Refreshes     int64
	RefreshErrors int64
	LateResults   int64 // Results that arrived after Dispose
}

// Engine reconciles one auction's ledger with pushed events and refreshes.
// All methods are safe for concurrent use; after Dispose every method is a no-op.
type Engine struct {
	auctionID string
	cfg       Config
	refresher Refresher
	logger    *zap.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	summary      model.AuctionSummary
	bids         []model.Bid
	ledgerLoaded bool
	expired      bool
	disposed     bool
	onChange     []func(Snapshot)
	onDeleted    []func()

	eventsApplied atomic.Int64
	eventsIgnored atomic.Int64
	refreshes     atomic.Int64
	refreshErrors atomic.Int64
	lateResults   atomic.Int64
}

// NewEngine creates an engine for auctionID. Call Load to populate it.
func NewEngine(auctionID string, cfg Config, refresher Refresher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultConfig().RefreshTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		auctionID: auctionID,
		cfg:       cfg,
		refresher: refresher,
		logger:    logger.With(zap.String("auction_id", auctionID)),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		summary:   model.AuctionSummary{AuctionID: auctionID},
	}
}

// AuctionID returns the auction this engine tracks.
func (e *Engine) AuctionID() string {
	return e.auctionID
}

// OnChange registers fn to receive a snapshot after every state change.
func (e *Engine) OnChange(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.disposed {
		e.onChange = append(e.onChange, fn)
	}
}

// OnDeleted registers fn to be called once when the auction is deleted.
func (e *Engine) OnDeleted(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.disposed {
		e.onDeleted = append(e.onDeleted, fn)
	}
}

// Load fetches the summary and ledger concurrently and applies both.
func (e *Engine) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RefreshTimeout)
	defer cancel()

	var (
		summary model.AuctionSummary
		bids    []model.Bid
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = e.refresher.FetchAuction(gctx, e.auctionID)
		return err
	})
	g.Go(func() error {
		var err error
		bids, err = e.refresher.FetchBids(gctx, e.auctionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Ledger first so a won summary keeps the derived price, not zero.
	e.ReplaceLedger(bids)
	e.ApplySummary(summary)
	return nil
}

// Apply folds a pushed event into the view.
func (e *Engine) Apply(ev model.Event) {
	e.mu.Lock()
	if e.disposed || e.summary.IsDeleted {
		e.mu.Unlock()
		e.eventsIgnored.Add(1)
		return
	}

	refresh := false
	deleted := false

	switch ev := ev.(type) {
	case model.NewBid:
		if !e.terminalLocked() && ev.Price > 0 {
			e.summary.CurrentPrice = ev.Price
		}
		refresh = true

	case model.BidCanceled:
		for i := range e.bids {
			if e.bids[i].ID == ev.BidID && e.bids[i].Status == model.StatusActive {
				e.bids[i].Status = model.StatusCanceled
				e.bids = SortBids(e.bids)
				e.recomputeLocked()
				break
			}
		}
		// The bid may not be known locally yet; the refetch settles it.
		refresh = true

	case model.AuctionWon:
		e.summary.IsWon = true
		if ev.FinalPrice != nil {
			e.summary.CurrentPrice = *ev.FinalPrice
		}

	case model.AuctionFailed:
		e.summary.IsFailed = true
		e.summary.CurrentPrice = 0
		if ev.FinalPrice != nil {
			e.summary.CurrentPrice = *ev.FinalPrice
		}

	case model.AuctionDeleted:
		e.summary.IsDeleted = true
		deleted = true

	default:
		e.mu.Unlock()
		e.eventsIgnored.Add(1)
		e.logger.Warn("unknown event type")
		return
	}

	snap, listeners := e.snapshotLocked(), e.onChange
	var deletedListeners []func()
	if deleted {
		deletedListeners = e.onDeleted
		e.onDeleted = nil
	}
	e.mu.Unlock()

	e.eventsApplied.Add(1)
	e.logger.Debug("event applied",
		zap.String("kind", ev.Kind()),
		zap.Int64("current_price", snap.Summary.CurrentPrice),
	)

	for _, fn := range listeners {
		fn(snap)
	}
	for _, fn := range deletedListeners {
		fn()
	}

	if refresh {
		e.Refresh()
	}
}

// ReplaceLedger installs a full ledger and recomputes the price.
func (e *Engine) ReplaceLedger(bids []model.Bid) {
	e.mu.Lock()
	if e.disposed || e.summary.IsDeleted {
		e.mu.Unlock()
		e.lateResults.Add(1)
		return
	}

	e.bids = SortBids(bids)
	e.ledgerLoaded = true
	e.summary.BidCount = len(e.bids)
	e.recomputeLocked()

	snap, listeners := e.snapshotLocked(), e.onChange
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// ApplySummary merges a fetched summary. The current price stays derived
// from the ledger and terminal flags never revert.
func (e *Engine) ApplySummary(s model.AuctionSummary) {
	e.mu.Lock()
	if e.disposed || e.summary.IsDeleted {
		e.mu.Unlock()
		e.lateResults.Add(1)
		return
	}

	e.summary.StartPrice = s.StartPrice
	e.summary.EndTime = s.EndTime
	if !e.ledgerLoaded {
		e.summary.BidCount = s.BidCount
	}

	deleted := s.IsDeleted && !e.summary.IsDeleted
	if s.IsWon && !e.summary.IsWon {
		e.summary.IsWon = true
		if e.summary.CurrentPrice == 0 && s.CurrentPrice > 0 {
			e.summary.CurrentPrice = s.CurrentPrice
		}
	}
	if s.IsFailed && !e.summary.IsFailed {
		e.summary.IsFailed = true
		e.summary.CurrentPrice = 0
	}
	e.summary.IsDeleted = e.summary.IsDeleted || s.IsDeleted

	snap, listeners := e.snapshotLocked(), e.onChange
	var deletedListeners []func()
	if deleted {
		deletedListeners = e.onDeleted
		e.onDeleted = nil
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	for _, fn := range deletedListeners {
		fn()
	}
}

// Refresh refetches the ledger in the background.
func (e *Engine) Refresh() {
	if !e.track() {
		return
	}
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RefreshTimeout)
		defer cancel()

		bids, err := e.refresher.FetchBids(ctx, e.auctionID)
		if err != nil {
			e.refreshFailed("bids", err)
			return
		}
		e.refreshes.Add(1)
		e.ReplaceLedger(bids)
	}()
}

// RefreshSummary refetches the auction summary in the background.
func (e *Engine) RefreshSummary() {
	if !e.track() {
		return
	}
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RefreshTimeout)
		defer cancel()

		s, err := e.refresher.FetchAuction(ctx, e.auctionID)
		if err != nil {
			e.refreshFailed("auction", err)
			return
		}
		e.refreshes.Add(1)
		e.ApplySummary(s)
	}()
}

// Resync refetches both summary and ledger.
func (e *Engine) Resync() {
	e.RefreshSummary()
	e.Refresh()
}

// CheckExpiry marks the auction terminal once its end time has passed.
// It reports whether this call observed the transition.
func (e *Engine) CheckExpiry(now time.Time) bool {
	e.mu.Lock()
	if e.disposed || e.expired || e.summary.EndTime.IsZero() || now.Before(e.summary.EndTime) {
		e.mu.Unlock()
		return false
	}
	e.expired = true
	snap, listeners := e.snapshotLocked(), e.onChange
	e.mu.Unlock()

	e.logger.Info("auction ended", zap.Time("end_time", snap.Summary.EndTime))
	for _, fn := range listeners {
		fn(snap)
	}
	return true
}

// Snapshot returns the current derived state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Dispose detaches the engine. In-flight fetches are cancelled and any
// result that still arrives is dropped.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.onChange = nil
	e.onDeleted = nil
	e.mu.Unlock()

	e.cancel()
}

// Disposed reports whether Dispose was called.
func (e *Engine) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// Wait blocks until background fetches finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Stats returns current statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		EventsApplied: e.eventsApplied.Load(),
		EventsIgnored: e.eventsIgnored.Load(),
		Refreshes:     e.refreshes.Load(),
		RefreshErrors: e.refreshErrors.Load(),
		LateResults:   e.lateResults.Load(),
	}
}

func (e *Engine) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || e.summary.IsDeleted {
		return false
	}
	e.wg.Add(1)
	return true
}

func (e *Engine) refreshFailed(what string, err error) {
	if e.ctx.Err() != nil {
		e.lateResults.Add(1)
		return
	}
	e.refreshErrors.Add(1)
	e.logger.Warn("refresh failed", zap.String("what", what), zap.Error(err))
}

// recomputeLocked rederives the current price from the ledger. A failed
// auction keeps its terminal price. A won auction keeps the last known price
// only while the ledger has no non-canceled bid to derive it from.
func (e *Engine) recomputeLocked() {
	if e.summary.IsFailed || (e.summary.IsWon && !HasActiveBids(e.bids)) {
		return
	}
	e.summary.CurrentPrice = RecomputeCurrentPrice(e.bids)
}

func (e *Engine) terminalLocked() bool {
	return e.summary.IsWon || e.summary.IsFailed || e.summary.IsDeleted || e.expired
}

func (e *Engine) snapshotLocked() Snapshot {
	bids := make([]model.Bid, len(e.bids))
	copy(bids, e.bids)
	return Snapshot{
		Summary:       e.summary,
		Bids:          bids,
		HasActiveBids: HasActiveBids(e.bids),
		Terminal:      e.terminalLocked() || e.summary.IsTerminal(e.now()),
	}
}
