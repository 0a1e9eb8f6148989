package auction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/auction-sync/internal/model"
)

// fakeRefresher serves a fixed ledger and summary.
type fakeRefresher struct {
	mu      sync.Mutex
	bids    []model.Bid
	summary model.AuctionSummary
	err     error

	bidCalls     atomic.Int32
	auctionCalls atomic.Int32
}

func (f *fakeRefresher) FetchBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	f.bidCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Bid, len(f.bids))
	copy(out, f.bids)
	return out, nil
}

func (f *fakeRefresher) FetchAuction(ctx context.Context, auctionID string) (model.AuctionSummary, error) {
	f.auctionCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.AuctionSummary{}, f.err
	}
	return f.summary, nil
}

func (f *fakeRefresher) setBids(bids ...model.Bid) {
	f.mu.Lock()
	f.bids = bids
	f.mu.Unlock()
}

// scriptedRefresher hands each FetchBids call to the test, which decides
// when and with what it completes.
type scriptedRefresher struct {
	calls chan scriptedCall
}

type scriptedCall struct {
	ctx   context.Context
	reply chan []model.Bid
}

func newScriptedRefresher() *scriptedRefresher {
	return &scriptedRefresher{calls: make(chan scriptedCall, 8)}
}

func (s *scriptedRefresher) FetchBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	call := scriptedCall{ctx: ctx, reply: make(chan []model.Bid, 1)}
	s.calls <- call
	select {
	case bids := <-call.reply:
		return bids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedRefresher) FetchAuction(ctx context.Context, auctionID string) (model.AuctionSummary, error) {
	return model.AuctionSummary{AuctionID: auctionID}, nil
}

func (s *scriptedRefresher) next(t *testing.T) scriptedCall {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for fetch")
		return scriptedCall{}
	}
}

func loadedEngine(t *testing.T, ref *fakeRefresher) *Engine {
	t.Helper()
	e := NewEngine("a1", DefaultConfig(), ref, nil)
	require.NoError(t, e.Load(context.Background()))
	t.Cleanup(e.Dispose)
	return e
}

func TestEngine_ActiveBidAboveStart(t *testing.T) {
	ref := &fakeRefresher{
		summary: model.AuctionSummary{AuctionID: "a1", StartPrice: 5000},
		bids:    []model.Bid{bid("1", 10000, model.StatusActive)},
	}
	e := loadedEngine(t, ref)

	snap := e.Snapshot()
	assert.Equal(t, int64(10000), snap.Summary.CurrentPrice)
	assert.Equal(t, int64(5000), snap.Summary.StartPrice)
	assert.True(t, snap.HasActiveBids)
	assert.Equal(t, 1, snap.Summary.BidCount)
}

func TestEngine_SoleBidCanceled(t *testing.T) {
	ref := &fakeRefresher{
		summary: model.AuctionSummary{AuctionID: "a1", StartPrice: 5000},
		bids:    []model.Bid{bid("1", 10000, model.StatusActive)},
	}
	e := loadedEngine(t, ref)

	ref.setBids(bid("1", 10000, model.StatusCanceled))
	e.Apply(model.BidCanceled{BidID: "1"})

	snap := e.Snapshot()
	assert.Equal(t, int64(0), snap.Summary.CurrentPrice, "local cancel applies before the refetch")
	assert.False(t, snap.HasActiveBids)

	e.Wait()
	snap = e.Snapshot()
	assert.Equal(t, int64(0), snap.Summary.CurrentPrice)
	assert.False(t, snap.HasActiveBids)
	assert.Equal(t, int32(2), ref.bidCalls.Load(), "cancel always refetches")
}

func TestEngine_HighestActive(t *testing.T) {
	ref := &fakeRefresher{
		bids: []model.Bid{bid("1", 12000, model.StatusActive), bid("2", 15000, model.StatusCanceled)},
	}
	e := loadedEngine(t, ref)

	assert.Equal(t, int64(12000), e.Snapshot().Summary.CurrentPrice)
}

func TestEngine_WonWithoutPrice(t *testing.T) {
	ref := &fakeRefresher{bids: []model.Bid{bid("1", 12000, model.StatusActive)}}
	e := loadedEngine(t, ref)

	e.Apply(model.AuctionWon{})

	snap := e.Snapshot()
	assert.True(t, snap.Summary.IsWon)
	assert.Equal(t, int64(12000), snap.Summary.CurrentPrice)
	assert.True(t, snap.Terminal)
}

func TestEngine_WonWithPrice(t *testing.T) {
	ref := &fakeRefresher{bids: []model.Bid{bid("1", 12000, model.StatusActive)}}
	e := loadedEngine(t, ref)

	e.Apply(model.AuctionWon{FinalPrice: model.Price(13000)})
	assert.Equal(t, int64(13000), e.Snapshot().Summary.CurrentPrice)

	// The refreshed ledger is authoritative once it has a bid to derive from.
	e.ReplaceLedger([]model.Bid{bid("1", 12000, model.StatusWon)})
	assert.Equal(t, int64(12000), e.Snapshot().Summary.CurrentPrice)

	// An empty ledger keeps the last known price rather than zero.
	e.ReplaceLedger(nil)
	assert.Equal(t, int64(12000), e.Snapshot().Summary.CurrentPrice)
	assert.True(t, e.Snapshot().Summary.IsWon)
}

func TestEngine_WonRecomputesFromRacingRefreshes(t *testing.T) {
	ref := newScriptedRefresher()
	e := NewEngine("a1", DefaultConfig(), ref, nil)
	defer e.Dispose()
	e.ReplaceLedger([]model.Bid{bid("2", 12000, model.StatusActive)})

	e.Apply(model.NewBid{Price: 15000})
	first := ref.next(t)
	e.Apply(model.BidCanceled{BidID: "1"})
	second := ref.next(t)
	e.Apply(model.AuctionWon{})
	assert.Equal(t, int64(15000), e.Snapshot().Summary.CurrentPrice)

	first.reply <- []model.Bid{bid("1", 15000, model.StatusActive), bid("2", 12000, model.StatusActive)}
	require.Eventually(t, func() bool {
		return len(e.Snapshot().Bids) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(15000), e.Snapshot().Summary.CurrentPrice)

	second.reply <- []model.Bid{bid("1", 15000, model.StatusCanceled), bid("2", 12000, model.StatusWon)}
	e.Wait()

	snap := e.Snapshot()
	assert.True(t, snap.Summary.IsWon)
	assert.Equal(t, int64(12000), snap.Summary.CurrentPrice)
	assert.Equal(t, RecomputeCurrentPrice(snap.Bids), snap.Summary.CurrentPrice)
}

func TestEngine_FailedKeepsTerminalPrice(t *testing.T) {
	e := loadedEngine(t, &fakeRefresher{bids: []model.Bid{bid("1", 700, model.StatusActive)}})
	e.Apply(model.AuctionFailed{})

	e.ReplaceLedger([]model.Bid{bid("1", 700, model.StatusActive)})
	assert.Equal(t, int64(0), e.Snapshot().Summary.CurrentPrice)
}

func TestEngine_FailedPrice(t *testing.T) {
	t.Run("no price falls back to zero", func(t *testing.T) {
		e := loadedEngine(t, &fakeRefresher{bids: []model.Bid{bid("1", 700, model.StatusActive)}})
		e.Apply(model.AuctionFailed{})

		snap := e.Snapshot()
		assert.True(t, snap.Summary.IsFailed)
		assert.Equal(t, int64(0), snap.Summary.CurrentPrice)
	})

	t.Run("explicit price", func(t *testing.T) {
		e := loadedEngine(t, &fakeRefresher{})
		e.Apply(model.AuctionFailed{FinalPrice: model.Price(450)})
		assert.Equal(t, int64(450), e.Snapshot().Summary.CurrentPrice)
	})
}

func TestEngine_NewBidOptimisticThenRefresh(t *testing.T) {
	ref := newScriptedRefresher()
	e := NewEngine("a1", DefaultConfig(), ref, nil)
	defer e.Dispose()
	e.ReplaceLedger([]model.Bid{bid("1", 1000, model.StatusActive)})

	e.Apply(model.NewBid{Price: 1500})
	assert.Equal(t, int64(1500), e.Snapshot().Summary.CurrentPrice, "optimistic price")

	call := ref.next(t)
	call.reply <- []model.Bid{bid("1", 1000, model.StatusActive), bid("2", 1400, model.StatusActive)}
	e.Wait()

	assert.Equal(t, int64(1400), e.Snapshot().Summary.CurrentPrice, "ledger supersedes the pushed price")
}

func TestEngine_LastRefreshWins(t *testing.T) {
	ref := newScriptedRefresher()
	e := NewEngine("a1", DefaultConfig(), ref, nil)
	defer e.Dispose()

	e.Apply(model.NewBid{Price: 100})
	first := ref.next(t)
	e.Apply(model.BidCanceled{BidID: "x"})
	second := ref.next(t)

	second.reply <- []model.Bid{bid("1", 100, model.StatusActive), bid("2", 200, model.StatusActive)}
	waitForPrice(t, e, 200)

	first.reply <- []model.Bid{bid("1", 100, model.StatusActive)}
	e.Wait()

	assert.Equal(t, int64(100), e.Snapshot().Summary.CurrentPrice, "the refresh that completes last wins")
}

func TestEngine_CancelUnknownBidReliesOnRefresh(t *testing.T) {
	ref := &fakeRefresher{bids: []model.Bid{bid("1", 500, model.StatusActive)}}
	e := loadedEngine(t, ref)

	ref.setBids(bid("1", 500, model.StatusActive), bid("9", 900, model.StatusCanceled))
	e.Apply(model.BidCanceled{BidID: "9"})

	assert.Equal(t, int64(500), e.Snapshot().Summary.CurrentPrice)
	e.Wait()

	snap := e.Snapshot()
	assert.Equal(t, int64(500), snap.Summary.CurrentPrice)
	assert.Len(t, snap.Bids, 2)
}

func TestEngine_Deleted(t *testing.T) {
	ref := &fakeRefresher{bids: []model.Bid{bid("1", 500, model.StatusActive)}}
	e := loadedEngine(t, ref)

	var deleted atomic.Int32
	e.OnDeleted(func() { deleted.Add(1) })

	e.Apply(model.AuctionDeleted{})
	e.Apply(model.AuctionDeleted{})
	e.Apply(model.NewBid{Price: 9999})
	e.ReplaceLedger(nil)
	e.Wait()

	snap := e.Snapshot()
	assert.Equal(t, int32(1), deleted.Load())
	assert.True(t, snap.Summary.IsDeleted)
	assert.True(t, snap.Terminal)
	assert.Equal(t, int64(500), snap.Summary.CurrentPrice)
	assert.Len(t, snap.Bids, 1)
	assert.Equal(t, int32(1), ref.bidCalls.Load(), "no refetch after deletion")
}

func TestEngine_DisposedIsNoop(t *testing.T) {
	ref := newScriptedRefresher()
	e := NewEngine("a1", DefaultConfig(), ref, nil)
	e.ReplaceLedger([]model.Bid{bid("1", 300, model.StatusActive)})

	var changes atomic.Int32
	e.OnChange(func(Snapshot) { changes.Add(1) })

	e.Apply(model.NewBid{Price: 400})
	call := ref.next(t)
	require.Equal(t, int32(1), changes.Load())

	e.Dispose()
	assert.True(t, e.Disposed())

	// The in-flight fetch is cancelled; a late result is ignored too.
	<-call.ctx.Done()
	e.ReplaceLedger([]model.Bid{bid("1", 1, model.StatusActive)})
	e.Apply(model.AuctionWon{FinalPrice: model.Price(5)})
	e.Wait()

	snap := e.Snapshot()
	assert.Equal(t, int64(400), snap.Summary.CurrentPrice)
	assert.False(t, snap.Summary.IsWon)
	assert.Equal(t, int32(1), changes.Load())
	assert.GreaterOrEqual(t, e.Stats().LateResults, int64(1))

	e.Dispose()
}

func TestEngine_ApplyIdempotentOnUnchangedLedger(t *testing.T) {
	ref := &fakeRefresher{bids: []model.Bid{bid("1", 800, model.StatusActive), bid("2", 600, model.StatusActive)}}
	e := loadedEngine(t, ref)

	ref.setBids(bid("1", 800, model.StatusCanceled), bid("2", 600, model.StatusActive))
	e.Apply(model.BidCanceled{BidID: "1"})
	e.Apply(model.BidCanceled{BidID: "1"})
	e.Wait()
	once := e.Snapshot()

	e.Apply(model.BidCanceled{BidID: "1"})
	e.Wait()
	twice := e.Snapshot()

	assert.Equal(t, int64(600), once.Summary.CurrentPrice)
	assert.Equal(t, once.Summary, twice.Summary)
	assert.Equal(t, once.Bids, twice.Bids)
}

func TestEngine_ApplySummaryKeepsDerivedPrice(t *testing.T) {
	ref := &fakeRefresher{bids: []model.Bid{bid("1", 800, model.StatusActive)}}
	e := loadedEngine(t, ref)

	end := time.Now().Add(time.Hour)
	e.ApplySummary(model.AuctionSummary{AuctionID: "a1", StartPrice: 100, CurrentPrice: 99999, EndTime: end, BidCount: 42})

	snap := e.Snapshot()
	assert.Equal(t, int64(800), snap.Summary.CurrentPrice)
	assert.Equal(t, int64(100), snap.Summary.StartPrice)
	assert.Equal(t, 1, snap.Summary.BidCount, "ledger count wins once loaded")
	assert.True(t, snap.Summary.EndTime.Equal(end))

	e.Apply(model.AuctionWon{})
	e.ApplySummary(model.AuctionSummary{AuctionID: "a1"})
	assert.True(t, e.Snapshot().Summary.IsWon, "terminal flags never revert")
}

func TestEngine_ApplySummaryDeleted(t *testing.T) {
	e := loadedEngine(t, &fakeRefresher{})

	var deleted atomic.Int32
	e.OnDeleted(func() { deleted.Add(1) })

	e.ApplySummary(model.AuctionSummary{AuctionID: "a1", IsDeleted: true})
	assert.Equal(t, int32(1), deleted.Load())
	assert.True(t, e.Snapshot().Summary.IsDeleted)
}

func TestEngine_CheckExpiry(t *testing.T) {
	end := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ref := &fakeRefresher{summary: model.AuctionSummary{AuctionID: "a1", EndTime: end}}
	e := loadedEngine(t, ref)

	var changes atomic.Int32
	e.OnChange(func(Snapshot) { changes.Add(1) })

	assert.False(t, e.CheckExpiry(end.Add(-time.Second)))
	assert.True(t, e.CheckExpiry(end))
	assert.False(t, e.CheckExpiry(end.Add(time.Minute)), "reported once")
	assert.Equal(t, int32(1), changes.Load())
	assert.True(t, e.Snapshot().Terminal)

	// No optimistic price once the auction has ended.
	e.Apply(model.NewBid{Price: 10})
	assert.Equal(t, int64(0), e.Snapshot().Summary.CurrentPrice)
}

func TestEngine_LoadError(t *testing.T) {
	boom := errors.New("boom")
	e := NewEngine("a1", DefaultConfig(), &fakeRefresher{err: boom}, nil)
	defer e.Dispose()

	err := e.Load(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestEngine_RefreshError(t *testing.T) {
	ref := &fakeRefresher{bids: []model.Bid{bid("1", 500, model.StatusActive)}}
	e := loadedEngine(t, ref)

	ref.mu.Lock()
	ref.err = errors.New("unavailable")
	ref.mu.Unlock()

	e.Apply(model.NewBid{Price: 700})
	e.Wait()

	assert.Equal(t, int64(700), e.Snapshot().Summary.CurrentPrice, "optimistic price stays until a refresh succeeds")
	assert.Equal(t, int64(1), e.Stats().RefreshErrors)
}

func waitForPrice(t *testing.T, e *Engine, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.Snapshot().Summary.CurrentPrice == want
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_LoadAlreadyWon(t *testing.T) {
	ref := &fakeRefresher{
		bids: []model.Bid{
			{ID: "1", Price: 900, Status: model.StatusWon},
			{ID: "2", Price: 700, Status: model.StatusActive},
		},
		summary: model.AuctionSummary{AuctionID: "a1", StartPrice: 100, IsWon: true},
	}
	e := loadedEngine(t, ref)

	snap := e.Snapshot()
	assert.True(t, snap.Summary.IsWon)
	assert.Equal(t, int64(900), snap.Summary.CurrentPrice)
	assert.True(t, snap.Terminal)

	// Reported price fills in when the ledger has nothing.
	empty := loadedEngine(t, &fakeRefresher{
		summary: model.AuctionSummary{AuctionID: "a1", CurrentPrice: 450, IsWon: true},
	})
	assert.Equal(t, int64(450), empty.Snapshot().Summary.CurrentPrice)
}
