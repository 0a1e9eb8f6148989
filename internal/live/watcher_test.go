package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/auction-sync/internal/auction"
	"github.com/rickgao/auction-sync/internal/connection"
	"github.com/rickgao/auction-sync/internal/model"
	"github.com/rickgao/auction-sync/internal/notification"
	"github.com/rickgao/auction-sync/internal/subscription"
	"github.com/rickgao/auction-sync/internal/topic"
)

// fakeConn records subscriptions and lets tests push messages.
type fakeConn struct {
	mu           sync.Mutex
	handlers     map[string]subscription.Handler
	listeners    []connection.StateListener
	subscribeErr error
	unsubscribed []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]subscription.Handler)}
}

func (c *fakeConn) Subscribe(ctx context.Context, dest string, h subscription.Handler) (subscription.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return subscription.Subscription{}, c.subscribeErr
	}
	c.handlers[dest] = h
	return subscription.Subscription{ID: "sub-" + dest, Topic: dest}, nil
}

func (c *fakeConn) Unsubscribe(dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, dest)
	c.unsubscribed = append(c.unsubscribed, dest)
	return nil
}

func (c *fakeConn) OnStateChange(fn connection.StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *fakeConn) State() connection.State {
	return connection.StateConnected
}

func (c *fakeConn) push(dest, body string) bool {
	c.mu.Lock()
	h, ok := c.handlers[dest]
	c.mu.Unlock()
	if ok {
		h(subscription.Message{Topic: dest, Body: []byte(body), ReceivedAt: time.Now()})
	}
	return ok
}

func (c *fakeConn) transition(from, to connection.State) {
	c.mu.Lock()
	listeners := append([]connection.StateListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(from, to)
	}
}

func (c *fakeConn) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for t := range c.handlers {
		out = append(out, t)
	}
	return out
}

// fakeBackend serves a mutable ledger and records actions.
type fakeBackend struct {
	mu      sync.Mutex
	bids    []model.Bid
	summary model.AuctionSummary
	loadErr error
	bidErr  error
	onFetch func() // Runs at the start of every FetchBids

	bidFetches     atomic.Int32
	auctionFetches atomic.Int32
	actions        []string
}

func (b *fakeBackend) FetchBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	b.bidFetches.Add(1)
	if b.onFetch != nil {
		b.onFetch()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return append([]model.Bid(nil), b.bids...), nil
}

func (b *fakeBackend) FetchAuction(ctx context.Context, auctionID string) (model.AuctionSummary, error) {
	b.auctionFetches.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return model.AuctionSummary{}, b.loadErr
	}
	s := b.summary
	s.AuctionID = auctionID
	return s, nil
}

func (b *fakeBackend) PlaceBid(ctx context.Context, auctionID string, price int64) (model.Bid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, "bid")
	if b.bidErr != nil {
		return model.Bid{}, b.bidErr
	}
	bid := model.Bid{ID: "new", AuctionID: auctionID, Price: price, Status: model.StatusActive, Timestamp: time.Now()}
	b.bids = append(b.bids, bid)
	return bid, nil
}

func (b *fakeBackend) CancelBid(ctx context.Context, auctionID, bidID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, "cancel "+bidID)
	for i := range b.bids {
		if b.bids[i].ID == bidID {
			b.bids[i].Status = model.StatusCanceled
		}
	}
	return nil
}

func (b *fakeBackend) EndAuction(ctx context.Context, auctionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, "end")
	b.summary.IsWon = true
	return nil
}

func (b *fakeBackend) DeleteAuction(ctx context.Context, auctionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, "delete")
	return nil
}

func (b *fakeBackend) setBids(bids ...model.Bid) {
	b.mu.Lock()
	b.bids = bids
	b.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ResyncInterval = 0
	cfg.Engine.RefreshTimeout = time.Second
	return cfg
}

func newTestWatcher(t *testing.T, backend *fakeBackend) (*Watcher, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	w := NewWatcher(testConfig(), conn, backend, nil)
	t.Cleanup(func() { w.Stop(context.Background()) })
	return w, conn
}

func waitForPrice(t *testing.T, s *Session, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().Summary.CurrentPrice == want
	}, time.Second, 5*time.Millisecond, "current price never reached %d (last %d)", want, s.Snapshot().Summary.CurrentPrice)
}

func TestWatcher_WatchSubscribesAndLoads(t *testing.T) {
	backend := &fakeBackend{
		bids:    []model.Bid{{ID: "1", Price: 10000, Status: model.StatusActive}},
		summary: model.AuctionSummary{StartPrice: 5000},
	}
	w, conn := newTestWatcher(t, backend)

	s, err := w.Watch(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, int64(10000), s.Snapshot().Summary.CurrentPrice)
	assert.ElementsMatch(t, topic.AuctionAll("42"), conn.topics())

	again, err := w.Watch(context.Background(), "42")
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, 1, w.Stats().Sessions)
}

func TestWatcher_PushedEventsReachEngine(t *testing.T) {
	backend := &fakeBackend{
		bids: []model.Bid{{ID: "1", Price: 100, Status: model.StatusActive}},
	}
	w, conn := newTestWatcher(t, backend)

	s, err := w.Watch(context.Background(), "7")
	require.NoError(t, err)

	backend.setBids(
		model.Bid{ID: "1", Price: 100, Status: model.StatusActive},
		model.Bid{ID: "2", Price: 250, Status: model.StatusActive},
	)
	require.True(t, conn.push(topic.Auction("7", topic.KindBid), `{"bidId":2,"price":250}`))
	waitForPrice(t, s, 250)

	backend.setBids(
		model.Bid{ID: "1", Price: 100, Status: model.StatusActive},
		model.Bid{ID: "2", Price: 250, Status: model.StatusCanceled},
	)
	require.True(t, conn.push(topic.Auction("7", topic.KindBid), `{"bidId":2,"status":"CANCELLED"}`))
	waitForPrice(t, s, 100)

	conn.push(topic.Auction("7", topic.KindBid), `garbage`)
	assert.Equal(t, int64(1), s.Stats().Dispatch.ParseErrors)

	conn.push(topic.Auction("7", topic.KindWon), `{}`)
	snap := s.Snapshot()
	assert.True(t, snap.Summary.IsWon)
	assert.Equal(t, int64(100), snap.Summary.CurrentPrice)
}

func TestWatcher_DeletedPush(t *testing.T) {
	w, conn := newTestWatcher(t, &fakeBackend{})

	s, err := w.Watch(context.Background(), "9")
	require.NoError(t, err)

	conn.push(topic.Auction("9", topic.KindDeleted), ``)

	select {
	case <-s.Deleted():
	case <-time.After(time.Second):
		t.Fatal("Deleted() not closed")
	}
	assert.True(t, s.Snapshot().Terminal)
}

func TestWatcher_LoadFailure(t *testing.T) {
	w, conn := newTestWatcher(t, &fakeBackend{loadErr: errors.New("boom")})

	_, err := w.Watch(context.Background(), "1")
	require.Error(t, err)
	assert.Empty(t, conn.topics())
	assert.ElementsMatch(t, topic.AuctionAll("1"), conn.unsubscribed)
	assert.Equal(t, 0, w.Stats().Sessions)
}

func TestWatcher_PushDuringLoadIsKept(t *testing.T) {
	backend := &fakeBackend{bids: []model.Bid{{ID: "1", Price: 100, Status: model.StatusActive}}}
	w, conn := newTestWatcher(t, backend)

	var once sync.Once
	var delivered bool
	backend.onFetch = func() {
		once.Do(func() {
			backend.setBids(
				model.Bid{ID: "1", Price: 100, Status: model.StatusActive},
				model.Bid{ID: "2", Price: 900, Status: model.StatusActive},
			)
			delivered = conn.push(topic.Auction("8", topic.KindBid), `{"bidId":2,"price":900}`)
		})
	}

	s, err := w.Watch(context.Background(), "8")
	require.NoError(t, err)
	assert.True(t, delivered, "auction topics are subscribed before the initial load")

	waitForPrice(t, s, 900)
	s.engine.Wait()
	assert.Equal(t, int64(900), s.Snapshot().Summary.CurrentPrice)
	assert.Len(t, s.Snapshot().Bids, 2)
}

func TestWatcher_SubscribeFailure(t *testing.T) {
	w, conn := newTestWatcher(t, &fakeBackend{})
	conn.subscribeErr = connection.ErrNotConnected

	_, err := w.Watch(context.Background(), "1")
	require.ErrorIs(t, err, connection.ErrNotConnected)
	assert.Equal(t, 0, w.Stats().Sessions)
}

func TestWatcher_ResyncAfterReconnect(t *testing.T) {
	backend := &fakeBackend{bids: []model.Bid{{ID: "1", Price: 100, Status: model.StatusActive}}}
	w, conn := newTestWatcher(t, backend)

	s, err := w.Watch(context.Background(), "3")
	require.NoError(t, err)

	// A bid placed while disconnected is only visible through a resync.
	backend.setBids(
		model.Bid{ID: "1", Price: 100, Status: model.StatusActive},
		model.Bid{ID: "2", Price: 900, Status: model.StatusActive},
	)
	conn.transition(connection.StateConnected, connection.StateReconnecting)
	conn.transition(connection.StateReconnecting, connection.StateConnected)

	waitForPrice(t, s, 900)
	assert.Equal(t, int64(1), w.Stats().Reconnects)

	// Initial connect is not a reconnect.
	conn.transition(connection.StateConnecting, connection.StateConnected)
	assert.Equal(t, int64(1), w.Stats().Reconnects)
}

func TestWatcher_ResyncAll(t *testing.T) {
	backend := &fakeBackend{}
	w, _ := newTestWatcher(t, backend)

	a, err := w.Watch(context.Background(), "a")
	require.NoError(t, err)
	b, err := w.Watch(context.Background(), "b")
	require.NoError(t, err)

	backend.setBids(model.Bid{ID: "x", Price: 55, Status: model.StatusActive})
	w.ResyncAll(context.Background())

	assert.Equal(t, int64(55), a.Snapshot().Summary.CurrentPrice)
	assert.Equal(t, int64(55), b.Snapshot().Summary.CurrentPrice)

	backend.mu.Lock()
	backend.loadErr = errors.New("down")
	backend.mu.Unlock()
	w.ResyncAll(context.Background())

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.ResyncCycles)
	assert.Equal(t, int64(2), stats.ResyncFailures)
	assert.Equal(t, int64(55), a.Snapshot().Summary.CurrentPrice)
}

func TestWatcher_CheckExpiry(t *testing.T) {
	end := time.Now().Add(time.Hour)
	w, _ := newTestWatcher(t, &fakeBackend{summary: model.AuctionSummary{EndTime: end}})

	s, err := w.Watch(context.Background(), "1")
	require.NoError(t, err)

	var changes atomic.Int32
	s.OnChange(func(auction.Snapshot) { changes.Add(1) })

	assert.Equal(t, 0, w.CheckExpiry(end.Add(-time.Minute)))
	assert.Equal(t, 1, w.CheckExpiry(end))
	assert.Equal(t, 0, w.CheckExpiry(end.Add(time.Minute)))
	assert.Equal(t, int32(1), changes.Load())
}

func TestWatcher_ScheduledResync(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	cfg := testConfig()
	cfg.ResyncInterval = time.Second
	w := NewWatcher(cfg, conn, backend, nil)
	t.Cleanup(func() { w.Stop(context.Background()) })

	_, err := w.Watch(context.Background(), "1")
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())

	require.Eventually(t, func() bool {
		return w.Stats().ResyncCycles >= 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSession_BidActions(t *testing.T) {
	backend := &fakeBackend{bids: []model.Bid{{ID: "1", Price: 100, Status: model.StatusActive}}}
	w, _ := newTestWatcher(t, backend)

	s, err := w.Watch(context.Background(), "5")
	require.NoError(t, err)

	_, err = s.PlaceBid(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	bid, err := s.PlaceBid(context.Background(), 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), bid.Price)
	assert.Equal(t, int64(300), s.Snapshot().Summary.CurrentPrice)
	s.engine.Wait()

	require.NoError(t, s.CancelBid(context.Background(), "new"))
	waitForPrice(t, s, 100)

	require.NoError(t, s.End(context.Background()))
	require.Eventually(t, func() bool { return s.Snapshot().Summary.IsWon }, time.Second, 5*time.Millisecond)

	_, err = s.PlaceBid(context.Background(), 500)
	assert.ErrorIs(t, err, ErrAuctionClosed)

	backend.mu.Lock()
	actions := append([]string(nil), backend.actions...)
	backend.mu.Unlock()
	assert.Equal(t, []string{"bid", "cancel new", "end"}, actions)
}

func TestSession_BidRejected(t *testing.T) {
	rejected := errors.New("409 conflict")
	backend := &fakeBackend{bidErr: rejected}
	w, _ := newTestWatcher(t, backend)

	s, err := w.Watch(context.Background(), "5")
	require.NoError(t, err)

	_, err = s.PlaceBid(context.Background(), 300)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, int64(0), s.Snapshot().Summary.CurrentPrice)
	assert.Equal(t, int64(0), s.Stats().Engine.EventsApplied)
}

func TestSession_Delete(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeBackend{})

	s, err := w.Watch(context.Background(), "5")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background()))
	select {
	case <-s.Deleted():
	case <-time.After(time.Second):
		t.Fatal("Deleted() not closed")
	}
}

func TestSession_Close(t *testing.T) {
	w, conn := newTestWatcher(t, &fakeBackend{})

	s, err := w.Watch(context.Background(), "5")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Empty(t, conn.topics())
	assert.ElementsMatch(t, topic.AuctionAll("5"), conn.unsubscribed)
	assert.Equal(t, 0, w.Stats().Sessions)

	_, ok := w.Session("5")
	assert.False(t, ok)

	_, err = s.PlaceBid(context.Background(), 10)
	assert.ErrorIs(t, err, ErrSessionClosed)

	// A pushed message after close is not delivered anywhere.
	assert.False(t, conn.push(topic.Auction("5", topic.KindBid), `{"price":1}`))
}

func TestWatcher_Notifications(t *testing.T) {
	w, conn := newTestWatcher(t, &fakeBackend{})

	feed, err := w.Notifications(context.Background(), "u1", notification.DefaultConfig())
	require.NoError(t, err)

	same, err := w.Notifications(context.Background(), "u1", notification.DefaultConfig())
	require.NoError(t, err)
	assert.Same(t, feed, same)

	require.True(t, conn.push(topic.Notification("u1"), `{"type":"OUTBID","auctionId":5}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "OUTBID", n.Type)
	assert.Equal(t, "5", n.AuctionID)
}

func TestWatcher_Stop(t *testing.T) {
	conn := newFakeConn()
	w := NewWatcher(testConfig(), conn, &fakeBackend{}, nil)

	s, err := w.Watch(context.Background(), "1")
	require.NoError(t, err)
	_, err = w.Notifications(context.Background(), "u", notification.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, w.Stop(context.Background()))
	require.NoError(t, w.Stop(context.Background()))

	assert.Empty(t, conn.topics())
	assert.True(t, s.isClosed())

	_, err = w.Watch(context.Background(), "2")
	assert.ErrorIs(t, err, ErrWatcherClosed)
	assert.ErrorIs(t, w.Start(), ErrWatcherClosed)
}
