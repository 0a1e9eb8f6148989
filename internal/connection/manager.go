package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/auction-sync/internal/auth"
	"github.com/rickgao/auction-sync/internal/stomp"
	"github.com/rickgao/auction-sync/internal/subscription"
)

// session is one live transport plus its STOMP session.
type session struct {
	client Client
	done   chan struct{}
	once   sync.Once
}

func (s *session) stop() {
	s.once.Do(func() {
		close(s.done)
		s.client.Close()
	})
}

// Manager owns the push connection and its subscriptions.
type Manager struct {
	cfg       ManagerConfig
	tokens    auth.TokenSource
	logger    *zap.Logger
	registry  *subscription.Registry

	connectGroup singleflight.Group

	// wireMu orders registry changes against SUBSCRIBE/UNSUBSCRIBE on the
	// wire, so a topic added during replay is sent exactly once.
	wireMu sync.Mutex

	mu           sync.Mutex
	state        State
	stateCh      chan struct{} // closed and replaced on every transition
	stopCh       chan struct{} // closed by Disconnect to abort reconnects
	session      *session
	attempt      int
	reconnecting bool

	listenersMu sync.Mutex
	listeners   []StateListener

	connects     atomic.Int64
	drops        atomic.Int64
	received     atomic.Int64
	routed       atomic.Int64
	unrouted     atomic.Int64
	decodeErrors atomic.Int64
	serverErrors atomic.Int64
}

// NewManager creates a disconnected Manager.
func NewManager(cfg ManagerConfig, tokens auth.TokenSource, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokens == nil {
		tokens = auth.StaticToken("")
	}

	m := &Manager{
		cfg:       cfg,
		tokens:    tokens,
		logger:    logger,
		registry:  subscription.NewRegistry(),
		state:     StateDisconnected,
		stateCh:   make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers a listener for state transitions. Listeners run
// synchronously and must not call back into the Manager while blocking.
func (m *Manager) OnStateChange(fn StateListener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// Registry exposes the subscription registry.
func (m *Manager) Registry() *subscription.Registry {
	return m.registry
}

// Connect opens the connection. Concurrent callers share one attempt.
// From StateFailed it starts over with a fresh attempt budget.
func (m *Manager) Connect(ctx context.Context) error {
	switch m.State() {
	case StateConnected:
		return nil
	case StateReconnecting:
		return m.awaitConnected(ctx)
	}

	ch := m.connectGroup.DoChan("connect", func() (any, error) {
		return nil, m.connectOnce()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) connectOnce() error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateReconnecting:
		m.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReadyTimeout)
		defer cancel()
		return m.awaitConnected(ctx)
	case StateFailed:
		m.logger.Info("retrying after failure, attempt budget reset")
	}
	m.attempt = 0
	stop := m.stopCh
	from := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.notify(from, StateConnecting)

	err := m.establish(stop)
	if err == nil {
		return nil
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return err
	}
	if errors.Is(err, ErrAuth) {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.notify(StateConnecting, StateDisconnected)
		m.logger.Warn("connect refused, no credential")
		return err
	}
	m.setStateLocked(StateReconnecting)
	start := m.startReconnectLocked()
	m.mu.Unlock()

	m.logger.Warn("connect failed", zap.Error(err))
	m.notify(StateConnecting, StateReconnecting)
	if start {
		go m.reconnectLoop(stop)
	}
	return err
}

// Subscribe registers handler for topic, connecting first if needed.
// Subscribing again to a registered topic only replaces the handler.
func (m *Manager) Subscribe(ctx context.Context, topic string, handler subscription.Handler) (subscription.Subscription, error) {
	if err := m.ensureConnected(ctx); err != nil {
		return subscription.Subscription{}, err
	}

	m.wireMu.Lock()
	defer m.wireMu.Unlock()

	sub, created := m.registry.Add(topic, handler)
	if !created {
		m.logger.Debug("subscription handler replaced", zap.String("topic", topic))
		return sub, nil
	}

	// While not connected the next successful connect replays it.
	if sess := m.currentSession(); sess != nil {
		if err := m.writeFrame(sess.client, stomp.Subscribe(sub.ID, topic)); err != nil {
			m.logger.Warn("subscribe frame not sent, will replay on reconnect",
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}

	m.logger.Debug("subscribed", zap.String("topic", topic), zap.String("id", sub.ID))
	return sub, nil
}

// Unsubscribe removes topic. Unknown topics are a no-op. The transport stays open.
func (m *Manager) Unsubscribe(topic string) error {
	m.wireMu.Lock()
	defer m.wireMu.Unlock()

	sub, ok := m.registry.Remove(topic)
	if !ok {
		return nil
	}

	sess := m.currentSession()
	if sess == nil {
		return nil
	}
	if err := m.writeFrame(sess.client, stomp.Unsubscribe(sub.ID)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}

	m.logger.Debug("unsubscribed", zap.String("topic", topic))
	return nil
}

// Send publishes payload to topic, connecting first if needed.
func (m *Manager) Send(ctx context.Context, topic string, payload []byte) error {
	if err := m.ensureConnected(ctx); err != nil {
		return err
	}

	sess := m.currentSession()
	if sess == nil {
		return ErrNotConnected
	}
	if err := m.writeFrame(sess.client, stomp.Send(topic, payload)); err != nil {
		return fmt.Errorf("send %s: %w", topic, err)
	}
	return nil
}

// Disconnect unsubscribes everything, closes the transport and resets the
// attempt counter. Pending reconnects are cancelled.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.wireMu.Lock()
	defer m.wireMu.Unlock()

	m.mu.Lock()
	sess := m.session
	m.session = nil
	close(m.stopCh)
	m.stopCh = make(chan struct{})
	m.attempt = 0
	from := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	subs := m.registry.Clear()

	if sess != nil {
		for _, sub := range subs {
			if ctx.Err() != nil {
				break
			}
			if err := m.writeFrame(sess.client, stomp.Unsubscribe(sub.ID)); err != nil {
				m.logger.Debug("unsubscribe on disconnect failed", zap.String("topic", sub.Topic), zap.Error(err))
				break
			}
		}
		if err := m.writeFrame(sess.client, stomp.Disconnect()); err != nil {
			m.logger.Debug("disconnect frame not sent", zap.Error(err))
		}
		sess.stop()
	}

	if from != StateDisconnected {
		m.notify(from, StateDisconnected)
	}
	m.logger.Info("disconnected", zap.Int("subscriptions_dropped", len(subs)))
	return nil
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state, attempt := m.state, m.attempt
	m.mu.Unlock()

	return Stats{
		State:            state.String(),
		Subscriptions:    m.registry.Len(),
		ReconnectAttempt: attempt,
		Connects:         m.connects.Load(),
		Drops:            m.drops.Load(),
		MessagesReceived: m.received.Load(),
		MessagesRouted:   m.routed.Load(),
		Unrouted:         m.unrouted.Load(),
		DecodeErrors:     m.decodeErrors.Load(),
		ServerErrors:     m.serverErrors.Load(),
	}
}

// ensureConnected waits up to ReadyTimeout for a usable connection,
// starting one from StateDisconnected.
func (m *Manager) ensureConnected(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, m.cfg.ReadyTimeout)
	defer cancel()

	for {
		m.mu.Lock()
		state, changed := m.state, m.stateCh
		m.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateFailed:
			return ErrNotConnected
		case StateDisconnected:
			err := m.Connect(wctx)
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrAuth) {
				return err
			}
			if wctx.Err() != nil {
				return readyErr(ctx)
			}
			continue
		}

		select {
		case <-changed:
		case <-wctx.Done():
			return readyErr(ctx)
		}
	}
}

func readyErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrTimeout
}

// awaitConnected blocks until Connected, Failed or Disconnected.
func (m *Manager) awaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		state, changed := m.state, m.stateCh
		m.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateFailed, StateDisconnected:
			return ErrNotConnected
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return readyErr(ctx)
		}
	}
}

// establish dials, performs the STOMP handshake, installs the session and
// replays subscriptions.
func (m *Manager) establish(stop <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	token, err := m.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if token == "" {
		return ErrAuth
	}

	endpoint, err := EndpointURL(m.cfg.BaseURL, m.cfg.SockJS)
	if err != nil {
		return &ConnectError{Op: "dial", Err: err}
	}

	client := NewClient(ClientConfig{
		URL:              endpoint,
		SockJS:           m.cfg.SockJS,
		Token:            token,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		PingInterval:     m.cfg.PingInterval,
		PingTimeout:      m.cfg.PingTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}, m.logger)

	if err := client.Connect(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return &ConnectError{Op: "dial", Err: err}
	}

	sendEvery, expectEvery, err := m.handshake(ctx, client, token)
	if err != nil {
		client.Close()
		return &ConnectError{Op: "handshake", Err: err}
	}

	sess := &session{client: client, done: make(chan struct{})}

	m.wireMu.Lock()
	m.mu.Lock()
	if isClosed(stop) || (m.state != StateConnecting && m.state != StateReconnecting) {
		m.mu.Unlock()
		m.wireMu.Unlock()
		client.Close()
		return errAborted
	}
	m.session = sess
	m.attempt = 0
	from := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	replayed := 0
	replayErr := m.registry.Replay(func(sub subscription.Subscription) error {
		replayed++
		return m.writeFrame(client, stomp.Subscribe(sub.ID, sub.Topic))
	})
	m.wireMu.Unlock()

	go m.readLoop(sess, expectEvery)
	if sendEvery > 0 {
		go m.heartbeatLoop(sess, sendEvery)
	}

	m.connects.Add(1)
	m.logger.Info("connected",
		zap.String("endpoint", endpoint),
		zap.String("from", from.String()),
		zap.Int("replayed", replayed),
	)
	m.notify(from, StateConnected)

	if replayErr != nil {
		m.logger.Warn("subscription replay failed", zap.Error(replayErr))
		m.handleDrop(sess, replayErr)
	}
	return nil
}

// handshake sends CONNECT and waits for CONNECTED. It returns the negotiated
// heart-beat intervals: how often to send, and how often the server sends.
func (m *Manager) handshake(ctx context.Context, client Client, token string) (send, receive time.Duration, err error) {
	host := ""
	if u, err := url.Parse(m.cfg.BaseURL); err == nil {
		host = u.Hostname()
	}

	if err := m.writeFrame(client, stomp.Connect(host, token, m.cfg.HeartBeat)); err != nil {
		return 0, 0, fmt.Errorf("send CONNECT: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return 0, 0, fmt.Errorf("await CONNECTED: %w", ErrTimeout)
		case err := <-client.Errors():
			return 0, 0, err
		case msg := <-client.Messages():
			f, err := stomp.Decode(msg.Data)
			if err != nil {
				return 0, 0, err
			}
			if f == nil {
				continue
			}

			switch f.Command {
			case stomp.CmdConnected:
				server, err := stomp.ParseHeartBeat(f.Header.Get(stomp.HdrHeartBeat))
				if err != nil {
					m.logger.Debug("ignoring server heart-beat", zap.Error(err))
				}
				send, receive = stomp.Negotiate(m.cfg.HeartBeat, server)
				m.logger.Debug("stomp session established",
					zap.String("version", f.Header.Get(stomp.HdrVersion)),
					zap.Duration("send_every", send),
					zap.Duration("expect_every", receive),
				)
				return send, receive, nil
			case stomp.CmdError:
				return 0, 0, stomp.AsError(f)
			default:
				return 0, 0, fmt.Errorf("unexpected %s frame before CONNECTED", f.Command)
			}
		}
	}
}

// readLoop routes frames for one session until it ends. When the server
// promised heart-beats every expectEvery, a silence longer than
// heartbeatGrace intervals drops the session.
func (m *Manager) readLoop(sess *session, expectEvery time.Duration) {
	var check <-chan time.Time
	if expectEvery > 0 {
		ticker := time.NewTicker(expectEvery)
		defer ticker.Stop()
		check = ticker.C
	}
	limit := expectEvery * heartbeatGrace
	last := time.Now()

	for {
		select {
		case <-sess.done:
			return
		case err := <-sess.client.Errors():
			m.handleDrop(sess, err)
			return
		case msg := <-sess.client.Messages():
			last = msg.ReceivedAt
			m.route(sess, msg)
		case now := <-check:
			if silent := now.Sub(last); silent > limit {
				m.handleDrop(sess, fmt.Errorf("%w: nothing for %s", ErrHeartbeatTimeout, silent.Round(time.Millisecond)))
				return
			}
		}
	}
}

// route handles a single inbound frame.
func (m *Manager) route(sess *session, msg TimestampedMessage) {
	f, err := stomp.Decode(msg.Data)
	if err != nil {
		m.decodeErrors.Add(1)
		m.logger.Warn("failed to decode frame", zap.Error(err))
		return
	}
	if f == nil {
		return
	}

	switch f.Command {
	case stomp.CmdMessage:
		m.received.Add(1)
		delivered := m.registry.Deliver(subscription.Message{
			Topic:      f.Header.Get(stomp.HdrDestination),
			Body:       f.Body,
			ReceivedAt: msg.ReceivedAt,
		}, f.Header.Get(stomp.HdrSubscription))
		if delivered {
			m.routed.Add(1)
		} else {
			m.unrouted.Add(1)
			m.logger.Debug("message for unknown topic",
				zap.String("destination", f.Header.Get(stomp.HdrDestination)),
				zap.String("message_id", f.Header.Get(stomp.HdrMessageID)),
			)
		}
	case stomp.CmdError:
		m.serverErrors.Add(1)
		err := stomp.AsError(f)
		m.logger.Warn("server error frame", zap.Error(err))
		m.handleDrop(sess, err)
	case stomp.CmdReceipt:
	default:
		m.logger.Debug("ignoring frame", zap.String("command", f.Command))
	}
}

// heartbeatLoop sends STOMP EOL heart-beats.
func (m *Manager) heartbeatLoop(sess *session, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := sess.client.Send([]byte("\n")); err != nil {
				m.logger.Debug("failed to send heart-beat", zap.Error(err))
			}
		}
	}
}

// handleDrop moves a lost session into Reconnecting. Stale sessions are ignored.
func (m *Manager) handleDrop(sess *session, cause error) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.session = nil
	from := m.setStateLocked(StateReconnecting)
	start := m.startReconnectLocked()
	stop := m.stopCh
	m.mu.Unlock()

	sess.stop()
	m.drops.Add(1)
	m.logger.Warn("connection lost", zap.Error(cause))
	m.notify(from, StateReconnecting)

	if start {
		go m.reconnectLoop(stop)
	}
}

// startReconnectLocked claims the single reconnect loop slot.
func (m *Manager) startReconnectLocked() bool {
	if m.reconnecting {
		return false
	}
	m.reconnecting = true
	return true
}

// reconnectLoop retries with linear backoff until connected, disconnected or
// out of attempts. The reconnecting flag is cleared under the lock that
// observes the exit condition.
func (m *Manager) reconnectLoop(stop <-chan struct{}) {
	for {
		m.mu.Lock()
		if isClosed(stop) {
			stop = m.stopCh
		}
		if m.state != StateReconnecting {
			m.reconnecting = false
			m.mu.Unlock()
			return
		}
		if m.attempt >= m.cfg.MaxReconnectAttempts {
			attempts := m.attempt
			m.setStateLocked(StateFailed)
			m.reconnecting = false
			m.mu.Unlock()

			m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", attempts))
			m.notify(StateReconnecting, StateFailed)
			return
		}
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		wait := m.cfg.BackoffDelay * time.Duration(attempt)
		m.logger.Info("reconnecting",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.MaxReconnectAttempts),
			zap.Duration("wait", wait),
		)

		select {
		case <-stop:
			continue
		case <-time.After(wait):
		}

		if err := m.establish(stop); err != nil && !errors.Is(err, errAborted) {
			m.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
}

func (m *Manager) currentSession() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.session
}

// setStateLocked records a transition and wakes waiters. Must be called with mu held.
func (m *Manager) setStateLocked(to State) State {
	from := m.state
	if from == to {
		return from
	}
	m.state = to
	close(m.stateCh)
	m.stateCh = make(chan struct{})
	return from
}

func (m *Manager) notify(from, to State) {
	if from == to {
		return
	}
	m.listenersMu.Lock()
	listeners := append([]StateListener(nil), m.listeners...)
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
}

func (m *Manager) writeFrame(c Client, f *stomp.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	return c.Send(data)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
