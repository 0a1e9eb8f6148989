package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client represents a single transport connection to the push endpoint.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes one message to the connection.
	Send(data []byte) error

	// Messages returns a channel of inbound messages.
	// Each message includes a local timestamp for when it was received.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// EndpointURL derives the socket URL from the backend base URL. With SockJS
// the websocket transport path <base>/ws/{server}/{session}/websocket is used.
func EndpointURL(base string, sockJS bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if sockJS {
		server := fmt.Sprintf("%03d", rand.IntN(1000))
		session := strings.ReplaceAll(uuid.NewString(), "-", "")
		u.Path += "/" + server + "/" + session + "/websocket"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *zap.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastSeenAt time.Time
	closed     bool
}

// NewClient creates a new transport client.
func NewClient(cfg ClientConfig, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection. In SockJS mode it also waits
// for the server's open frame.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	if c.cfg.SockJS {
		if err := c.awaitOpen(ctx, conn); err != nil {
			conn.Close()
			return err
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastSeenAt = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", zap.String("url", c.cfg.URL), zap.Bool("sockjs", c.cfg.SockJS))

	return nil
}

// awaitOpen reads the SockJS "o" frame that must precede any data.
func (c *client) awaitOpen(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await sockjs open: %w", err)
	}
	if len(data) == 0 || data[0] != 'o' {
		if len(data) > 0 && data[0] == 'c' {
			return parseSockJSClose(data[1:])
		}
		return fmt.Errorf("await sockjs open: unexpected frame %q", truncate(data, 32))
	}
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		return conn.Close()
	}

	return nil
}

// Send writes one message, wrapping it in a SockJS array when needed.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	payload := data
	if c.cfg.SockJS {
		wrapped, err := json.Marshal([]string{string(data)})
		if err != nil {
			return fmt.Errorf("wrap sockjs frame: %w", err)
		}
		payload = wrapped
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

// fail reports err once and stops delivering.
func (c *client) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.errors <- err:
	default:
	}
}

// readLoop reads messages from the WebSocket and sends them to the messages channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.fail(err)
			return
		}
		c.touch()

		payloads := [][]byte{data}
		if c.cfg.SockJS {
			payloads, err = unwrapSockJS(data)
			if err != nil {
				c.fail(err)
				return
			}
		}

		for _, p := range payloads {
			msg := TimestampedMessage{
				Data:       p,
				ReceivedAt: receivedAt,
			}

			select {
			case c.messages <- msg:
			case <-c.done:
				return
			default:
				c.logger.Warn("message buffer full, dropping message")
			}
		}
	}
}

// heartbeatLoop sends pings and monitors for stale connections.
func (c *client) heartbeatLoop() {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			lastSeen := c.lastSeenAt
			c.mu.RUnlock()

			if conn != nil {
				c.writeMu.Lock()
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", zap.Error(err))
				}
				c.writeMu.Unlock()
			}

			if c.cfg.PingTimeout > 0 && time.Since(lastSeen) > c.cfg.PingTimeout {
				c.logger.Warn("no traffic received, connection stale",
					zap.Time("last_seen", lastSeen),
					zap.Duration("timeout", c.cfg.PingTimeout),
				)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}

// unwrapSockJS decodes one SockJS websocket frame into its messages.
// Open and heartbeat frames carry no messages.
func unwrapSockJS(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case 'o', 'h':
		return nil, nil
	case 'a':
		var msgs []string
		if err := json.Unmarshal(data[1:], &msgs); err != nil {
			return nil, fmt.Errorf("decode sockjs array: %w", err)
		}
		out := make([][]byte, len(msgs))
		for i, m := range msgs {
			out[i] = []byte(m)
		}
		return out, nil
	case 'm':
		var msg string
		if err := json.Unmarshal(data[1:], &msg); err != nil {
			return nil, fmt.Errorf("decode sockjs message: %w", err)
		}
		return [][]byte{[]byte(msg)}, nil
	case 'c':
		return nil, parseSockJSClose(data[1:])
	default:
		return nil, fmt.Errorf("unknown sockjs frame %q", truncate(data, 32))
	}
}

func parseSockJSClose(body []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) < 2 {
		return errors.New("sockjs closed")
	}
	e := &SockJSCloseError{}
	json.Unmarshal(parts[0], &e.Code)
	json.Unmarshal(parts[1], &e.Reason)
	return e
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
