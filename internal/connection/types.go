package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/auction-sync/internal/stomp"
)

// Errors
var (
	ErrAuth             = errors.New("no credential available")
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no traffic)")
	ErrTimeout          = errors.New("operation timeout")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrHeartbeatTimeout = errors.New("server heart-beat missed")

	errAborted = errors.New("connection attempt aborted")
)

// heartbeatGrace is how many negotiated server heart-beat intervals may pass
// in silence before the session is considered dead.
const heartbeatGrace = 2

// ConnectError reports a dial or handshake failure.
type ConnectError struct {
	Op  string // "dial" or "handshake"
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SockJSCloseError is a SockJS close frame sent by the server.
type SockJSCloseError struct {
	Code   int
	Reason string
}

func (e *SockJSCloseError) Error() string {
	return fmt.Sprintf("sockjs closed %d: %s", e.Code, e.Reason)
}

// State is the lifecycle state of the push connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateListener is told about every state transition.
type StateListener func(from, to State)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // One transport message, SockJS framing already removed
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a transport client.
type ClientConfig struct {
	URL              string        // Full ws:// or wss:// URL, see EndpointURL
	SockJS           bool          // Expect SockJS framing on the socket
	Token            string        // Sent as a bearer header on the upgrade request
	HandshakeTimeout time.Duration // WebSocket upgrade (and SockJS open frame) timeout
	PingInterval     time.Duration // How often to send WebSocket pings
	PingTimeout      time.Duration // Max time without traffic before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SockJS:           true,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      75 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	BaseURL              string          // Backend base URL; the endpoint is <base>/ws
	SockJS               bool            // Use the SockJS websocket transport
	MaxReconnectAttempts int             // Failed attempts before giving up
	BackoffDelay         time.Duration   // Wait before attempt n is BackoffDelay*n
	ReadyTimeout         time.Duration   // Max wait for a usable connection in Subscribe/Send
	HandshakeTimeout     time.Duration   // Dial plus CONNECT/CONNECTED exchange
	WriteTimeout         time.Duration   // Write deadline for sends
	PingInterval         time.Duration   // WebSocket ping interval
	PingTimeout          time.Duration   // Stale connection threshold
	HeartBeat            stomp.HeartBeat // Offered STOMP heart-beats
	BufferSize           int             // Inbound message buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	c := DefaultClientConfig()
	return ManagerConfig{
		SockJS:               true,
		MaxReconnectAttempts: 5,
		BackoffDelay:         3 * time.Second,
		ReadyTimeout:         10 * time.Second,
		HandshakeTimeout:     c.HandshakeTimeout,
		WriteTimeout:         c.WriteTimeout,
		PingInterval:         c.PingInterval,
		PingTimeout:          c.PingTimeout,
		HeartBeat:            stomp.HeartBeat{Outgoing: 10 * time.Second, Incoming: 10 * time.Second},
		BufferSize:           c.BufferSize,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	State            string
	Subscriptions    int
	ReconnectAttempt int
	Connects         int64
	Drops            int64
	MessagesReceived int64
	MessagesRouted   int64
	Unrouted         int64
	DecodeErrors     int64
	ServerErrors     int64
}
