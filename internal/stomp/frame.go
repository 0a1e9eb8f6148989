// Package stomp builds and parses the STOMP 1.2 text frames carried over the
// push connection.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// Client and server commands.
const (
	CmdConnect     = "CONNECT"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdDisconnect  = "DISCONNECT"
	CmdConnected   = "CONNECTED"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdReceipt     = "RECEIPT"
)

// Header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrAuthorization = "Authorization"
	HdrID            = "id"
	HdrDestination   = "destination"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrMessage       = "message"
	HdrVersion       = "version"
)

// Version is the only protocol version offered.
const Version = "1.2"

// Frame aliases the codec's frame type.
type Frame = frame.Frame

// ServerError is an ERROR frame sent by the broker.
type ServerError struct {
	Message string
	Body    string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return "stomp error: " + e.Message
	}
	return fmt.Sprintf("stomp error: %s: %s", e.Message, e.Body)
}

// HeartBeat is a negotiated heart-beat pair. Zero means disabled.
type HeartBeat struct {
	Outgoing time.Duration // How often this side sends
	Incoming time.Duration // How often this side wants to receive
}

func (h HeartBeat) String() string {
	return strconv.FormatInt(h.Outgoing.Milliseconds(), 10) + "," + strconv.FormatInt(h.Incoming.Milliseconds(), 10)
}

// ParseHeartBeat parses a "cx,cy" header value.
func ParseHeartBeat(v string) (HeartBeat, error) {
	if v == "" {
		return HeartBeat{}, nil
	}
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return HeartBeat{}, fmt.Errorf("invalid heart-beat %q", v)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	if err != nil || x < 0 {
		return HeartBeat{}, fmt.Errorf("invalid heart-beat %q", v)
	}
	y, err := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if err != nil || y < 0 {
		return HeartBeat{}, fmt.Errorf("invalid heart-beat %q", v)
	}
	return HeartBeat{
		Outgoing: time.Duration(x) * time.Millisecond,
		Incoming: time.Duration(y) * time.Millisecond,
	}, nil
}

// Negotiate returns the interval at which the client must send and the
// interval after which server silence is fatal, per STOMP 1.2.
func Negotiate(client, server HeartBeat) (send, receive time.Duration) {
	if client.Outgoing > 0 && server.Incoming > 0 {
		send = max(client.Outgoing, server.Incoming)
	}
	if client.Incoming > 0 && server.Outgoing > 0 {
		receive = max(client.Incoming, server.Outgoing)
	}
	return send, receive
}

// Connect builds the CONNECT frame. token may be empty for anonymous brokers.
func Connect(host, token string, hb HeartBeat) *Frame {
	f := frame.New(CmdConnect,
		HdrAcceptVersion, Version,
		HdrHost, host,
		HdrHeartBeat, hb.String(),
	)
	if token != "" {
		f.Header.Set(HdrAuthorization, "Bearer "+token)
	}
	return f
}

// Subscribe builds a SUBSCRIBE frame.
func Subscribe(id, destination string) *Frame {
	return frame.New(CmdSubscribe,
		HdrID, id,
		HdrDestination, destination,
	)
}

// Unsubscribe builds an UNSUBSCRIBE frame.
func Unsubscribe(id string) *Frame {
	return frame.New(CmdUnsubscribe, HdrID, id)
}

// Send builds a SEND frame with a JSON body.
func Send(destination string, body []byte) *Frame {
	f := frame.New(CmdSend,
		HdrDestination, destination,
		HdrContentType, "application/json",
		HdrContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return f
}

// Disconnect builds a DISCONNECT frame.
func Disconnect() *Frame {
	return frame.New(CmdDisconnect)
}

// Encode serializes f. A nil frame encodes as a heart-beat.
func Encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", command(f), err)
	}
	return buf.Bytes(), nil
}

// Decode parses a single transport message. It returns a nil frame for a
// heart-beat.
func Decode(data []byte) (*Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode frame: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// AsError converts an ERROR frame to a *ServerError.
func AsError(f *Frame) error {
	if f == nil || f.Command != CmdError {
		return nil
	}
	return &ServerError{
		Message: f.Header.Get(HdrMessage),
		Body:    strings.TrimSpace(string(f.Body)),
	}
}

func command(f *Frame) string {
	if f == nil {
		return "heart-beat"
	}
	return f.Command
}
