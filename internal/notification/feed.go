// Package notification buffers per-user push notifications.
//
// A Feed is subscribed to /topic/notification/{userId}. Payloads are kept
// even when they do not match the expected shape so nothing the server
// sends is lost; Raw always holds the original body.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rickgao/auction-sync/internal/subscription"
	"github.com/rickgao/auction-sync/internal/topic"
)

// Notification is one pushed user notification.
type Notification struct {
	Type       string
	AuctionID  string
	Message    string
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// Config configures a Feed.
type Config struct {
	InitialCapacity int
	MaxBuffered     int
}

// DefaultConfig returns the default feed configuration.
func DefaultConfig() Config {
	return Config{
		InitialCapacity: 16,
		MaxBuffered:     1024,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Received    int64
	Unparseable int64
	Queue       QueueStats
}

// Feed collects notifications for one user.
type Feed struct {
	userID string
	queue  *Queue[Notification]
	logger *zap.Logger

	received    atomic.Int64
	unparseable atomic.Int64
}

// NewFeed creates a feed for userID.
func NewFeed(userID string, cfg Config, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		userID: userID,
		queue:  NewQueue[Notification](cfg.InitialCapacity, cfg.MaxBuffered),
		logger: logger.With(zap.String("user_id", userID)),
	}
}

// Topic returns the destination this feed should be subscribed to.
func (f *Feed) Topic() string {
	return topic.Notification(f.userID)
}

// Handle is a subscription.Handler.
func (f *Feed) Handle(msg subscription.Message) {
	n, err := Parse(msg.Body)
	if err != nil {
		f.unparseable.Add(1)
		f.logger.Debug("keeping unparseable notification", zap.Error(err))
	}
	n.ReceivedAt = msg.ReceivedAt
	f.received.Add(1)

	if !f.queue.Push(n) {
		f.logger.Debug("feed closed, dropping notification")
	}
}

// Next blocks for the next notification.
func (f *Feed) Next(ctx context.Context) (Notification, error) {
	return f.queue.Pop(ctx)
}

// Drain returns up to max buffered notifications without blocking.
func (f *Feed) Drain(max int) []Notification {
	return f.queue.Drain(max)
}

// Close stops accepting notifications and wakes readers.
func (f *Feed) Close() {
	f.queue.Close()
}

// Stats returns current statistics.
func (f *Feed) Stats() Stats {
	return Stats{
		Received:    f.received.Load(),
		Unparseable: f.unparseable.Load(),
		Queue:       f.queue.Stats(),
	}
}

type wireNotification struct {
	Type      string          `json:"type"`
	AuctionID json.RawMessage `json:"auctionId"`
	Message   string          `json:"message"`
	Content   string          `json:"content"`
}

// Parse decodes a notification payload. On error the returned value still
// carries Raw.
func Parse(body []byte) (Notification, error) {
	body = bytes.TrimSpace(body)
	n := Notification{Raw: append(json.RawMessage(nil), body...)}
	if len(body) == 0 {
		return n, nil
	}

	var w wireNotification
	if err := json.Unmarshal(body, &w); err != nil {
		n.Message = string(body)
		return n, err
	}

	n.Type = w.Type
	n.Message = w.Message
	if n.Message == "" {
		n.Message = w.Content
	}
	n.AuctionID = rawID(w.AuctionID)
	return n, nil
}

// rawID accepts numeric and string ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String()
		}
	}
	return string(raw)
}
