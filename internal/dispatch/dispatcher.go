package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rickgao/auction-sync/internal/model"
	"github.com/rickgao/auction-sync/internal/subscription"
	"github.com/rickgao/auction-sync/internal/topic"
)

// Dispatcher normalizes payloads for one auction.
type Dispatcher struct {
	auctionID string
	sink      Sink
	logger    *zap.Logger

	mu          sync.RWMutex
	received    int64
	dispatched  int64
	parseErrors int64
	foreign     int64
}

// New creates a Dispatcher that forwards events for auctionID to sink.
func New(auctionID string, sink Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		auctionID: auctionID,
		sink:      sink,
		logger:    logger.With(zap.String("auction_id", auctionID)),
	}
}

// Handle is a subscription.Handler. It never panics on bad input.
func (d *Dispatcher) Handle(msg subscription.Message) {
	d.mu.Lock()
	d.received++
	d.mu.Unlock()

	ev, err := d.Decode(msg)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			d.mu.Lock()
			d.parseErrors++
			d.mu.Unlock()
		}
		d.logger.Warn("dropping message", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if ev == nil {
		d.mu.Lock()
		d.foreign++
		d.mu.Unlock()
		d.logger.Debug("ignoring message for other auction", zap.String("topic", msg.Topic))
		return
	}

	d.sink.Apply(ev)

	d.mu.Lock()
	d.dispatched++
	d.mu.Unlock()
}

// Decode classifies one message. It returns a nil event for topics that do
// not belong to this dispatcher's auction.
func (d *Dispatcher) Decode(msg subscription.Message) (model.Event, error) {
	auctionID, kind, err := topic.ParseAuction(msg.Topic)
	if err != nil || auctionID != d.auctionID {
		return nil, nil
	}

	payload, err := parsePayload(msg.Body)
	if err != nil {
		return nil, &ProtocolError{Topic: msg.Topic, Reason: "invalid json", Err: err}
	}

	switch kind {
	case topic.KindBid:
		return decodeBid(msg.Topic, payload)
	case topic.KindWon:
		return model.AuctionWon{FinalPrice: optionalPrice(payload)}, nil
	case topic.KindFailed:
		return model.AuctionFailed{FinalPrice: optionalPrice(payload)}, nil
	case topic.KindDeleted:
		return model.AuctionDeleted{}, nil
	default:
		return nil, &ProtocolError{Topic: msg.Topic, Reason: "unknown topic kind"}
	}
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Stats{
		MessagesReceived: d.received,
		EventsDispatched: d.dispatched,
		ParseErrors:      d.parseErrors,
		ForeignMessages:  d.foreign,
	}
}

// decodeBid splits the bid topic on its status discriminator.
func decodeBid(dest string, payload map[string]any) (model.Event, error) {
	status, hasStatus := lookupString(payload, statusFields)

	if hasStatus {
		switch strings.ToUpper(strings.TrimSpace(status)) {
		case "CANCELED", "CANCELLED":
			id, _ := lookupString(payload, bidIDFields)
			return model.BidCanceled{BidID: id}, nil
		case "WON":
			return model.AuctionWon{FinalPrice: optionalPrice(payload)}, nil
		case "ACTIVE", "":
		default:
			return nil, &ProtocolError{Topic: dest, Reason: "unexpected bid status " + strconv.Quote(status)}
		}
	}

	price, ok := extractPrice(payload, bidPriceFields)
	if !ok {
		return nil, &ProtocolError{Topic: dest, Reason: "bid without price"}
	}
	return model.NewBid{Price: price}, nil
}

// ExtractFinalPrice returns the first positive price found in payload
// following finalPriceFields.
func ExtractFinalPrice(payload map[string]any) (int64, bool) {
	return extractPrice(payload, finalPriceFields)
}

func optionalPrice(payload map[string]any) *int64 {
	if p, ok := ExtractFinalPrice(payload); ok {
		return model.Price(p)
	}
	return nil
}

func extractPrice(payload map[string]any, fields []fieldPath) (int64, bool) {
	for _, path := range fields {
		v, ok := lookup(payload, path)
		if !ok {
			continue
		}
		if p, ok := toPrice(v); ok {
			return p, true
		}
	}
	return 0, false
}

// parsePayload decodes a JSON object. An empty body is an empty object.
func parsePayload(body []byte) (map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return map[string]any{}, nil
	}
	return payload, nil
}

func lookup(payload map[string]any, path fieldPath) (any, bool) {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func lookupString(payload map[string]any, fields []fieldPath) (string, bool) {
	for _, path := range fields {
		v, ok := lookup(payload, path)
		if !ok {
			continue
		}
		switch v := v.(type) {
		case string:
			return v, true
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}

// toPrice accepts JSON numbers and numeric strings. Fractional values are
// rounded; zero and negatives are rejected.
func toPrice(v any) (int64, bool) {
	var s string
	switch v := v.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return 0, false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, n > 0
	}
	f, err := strconv.ParseFloat(s, 64)
	// float64(math.MaxInt64) is 2^63, which does not fit in an int64.
	if err != nil || math.IsNaN(f) || f <= 0 || f >= math.MaxInt64 {
		return 0, false
	}
	n := int64(math.Round(f))
	return n, n > 0
}
