package dispatch

import (
	"fmt"
	"strings"

	"github.com/rickgao/auction-sync/internal/model"
)

// Sink receives normalized events.
type Sink interface {
	Apply(ev model.Event)
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(model.Event)

func (f SinkFunc) Apply(ev model.Event) {
	f(ev)
}

// ProtocolError describes a payload that could not be turned into an event.
type ProtocolError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error on %s: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error on %s: %s", e.Topic, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	EventsDispatched int64
	ParseErrors      int64
	ForeignMessages  int64 // Topic belonged to another auction or was not an auction topic
}

// fieldPath is a dotted JSON path such as "winningBid.price".
type fieldPath []string

func (p fieldPath) String() string {
	return strings.Join(p, ".")
}

// finalPriceFields is the ordered list of places a terminal event may carry
// the final price. The server contract does not name one field; the first
// positive number found wins.
var finalPriceFields = []fieldPath{
	{"finalPrice"},
	{"winningPrice"},
	{"winningBidPrice"},
	{"price"},
	{"currentPrice"},
	{"amount"},
	{"winningBid", "price"},
	{"bid", "price"},
}

// bidPriceFields is the ordered list for the price of a pushed bid.
var bidPriceFields = []fieldPath{
	{"price"},
	{"bidPrice"},
	{"amount"},
	{"currentPrice"},
	{"bid", "price"},
}

// bidIDFields is the ordered list for the id of a pushed bid.
var bidIDFields = []fieldPath{
	{"bidId"},
	{"id"},
	{"bid", "id"},
}

// statusFields is the ordered list for the bid status discriminator.
var statusFields = []fieldPath{
	{"status"},
	{"bidStatus"},
	{"bid", "status"},
}
