package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/auction-sync/internal/auction"
	"github.com/rickgao/auction-sync/internal/connection"
	"github.com/rickgao/auction-sync/internal/model"
	"github.com/rickgao/auction-sync/internal/notification"
)

// printer serializes output from concurrent callbacks.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format}
}

type bidView struct {
	ID        string    `json:"id"`
	Bidder    string    `json:"bidder,omitempty"`
	Price     int64     `json:"price"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type snapshotView struct {
	AuctionID     string    `json:"auction_id"`
	StartPrice    int64     `json:"start_price"`
	CurrentPrice  int64     `json:"current_price"`
	HasActiveBids bool      `json:"has_active_bids"`
	BidCount      int       `json:"bid_count"`
	EndTime       time.Time `json:"end_time,omitempty"`
	Status        string    `json:"status"`
	Bids          []bidView `json:"bids"`
}

func newSnapshotView(s auction.Snapshot) snapshotView {
	v := snapshotView{
		AuctionID:     s.Summary.AuctionID,
		StartPrice:    s.Summary.StartPrice,
		CurrentPrice:  s.Summary.CurrentPrice,
		HasActiveBids: s.HasActiveBids,
		BidCount:      s.Summary.BidCount,
		EndTime:       s.Summary.EndTime,
		Status:        auctionStatus(s),
		Bids:          make([]bidView, 0, len(s.Bids)),
	}
	for _, b := range s.Bids {
		v.Bids = append(v.Bids, newBidView(b))
	}
	return v
}

func newBidView(b model.Bid) bidView {
	return bidView{ID: b.ID, Bidder: b.BidderLabel, Price: b.Price, Status: string(b.Status), Timestamp: b.Timestamp}
}

func auctionStatus(s auction.Snapshot) string {
	switch {
	case s.Summary.IsDeleted:
		return "DELETED"
	case s.Summary.IsWon:
		return "WON"
	case s.Summary.IsFailed:
		return "FAILED"
	case s.Terminal:
		return "ENDED"
	default:
		return "OPEN"
	}
}

func (p *printer) snapshot(s auction.Snapshot) {
	if p.format == "json" {
		p.json(map[string]any{"type": "snapshot", "auction": newSnapshotView(s)})
		return
	}

	price := "no bids"
	if s.HasActiveBids || s.Summary.IsWon {
		price = fmt.Sprintf("%d", s.Summary.CurrentPrice)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "auction %s  %-7s  price %s  bids %d\n", s.Summary.AuctionID, auctionStatus(s), price, len(s.Bids))
	for i, bid := range s.Bids {
		if i == 5 {
			fmt.Fprintf(&b, "  ... %d more\n", len(s.Bids)-5)
			break
		}
		fmt.Fprintf(&b, "  %-8s %10d  %-8s %s\n", bid.ID, bid.Price, bid.Status, bid.BidderLabel)
	}
	p.text(b.String())
}

func (p *printer) state(from, to connection.State) {
	if p.format == "json" {
		p.json(map[string]any{"type": "connection", "from": from.String(), "to": to.String()})
		return
	}
	p.text(fmt.Sprintf("connection %s -> %s\n", from, to))
}

func (p *printer) notification(n notification.Notification) {
	if p.format == "json" {
		p.json(map[string]any{"type": "notification", "kind": n.Type, "auction_id": n.AuctionID, "message": n.Message})
		return
	}
	p.text(fmt.Sprintf("notification %s auction=%s %s\n", n.Type, n.AuctionID, n.Message))
}

func (p *printer) bid(b model.Bid) {
	if p.format == "json" {
		p.json(newBidView(b))
		return
	}
	p.text(fmt.Sprintf("bid %s placed at %d on auction %s\n", b.ID, b.Price, b.AuctionID))
}

func (p *printer) message(format string, args ...any) {
	if p.format == "json" {
		p.json(map[string]any{"type": "message", "message": fmt.Sprintf(format, args...)})
		return
	}
	p.text(fmt.Sprintf(format+"\n", args...))
}

func (p *printer) text(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.w, s)
}

func (p *printer) json(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	json.NewEncoder(p.w).Encode(v)
}
