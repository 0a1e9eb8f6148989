package api

import (
	"strings"
	"time"

	"github.com/rickgao/auction-sync/internal/model"
)

// timeLayouts are tried in order. The backend sends local date-times
// without a zone, which are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO 8601 timestamp.
// Returns the zero time for empty or invalid input.
func ParseTimestamp(iso string) time.Time {
	iso = strings.TrimSpace(iso)
	if iso == "" {
		return time.Time{}
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ToModel converts an AuctionResponse to model.AuctionSummary. CurrentPrice
// is carried as reported; the engine derives its own from the ledger.
func (a *AuctionResponse) ToModel() model.AuctionSummary {
	id := a.AuctionID
	if id == "" {
		id = a.ID
	}

	status := strings.ToUpper(strings.TrimSpace(a.Status))
	return model.AuctionSummary{
		AuctionID:    string(id),
		StartPrice:   int64(a.StartPrice),
		CurrentPrice: int64(a.CurrentPrice),
		EndTime:      ParseTimestamp(a.EndTime),
		IsWon:        a.IsWon || status == "WON",
		IsFailed:     a.IsFailed || status == "FAILED",
		IsDeleted:    status == "DELETED",
		BidCount:     a.BidCount,
	}
}

// ToModel converts a BidResponse to model.Bid. auctionID fills in when the
// bid omits it.
func (b *BidResponse) ToModel(auctionID string) model.Bid {
	id := b.BidID
	if id == "" {
		id = b.ID
	}
	if b.AuctionID != "" {
		auctionID = string(b.AuctionID)
	}
	label := b.BidderNickname
	if label == "" {
		label = b.BidderName
	}
	ts := b.CreatedAt
	if ts == "" {
		ts = b.BidTime
	}

	return model.Bid{
		ID:          string(id),
		AuctionID:   auctionID,
		BidderID:    string(b.BidderID),
		BidderLabel: label,
		Price:       int64(b.Price),
		Status:      model.ParseBidStatus(b.Status),
		Timestamp:   ParseTimestamp(ts),
	}
}

// BidsToModel converts a page of bids.
func BidsToModel(auctionID string, bids []BidResponse) []model.Bid {
	out := make([]model.Bid, 0, len(bids))
	for i := range bids {
		out = append(out, bids[i].ToModel(auctionID))
	}
	return out
}
