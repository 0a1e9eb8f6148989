package model

import (
	"strings"
	"time"
)

// BidStatus is the lifecycle state of a single bid.
type BidStatus string

const (
	StatusActive   BidStatus = "ACTIVE"
	StatusCanceled BidStatus = "CANCELED"
	StatusWon      BidStatus = "WON"
)

// ParseBidStatus normalizes a wire status. The backend has been seen sending
// both spellings of canceled and lowercase values.
func ParseBidStatus(s string) BidStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	case "WON":
		return StatusWon
	default:
		return StatusActive
	}
}

// Priority is the display rank of a status: WON(1) < ACTIVE(2) < CANCELED(3).
func (s BidStatus) Priority() int {
	switch s {
	case StatusWon:
		return 1
	case StatusActive:
		return 2
	case StatusCanceled:
		return 3
	default:
		return 4
	}
}

// Bid is one entry of an auction's bid ledger.
type Bid struct {
	ID          string
	AuctionID   string
	BidderID    string
	BidderLabel string // Display name, possibly masked
	Price       int64
	Status      BidStatus
	Timestamp   time.Time
}

// AuctionSummary is the client's view of an auction.
type AuctionSummary struct {
	AuctionID    string
	StartPrice   int64
	CurrentPrice int64 // Derived from the ledger; 0 means no active bids
	EndTime      time.Time
	IsWon        bool
	IsFailed     bool
	IsDeleted    bool
	BidCount     int
}

// IsTerminal reports whether the auction can no longer change outcome.
func (a AuctionSummary) IsTerminal(now time.Time) bool {
	if a.IsWon || a.IsFailed || a.IsDeleted {
		return true
	}
	return !a.EndTime.IsZero() && !now.Before(a.EndTime)
}
