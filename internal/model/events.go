package model

// Event is a normalized push event for one auction.
type Event interface {
	// Kind names the event for logs.
	Kind() string

	isEvent()
}

// NewBid reports a bid placed at Price.
type NewBid struct {
	Price int64
}

// BidCanceled reports that bid BidID was withdrawn.
type BidCanceled struct {
	BidID string
}

// AuctionWon reports the auction closed with a winner. FinalPrice is nil
// when the payload carried no recognizable price.
type AuctionWon struct {
	FinalPrice *int64
}

// AuctionFailed reports the auction closed without a valid winner.
type AuctionFailed struct {
	FinalPrice *int64
}

// AuctionDeleted reports the auction was withdrawn by its owner.
type AuctionDeleted struct{}

func (NewBid) Kind() string         { return "new_bid" }
func (BidCanceled) Kind() string    { return "bid_canceled" }
func (AuctionWon) Kind() string     { return "auction_won" }
func (AuctionFailed) Kind() string  { return "auction_failed" }
func (AuctionDeleted) Kind() string { return "auction_deleted" }

func (NewBid) isEvent()         {}
func (BidCanceled) isEvent()    {}
func (AuctionWon) isEvent()     {}
func (AuctionFailed) isEvent()  {}
func (AuctionDeleted) isEvent() {}

// Price returns a pointer to p, for building terminal events.
func Price(p int64) *int64 {
	return &p
}
