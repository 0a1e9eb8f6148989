package api

import (
	"context"

	"github.com/rickgao/auction-sync/internal/model"
)

// Backend is a Client that also fetches the full ledger for refreshes.
type Backend struct {
	*Client
	PageSize int
}

// NewBackend wraps c. A non-positive pageSize uses DefaultPageSize.
func NewBackend(c *Client, pageSize int) *Backend {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Backend{Client: c, PageSize: pageSize}
}

func (b *Backend) FetchBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return b.GetAllBids(ctx, auctionID, b.PageSize)
}

func (b *Backend) FetchAuction(ctx context.Context, auctionID string) (model.AuctionSummary, error) {
	return b.GetAuction(ctx, auctionID)
}
