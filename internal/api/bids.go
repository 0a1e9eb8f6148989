package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/rickgao/auction-sync/internal/model"
)

// DefaultPageSize is used when a caller passes a non-positive size.
const DefaultPageSize = 50

// maxPages bounds GetAllBids against a server that never reports the last page.
const maxPages = 1000

// GetBids fetches one page of bids, zero-based.
func (c *Client) GetBids(ctx context.Context, auctionID string, page, size int) (*BidPage, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))

	var resp BidPage
	if err := c.get(ctx, auctionPath(auctionID)+"/bids", query, &resp); err != nil {
		return nil, fmt.Errorf("get bids: %w", err)
	}

	return &resp, nil
}

// GetAllBids fetches the full ledger by paginating through results.
func (c *Client) GetAllBids(ctx context.Context, auctionID string, size int) ([]model.Bid, error) {
	var all []model.Bid

	for page := 0; page < maxPages; page++ {
		resp, err := c.GetBids(ctx, auctionID, page, size)
		if err != nil {
			return nil, err
		}

		all = append(all, BidsToModel(auctionID, resp.Content)...)

		if resp.Last || len(resp.Content) == 0 || (resp.TotalPages > 0 && page+1 >= resp.TotalPages) {
			break
		}
	}

	if all == nil {
		all = []model.Bid{}
	}
	return all, nil
}

// PlaceBid places a bid. Each call carries a fresh Idempotency-Key so a
// duplicate delivery of the same request is not double-counted.
func (c *Client) PlaceBid(ctx context.Context, auctionID string, price int64) (model.Bid, error) {
	r := request{
		method:  http.MethodPost,
		path:    auctionPath(auctionID) + "/bids",
		body:    PlaceBidRequest{Price: price},
		headers: map[string]string{"Idempotency-Key": uuid.NewString()},
	}

	var resp BidResponse
	if err := c.send(ctx, r, &resp); err != nil {
		return model.Bid{}, fmt.Errorf("place bid: %w", err)
	}

	bid := resp.ToModel(auctionID)
	if bid.Price == 0 {
		bid.Price = price
	}
	return bid, nil
}

// CancelBid cancels one of the caller's bids.
func (c *Client) CancelBid(ctx context.Context, auctionID, bidID string) error {
	r := request{
		method: http.MethodDelete,
		path:   auctionPath(auctionID) + "/bids/" + url.PathEscape(bidID),
	}
	if err := c.send(ctx, r, nil); err != nil {
		return fmt.Errorf("cancel bid: %w", err)
	}
	return nil
}
