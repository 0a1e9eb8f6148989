package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/auction-sync/internal/model"
)

// GetAuction fetches one auction.
func (c *Client) GetAuction(ctx context.Context, auctionID string) (model.AuctionSummary, error) {
	var resp AuctionResponse
	if err := c.get(ctx, auctionPath(auctionID), nil, &resp); err != nil {
		return model.AuctionSummary{}, fmt.Errorf("get auction: %w", err)
	}

	summary := resp.ToModel()
	if summary.AuctionID == "" {
		summary.AuctionID = auctionID
	}
	return summary, nil
}

// EndAuction ends an auction early. Only the seller may do this.
func (c *Client) EndAuction(ctx context.Context, auctionID string) error {
	r := request{method: http.MethodPost, path: auctionPath(auctionID) + "/end"}
	if err := c.send(ctx, r, nil); err != nil {
		return fmt.Errorf("end auction: %w", err)
	}
	return nil
}

// DeleteAuction deletes (cancels) an auction.
func (c *Client) DeleteAuction(ctx context.Context, auctionID string) error {
	r := request{method: http.MethodDelete, path: auctionPath(auctionID)}
	if err := c.send(ctx, r, nil); err != nil {
		return fmt.Errorf("delete auction: %w", err)
	}
	return nil
}

func auctionPath(auctionID string) string {
	return "/api/auctions/" + url.PathEscape(auctionID)
}
