package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/auction-sync/internal/auction"
	"github.com/rickgao/auction-sync/internal/connection"
	"github.com/rickgao/auction-sync/internal/model"
)

func TestPrinter_Snapshot(t *testing.T) {
	snap := auction.Snapshot{
		Summary: model.AuctionSummary{AuctionID: "42", CurrentPrice: 900, BidCount: 2},
		Bids: []model.Bid{
			{ID: "b1", Price: 900, Status: model.StatusActive, BidderLabel: "k***"},
			{ID: "b2", Price: 500, Status: model.StatusCanceled},
		},
		HasActiveBids: true,
	}

	var text bytes.Buffer
	newPrinter(&text, "text").snapshot(snap)
	assert.Contains(t, text.String(), "auction 42  OPEN     price 900  bids 2")
	assert.Contains(t, text.String(), "k***")

	var js bytes.Buffer
	newPrinter(&js, "json").snapshot(snap)
	var msg struct {
		Type    string       `json:"type"`
		Auction snapshotView `json:"auction"`
	}
	require.NoError(t, json.Unmarshal(js.Bytes(), &msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, int64(900), msg.Auction.CurrentPrice)
	assert.Len(t, msg.Auction.Bids, 2)
}

func TestPrinter_NoActiveBids(t *testing.T) {
	var out bytes.Buffer
	newPrinter(&out, "text").snapshot(auction.Snapshot{Summary: model.AuctionSummary{AuctionID: "1", IsFailed: true}, Terminal: true})
	assert.Contains(t, out.String(), "FAILED   price no bids")
}

func TestAuctionStatus(t *testing.T) {
	tests := []struct {
		snap auction.Snapshot
		want string
	}{
		{auction.Snapshot{}, "OPEN"},
		{auction.Snapshot{Terminal: true}, "ENDED"},
		{auction.Snapshot{Summary: model.AuctionSummary{IsWon: true}, Terminal: true}, "WON"},
		{auction.Snapshot{Summary: model.AuctionSummary{IsFailed: true}, Terminal: true}, "FAILED"},
		{auction.Snapshot{Summary: model.AuctionSummary{IsDeleted: true, IsWon: true}, Terminal: true}, "DELETED"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, auctionStatus(tt.snap))
	}
}

func TestPrinter_State(t *testing.T) {
	var out bytes.Buffer
	newPrinter(&out, "text").state(connection.StateConnected, connection.StateReconnecting)
	assert.Equal(t, "connection connected -> reconnecting\n", out.String())
}
