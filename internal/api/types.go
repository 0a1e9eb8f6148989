package api

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// ID accepts numeric and string JSON ids.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Amount accepts integer and numeric string prices.
type Amount int64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*a = Amount(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*a = Amount(math.Round(f))
	return nil
}

// AuctionResponse from GET /api/auctions/{id}
type AuctionResponse struct {
	ID           ID     `json:"id"`
	AuctionID    ID     `json:"auctionId"`
	Title        string `json:"title"`
	StartPrice   Amount `json:"startPrice"`
	CurrentPrice Amount `json:"currentPrice"`
	EndTime      string `json:"endTime"`
	Status       string `json:"status"` // ACTIVE, WON, FAILED, DELETED
	IsWon        bool   `json:"isWon"`
	IsFailed     bool   `json:"isFailed"`
	BidCount     int    `json:"bidCount"`
}

// BidResponse is one bid from the bids endpoint.
type BidResponse struct {
	ID             ID     `json:"id"`
	BidID          ID     `json:"bidId"`
	AuctionID      ID     `json:"auctionId"`
	BidderID       ID     `json:"bidderId"`
	BidderNickname string `json:"bidderNickname"`
	BidderName     string `json:"bidderName"`
	Price          Amount `json:"price"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
	BidTime        string `json:"bidTime"`
}

// BidPage from GET /api/auctions/{id}/bids
type BidPage struct {
	Content       []BidResponse `json:"content"`
	Page          int           `json:"number"`
	Size          int           `json:"size"`
	TotalElements int           `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
	Last          bool          `json:"last"`
}

// PlaceBidRequest is the body of POST /api/auctions/{id}/bids
type PlaceBidRequest struct {
	Price int64 `json:"price"`
}
