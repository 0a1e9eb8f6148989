package auction

import (
	"sort"

	"github.com/rickgao/auction-sync/internal/model"
)

// RecomputeCurrentPrice returns the highest price among non-canceled bids,
// or 0 when none exist. Use HasActiveBids, not a zero check, to decide
// whether an auction is still awaiting bids.
func RecomputeCurrentPrice(bids []model.Bid) int64 {
	var current int64
	for _, b := range bids {
		if b.Status == model.StatusCanceled {
			continue
		}
		if b.Price > current {
			current = b.Price
		}
	}
	return current
}

// HasActiveBids reports whether any bid is not canceled.
func HasActiveBids(bids []model.Bid) bool {
	for _, b := range bids {
		if b.Status != model.StatusCanceled {
			return true
		}
	}
	return false
}

// SortBids returns a copy of bids in display order: WON, ACTIVE, CANCELED,
// then newest first, then highest price first. Missing timestamps sort as oldest.
func SortBids(bids []model.Bid) []model.Bid {
	out := make([]model.Bid, len(bids))
	copy(out, bids)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := a.Status.Priority(), b.Status.Priority(); pa != pb {
			return pa < pb
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Price > b.Price
	})
	return out
}
