// Package topic builds and parses push topic destinations.
package topic

import (
	"fmt"
	"strings"
)

const (
	auctionPrefix      = "/topic/auction/"
	notificationPrefix = "/topic/notification/"
)

// Kind is the auction topic suffix.
type Kind string

const (
	KindBid     Kind = "bid"
	KindWon     Kind = "won"
	KindFailed  Kind = "failed"
	KindDeleted Kind = "deleted"
)

// AuctionKinds lists every per-auction topic a live view subscribes to.
var AuctionKinds = []Kind{KindBid, KindWon, KindFailed, KindDeleted}

// Auction returns the destination for kind on auctionID.
func Auction(auctionID string, kind Kind) string {
	return auctionPrefix + auctionID + "/" + string(kind)
}

// AuctionAll returns all per-auction destinations in AuctionKinds order.
func AuctionAll(auctionID string) []string {
	out := make([]string, 0, len(AuctionKinds))
	for _, k := range AuctionKinds {
		out = append(out, Auction(auctionID, k))
	}
	return out
}

// Notification returns the user notification destination.
func Notification(userID string) string {
	return notificationPrefix + userID
}

// ParseAuction splits an auction destination into its id and kind.
func ParseAuction(dest string) (auctionID string, kind Kind, err error) {
	rest, ok := strings.CutPrefix(dest, auctionPrefix)
	if !ok {
		return "", "", fmt.Errorf("not an auction topic: %q", dest)
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("malformed auction topic: %q", dest)
	}
	auctionID, kind = rest[:i], Kind(rest[i+1:])
	switch kind {
	case KindBid, KindWon, KindFailed, KindDeleted:
		return auctionID, kind, nil
	default:
		return "", "", fmt.Errorf("unknown auction topic kind %q", kind)
	}
}

// IsNotification reports whether dest is a user notification topic.
func IsNotification(dest string) bool {
	return strings.HasPrefix(dest, notificationPrefix) && len(dest) > len(notificationPrefix)
}
