package events

import (
	"time"

	"github.com/mcdev12/livebid/go/internal/models"
)

// Kind represents the type of a normalized push event
type Kind string

const (
	KindBidPlaced            Kind = "BidPlaced"
	KindAuctionClosed        Kind = "AuctionClosed"
	KindBalanceChanged       Kind = "BalanceChanged"
	KindNotificationReceived Kind = "NotificationReceived"
	KindUnrecognized         Kind = "Unrecognized"
)

// Event is the tagged variant produced by the normalizer. Exactly one payload
// pointer is set, matching Kind; Unrecognized events carry only a Reason.
type Event struct {
	Kind   Kind
	Reason string

	BidPlaced      *BidPlaced
	AuctionClosed  *AuctionClosed
	BalanceChanged *BalanceChanged
	Notification   *models.Notification
}

// BidPlaced reports a bid the server accepted.
type BidPlaced struct {
	AuctionID   string
	NewPrice    int64
	NewLeaderID string
	EndTime     time.Time // zero unless the server extended the auction
}

// AuctionClosed reports the server closing an auction.
type AuctionClosed struct {
	AuctionID    string
	WinnerID     string // empty when the auction closed without bids
	ClosingPrice int64
}

// BalanceChanged reports new balances for a user.
type BalanceChanged struct {
	UserID    string
	Available int64
	Reserved  int64
}

// AuctionID returns the auction the event refers to, if any.
func (e Event) AuctionID() string {
	switch e.Kind {
	case KindBidPlaced:
		return e.BidPlaced.AuctionID
	case KindAuctionClosed:
		return e.AuctionClosed.AuctionID
	case KindNotificationReceived:
		return e.Notification.AuctionID
	default:
		return ""
	}
}

func unrecognized(reason string) Event {
	return Event{Kind: KindUnrecognized, Reason: reason}
}
