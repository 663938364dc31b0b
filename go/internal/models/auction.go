package models

import (
	"time"
)

// AuctionStatus defines the lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusScheduled AuctionStatus = "SCHEDULED"
	AuctionStatusLive      AuctionStatus = "LIVE"
	AuctionStatusClosing   AuctionStatus = "CLOSING"
	AuctionStatusClosed    AuctionStatus = "CLOSED"
)

// rank orders statuses so transitions can be checked for monotonicity.
func (s AuctionStatus) rank() int {
	switch s {
	case AuctionStatusScheduled:
		return 1
	case AuctionStatusLive:
		return 2
	case AuctionStatusClosing:
		return 3
	case AuctionStatusClosed:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s AuctionStatus) Valid() bool {
	return s.rank() > 0
}

// Before reports whether s comes strictly before other in the lifecycle.
func (s AuctionStatus) Before(other AuctionStatus) bool {
	return s.rank() < other.rank()
}

// MaxStatus returns the later of two statuses.
func MaxStatus(a, b AuctionStatus) AuctionStatus {
	if a.Before(b) {
		return b
	}
	return a
}

// AuctionView is the reconciled projection of an auction shown to a user.
type AuctionView struct {
	ID           string        `json:"id"`
	SellerID     string        `json:"seller_id,omitempty"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	StartPrice   int64         `json:"start_price"`
	CurrentPrice int64         `json:"current_price"`
	LeaderID     string        `json:"leader_id,omitempty"` // empty when nobody has bid
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Status       AuctionStatus `json:"status"`
	Sequence     uint64        `json:"sequence"`
}

// HasLeader reports whether somebody currently leads the auction.
func (v AuctionView) HasLeader() bool {
	return v.LeaderID != ""
}

// IsLive reports whether bids may currently be placed.
func (v AuctionView) IsLive() bool {
	return v.Status == AuctionStatusLive
}

// ActivityKind classifies an activity entry.
type ActivityKind string

const (
	ActivityKindBid          ActivityKind = "BID"
	ActivityKindStatusChange ActivityKind = "STATUS_CHANGE"
)

// ActivityEntry is one bid or status change shown in the recent activity feed.
// ObservedAt is the client receipt time, never the server's.
type ActivityEntry struct {
	Kind       ActivityKind  `json:"kind"`
	Amount     int64         `json:"amount"`
	ActorID    string        `json:"actor_id,omitempty"`
	Status     AuctionStatus `json:"status,omitempty"`
	ObservedAt time.Time     `json:"observed_at"`
}
