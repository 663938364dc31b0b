package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionState is the confirmation state of a locally issued bid.
type ActionState string

const (
	ActionStatePending   ActionState = "PENDING"
	ActionStateConfirmed ActionState = "CONFIRMED"
	ActionStateRejected  ActionState = "REJECTED"
)

// OptimisticAction is a bid shown locally before the server confirms it.
type OptimisticAction struct {
	ID          uuid.UUID   `json:"id"`
	AuctionID   string      `json:"auction_id"`
	BidderID    string      `json:"bidder_id"`
	Amount      int64       `json:"amount"`
	SubmittedAt time.Time   `json:"submitted_at"`
	State       ActionState `json:"state"`
	Reason      string      `json:"reason,omitempty"`
}

// NewOptimisticAction creates a pending action.
func NewOptimisticAction(auctionID, bidderID string, amount int64, submittedAt time.Time) OptimisticAction {
	return OptimisticAction{
		ID:          uuid.New(),
		AuctionID:   auctionID,
		BidderID:    bidderID,
		Amount:      amount,
		SubmittedAt: submittedAt,
		State:       ActionStatePending,
	}
}

// Pending reports whether the action still awaits confirmation.
func (a OptimisticAction) Pending() bool {
	return a.State == ActionStatePending
}
