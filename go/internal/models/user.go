package models

import "time"

// UserBalanceView holds the funds of the signed-in user.
type UserBalanceView struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
}

// NotificationType defines the kind of a user notification.
type NotificationType string

const (
	NotificationTypeOutbid         NotificationType = "OUTBID"
	NotificationTypeAuctionWon     NotificationType = "AUCTION_WON"
	NotificationTypeSaleComplete   NotificationType = "SALE_COMPLETE"
	NotificationTypeAuctionStarted NotificationType = "AUCTION_STARTED"
)

// Notification is a message addressed to a single user.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	AuctionID string           `json:"auction_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// Settlement is a closed sale, listed on a profile as a sale or a purchase.
// The counterparty is the buyer for a sale and the seller for a purchase.
type Settlement struct {
	ID                string    `json:"id"`
	AuctionID         string    `json:"auction_id"`
	AuctionTitle      string    `json:"auction_title"`
	CounterpartyID    string    `json:"counterparty_id"`
	CounterpartyEmail string    `json:"counterparty_email"`
	Amount            int64     `json:"amount"`
	CreatedAt         time.Time `json:"created_at"`
}
