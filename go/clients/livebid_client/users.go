package livebid_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mcdev12/livebid/go/internal/models"
)

// UserResponse is the server's user representation.
type UserResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	AvailableBalance int64  `json:"availableBalance"`
	ReservedBalance  int64  `json:"reservedBalance"`
}

// SettlementResponse is one closed sale seen from a profile.
type SettlementResponse struct {
	ID                string           `json:"id"`
	AuctionID         string           `json:"auctionId"`
	AuctionTitle      string           `json:"auctionTitle"`
	CounterpartyID    string           `json:"counterpartyId"`
	CounterpartyEmail string           `json:"counterpartyEmail"`
	Amount            int64            `json:"amount"`
	CreatedAt         models.Timestamp `json:"createdAt"`
}

// GetUser fetches the user's balances.
func (c *LiveBidClient) GetUser(ctx context.Context, userID string) (models.UserBalanceView, error) {
	body, err := c.Get(ctx, fmt.Sprintf(userPath, url.PathEscape(userID)))
	if err != nil {
		return models.UserBalanceView{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	var response UserResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return models.UserBalanceView{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return models.UserBalanceView{
		UserID:    response.ID,
		Email:     response.Email,
		Available: response.AvailableBalance,
		Reserved:  response.ReservedBalance,
	}, nil
}

// GetUserAuctions lists auctions the user is selling.
func (c *LiveBidClient) GetUserAuctions(ctx context.Context, userID string) ([]models.AuctionView, error) {
	body, err := c.Get(ctx, fmt.Sprintf(userAuctionsPath, url.PathEscape(userID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get auctions of %s: %w", userID, err)
	}
	return decodeAuctions(body)
}

// GetUserBids lists auctions the user has bid on.
func (c *LiveBidClient) GetUserBids(ctx context.Context, userID string) ([]models.AuctionView, error) {
	body, err := c.Get(ctx, fmt.Sprintf(userBidsPath, url.PathEscape(userID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get bids of %s: %w", userID, err)
	}
	return decodeAuctions(body)
}

// GetUserSales lists settlements where the user sold.
func (c *LiveBidClient) GetUserSales(ctx context.Context, userID string) ([]models.Settlement, error) {
	body, err := c.Get(ctx, fmt.Sprintf(userSalesPath, url.PathEscape(userID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get sales of %s: %w", userID, err)
	}
	return decodeSettlements(body)
}

// GetUserPurchases lists settlements where the user won.
func (c *LiveBidClient) GetUserPurchases(ctx context.Context, userID string) ([]models.Settlement, error) {
	body, err := c.Get(ctx, fmt.Sprintf(userPurchasesPath, url.PathEscape(userID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get purchases of %s: %w", userID, err)
	}
	return decodeSettlements(body)
}

func decodeSettlements(body []byte) ([]models.Settlement, error) {
	var responses []SettlementResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	settlements := make([]models.Settlement, 0, len(responses))
	for _, r := range responses {
		settlements = append(settlements, models.Settlement{
			ID:                r.ID,
			AuctionID:         r.AuctionID,
			AuctionTitle:      r.AuctionTitle,
			CounterpartyID:    r.CounterpartyID,
			CounterpartyEmail: r.CounterpartyEmail,
			Amount:            r.Amount,
			CreatedAt:         r.CreatedAt.Time,
		})
	}
	return settlements, nil
}
