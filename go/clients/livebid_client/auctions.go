package livebid_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/mcdev12/livebid/go/internal/models"
)

// AuctionResponse is the server's auction representation.
type AuctionResponse struct {
	ID              string           `json:"id"`
	SellerID        string           `json:"sellerId"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	StartPrice      int64            `json:"startPrice"`
	CurrentPrice    int64            `json:"currentPrice"`
	CurrentLeaderID *string          `json:"currentLeaderId"`
	StartTime       models.Timestamp `json:"startTime"`
	EndTime         models.Timestamp `json:"endTime"`
	Status          string           `json:"status"`
}

// View converts the response into the reconciled view type.
func (r AuctionResponse) View() (models.AuctionView, error) {
	status := models.AuctionStatus(r.Status)
	if !status.Valid() {
		return models.AuctionView{}, fmt.Errorf("auction %s: unknown status %q", r.ID, r.Status)
	}
	if r.ID == "" {
		return models.AuctionView{}, fmt.Errorf("auction response without id")
	}
	view := models.AuctionView{
		ID:           r.ID,
		SellerID:     r.SellerID,
		Title:        r.Title,
		Description:  r.Description,
		StartPrice:   r.StartPrice,
		CurrentPrice: r.CurrentPrice,
		StartTime:    r.StartTime.Time,
		EndTime:      r.EndTime.Time,
		Status:       status,
	}
	if r.CurrentLeaderID != nil {
		view.LeaderID = *r.CurrentLeaderID
	}
	return view, nil
}

// CreateAuctionRequest is the body of POST /auctions.
type CreateAuctionRequest struct {
	SellerID    string    `json:"sellerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartPrice  int64     `json:"startPrice"`
	StartTime   time.Time `json:"-"`
	EndTime     time.Time `json:"-"`
}

// MarshalJSON writes times in the server's zone-less layout.
func (r CreateAuctionRequest) MarshalJSON() ([]byte, error) {
	type alias CreateAuctionRequest
	return json.Marshal(struct {
		alias
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
	}{
		alias:     alias(r),
		StartTime: r.StartTime.UTC().Format(models.LocalDateTimeLayout),
		EndTime:   r.EndTime.UTC().Format(models.LocalDateTimeLayout),
	})
}

type placeBidRequest struct {
	BidderID string `json:"bidderId"`
	Amount   int64  `json:"amount"`
}

// GetAuction fetches the authoritative snapshot of one auction.
func (c *LiveBidClient) GetAuction(ctx context.Context, auctionID string) (models.AuctionView, error) {
	body, err := c.Get(ctx, fmt.Sprintf(auctionPath, url.PathEscape(auctionID)))
	if err != nil {
		return models.AuctionView{}, fmt.Errorf("failed to get auction %s: %w", auctionID, err)
	}

	var response AuctionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return models.AuctionView{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return response.View()
}

// ListAuctions searches auctions by title and status. Empty filters are
// omitted.
func (c *LiveBidClient) ListAuctions(ctx context.Context, search string, status models.AuctionStatus) ([]models.AuctionView, error) {
	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}
	if status != "" {
		query.Set("status", string(status))
	}
	endpoint := auctionsPath
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	return decodeAuctions(body)
}

// CreateAuction creates a scheduled auction.
func (c *LiveBidClient) CreateAuction(ctx context.Context, req CreateAuctionRequest) (models.AuctionView, error) {
	body, err := c.PostJSON(ctx, auctionsPath, req)
	if err != nil {
		return models.AuctionView{}, fmt.Errorf("failed to create auction: %w", err)
	}

	var response AuctionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return models.AuctionView{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return response.View()
}

// StartAuction moves a scheduled auction to live.
func (c *LiveBidClient) StartAuction(ctx context.Context, auctionID string) error {
	if _, err := c.Post(ctx, fmt.Sprintf(startAuctionPath, url.PathEscape(auctionID)), nil); err != nil {
		return fmt.Errorf("failed to start auction %s: %w", auctionID, err)
	}
	return nil
}

// PlaceBid submits a bid. Success means the server accepted it for
// processing; confirmation arrives as a push event.
func (c *LiveBidClient) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) error {
	endpoint := fmt.Sprintf(bidsPath, url.PathEscape(auctionID))
	if _, err := c.PostJSON(ctx, endpoint, placeBidRequest{BidderID: bidderID, Amount: amount}); err != nil {
		return fmt.Errorf("failed to place bid on %s: %w", auctionID, err)
	}
	return nil
}

func decodeAuctions(body []byte) ([]models.AuctionView, error) {
	var responses []AuctionResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	views := make([]models.AuctionView, 0, len(responses))
	for _, r := range responses {
		v, err := r.View()
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}
