package livebid_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mcdev12/livebid/go/internal/models"
)

// NotificationResponse is one stored notification.
type NotificationResponse struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      string           `json:"type"`
	Message   string           `json:"message"`
	AuctionID *string          `json:"auctionId"`
	Read      bool             `json:"read"`
	CreatedAt models.Timestamp `json:"createdAt"`
}

// GetNotifications lists the user's notifications, newest first.
func (c *LiveBidClient) GetNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	body, err := c.Get(ctx, fmt.Sprintf(notificationsPath, url.PathEscape(userID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications of %s: %w", userID, err)
	}

	var responses []NotificationResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	out := make([]models.Notification, 0, len(responses))
	for _, r := range responses {
		n := models.Notification{
			ID:        r.ID,
			UserID:    r.UserID,
			Type:      models.NotificationType(r.Type),
			Message:   r.Message,
			Read:      r.Read,
			CreatedAt: r.CreatedAt.Time,
		}
		if r.AuctionID != nil {
			n.AuctionID = *r.AuctionID
		}
		out = append(out, n)
	}
	return out, nil
}

// GetUnreadCount returns the number of unread notifications.
func (c *LiveBidClient) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	body, err := c.Get(ctx, fmt.Sprintf(unreadCountPath, url.PathEscape(userID)))
	if err != nil {
		return 0, fmt.Errorf("failed to get unread count of %s: %w", userID, err)
	}

	var response struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return response.Count, nil
}

// MarkNotificationRead marks one notification read.
func (c *LiveBidClient) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	endpoint := fmt.Sprintf(markReadPath, url.PathEscape(userID), url.PathEscape(notificationID))
	if _, err := c.Post(ctx, endpoint, nil); err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", notificationID, err)
	}
	return nil
}

// MarkAllNotificationsRead marks every notification of the user read.
func (c *LiveBidClient) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	if _, err := c.Post(ctx, fmt.Sprintf(markAllReadPath, url.PathEscape(userID)), nil); err != nil {
		return fmt.Errorf("failed to mark notifications of %s read: %w", userID, err)
	}
	return nil
}
