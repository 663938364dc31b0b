// Package transport keeps a push subscription alive: it dials a broker,
// subscribes the session's topics on every (re)connect and hands raw frames
// to a single handler.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Topic identifies a push channel, e.g. "auction:42" or "user:7".
type Topic string

const (
	auctionPrefix       = "auction:"
	userPrefix          = "user:"
	notificationsSuffix = ":notifications"
)

// AuctionTopic is the topic carrying bid and close events for one auction.
func AuctionTopic(auctionID string) Topic {
	return Topic(auctionPrefix + auctionID)
}

// UserTopic is the topic carrying balance events for one user.
func UserTopic(userID string) Topic {
	return Topic(userPrefix + userID)
}

// NotificationsTopic is the topic carrying notifications for one user.
func NotificationsTopic(userID string) Topic {
	return Topic(userPrefix + userID + notificationsSuffix)
}

// Subject maps a topic to its NATS subject. IDs must not contain dots.
func (t Topic) Subject() (string, error) {
	s := string(t)
	switch {
	case strings.HasPrefix(s, auctionPrefix):
		return "auctions." + strings.TrimPrefix(s, auctionPrefix), nil
	case strings.HasPrefix(s, userPrefix) && strings.HasSuffix(s, notificationsSuffix):
		id := strings.TrimSuffix(strings.TrimPrefix(s, userPrefix), notificationsSuffix)
		return "users." + id + ".notifications", nil
	case strings.HasPrefix(s, userPrefix):
		return "users." + strings.TrimPrefix(s, userPrefix), nil
	default:
		return "", fmt.Errorf("unknown topic %q", s)
	}
}

// TopicForSubject is the inverse of Topic.Subject.
func TopicForSubject(subject string) (Topic, error) {
	parts := strings.Split(subject, ".")
	switch {
	case len(parts) == 2 && parts[0] == "auctions" && parts[1] != "":
		return AuctionTopic(parts[1]), nil
	case len(parts) == 2 && parts[0] == "users" && parts[1] != "":
		return UserTopic(parts[1]), nil
	case len(parts) == 3 && parts[0] == "users" && parts[1] != "" && parts[2] == "notifications":
		return NotificationsTopic(parts[1]), nil
	default:
		return "", fmt.Errorf("unknown subject %q", subject)
	}
}

// Handler receives one raw payload. Handlers must not block for long; the
// session holds a delivery guard while they run.
type Handler func(topic Topic, payload []byte)

// Conn is one live broker connection.
type Conn interface {
	// Subscribe routes payloads published on topic to h.
	Subscribe(topic Topic, h Handler) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	// Name labels the transport in logs and metrics.
	Name() string
}

// Frame actions sent by clients over the WebSocket transport.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// ClientFrame is a control message from a WebSocket client.
type ClientFrame struct {
	Action string `json:"action"`
	Topic  Topic  `json:"topic"`
}

// ServerFrame carries one push payload to a WebSocket client.
type ServerFrame struct {
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}
