package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/livebid/metrics"
	"github.com/mcdev12/livebid/go/internal/models"
)

// Unrecognized reasons
const (
	ReasonInvalidJSON  = "invalid_json"
	ReasonNotObject    = "not_object"
	ReasonUnknownShape = "unknown_shape"
	ReasonInvalidField = "invalid_field"
)

// fields is a decoded JSON object whose values are still raw.
type fields map[string]json.RawMessage

func (f fields) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := f[k]; !ok {
			return false
		}
	}
	return true
}

func (f fields) isNull(key string) bool {
	return bytes.Equal(bytes.TrimSpace(f[key]), []byte("null"))
}

// integer decodes an integral JSON number.
func (f fields) integer(key string) (int64, error) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(f[key]))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return 0, fmt.Errorf("%s: not a number", key)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: not an integer", key)
	}
	return v, nil
}

// str decodes a JSON string; null yields "" when nullable.
func (f fields) str(key string, nullable bool) (string, error) {
	if f.isNull(key) {
		if nullable {
			return "", nil
		}
		return "", fmt.Errorf("%s: null", key)
	}
	var s string
	if err := json.Unmarshal(f[key], &s); err != nil {
		return "", fmt.Errorf("%s: not a string", key)
	}
	return s, nil
}

// optionalStr decodes key when present, yielding "" otherwise.
func (f fields) optionalStr(key string) (string, error) {
	if !f.has(key) {
		return "", nil
	}
	return f.str(key, true)
}

// Classify inspects a raw payload and returns the event it describes.
// It never fails: malformed input classifies as Unrecognized.
func Classify(raw []byte) Event {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return unrecognized(ReasonInvalidJSON)
	}
	if trimmed[0] != '{' {
		return unrecognized(ReasonNotObject)
	}

	var f fields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return unrecognized(ReasonInvalidJSON)
	}

	var (
		ev  Event
		err error
	)
	switch {
	case f.has("newPrice", "newLeaderId"):
		ev, err = bidPlaced(f)
	case f.has("winnerId", "closingPrice"):
		ev, err = auctionClosed(f)
	case f.has("userId", "availableBalance", "reservedBalance"):
		ev, err = balanceChanged(f)
	case f.has("id", "type", "message"):
		ev, err = notification(f)
	default:
		return unrecognized(ReasonUnknownShape)
	}
	if err != nil {
		return unrecognized(ReasonInvalidField)
	}
	return ev
}

func bidPlaced(f fields) (Event, error) {
	price, err := f.integer("newPrice")
	if err != nil {
		return Event{}, err
	}
	if price <= 0 {
		return Event{}, fmt.Errorf("newPrice: not positive")
	}
	leader, err := f.str("newLeaderId", false)
	if err != nil {
		return Event{}, err
	}
	if leader == "" {
		return Event{}, fmt.Errorf("newLeaderId: empty")
	}
	auctionID, err := f.optionalStr("auctionId")
	if err != nil {
		return Event{}, err
	}

	bp := &BidPlaced{AuctionID: auctionID, NewPrice: price, NewLeaderID: leader}
	if f.has("endTime") && !f.isNull("endTime") {
		var ts models.Timestamp
		if err := json.Unmarshal(f["endTime"], &ts); err != nil {
			return Event{}, fmt.Errorf("endTime: %w", err)
		}
		bp.EndTime = ts.Time
	}
	return Event{Kind: KindBidPlaced, BidPlaced: bp}, nil
}

func auctionClosed(f fields) (Event, error) {
	price, err := f.integer("closingPrice")
	if err != nil {
		return Event{}, err
	}
	if price < 0 {
		return Event{}, fmt.Errorf("closingPrice: negative")
	}
	winner, err := f.str("winnerId", true)
	if err != nil {
		return Event{}, err
	}
	auctionID, err := f.optionalStr("auctionId")
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:          KindAuctionClosed,
		AuctionClosed: &AuctionClosed{AuctionID: auctionID, WinnerID: winner, ClosingPrice: price},
	}, nil
}

func balanceChanged(f fields) (Event, error) {
	userID, err := f.str("userId", false)
	if err != nil {
		return Event{}, err
	}
	available, err := f.integer("availableBalance")
	if err != nil {
		return Event{}, err
	}
	reserved, err := f.integer("reservedBalance")
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:           KindBalanceChanged,
		BalanceChanged: &BalanceChanged{UserID: userID, Available: available, Reserved: reserved},
	}, nil
}

func notification(f fields) (Event, error) {
	var n struct {
		ID        string           `json:"id"`
		UserID    string           `json:"userId"`
		Type      string           `json:"type"`
		Message   string           `json:"message"`
		AuctionID string           `json:"auctionId"`
		Read      bool             `json:"read"`
		CreatedAt models.Timestamp `json:"createdAt"`
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return Event{}, err
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return Event{}, err
	}
	if n.ID == "" || n.Type == "" {
		return Event{}, fmt.Errorf("notification: missing id or type")
	}
	return Event{
		Kind: KindNotificationReceived,
		Notification: &models.Notification{
			ID:        n.ID,
			UserID:    n.UserID,
			Type:      models.NotificationType(n.Type),
			Message:   n.Message,
			AuctionID: n.AuctionID,
			Read:      n.Read,
			CreatedAt: n.CreatedAt.Time,
		},
	}, nil
}

// Normalizer classifies payloads and accounts for the ones it drops.
type Normalizer struct {
	metrics      metrics.Collector
	unrecognized atomic.Uint64
}

// NewNormalizer creates a normalizer. A nil collector disables metrics.
func NewNormalizer(collector metrics.Collector) *Normalizer {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Normalizer{metrics: collector}
}

// Normalize classifies a payload received on topic. Unrecognized payloads are
// counted and logged at debug level; callers drop them.
func (n *Normalizer) Normalize(topic string, raw []byte) Event {
	ev := Classify(raw)
	if ev.Kind == KindUnrecognized {
		n.unrecognized.Add(1)
		n.metrics.RecordUnrecognizedEvent(ev.Reason)
		log.Debug().
			Str("topic", topic).
			Str("reason", ev.Reason).
			Int("bytes", len(raw)).
			Msg("dropping unrecognized push payload")
	}
	return ev
}

// Unrecognized returns how many payloads have been dropped.
func (n *Normalizer) Unrecognized() uint64 {
	return n.unrecognized.Load()
}
