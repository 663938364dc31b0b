package events

import (
	"testing"
	"time"
)

func TestClassifyBidPlaced(t *testing.T) {
	ev := Classify([]byte(`{"auctionId":"a1","newPrice":1100,"newLeaderId":"u2"}`))
	if ev.Kind != KindBidPlaced {
		t.Fatalf("kind = %s (%s)", ev.Kind, ev.Reason)
	}
	if ev.BidPlaced.NewPrice != 1100 || ev.BidPlaced.NewLeaderID != "u2" || ev.AuctionID() != "a1" {
		t.Fatalf("unexpected payload: %+v", ev.BidPlaced)
	}
	if !ev.BidPlaced.EndTime.IsZero() {
		t.Fatalf("end time should be zero: %v", ev.BidPlaced.EndTime)
	}
}

func TestClassifyBidPlacedWithExtension(t *testing.T) {
	ev := Classify([]byte(`{"newPrice":1100,"newLeaderId":"u2","endTime":"2024-05-01T10:00:30"}`))
	if ev.Kind != KindBidPlaced {
		t.Fatalf("kind = %s (%s)", ev.Kind, ev.Reason)
	}
	want := time.Date(2024, 5, 1, 10, 0, 30, 0, time.UTC)
	if !ev.BidPlaced.EndTime.Equal(want) {
		t.Fatalf("end time = %v, want %v", ev.BidPlaced.EndTime, want)
	}
}

func TestClassifyAuctionClosed(t *testing.T) {
	ev := Classify([]byte(`{"auctionId":"a1","winnerId":"u2","closingPrice":1100}`))
	if ev.Kind != KindAuctionClosed {
		t.Fatalf("kind = %s (%s)", ev.Kind, ev.Reason)
	}
	if ev.AuctionClosed.WinnerID != "u2" || ev.AuctionClosed.ClosingPrice != 1100 {
		t.Fatalf("unexpected payload: %+v", ev.AuctionClosed)
	}

	noBids := Classify([]byte(`{"auctionId":"a1","winnerId":null,"closingPrice":1000}`))
	if noBids.Kind != KindAuctionClosed || noBids.AuctionClosed.WinnerID != "" {
		t.Fatalf("closing without winner = %+v", noBids)
	}
}

func TestClassifyBalanceChanged(t *testing.T) {
	ev := Classify([]byte(`{"userId":"u1","availableBalance":5000,"reservedBalance":1100}`))
	if ev.Kind != KindBalanceChanged {
		t.Fatalf("kind = %s (%s)", ev.Kind, ev.Reason)
	}
	if ev.BalanceChanged.Available != 5000 || ev.BalanceChanged.Reserved != 1100 {
		t.Fatalf("unexpected payload: %+v", ev.BalanceChanged)
	}
}

func TestClassifyNotification(t *testing.T) {
	ev := Classify([]byte(`{"id":"n1","userId":"u1","type":"OUTBID","message":"You've been outbid","auctionId":"a1","read":false,"createdAt":"2024-05-01T10:00:00"}`))
	if ev.Kind != KindNotificationReceived {
		t.Fatalf("kind = %s (%s)", ev.Kind, ev.Reason)
	}
	if ev.Notification.Type != "OUTBID" || ev.AuctionID() != "a1" {
		t.Fatalf("unexpected payload: %+v", ev.Notification)
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	cases := map[string]string{
		``:                                            ReasonInvalidJSON,
		`{not json`:                                   ReasonInvalidJSON,
		`[1,2,3]`:                                     ReasonNotObject,
		`"hello"`:                                     ReasonNotObject,
		`{"type":"ping"}`:                             ReasonUnknownShape,
		`{"newPrice":"1100","newLeaderId":"u2"}`:      ReasonInvalidField,
		`{"newPrice":11.5,"newLeaderId":"u2"}`:        ReasonInvalidField,
		`{"newPrice":-5,"newLeaderId":"u2"}`:          ReasonInvalidField,
		`{"newPrice":1100,"newLeaderId":""}`:          ReasonInvalidField,
		`{"newPrice":1100,"newLeaderId":null}`:        ReasonInvalidField,
		`{"winnerId":7,"closingPrice":1100}`:          ReasonInvalidField,
		`{"userId":"u1","availableBalance":true,"reservedBalance":0}`: ReasonInvalidField,
	}
	for raw, reason := range cases {
		ev := Classify([]byte(raw))
		if ev.Kind != KindUnrecognized {
			t.Errorf("Classify(%q) = %s, want Unrecognized", raw, ev.Kind)
			continue
		}
		if ev.Reason != reason {
			t.Errorf("Classify(%q) reason = %s, want %s", raw, ev.Reason, reason)
		}
	}
}

type countingCollector struct {
	reasons []string
}

func (c *countingCollector) RecordUnrecognizedEvent(reason string)        { c.reasons = append(c.reasons, reason) }
func (c *countingCollector) RecordEventApplied(kind string, applied bool) {}
func (c *countingCollector) RecordReconnect(transport string)             {}
func (c *countingCollector) RecordBidOutcome(outcome string)              {}

func TestNormalizerCountsDroppedPayloads(t *testing.T) {
	collector := &countingCollector{}
	n := NewNormalizer(collector)

	n.Normalize("auction:a1", []byte(`{"newPrice":1100,"newLeaderId":"u2"}`))
	n.Normalize("auction:a1", []byte(`garbage`))
	n.Normalize("auction:a1", []byte(`{"hello":"world"}`))

	if got := n.Unrecognized(); got != 2 {
		t.Fatalf("Unrecognized() = %d, want 2", got)
	}
	if len(collector.reasons) != 2 || collector.reasons[0] != ReasonInvalidJSON || collector.reasons[1] != ReasonUnknownShape {
		t.Fatalf("reasons = %v", collector.reasons)
	}
}
