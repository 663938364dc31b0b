package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTopicSubjects(t *testing.T) {
	tests := []struct {
		topic   Topic
		subject string
	}{
		{AuctionTopic("42"), "auctions.42"},
		{UserTopic("u1"), "users.u1"},
		{NotificationsTopic("u1"), "users.u1.notifications"},
	}
	for _, tt := range tests {
		subject, err := tt.topic.Subject()
		if err != nil || subject != tt.subject {
			t.Errorf("%s.Subject() = %q, %v; want %q", tt.topic, subject, err, tt.subject)
		}
		topic, err := TopicForSubject(tt.subject)
		if err != nil || topic != tt.topic {
			t.Errorf("TopicForSubject(%q) = %q, %v; want %q", tt.subject, topic, err, tt.topic)
		}
	}

	if _, err := Topic("draft:1").Subject(); err == nil {
		t.Error("expected error for unknown topic")
	}
	for _, subject := range []string{"auctions", "users..notifications", "drafts.1", "users.u1.bids"} {
		if _, err := TopicForSubject(subject); err == nil {
			t.Errorf("TopicForSubject(%q) should fail", subject)
		}
	}
}

// pushServer accepts one subscribe frame and answers with a payload on the
// subscribed topic.
func pushServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()

		var frame ClientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Action != ActionSubscribe {
			t.Errorf("action = %q", frame.Action)
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte("not json"))
		ws.WriteJSON(ServerFrame{Topic: "auction:other", Payload: []byte(`{"newPrice":1}`)})
		ws.WriteJSON(ServerFrame{Topic: frame.Topic, Payload: []byte(`{"newPrice":1100}`)})

		// hold the socket until the client goes away
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketDialerSubscribesAndDelivers(t *testing.T) {
	srv := pushServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := NewWebSocketDialer(url).Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	got := make(chan string, 4)
	if err := conn.Subscribe(AuctionTopic("a1"), func(topic Topic, payload []byte) {
		got <- string(topic) + " " + string(payload)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case msg := <-got:
		if msg != `auction:a1 {"newPrice":1100}` {
			t.Fatalf("got %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for payload")
	}

	if err := conn.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestWebSocketDoneClosesWhenServerGoesAway(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer srv.Close()

	conn, err := NewWebSocketDialer("ws" + strings.TrimPrefix(srv.URL, "http")).Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after server hangup")
	}
}
