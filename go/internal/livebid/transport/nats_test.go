package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
)

func runNATSServer(t *testing.T, port int) *server.Server {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = port
	return natsserver.RunServer(&opts)
}

func publish(t *testing.T, url, subject, payload string) {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer nc.Close()
	if err := nc.Publish(subject, []byte(payload)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestNATSSessionSurvivesServerRestart(t *testing.T) {
	srv := runNATSServer(t, -1)
	port := srv.Addr().(*net.TCPAddr).Port
	url := srv.ClientURL()

	onStatus, statuses := statusRecorder()
	msgs := make(chan string, 8)

	s := NewSession(SessionOptions{
		Dialer:   NewNATSDialer(url),
		Topics:   []Topic{AuctionTopic("a1"), NotificationsTopic("u1")},
		OnStatus: onStatus,
		Config: Config{
			InitialBackoff: 20 * time.Millisecond,
			MaxBackoff:     100 * time.Millisecond,
			MaxRetries:     100,
		},
		Handler: func(topic Topic, payload []byte) {
			msgs <- string(topic) + " " + string(payload)
		},
	})
	s.Start(context.Background())
	defer s.Close()

	waitStatus(t, statuses, StatusConnected)
	publish(t, url, "auctions.a1", `{"newPrice":1100,"newLeaderId":"u2"}`)
	if got := receive(t, msgs); got != `auction:a1 {"newPrice":1100,"newLeaderId":"u2"}` {
		t.Fatalf("got %q", got)
	}

	srv.Shutdown()
	waitStatus(t, statuses, StatusReconnecting)

	srv = runNATSServer(t, port)
	defer srv.Shutdown()
	waitStatus(t, statuses, StatusConnected)

	publish(t, url, "users.u1.notifications", `{"id":"n1"}`)
	if got := receive(t, msgs); got != `user:u1:notifications {"id":"n1"}` {
		t.Fatalf("got %q", got)
	}
}

func TestNATSDialerRefusesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewNATSDialer("nats://127.0.0.1:1").Dial(ctx); err == nil {
		t.Fatal("expected error")
	}
}
