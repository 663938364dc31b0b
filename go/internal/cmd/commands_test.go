package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcdev12/livebid/go/internal/config"
	"github.com/mcdev12/livebid/go/internal/livebid/countdown"
	"github.com/mcdev12/livebid/go/internal/livebid/engine"
	"github.com/mcdev12/livebid/go/internal/livebid/transport"
	"github.com/mcdev12/livebid/go/internal/models"
)

func TestStatusLine(t *testing.T) {
	snap := engine.Snapshot{
		View: models.AuctionView{
			ID:           "a1",
			Title:        "Vintage camera",
			CurrentPrice: 1100,
			LeaderID:     "u2",
			Status:       models.AuctionStatusLive,
		},
		MinNextBid:   1210,
		Balance:      models.UserBalanceView{Available: 4000, Reserved: 0},
		BalanceKnown: true,
	}
	tick := countdown.Tick{Display: "42s", Urgent: true}

	got := statusLine(snap, tick, transport.StatusReconnecting)
	want := "[LIVE] Vintage camera  price 1100  leader u2  min bid 1210  42s!  available 4000 reserved 0  (reconnecting)"
	if got != want {
		t.Fatalf("statusLine =\n%q\nwant\n%q", got, want)
	}

	snap.View.Status = models.AuctionStatusClosed
	snap.BalanceKnown = false
	got = statusLine(snap, countdown.Tick{Display: countdown.EndedDisplay, Ended: true}, transport.StatusConnected)
	if got != "[CLOSED] Vintage camera  price 1100  leader u2  Ended" {
		t.Fatalf("closed statusLine = %q", got)
	}
}

func TestPrinterPrintsOnlyNewActivity(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{out: &buf}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := models.ActivityEntry{Kind: models.ActivityKindBid, Amount: 1100, ActorID: "u2", ObservedAt: at}
	second := models.ActivityEntry{Kind: models.ActivityKindBid, Amount: 1210, ActorID: "u3", ObservedAt: at.Add(time.Second)}
	third := models.ActivityEntry{Kind: models.ActivityKindStatusChange, Status: models.AuctionStatusClosed, ObservedAt: at.Add(2 * time.Second)}

	p.activity([]models.ActivityEntry{first})
	p.activity([]models.ActivityEntry{first})
	p.activity([]models.ActivityEntry{third, second, first})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasSuffix(lines[0], "u2 bid 1100") || !strings.HasSuffix(lines[1], "u3 bid 1210") || !strings.HasSuffix(lines[2], "auction is CLOSED") {
		t.Fatalf("lines = %q", lines)
	}
}

func TestClosedSummary(t *testing.T) {
	if got := closedSummary(models.AuctionView{ID: "a1", CurrentPrice: 1000}); got != "a1 closed without bids" {
		t.Errorf("no leader: %q", got)
	}
	if got := closedSummary(models.AuctionView{ID: "a1", CurrentPrice: 1100, LeaderID: "u2"}); got != "a1 sold to u2 for 1100" {
		t.Errorf("sold: %q", got)
	}
}

func TestNewDialer(t *testing.T) {
	d, err := newDialer(config.PushConfig{Transport: config.TransportNATS, URL: "nats://broker:4222"}, "u1")
	if err != nil || d.Name() != "nats" {
		t.Fatalf("nats dialer = %v, %v", d, err)
	}

	d, err = newDialer(config.PushConfig{Transport: config.TransportWebSocket, URL: "ws://gw/ws"}, "u1")
	if err != nil {
		t.Fatalf("websocket dialer: %v", err)
	}
	ws, ok := d.(*transport.WebSocketDialer)
	if !ok || ws.URL != "ws://gw/ws?user_id=u1" {
		t.Fatalf("websocket dialer = %#v", d)
	}

	d, err = newDialer(config.PushConfig{Transport: config.TransportWebSocket, URL: "wss://gw/ws?region=eu&user_id=old"}, "u 1&admin=true")
	if err != nil {
		t.Fatalf("websocket dialer: %v", err)
	}
	if got := d.(*transport.WebSocketDialer).URL; got != "wss://gw/ws?region=eu&user_id=u+1%26admin%3Dtrue" {
		t.Fatalf("websocket url = %q", got)
	}

	if _, err := newDialer(config.PushConfig{Transport: config.TransportWebSocket, URL: "ws://gw/%zz"}, "u1"); err == nil {
		t.Fatal("expected error for malformed url")
	}

	if _, err := newDialer(config.PushConfig{Transport: "smoke"}, ""); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestRunRejectsBadUsage(t *testing.T) {
	services, err := setupServices(config.Default(), "")
	if err != nil {
		t.Fatalf("setupServices: %v", err)
	}
	for _, args := range [][]string{nil, {"watch"}, {"bid", "a1"}, {"start", "a1", "extra"}, {"sell", "a1"}} {
		if err := run(context.Background(), services, args); !errors.Is(err, errUsage) {
			t.Errorf("run(%q) = %v, want usage error", args, err)
		}
	}
}

func TestExecuteReturnsExitCode(t *testing.T) {
	t.Setenv("LIVEBID_CONFIG", "")
	args := os.Args
	t.Cleanup(func() { os.Args = args })

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", []string{"livebid"}, 2},
		{"unknown command", []string{"livebid", "sell", "a1"}, 2},
		{"missing config", []string{"livebid", "-config", filepath.Join(t.TempDir(), "absent.yaml"), "watch", "a1"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			if got := execute(); got != tt.want {
				t.Fatalf("execute() = %d, want %d", got, tt.want)
			}
		})
	}
}
