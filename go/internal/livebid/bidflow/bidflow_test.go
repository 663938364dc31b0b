package bidflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/livebid/go/internal/livebid/events"
	"github.com/mcdev12/livebid/go/internal/livebid/store"
	"github.com/mcdev12/livebid/go/internal/models"
)

// ownerLoop runs posted functions on one goroutine, like the engine loop.
type ownerLoop struct {
	ch   chan func()
	quit chan struct{}
	wg   sync.WaitGroup
}

func newOwnerLoop(t *testing.T) *ownerLoop {
	l := &ownerLoop{ch: make(chan func()), quit: make(chan struct{})}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case fn := <-l.ch:
				fn()
			case <-l.quit:
				return
			}
		}
	}()
	t.Cleanup(l.stop)
	return l
}

func (l *ownerLoop) post(fn func()) bool {
	select {
	case l.ch <- fn:
		return true
	case <-l.quit:
		return false
	}
}

func (l *ownerLoop) do(fn func()) {
	done := make(chan struct{})
	if l.post(func() { fn(); close(done) }) {
		<-done
	}
}

func (l *ownerLoop) stop() {
	select {
	case <-l.quit:
	default:
		close(l.quit)
		l.wg.Wait()
	}
}

type rejection struct{ reason string }

func (r *rejection) Error() string           { return "422: " + r.reason }
func (r *rejection) RejectionReason() string { return r.reason }

type fakePlacer struct {
	mu      sync.Mutex
	calls   int
	err     error
	release chan struct{}
}

func (p *fakePlacer) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) error {
	p.mu.Lock()
	p.calls++
	release := p.release
	err := p.err
	p.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *fakePlacer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	loop   *ownerLoop
	store  *store.Store
	flow   *Flow
	placer *fakePlacer
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T, status models.AuctionStatus) *fixture {
	t.Helper()
	fc := clockwork.NewFakeClock()
	s := store.New(store.Options{Clock: fc})
	s.LoadSnapshot(models.AuctionView{
		ID:           "a1",
		CurrentPrice: 1000,
		StartPrice:   1000,
		EndTime:      fc.Now().Add(time.Hour),
		Status:       status,
	})
	loop := newOwnerLoop(t)
	placer := &fakePlacer{}
	flow := New(Options{
		Store:          s,
		Placer:         placer,
		Post:           loop.post,
		Clock:          fc,
		ConfirmTimeout: 10 * time.Second,
	})
	return &fixture{loop: loop, store: s, flow: flow, placer: placer, clock: fc}
}

func (f *fixture) submit(bidder string, amount int64) (<-chan Result, error) {
	var ch <-chan Result
	var err error
	f.loop.do(func() { ch, err = f.flow.Submit(bidder, amount) })
	return ch, err
}

func (f *fixture) view() models.AuctionView {
	var v models.AuctionView
	f.loop.do(func() { v = f.store.View() })
	return v
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r, ok := <-ch:
		if !ok {
			t.Fatal("result channel closed without a value")
		}
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestLocalRejectionsMakeNoNetworkCall(t *testing.T) {
	tests := []struct {
		name   string
		status models.AuctionStatus
		bidder string
		amount int64
		want   error
	}{
		{"unauthenticated", models.AuctionStatusLive, "", 2000, ErrUnauthenticated},
		{"zero amount", models.AuctionStatusLive, "u1", 0, ErrInvalidAmount},
		{"negative amount", models.AuctionStatusLive, "u1", -5, ErrInvalidAmount},
		{"scheduled", models.AuctionStatusScheduled, "u1", 2000, ErrNotLive},
		{"closed", models.AuctionStatusClosed, "u1", 2000, ErrNotLive},
		{"below minimum", models.AuctionStatusLive, "u1", 1099, ErrBelowMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.status)
			_, err := f.submit(tt.bidder, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if f.placer.callCount() != 0 {
				t.Fatal("network call made for a local rejection")
			}
			if v := f.view(); v.CurrentPrice != 1000 {
				t.Fatalf("view changed: %+v", v)
			}
		})
	}
}

func TestSecondBidWhilePendingIsRejectedLocally(t *testing.T) {
	f := newFixture(t, models.AuctionStatusLive)
	f.placer.release = make(chan struct{})
	defer close(f.placer.release)

	if _, err := f.submit("u1", 1100); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if _, err := f.submit("u1", 5000); !errors.Is(err, ErrBidPending) {
		t.Fatalf("second bid err = %v", err)
	}

	// give the first network call a chance to start
	deadline := time.Now().Add(5 * time.Second)
	for f.placer.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := f.placer.callCount(); got != 1 {
		t.Fatalf("network calls = %d, want 1", got)
	}
}

func TestServerRejectionRollsBackWithReason(t *testing.T) {
	f := newFixture(t, models.AuctionStatusLive)
	f.placer.err = &rejection{reason: "Insufficient balance"}

	ch, err := f.submit("u1", 1200)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	r := waitResult(t, ch)
	if r.Confirmed() || r.Action.State != models.ActionStateRejected {
		t.Fatalf("result = %+v", r)
	}
	if r.Action.Reason != "Insufficient balance" {
		t.Fatalf("reason = %q", r.Action.Reason)
	}
	var rej *rejection
	if !errors.As(r.Err, &rej) {
		t.Fatalf("err = %v", r.Err)
	}
	if v := f.view(); v.CurrentPrice != 1000 || v.HasLeader() {
		t.Fatalf("overlay not rolled back: %+v", v)
	}
}

func TestPushEventConfirmsBid(t *testing.T) {
	f := newFixture(t, models.AuctionStatusLive)

	ch, err := f.submit("u1", 1200)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v := f.view(); v.CurrentPrice != 1200 || v.LeaderID != "u1" {
		t.Fatalf("overlay not shown: %+v", v)
	}

	f.loop.do(func() {
		res := f.store.ApplyBidPlaced(events.BidPlaced{AuctionID: "a1", NewPrice: 1200, NewLeaderID: "u1"})
		f.flow.Resolve(res.Resolved)
	})

	r := waitResult(t, ch)
	if !r.Confirmed() || r.Err != nil {
		t.Fatalf("result = %+v", r)
	}

	var pending int
	f.loop.do(func() { pending = f.flow.Pending() })
	if pending != 0 {
		t.Fatalf("pending = %d", pending)
	}
}

func TestConfirmationTimeoutRollsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := newFixture(t, models.AuctionStatusLive)
	ch, err := f.submit("u1", 1500)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := f.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for confirm timer: %v", err)
	}
	f.clock.Advance(10 * time.Second)

	r := waitResult(t, ch)
	if !errors.Is(r.Err, ErrConfirmTimeout) || r.Action.State != models.ActionStateRejected {
		t.Fatalf("result = %+v", r)
	}
	if v := f.view(); v.CurrentPrice != 1000 {
		t.Fatalf("view = %+v", v)
	}

	// a late confirmation for the expired bid changes the price but resolves nothing
	f.loop.do(func() {
		res := f.store.ApplyBidPlaced(events.BidPlaced{NewPrice: 1500, NewLeaderID: "u1"})
		if len(res.Resolved) != 0 {
			t.Errorf("resolved = %+v", res.Resolved)
		}
	})
}

func TestAuctionCloseRejectsPendingBid(t *testing.T) {
	f := newFixture(t, models.AuctionStatusLive)
	ch, err := f.submit("u1", 1500)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.loop.do(func() {
		res := f.store.ApplyAuctionClosed(events.AuctionClosed{WinnerID: "u2", ClosingPrice: 1100})
		f.flow.Resolve(res.Resolved)
	})

	r := waitResult(t, ch)
	if !errors.Is(r.Err, ErrRejected) || r.Action.Reason != store.ReasonAuctionClosed {
		t.Fatalf("result = %+v", r)
	}
}

func TestDisposeDiscardsLateResults(t *testing.T) {
	f := newFixture(t, models.AuctionStatusLive)
	f.placer.err = &rejection{reason: "too late"}
	f.placer.release = make(chan struct{})

	ch, err := f.submit("u1", 1500)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.loop.do(f.flow.Dispose)
	close(f.placer.release)

	select {
	case r, ok := <-ch:
		if ok {
			t.Fatalf("got result after dispose: %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("result channel not closed on dispose")
	}

	if _, err := f.submit("u1", 2000); !errors.Is(err, ErrDisposed) {
		t.Fatalf("submit after dispose err = %v, want %v", err, ErrDisposed)
	}
}

func TestParseAmount(t *testing.T) {
	valid := map[string]int64{"1100": 1100, " 2500 ": 2500}
	for in, want := range valid {
		got, err := ParseAmount(in)
		if err != nil || got != want {
			t.Errorf("ParseAmount(%q) = %d, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "0", "-1", "12.5", "1e3", "abc"} {
		if _, err := ParseAmount(in); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q) err = %v", in, err)
		}
	}
}
