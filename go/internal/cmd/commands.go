package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mcdev12/livebid/go/internal/livebid/bidflow"
	"github.com/mcdev12/livebid/go/internal/livebid/countdown"
	"github.com/mcdev12/livebid/go/internal/livebid/engine"
	"github.com/mcdev12/livebid/go/internal/livebid/transport"
	"github.com/mcdev12/livebid/go/internal/models"
)

// watch prints the auction as it changes until it closes or ctx ends.
func watch(ctx context.Context, services *Services, auctionID string, out io.Writer) error {
	s := services.newSession(auctionID)
	if err := s.Mount(ctx); err != nil {
		return err
	}
	defer s.Unmount()

	p := &printer{out: out}
	for {
		snap := s.Snapshot()
		p.activity(snap.Activity)
		p.status(snap, s.Countdown(), s.ConnectionStatus())
		if snap.View.Status == models.AuctionStatusClosed {
			fmt.Fprintln(out, closedSummary(snap.View))
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.Updates():
		}
	}
}

// bid submits amount for the signed-in user and waits for the outcome.
func bid(ctx context.Context, services *Services, auctionID, input string, out io.Writer) error {
	amount, err := bidflow.ParseAmount(input)
	if err != nil {
		return err
	}

	s := services.newSession(auctionID)
	if err := s.Mount(ctx); err != nil {
		return err
	}
	defer s.Unmount()

	results, err := s.SubmitBid(amount)
	if err != nil {
		return fmt.Errorf("bid %d: %w", amount, err)
	}
	fmt.Fprintf(out, "bid %d submitted, waiting for confirmation\n", amount)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r, ok := <-results:
		if !ok {
			return engine.ErrNotMounted
		}
		if !r.Confirmed() {
			return fmt.Errorf("bid %d rejected: %s", amount, r.Action.Reason)
		}
		fmt.Fprintf(out, "bid %d confirmed, you lead %s\n", amount, auctionID)
		return nil
	}
}

// start activates a scheduled auction.
func start(ctx context.Context, services *Services, auctionID string, out io.Writer) error {
	s := services.newSession(auctionID)
	if err := s.Mount(ctx); err != nil {
		return err
	}
	defer s.Unmount()

	if err := s.Activate(ctx); err != nil {
		return fmt.Errorf("start %s: %w", auctionID, err)
	}
	v := s.View()
	fmt.Fprintf(out, "%s is %s, ends %s\n", v.ID, v.Status, v.EndTime.Local().Format("15:04:05"))
	return nil
}

// printer writes only what changed since the previous call.
type printer struct {
	out        io.Writer
	lastStatus string
	lastEntry  *models.ActivityEntry
}

func (p *printer) status(snap engine.Snapshot, tick countdown.Tick, conn transport.Status) {
	line := statusLine(snap, tick, conn)
	if line == p.lastStatus {
		return
	}
	p.lastStatus = line
	fmt.Fprintln(p.out, line)
}

// activity prints entries newer than the last one printed, oldest first.
func (p *printer) activity(entries []models.ActivityEntry) {
	var fresh []models.ActivityEntry
	for _, e := range entries {
		if p.lastEntry != nil && e == *p.lastEntry {
			break
		}
		fresh = append(fresh, e)
	}
	for i := len(fresh) - 1; i >= 0; i-- {
		fmt.Fprintln(p.out, activityLine(fresh[i]))
	}
	if len(entries) > 0 {
		newest := entries[0]
		p.lastEntry = &newest
	}
}

func statusLine(snap engine.Snapshot, tick countdown.Tick, conn transport.Status) string {
	v := snap.View
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s  price %d", v.Status, v.Title, v.CurrentPrice)
	if v.HasLeader() {
		fmt.Fprintf(&b, "  leader %s", v.LeaderID)
	}
	if v.IsLive() {
		fmt.Fprintf(&b, "  min bid %d", snap.MinNextBid)
	}
	if tick.Display != "" {
		fmt.Fprintf(&b, "  %s", tick.Display)
		if tick.Urgent {
			b.WriteString("!")
		}
	}
	if snap.BalanceKnown {
		fmt.Fprintf(&b, "  available %d reserved %d", snap.Balance.Available, snap.Balance.Reserved)
	}
	if snap.PendingBid != nil {
		fmt.Fprintf(&b, "  pending %d", snap.PendingBid.Amount)
	}
	if conn != transport.StatusConnected {
		fmt.Fprintf(&b, "  (%s)", strings.ToLower(string(conn)))
	}
	return b.String()
}

func activityLine(e models.ActivityEntry) string {
	at := e.ObservedAt.Local().Format("15:04:05")
	switch e.Kind {
	case models.ActivityKindBid:
		return fmt.Sprintf("%s  %s bid %d", at, e.ActorID, e.Amount)
	default:
		return fmt.Sprintf("%s  auction is %s", at, e.Status)
	}
}

func closedSummary(v models.AuctionView) string {
	if !v.HasLeader() {
		return fmt.Sprintf("%s closed without bids", v.ID)
	}
	return fmt.Sprintf("%s sold to %s for %d", v.ID, v.LeaderID, v.CurrentPrice)
}
