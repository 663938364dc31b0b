package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/livebid/events"
	"github.com/mcdev12/livebid/go/internal/models"
)

var (
	// ErrNotLoaded is returned for optimistic writes before the first snapshot.
	ErrNotLoaded = errors.New("auction snapshot not loaded")
	// ErrBidPending is returned when the bidder already has an unconfirmed bid.
	ErrBidPending = errors.New("a bid is already pending confirmation")
)

// maxEarlyEvents bounds the events buffered before the first snapshot.
const maxEarlyEvents = 64

// Rejection reasons recorded on optimistic actions resolved by the store.
const (
	ReasonConfirmTimeout = "bid was not confirmed in time"
	ReasonAuctionClosed  = "auction closed"
)

// Result describes the effect of applying one input.
type Result struct {
	Applied bool
	// Resolved lists optimistic actions this input confirmed or rejected.
	Resolved []models.OptimisticAction
}

// Store is the authoritative view of one auction. It merges snapshots, push
// events and optimistic bids under monotonic guards: price only rises, status
// only moves forward and Closed is absorbing.
//
// Store is not safe for concurrent use; a single goroutine owns it.
type Store struct {
	clock  clockwork.Clock
	policy IncrementPolicy

	confirmed models.AuctionView
	loaded    bool
	activity  *ActivityLog
	overlays  map[string]*models.OptimisticAction // by bidder

	// events received before the first snapshot, replayed once it loads
	early []events.Event
}

// Options configures a Store.
type Options struct {
	Clock            clockwork.Clock
	Policy           IncrementPolicy
	ActivityCapacity int
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Policy == (IncrementPolicy{}) {
		opts.Policy = DefaultIncrementPolicy()
	}
	return &Store{
		clock:    opts.Clock,
		policy:   opts.Policy,
		activity: NewActivityLog(opts.ActivityCapacity),
		overlays: make(map[string]*models.OptimisticAction),
	}
}

// Loaded reports whether a snapshot has been applied.
func (s *Store) Loaded() bool {
	return s.loaded
}

// LoadSnapshot installs a fetched view and resets the activity log. The first
// load for an auction replaces everything. A reload never moves status
// backwards and never lowers the confirmed price unless the snapshot is the
// one that closes the auction.
func (s *Store) LoadSnapshot(view models.AuctionView) Result {
	s.activity.Reset()

	if !s.loaded || view.ID != s.confirmed.ID {
		s.confirmed = view
		s.loaded = true
		clear(s.overlays)
		log.Debug().
			Str("auction_id", view.ID).
			Str("status", string(view.Status)).
			Int64("price", view.CurrentPrice).
			Msg("auction snapshot loaded")
		return s.replayEarly()
	}

	prev := s.confirmed
	next := view
	next.Status = models.MaxStatus(prev.Status, view.Status)
	next.Sequence = prev.Sequence + 1

	switch {
	case prev.Status == models.AuctionStatusClosed:
		next.CurrentPrice = prev.CurrentPrice
		next.LeaderID = prev.LeaderID
	case view.Status == models.AuctionStatusClosed:
		// server snapshot closing the auction is authoritative
	case view.CurrentPrice < prev.CurrentPrice:
		next.CurrentPrice = prev.CurrentPrice
		next.LeaderID = prev.LeaderID
	}
	s.confirmed = next

	log.Debug().
		Str("auction_id", view.ID).
		Str("status", string(next.Status)).
		Int64("price", next.CurrentPrice).
		Msg("auction snapshot reloaded")

	res := Result{Applied: true}
	if next.Status == models.AuctionStatusClosed {
		res.Resolved = s.resolveOnClose(next.LeaderID, next.CurrentPrice)
	} else {
		res.Resolved = s.resolveOnPrice(next.LeaderID, next.CurrentPrice)
	}
	return res
}

func (s *Store) replayEarly() Result {
	pending := s.early
	s.early = nil

	res := Result{Applied: true}
	for _, ev := range pending {
		var r Result
		switch ev.Kind {
		case events.KindBidPlaced:
			r = s.ApplyBidPlaced(*ev.BidPlaced)
		case events.KindAuctionClosed:
			r = s.ApplyAuctionClosed(*ev.AuctionClosed)
		}
		res.Resolved = append(res.Resolved, r.Resolved...)
	}
	return res
}

func (s *Store) buffer(ev events.Event) {
	if len(s.early) == maxEarlyEvents {
		s.early = s.early[1:]
	}
	s.early = append(s.early, ev)
}

// ApplyBidPlaced applies a confirmed bid. Events whose price does not exceed
// the confirmed price, and any bid after closure, are dropped.
func (s *Store) ApplyBidPlaced(ev events.BidPlaced) Result {
	if !s.loaded {
		s.buffer(events.Event{Kind: events.KindBidPlaced, BidPlaced: &ev})
		return Result{}
	}
	if s.confirmed.Status == models.AuctionStatusClosed || ev.NewPrice <= s.confirmed.CurrentPrice {
		log.Debug().
			Str("auction_id", s.confirmed.ID).
			Int64("event_price", ev.NewPrice).
			Int64("current_price", s.confirmed.CurrentPrice).
			Str("status", string(s.confirmed.Status)).
			Msg("dropping stale bid event")
		return Result{}
	}

	s.confirmed.CurrentPrice = ev.NewPrice
	s.confirmed.LeaderID = ev.NewLeaderID
	s.confirmed.Sequence++
	if s.confirmed.Status == models.AuctionStatusScheduled {
		s.confirmed.Status = models.AuctionStatusLive
	}
	if ev.EndTime.After(s.confirmed.EndTime) {
		s.confirmed.EndTime = ev.EndTime
	}

	s.activity.Push(models.ActivityEntry{
		Kind:       models.ActivityKindBid,
		Amount:     ev.NewPrice,
		ActorID:    ev.NewLeaderID,
		ObservedAt: s.clock.Now(),
	})

	return Result{Applied: true, Resolved: s.resolveOnPrice(ev.NewLeaderID, ev.NewPrice)}
}

// ApplyAuctionClosed closes the auction with the server's final price and
// winner. A closed auction ignores further closes.
func (s *Store) ApplyAuctionClosed(ev events.AuctionClosed) Result {
	if !s.loaded {
		s.buffer(events.Event{Kind: events.KindAuctionClosed, AuctionClosed: &ev})
		return Result{}
	}
	if s.confirmed.Status == models.AuctionStatusClosed {
		return Result{}
	}

	s.confirmed.Status = models.AuctionStatusClosed
	s.confirmed.CurrentPrice = ev.ClosingPrice
	s.confirmed.LeaderID = ev.WinnerID
	s.confirmed.Sequence++

	s.activity.Push(models.ActivityEntry{
		Kind:       models.ActivityKindStatusChange,
		Amount:     ev.ClosingPrice,
		ActorID:    ev.WinnerID,
		Status:     models.AuctionStatusClosed,
		ObservedAt: s.clock.Now(),
	})

	log.Info().
		Str("auction_id", s.confirmed.ID).
		Str("winner_id", ev.WinnerID).
		Int64("closing_price", ev.ClosingPrice).
		Msg("auction closed")

	return Result{Applied: true, Resolved: s.resolveOnClose(ev.WinnerID, ev.ClosingPrice)}
}

// MarkClosing moves a live auction to Closing once its countdown expires.
func (s *Store) MarkClosing() Result {
	if !s.loaded || s.confirmed.Status != models.AuctionStatusLive {
		return Result{}
	}
	s.confirmed.Status = models.AuctionStatusClosing
	s.confirmed.Sequence++
	s.activity.Push(models.ActivityEntry{
		Kind:       models.ActivityKindStatusChange,
		Amount:     s.confirmed.CurrentPrice,
		Status:     models.AuctionStatusClosing,
		ObservedAt: s.clock.Now(),
	})
	return Result{Applied: true}
}

// ApplyOptimisticBid overlays a local bid on the displayed view without
// moving the confirmed price.
func (s *Store) ApplyOptimisticBid(action models.OptimisticAction) error {
	if !s.loaded {
		return ErrNotLoaded
	}
	if _, ok := s.overlays[action.BidderID]; ok {
		return ErrBidPending
	}
	action.State = models.ActionStatePending
	s.overlays[action.BidderID] = &action
	return nil
}

// RollbackOptimistic removes a pending overlay and marks it rejected. It
// reports false when the action is no longer pending.
func (s *Store) RollbackOptimistic(id uuid.UUID, reason string) (models.OptimisticAction, bool) {
	for bidder, action := range s.overlays {
		if action.ID != id {
			continue
		}
		delete(s.overlays, bidder)
		resolved := *action
		resolved.State = models.ActionStateRejected
		resolved.Reason = reason
		return resolved, true
	}
	return models.OptimisticAction{}, false
}

// ExpireOptimistic rolls back an action whose confirmation never arrived.
func (s *Store) ExpireOptimistic(id uuid.UUID) (models.OptimisticAction, bool) {
	return s.RollbackOptimistic(id, ReasonConfirmTimeout)
}

// PendingFor returns the pending action of bidder, if any.
func (s *Store) PendingFor(bidderID string) (models.OptimisticAction, bool) {
	action, ok := s.overlays[bidderID]
	if !ok {
		return models.OptimisticAction{}, false
	}
	return *action, true
}

// resolveOnPrice confirms the new leader's pending bid once the confirmed
// price reaches it.
func (s *Store) resolveOnPrice(leaderID string, price int64) []models.OptimisticAction {
	action, ok := s.overlays[leaderID]
	if !ok || action.Amount > price {
		return nil
	}
	delete(s.overlays, leaderID)
	resolved := *action
	resolved.State = models.ActionStateConfirmed
	return []models.OptimisticAction{resolved}
}

// resolveOnClose settles every overlay: the winner's matching bid is
// confirmed, everything else rejected.
func (s *Store) resolveOnClose(winnerID string, price int64) []models.OptimisticAction {
	var out []models.OptimisticAction
	for bidder, action := range s.overlays {
		resolved := *action
		if bidder == winnerID && action.Amount == price {
			resolved.State = models.ActionStateConfirmed
		} else {
			resolved.State = models.ActionStateRejected
			resolved.Reason = ReasonAuctionClosed
		}
		out = append(out, resolved)
	}
	clear(s.overlays)
	return out
}

// Confirmed returns the view built from server data only.
func (s *Store) Confirmed() models.AuctionView {
	return s.confirmed
}

// View returns the displayed view: the confirmed view with the highest
// pending bid overlaid while the auction is live.
func (s *Store) View() models.AuctionView {
	v := s.confirmed
	if v.Status != models.AuctionStatusLive {
		return v
	}
	for _, action := range s.overlays {
		if action.Amount > v.CurrentPrice {
			v.CurrentPrice = action.Amount
			v.LeaderID = action.BidderID
		}
	}
	return v
}

// Activity returns recent entries, newest first.
func (s *Store) Activity() []models.ActivityEntry {
	return s.activity.Entries()
}

// Policy returns the increment policy.
func (s *Store) Policy() IncrementPolicy {
	return s.policy
}

// MinNextBid returns the lowest acceptable bid against the displayed price.
func (s *Store) MinNextBid() int64 {
	return s.policy.MinNextBid(s.View().CurrentPrice)
}
