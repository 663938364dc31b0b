// Package bidflow validates bids locally, overlays them optimistically and
// resolves each one exactly once: confirmed by a push event, rejected by the
// server, or rolled back when confirmation times out.
package bidflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/livebid/metrics"
	"github.com/mcdev12/livebid/go/internal/livebid/store"
	"github.com/mcdev12/livebid/go/internal/models"
)

// Local validation errors. No network call is made when one is returned.
var (
	ErrUnauthenticated = errors.New("sign in to place a bid")
	ErrInvalidAmount   = errors.New("bid amount must be a positive whole number")
	ErrNotLive         = errors.New("auction is not live")
	ErrBidPending      = errors.New("previous bid is still pending")
	ErrBelowMinimum    = errors.New("bid is below the minimum")
)

// Resolution errors carried by Result.
var (
	ErrConfirmTimeout = errors.New(store.ReasonConfirmTimeout)
	ErrRejected       = errors.New("bid rejected")
)

// ErrDisposed is returned by Submit after Dispose.
var ErrDisposed = errors.New("bid flow disposed")

// DefaultConfirmTimeout bounds the wait for the confirming push event.
const DefaultConfirmTimeout = 10 * time.Second

// Bid outcomes recorded in metrics.
const (
	OutcomeConfirmed     = "confirmed"
	OutcomeRejected      = "rejected"
	OutcomeTimeout       = "timeout"
	OutcomeLocalRejected = "local_rejected"
)

// Placer submits a bid to the server. A nil error means accepted for
// processing, not confirmed.
type Placer interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) error
}

// Result is the final state of one submitted bid.
type Result struct {
	Action models.OptimisticAction
	// Err is nil when the bid was confirmed.
	Err error
}

// Confirmed reports whether the bid was confirmed.
func (r Result) Confirmed() bool {
	return r.Action.State == models.ActionStateConfirmed
}

// Post runs fn on the goroutine that owns the store. It returns false, without
// running fn, once that goroutine has stopped.
type Post func(fn func()) bool

// Options configures a Flow.
type Options struct {
	Store          *store.Store
	Placer         Placer
	Post           Post
	Clock          clockwork.Clock
	ConfirmTimeout time.Duration
	Metrics        metrics.Collector
}

type pendingBid struct {
	action models.OptimisticAction
	timer  clockwork.Timer
	result chan Result
}

// Flow submits bids for one auction. Submit, Resolve and Dispose must be
// called on the goroutine that owns the store.
type Flow struct {
	store   *store.Store
	placer  Placer
	post    Post
	clock   clockwork.Clock
	timeout time.Duration
	metrics metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	pending  map[uuid.UUID]*pendingBid
	disposed bool
}

// New creates a flow. Network calls made by the flow are cancelled by Dispose.
func New(opts Options) *Flow {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpCollector{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Flow{
		store:   opts.Store,
		placer:  opts.Placer,
		post:    opts.Post,
		clock:   opts.Clock,
		timeout: opts.ConfirmTimeout,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uuid.UUID]*pendingBid),
	}
}

// ParseAmount parses user input as a bid amount in cents.
func ParseAmount(input string) (int64, error) {
	amount, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil || amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

// Validate runs the local checks in order without side effects.
func (f *Flow) Validate(bidderID string, amount int64) error {
	if bidderID == "" {
		return ErrUnauthenticated
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !f.store.Loaded() || f.store.View().Status != models.AuctionStatusLive {
		return ErrNotLive
	}
	if _, ok := f.store.PendingFor(bidderID); ok {
		return ErrBidPending
	}
	if minBid := f.store.MinNextBid(); amount < minBid {
		return fmt.Errorf("%w: minimum is %d", ErrBelowMinimum, minBid)
	}
	return nil
}

// Submit validates and places a bid. On success the overlay is already
// visible and the returned channel receives exactly one Result, or is closed
// without a value if the flow is disposed first.
func (f *Flow) Submit(bidderID string, amount int64) (<-chan Result, error) {
	if f.disposed {
		return nil, ErrDisposed
	}
	if err := f.Validate(bidderID, amount); err != nil {
		f.metrics.RecordBidOutcome(OutcomeLocalRejected)
		return nil, err
	}

	auctionID := f.store.Confirmed().ID
	action := models.NewOptimisticAction(auctionID, bidderID, amount, f.clock.Now())
	if err := f.store.ApplyOptimisticBid(action); err != nil {
		if errors.Is(err, store.ErrBidPending) {
			return nil, ErrBidPending
		}
		return nil, err
	}

	p := &pendingBid{action: action, result: make(chan Result, 1)}
	p.timer = f.clock.AfterFunc(f.timeout, func() {
		f.post(func() { f.expire(action.ID) })
	})
	f.pending[action.ID] = p

	log.Info().
		Str("action_id", action.ID.String()).
		Str("auction_id", auctionID).
		Str("bidder_id", bidderID).
		Int64("amount", amount).
		Msg("submitting bid")

	go func() {
		err := f.placer.PlaceBid(f.ctx, auctionID, bidderID, amount)
		f.post(func() { f.placed(action.ID, err) })
	}()

	return p.result, nil
}

// placed handles the network response.
func (f *Flow) placed(id uuid.UUID, err error) {
	if f.disposed {
		return
	}
	if err == nil {
		log.Debug().Str("action_id", id.String()).Msg("bid accepted for processing")
		return
	}

	reason := RejectionReason(err)
	rolled, ok := f.store.RollbackOptimistic(id, reason)
	if !ok {
		// already resolved by a push event or the timeout
		return
	}
	log.Warn().
		Err(err).
		Str("action_id", id.String()).
		Str("reason", reason).
		Msg("bid rejected by server")
	f.finish(rolled, err, OutcomeRejected)
}

func (f *Flow) expire(id uuid.UUID) {
	if f.disposed {
		return
	}
	rolled, ok := f.store.ExpireOptimistic(id)
	if !ok {
		return
	}
	log.Warn().Str("action_id", id.String()).Dur("timeout", f.timeout).Msg("bid confirmation timed out")
	f.finish(rolled, ErrConfirmTimeout, OutcomeTimeout)
}

// Resolve delivers results for actions the store confirmed or rejected while
// applying server data.
func (f *Flow) Resolve(actions []models.OptimisticAction) {
	if f.disposed {
		return
	}
	for _, a := range actions {
		switch a.State {
		case models.ActionStateConfirmed:
			log.Info().Str("action_id", a.ID.String()).Int64("amount", a.Amount).Msg("bid confirmed")
			f.finish(a, nil, OutcomeConfirmed)
		default:
			f.finish(a, fmt.Errorf("%w: %s", ErrRejected, a.Reason), OutcomeRejected)
		}
	}
}

func (f *Flow) finish(action models.OptimisticAction, err error, outcome string) {
	p, ok := f.pending[action.ID]
	if !ok {
		return
	}
	delete(f.pending, action.ID)
	p.timer.Stop()
	f.metrics.RecordBidOutcome(outcome)
	p.result <- Result{Action: action, Err: err}
}

// Pending returns the number of unresolved bids.
func (f *Flow) Pending() int {
	return len(f.pending)
}

// Dispose cancels in-flight calls and drops unresolved bids. Their result
// channels are closed without a value.
func (f *Flow) Dispose() {
	if f.disposed {
		return
	}
	f.disposed = true
	f.cancel()
	for id, p := range f.pending {
		p.timer.Stop()
		close(p.result)
		delete(f.pending, id)
	}
}

// RejectionReason extracts the server's reason from err, falling back to the
// error text.
func RejectionReason(err error) string {
	var r interface{ RejectionReason() string }
	if errors.As(err, &r) {
		return r.RejectionReason()
	}
	return err.Error()
}
