// Package engine runs one mounted auction view. A single loop goroutine owns
// the reconciliation store; push events, fetch results, timer callbacks and
// bid submissions reach it as queued messages, and readers see immutable
// snapshots published after every step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/livebid/bidflow"
	"github.com/mcdev12/livebid/go/internal/livebid/countdown"
	"github.com/mcdev12/livebid/go/internal/livebid/events"
	"github.com/mcdev12/livebid/go/internal/livebid/metrics"
	"github.com/mcdev12/livebid/go/internal/livebid/store"
	"github.com/mcdev12/livebid/go/internal/livebid/transport"
	"github.com/mcdev12/livebid/go/internal/models"
)

// ErrNotMounted is returned by operations on a session that is not mounted.
var ErrNotMounted = errors.New("auction session is not mounted")

const (
	inboxSize                   = 256
	defaultNotificationCapacity = 50
	maxClosingRefreshes         = 5
)

// API is the resource provider the session fetches from.
type API interface {
	GetAuction(ctx context.Context, auctionID string) (models.AuctionView, error)
	GetUser(ctx context.Context, userID string) (models.UserBalanceView, error)
	GetNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	StartAuction(ctx context.Context, auctionID string) error
	bidflow.Placer
}

// Config identifies the auction and user and tunes timing.
type Config struct {
	AuctionID string
	// UserID is empty for an anonymous viewer; bidding then fails locally.
	UserID string

	Policy               store.IncrementPolicy
	ActivityCapacity     int
	ConfirmTimeout       time.Duration
	RefreshDelay         time.Duration
	NotificationCapacity int
}

// Deps are the session's collaborators. API and Dialer are required.
type Deps struct {
	API        API
	Dialer     transport.Dialer
	Reconnect  transport.Config
	Clock      clockwork.Clock
	Metrics    metrics.Collector
	Normalizer *events.Normalizer
}

// Snapshot is an immutable copy of everything a display needs.
type Snapshot struct {
	Loaded        bool
	View          models.AuctionView
	Activity      []models.ActivityEntry
	MinNextBid    int64
	Balance       models.UserBalanceView
	BalanceKnown  bool
	Notifications []models.Notification
	PendingBid    *models.OptimisticAction
}

// AuctionSession is one mounted auction view.
type AuctionSession struct {
	cfg  Config
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	inbox    chan func()
	expired  chan struct{}
	quit     chan struct{}
	loopDone chan struct{}

	// owned by the loop goroutine
	store            *store.Store
	balance          *store.Balance
	flow             *bidflow.Flow
	countdown        *countdown.Countdown
	refreshTimer     clockwork.Timer
	closingRefreshes int
	notifications    []models.Notification

	session *transport.Session

	snapshot atomic.Pointer[Snapshot]
	tick     atomic.Pointer[countdown.Tick]
	status   atomic.Value // transport.Status
	updates  chan struct{}

	mountOnce     sync.Once
	unmountOnce   sync.Once
	loopStarted   atomic.Bool
	mounted       atomic.Bool
	everConnected atomic.Bool
	fetched       atomic.Bool
}

// New creates an unmounted session.
func New(deps Deps, cfg Config) *AuctionSession {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOpCollector{}
	}
	if deps.Normalizer == nil {
		deps.Normalizer = events.NewNormalizer(deps.Metrics)
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = 2 * time.Second
	}
	if cfg.NotificationCapacity <= 0 {
		cfg.NotificationCapacity = defaultNotificationCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &AuctionSession{
		cfg:      cfg,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan func(), inboxSize),
		expired:  make(chan struct{}, 1),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		updates:  make(chan struct{}, 1),
		store: store.New(store.Options{
			Clock:            deps.Clock,
			Policy:           cfg.Policy,
			ActivityCapacity: cfg.ActivityCapacity,
		}),
		balance: store.NewBalance(cfg.UserID),
	}
	s.flow = bidflow.New(bidflow.Options{
		Store:          s.store,
		Placer:         deps.API,
		Post:           s.post,
		Clock:          deps.Clock,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Metrics:        deps.Metrics,
	})
	s.snapshot.Store(&Snapshot{})
	s.tick.Store(&countdown.Tick{})
	s.status.Store(transport.StatusIdle)
	return s
}

// Mount starts the loop and the push session, then loads the first snapshot.
// Events arriving before the snapshot are buffered and replayed. On error the
// session is unmounted.
func (s *AuctionSession) Mount(ctx context.Context) error {
	err := ErrNotMounted
	s.mountOnce.Do(func() {
		err = s.mount(ctx)
	})
	return err
}

func (s *AuctionSession) mount(ctx context.Context) error {
	select {
	case <-s.quit:
		return ErrNotMounted
	default:
	}
	s.loopStarted.Store(true)
	go s.loop()
	s.mounted.Store(true)

	s.session = transport.NewSession(transport.SessionOptions{
		Dialer:   s.deps.Dialer,
		Topics:   s.topics(),
		Handler:  s.handlePayload,
		Config:   s.deps.Reconnect,
		Clock:    s.deps.Clock,
		Metrics:  s.deps.Metrics,
		OnStatus: s.handleStatus,
	})
	s.session.Start(s.ctx)

	log.Info().
		Str("auction_id", s.cfg.AuctionID).
		Str("user_id", s.cfg.UserID).
		Str("transport", s.deps.Dialer.Name()).
		Msg("mounting auction session")

	subscribed := s.everConnected.Load()
	view, err := s.deps.API.GetAuction(ctx, s.cfg.AuctionID)
	if err != nil {
		s.Unmount()
		return fmt.Errorf("load auction %s: %w", s.cfg.AuctionID, err)
	}
	if !s.do(func() { s.loadSnapshot(view) }) {
		return ErrNotMounted
	}
	s.fetched.Store(true)
	if !subscribed && s.everConnected.Load() {
		// the subscription came up while the snapshot was in flight
		go s.refresh()
	}

	if s.cfg.UserID != "" {
		go s.fetchBalance()
		go s.fetchNotifications()
	}
	return nil
}

// Unmount stops the countdown, closes the push session and stops the loop.
// Network results arriving afterwards are discarded.
func (s *AuctionSession) Unmount() {
	s.unmountOnce.Do(func() {
		s.mounted.Store(false)
		s.cancel()

		if s.session != nil {
			s.session.Close()
		}

		close(s.quit)
		if s.loopStarted.Load() {
			<-s.loopDone
		}

		// the loop has stopped; its state is ours now
		if s.countdown != nil {
			s.countdown.Stop()
		}
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
		}
		s.flow.Dispose()
		s.status.Store(transport.StatusClosed)
		s.notify()

		log.Info().Str("auction_id", s.cfg.AuctionID).Msg("auction session unmounted")
	})
}

func (s *AuctionSession) topics() []transport.Topic {
	topics := []transport.Topic{transport.AuctionTopic(s.cfg.AuctionID)}
	if s.cfg.UserID != "" {
		topics = append(topics,
			transport.UserTopic(s.cfg.UserID),
			transport.NotificationsTopic(s.cfg.UserID),
		)
	}
	return topics
}

func (s *AuctionSession) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.expired:
			s.handleExpiry()
		case <-s.quit:
			return
		}
		s.publish()
	}
}

// post queues fn for the loop. It returns false once the session is unmounted.
func (s *AuctionSession) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (s *AuctionSession) do(fn func()) bool {
	done := make(chan struct{})
	if !s.post(func() { fn(); close(done) }) {
		return false
	}
	select {
	case <-done:
		return true
	case <-s.loopDone:
		return false
	}
}

func (s *AuctionSession) publish() {
	snap := &Snapshot{
		Loaded:        s.store.Loaded(),
		View:          s.store.View(),
		Activity:      s.store.Activity(),
		MinNextBid:    s.store.MinNextBid(),
		Notifications: append([]models.Notification(nil), s.notifications...),
	}
	snap.Balance, snap.BalanceKnown = s.balance.View()
	if s.cfg.UserID != "" {
		if action, ok := s.store.PendingFor(s.cfg.UserID); ok {
			snap.PendingBid = &action
		}
	}
	s.snapshot.Store(snap)
	s.notify()
}

func (s *AuctionSession) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Snapshot returns the latest published state.
func (s *AuctionSession) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// View returns the displayed auction, optimistic overlay included.
func (s *AuctionSession) View() models.AuctionView {
	return s.snapshot.Load().View
}

// Activity returns recent activity, newest first.
func (s *AuctionSession) Activity() []models.ActivityEntry {
	return s.snapshot.Load().Activity
}

// MinNextBid returns the lowest acceptable bid against the displayed price.
func (s *AuctionSession) MinNextBid() int64 {
	return s.snapshot.Load().MinNextBid
}

// Balance returns the signed-in user's funds and whether they are known.
func (s *AuctionSession) Balance() (models.UserBalanceView, bool) {
	snap := s.snapshot.Load()
	return snap.Balance, snap.BalanceKnown
}

// Notifications returns notifications received this session, newest first.
func (s *AuctionSession) Notifications() []models.Notification {
	return s.snapshot.Load().Notifications
}

// Countdown returns the latest countdown tick.
func (s *AuctionSession) Countdown() countdown.Tick {
	return *s.tick.Load()
}

// ConnectionStatus returns the push connection status.
func (s *AuctionSession) ConnectionStatus() transport.Status {
	return s.status.Load().(transport.Status)
}

// Updates signals, coalesced, whenever published state may have changed.
func (s *AuctionSession) Updates() <-chan struct{} {
	return s.updates
}

// SubmitBid validates and places a bid for the signed-in user. The channel
// receives the final result, or is closed without one if the session is
// unmounted first.
func (s *AuctionSession) SubmitBid(amount int64) (<-chan bidflow.Result, error) {
	if !s.mounted.Load() {
		return nil, ErrNotMounted
	}
	var ch <-chan bidflow.Result
	var err error
	if !s.do(func() { ch, err = s.flow.Submit(s.cfg.UserID, amount) }) {
		return nil, ErrNotMounted
	}
	if errors.Is(err, bidflow.ErrDisposed) {
		return nil, ErrNotMounted
	}
	return ch, err
}

// Activate starts a scheduled auction and reloads the snapshot.
func (s *AuctionSession) Activate(ctx context.Context) error {
	if !s.mounted.Load() {
		return ErrNotMounted
	}
	if err := s.deps.API.StartAuction(ctx, s.cfg.AuctionID); err != nil {
		return err
	}
	view, err := s.deps.API.GetAuction(ctx, s.cfg.AuctionID)
	if err != nil {
		return fmt.Errorf("reload auction %s: %w", s.cfg.AuctionID, err)
	}
	if !s.do(func() { s.loadSnapshot(view) }) {
		return ErrNotMounted
	}
	return nil
}
