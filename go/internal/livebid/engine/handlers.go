package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/livebid/countdown"
	"github.com/mcdev12/livebid/go/internal/livebid/events"
	"github.com/mcdev12/livebid/go/internal/livebid/store"
	"github.com/mcdev12/livebid/go/internal/livebid/transport"
	"github.com/mcdev12/livebid/go/internal/models"
)

// handlePayload runs on the transport's goroutine.
func (s *AuctionSession) handlePayload(topic transport.Topic, payload []byte) {
	ev := s.deps.Normalizer.Normalize(string(topic), payload)
	if ev.Kind == events.KindUnrecognized {
		return
	}
	s.post(func() { s.handleEvent(topic, ev) })
}

// handleStatus runs on the transport's goroutine.
func (s *AuctionSession) handleStatus(status transport.Status) {
	s.status.Store(status)
	s.notify()

	if status != transport.StatusConnected {
		return
	}
	// Events published while unsubscribed are lost. That covers every
	// reconnect, and the first connect if the snapshot was read before it.
	if s.everConnected.Swap(true) || s.fetched.Load() {
		go s.refresh()
	}
}

func (s *AuctionSession) handleEvent(topic transport.Topic, ev events.Event) {
	switch ev.Kind {
	case events.KindBidPlaced, events.KindAuctionClosed:
		if !s.forThisAuction(topic, ev) {
			log.Debug().
				Str("auction_id", s.cfg.AuctionID).
				Str("event_auction_id", ev.AuctionID()).
				Str("topic", string(topic)).
				Msg("ignoring event for another auction")
			return
		}
	}

	switch ev.Kind {
	case events.KindBidPlaced:
		res := s.store.ApplyBidPlaced(*ev.BidPlaced)
		s.record(ev.Kind, res)
		if res.Applied {
			// a bid may extend the end time or imply the auction went live
			s.syncCountdown()
		}

	case events.KindAuctionClosed:
		res := s.store.ApplyAuctionClosed(*ev.AuctionClosed)
		s.record(ev.Kind, res)
		if res.Applied {
			s.syncCountdown()
			if s.cfg.UserID != "" {
				go s.fetchBalance()
			}
		}

	case events.KindBalanceChanged:
		applied := s.balance.Apply(*ev.BalanceChanged)
		s.deps.Metrics.RecordEventApplied(string(ev.Kind), applied)

	case events.KindNotificationReceived:
		n := *ev.Notification
		applied := n.UserID == "" || n.UserID == s.cfg.UserID
		if applied {
			s.addNotification(n)
		}
		s.deps.Metrics.RecordEventApplied(string(ev.Kind), applied)
	}
}

func (s *AuctionSession) forThisAuction(topic transport.Topic, ev events.Event) bool {
	if id := ev.AuctionID(); id != "" {
		return id == s.cfg.AuctionID
	}
	return topic == transport.AuctionTopic(s.cfg.AuctionID)
}

func (s *AuctionSession) record(kind events.Kind, res store.Result) {
	s.deps.Metrics.RecordEventApplied(string(kind), res.Applied)
	s.flow.Resolve(res.Resolved)
}

func (s *AuctionSession) addNotification(n models.Notification) {
	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			return
		}
	}
	s.notifications = append([]models.Notification{n}, s.notifications...)
	if len(s.notifications) > s.cfg.NotificationCapacity {
		s.notifications = s.notifications[:s.cfg.NotificationCapacity]
	}
}

func (s *AuctionSession) loadSnapshot(view models.AuctionView) {
	res := s.store.LoadSnapshot(view)
	s.flow.Resolve(res.Resolved)
	s.syncCountdown()

	if s.store.Confirmed().Status == models.AuctionStatusClosing {
		// the server has not closed the auction yet; poll a few times
		if s.closingRefreshes < maxClosingRefreshes {
			s.closingRefreshes++
			s.scheduleRefresh(s.cfg.RefreshDelay)
		}
	}
}

// syncCountdown keeps the countdown aligned with the confirmed status and end
// time.
func (s *AuctionSession) syncCountdown() {
	view := s.store.Confirmed()
	switch view.Status {
	case models.AuctionStatusLive:
		if s.countdown == nil {
			s.countdown = countdown.New(s.deps.Clock, view.EndTime, s.onTick, s.onExpire)
			s.countdown.Start()
			return
		}
		if !s.countdown.Target().Equal(view.EndTime) {
			s.countdown.Reset(view.EndTime)
		}
	case models.AuctionStatusClosing, models.AuctionStatusClosed:
		if s.countdown != nil {
			s.countdown.Stop()
		}
		s.tick.Store(&countdown.Tick{Display: countdown.EndedDisplay, Ended: true})
	}
}

// onTick runs on the countdown goroutine and must not block.
func (s *AuctionSession) onTick(t countdown.Tick) {
	s.tick.Store(&t)
	s.notify()
}

// onExpire runs on the countdown goroutine and must not block.
func (s *AuctionSession) onExpire() {
	select {
	case s.expired <- struct{}{}:
	default:
	}
}

func (s *AuctionSession) handleExpiry() {
	res := s.store.MarkClosing()
	if !res.Applied {
		return
	}
	log.Info().Str("auction_id", s.cfg.AuctionID).Msg("countdown expired, waiting for the server to close the auction")
	s.closingRefreshes = 0
	s.scheduleRefresh(s.cfg.RefreshDelay)
}

// scheduleRefresh re-fetches the snapshot after delay. A pending refresh is
// replaced.
func (s *AuctionSession) scheduleRefresh(delay time.Duration) {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = s.deps.Clock.AfterFunc(delay, func() {
		go s.refresh()
	})
}

func (s *AuctionSession) refresh() {
	view, err := s.deps.API.GetAuction(s.ctx, s.cfg.AuctionID)
	if err != nil {
		if s.ctx.Err() == nil {
			log.Warn().Err(err).Str("auction_id", s.cfg.AuctionID).Msg("failed to refresh auction")
		}
		return
	}
	s.post(func() { s.loadSnapshot(view) })

	if s.cfg.UserID != "" {
		s.fetchBalance()
	}
}

func (s *AuctionSession) fetchBalance() {
	balance, err := s.deps.API.GetUser(s.ctx, s.cfg.UserID)
	if err != nil {
		if s.ctx.Err() == nil {
			log.Warn().Err(err).Str("user_id", s.cfg.UserID).Msg("failed to load balance")
		}
		return
	}
	s.post(func() { s.balance.Replace(balance) })
}

func (s *AuctionSession) fetchNotifications() {
	list, err := s.deps.API.GetNotifications(s.ctx, s.cfg.UserID)
	if err != nil {
		if s.ctx.Err() == nil {
			log.Warn().Err(err).Str("user_id", s.cfg.UserID).Msg("failed to load notifications")
		}
		return
	}
	s.post(func() {
		// pushes received meanwhile are newer; keep them in front
		for _, n := range list {
			s.appendNotification(n)
		}
	})
}

// appendNotification adds an older notification behind the current ones.
func (s *AuctionSession) appendNotification(n models.Notification) {
	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			return
		}
	}
	if len(s.notifications) < s.cfg.NotificationCapacity {
		s.notifications = append(s.notifications, n)
	}
}
