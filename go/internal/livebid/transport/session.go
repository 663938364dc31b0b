package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/livebid/metrics"
)

var errConnectionUnstable = errors.New("connection lost before becoming stable")

// Status is the connection state reported to listeners.
type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusReconnecting Status = "RECONNECTING"
	StatusDegraded     Status = "DEGRADED"
	StatusClosed       Status = "CLOSED"
)

// Config holds reconnect settings for a Session
type Config struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// MaxRetries consecutive failures mark the session Degraded. Retrying
	// continues regardless.
	MaxRetries int `yaml:"max_retries"`
	// StableAfter is how long a connection must stay up before its loss
	// resets the retry budget. A shorter-lived connection counts as a failure.
	StableAfter time.Duration `yaml:"stable_after"`
}

// DefaultConfig returns default reconnect settings
func DefaultConfig() Config {
	return Config{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		MaxRetries:     5,
		StableAfter:    10 * time.Second,
	}
}

// Session owns one logical push subscription across reconnects.
type Session struct {
	dialer   Dialer
	topics   []Topic
	handler  Handler
	config   Config
	clock    clockwork.Clock
	metrics  metrics.Collector
	onStatus func(Status)

	// deliverMu is held for reading during every handler call; Close takes
	// it for writing so no delivery starts or is in flight afterwards.
	deliverMu sync.RWMutex
	closed    bool

	mu     sync.Mutex
	conn   Conn
	status Status
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// SessionOptions configures a Session. Dialer and Handler are required.
type SessionOptions struct {
	Dialer   Dialer
	Topics   []Topic
	Handler  Handler
	Config   Config
	Clock    clockwork.Clock
	Metrics  metrics.Collector
	OnStatus func(Status)
}

// NewSession creates an idle session.
func NewSession(opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpCollector{}
	}
	if opts.OnStatus == nil {
		opts.OnStatus = func(Status) {}
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if opts.Config.StableAfter <= 0 {
		opts.Config.StableAfter = DefaultConfig().StableAfter
	}
	return &Session{
		dialer:   opts.Dialer,
		topics:   append([]Topic(nil), opts.Topics...),
		handler:  opts.Handler,
		config:   opts.Config,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		onStatus: opts.OnStatus,
		status:   StatusIdle,
		done:     make(chan struct{}),
	}
}

// Start launches the connect loop. Connection errors are logged and retried
// until ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil || s.status == StatusClosed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Close stops the loop and closes the connection. When Close returns no
// handler is running and none will be invoked again.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.deliverMu.Lock()
		s.closed = true
		s.deliverMu.Unlock()

		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-s.done
		}

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				log.Debug().Err(err).Str("transport", s.dialer.Name()).Msg("error closing push connection")
			}
		}

		s.setStatus(StatusClosed)
		log.Info().Str("transport", s.dialer.Name()).Msg("push session closed")
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	b := s.newBackOff()
	failures := 0
	everConnected := false

	for {
		if ctx.Err() != nil {
			return
		}

		switch {
		case !everConnected && failures == 0:
			s.setStatus(StatusConnecting)
		case failures < s.config.MaxRetries || s.config.MaxRetries <= 0:
			s.setStatus(StatusReconnecting)
		}

		conn, err := s.connect(ctx)
		if err != nil {
			failures++
			if !s.retryAfter(ctx, b, failures, err) {
				return
			}
			continue
		}

		if everConnected {
			s.metrics.RecordReconnect(s.dialer.Name())
		}
		everConnected = true
		connectedAt := s.clock.Now()

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setStatus(StatusConnected)
		log.Info().
			Str("transport", s.dialer.Name()).
			Int("topics", len(s.topics)).
			Msg("push connection established")

		select {
		case <-ctx.Done():
			// Close releases the connection
			return
		case <-conn.Done():
		}

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		if uptime := s.clock.Since(connectedAt); uptime >= s.config.StableAfter {
			log.Warn().Str("transport", s.dialer.Name()).Dur("uptime", uptime).Msg("push connection lost")
			failures = 0
			b.Reset()
			continue
		}

		failures++
		if !s.retryAfter(ctx, b, failures, errConnectionUnstable) {
			return
		}
	}
}

// retryAfter reports the failure, marks the session Degraded once the retry
// budget is spent and waits out the next backoff interval. It returns false
// if ctx ends first.
func (s *Session) retryAfter(ctx context.Context, b backoff.BackOff, failures int, err error) bool {
	wait := b.NextBackOff()
	log.Warn().
		Err(err).
		Str("transport", s.dialer.Name()).
		Int("attempt", failures).
		Dur("retry_in", wait).
		Msg("push connection failed")
	if s.config.MaxRetries > 0 && failures >= s.config.MaxRetries {
		s.setStatus(StatusDegraded)
	}
	return s.sleep(ctx, wait)
}

// connect dials and subscribes every topic.
func (s *Session) connect(ctx context.Context) (Conn, error) {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	for _, topic := range s.topics {
		if err := conn.Subscribe(topic, s.deliver); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (s *Session) deliver(topic Topic, payload []byte) {
	s.deliverMu.RLock()
	defer s.deliverMu.RUnlock()
	if s.closed {
		return
	}
	s.handler(topic, payload)
}

func (s *Session) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialBackoff
	b.MaxInterval = s.config.MaxBackoff
	b.MaxElapsedTime = 0
	b.Clock = s.clock
	b.Reset()
	return b
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	if s.status == status || s.status == StatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	log.Debug().Str("transport", s.dialer.Name()).Str("status", string(status)).Msg("push status changed")
	s.onStatus(status)
}
