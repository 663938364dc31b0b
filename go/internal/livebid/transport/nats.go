package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSDialer connects straight to a NATS server. The client library's own
// reconnect is disabled; the Session redials and resubscribes instead.
type NATSDialer struct {
	URL     string
	Timeout time.Duration
	Options []nats.Option
}

// NewNATSDialer returns a dialer for url with a 5s connect timeout.
func NewNATSDialer(url string, opts ...nats.Option) *NATSDialer {
	if url == "" {
		url = nats.DefaultURL
	}
	return &NATSDialer{URL: url, Timeout: 5 * time.Second, Options: opts}
}

// Name implements Dialer.
func (d *NATSDialer) Name() string {
	return "nats"
}

// Dial implements Dialer.
func (d *NATSDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &natsConn{done: make(chan struct{})}
	opts := []nats.Option{
		nats.Name("livebid-client"),
		nats.NoReconnect(),
		nats.Timeout(d.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.markDone()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("NATS error")
		}),
	}
	opts = append(opts, d.Options...)

	nc, err := nats.Connect(d.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	c.nc = nc
	return c, nil
}

type natsConn struct {
	nc       *nats.Conn
	done     chan struct{}
	doneOnce sync.Once
}

func (c *natsConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *natsConn) Subscribe(topic Topic, h Handler) error {
	subject, err := topic.Subject()
	if err != nil {
		return err
	}
	if _, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		h(topic, msg.Data)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return c.nc.Flush()
}

func (c *natsConn) Done() <-chan struct{} {
	return c.done
}

func (c *natsConn) Close() error {
	c.nc.Close()
	c.markDone()
	return nil
}
