package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/livebid/transport"
)

// Broadcaster fans a payload out to a topic's subscribers.
type Broadcaster interface {
	Broadcast(topic transport.Topic, payload []byte)
}

// JetStreamConsumerConfig holds configuration for the JetStream consumer
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	Subjects      []string      // e.g. "auctions.>", "users.>"
	MaxAge        time.Duration // stream retention
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConsumerConfig returns default JetStream consumer configuration
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "AUCTION_EVENTS",
		ConsumerName:  "livebid-gateway",
		Subjects:      []string{"auctions.>", "users.>"},
		MaxAge:        time.Hour,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// errPoison marks messages that can never be relayed; they are terminated
// instead of redelivered.
var errPoison = errors.New("unrelayable message")

// EventConsumer consumes auction and user events from JetStream and relays
// them to WebSocket subscribers.
type EventConsumer struct {
	broadcaster Broadcaster
	nc          *nats.Conn
	js          jetstream.JetStream
	consumer    jetstream.Consumer
	config      JetStreamConsumerConfig
	metrics     *Metrics
}

// NewEventConsumer connects to NATS and ensures the stream and the durable
// consumer exist.
func NewEventConsumer(ctx context.Context, b Broadcaster, config JetStreamConsumerConfig, metrics *Metrics) (*EventConsumer, error) {
	opts := []nats.Option{
		nats.Name("livebid-gateway"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ec := &EventConsumer{
		broadcaster: b,
		nc:          nc,
		js:          js,
		config:      config,
		metrics:     metrics,
	}

	if err := ec.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return ec, nil
}

func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        ec.config.StreamName,
		Description: "Auction bid, close, balance and notification events",
		Subjects:    ec.config.Subjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      ec.config.MaxAge,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	// Clients resync from a snapshot on connect, so only new events matter.
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:           ec.config.ConsumerName,
		Durable:        ec.config.ConsumerName,
		Description:    "LiveBid gateway WebSocket relay",
		FilterSubjects: ec.config.Subjects,
		DeliverPolicy:  jetstream.DeliverNewPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxDeliver:     ec.config.MaxDeliver,
		AckWait:        ec.config.AckWait,
		MaxAckPending:  ec.config.MaxAckPending,
		ReplayPolicy:   jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Strs("subjects", ec.config.Subjects).
		Msg("JetStream consumer ready")

	ec.consumer = consumer
	return nil
}

// Start consumes until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("starting JetStream event consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			ec.handle(msg)
		}
	}
}

func (ec *EventConsumer) handle(msg jetstream.Msg) {
	err := ec.processMessage(msg)
	switch {
	case err == nil:
		ec.metrics.consumedMessage("relayed")
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case errors.Is(err, errPoison):
		ec.metrics.consumedMessage("terminated")
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping message")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
	default:
		ec.metrics.consumedMessage("retried")
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
	}
}

// processMessage relays the raw payload to the topic derived from the
// subject. Payloads are not interpreted; clients classify them.
func (ec *EventConsumer) processMessage(msg jetstream.Msg) error {
	topic, err := transport.TopicForSubject(msg.Subject())
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if !json.Valid(msg.Data()) {
		return fmt.Errorf("%w: payload on %s is not JSON", errPoison, msg.Subject())
	}

	ec.broadcaster.Broadcast(topic, msg.Data())

	log.Debug().
		Str("subject", msg.Subject()).
		Str("topic", string(topic)).
		Msg("event relayed to WebSocket clients")
	return nil
}

// Stop closes the NATS connection.
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")

	if ec.nc != nil {
		ec.nc.Close()
	}

	return nil
}

// GetConsumerInfo returns information about the consumer
func (ec *EventConsumer) GetConsumerInfo(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	return ec.consumer.Info(ctx)
}
