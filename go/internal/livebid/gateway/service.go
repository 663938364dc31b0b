// Package gateway relays auction and user events from NATS JetStream to
// WebSocket clients subscribed by topic.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the push gateway: a connection manager fed by a JetStream
// consumer.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// NewService creates the gateway. A nil metrics disables instrumentation.
func NewService(ctx context.Context, config Config, metrics *Metrics) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, metrics)

	eventConsumer, err := NewEventConsumer(ctx, connectionManager, config.JetStreamConfig, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		eventConsumer:     eventConsumer,
	}, nil
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting push gateway service")

	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("push gateway service shutting down")
	return s.Stop()
}

// Stop closes the JetStream connection. Client connections close when the
// Start context is cancelled.
func (s *Service) Stop() error {
	if err := s.eventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop event consumer")
	}

	log.Info().Msg("push gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("push gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() Stats {
	return s.connectionManager.GetConnectionStats()
}
