package main

import (
	"fmt"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdev12/livebid/go/clients/livebid_client"
	"github.com/mcdev12/livebid/go/internal/config"
	"github.com/mcdev12/livebid/go/internal/livebid/engine"
	"github.com/mcdev12/livebid/go/internal/livebid/metrics"
	"github.com/mcdev12/livebid/go/internal/livebid/transport"
)

// Services holds everything a command needs to mount an auction.
type Services struct {
	Config   config.Config
	UserID   string
	Client   *livebid_client.LiveBidClient
	Dialer   transport.Dialer
	Metrics  *metrics.PrometheusCollector
	Registry *prometheus.Registry
}

func setupServices(cfg config.Config, userID string) (*Services, error) {
	// Config → REST client and push dialer → engine per command

	client := livebid_client.NewLiveBidClient(cfg.API.BaseURL)
	if cfg.API.Token != "" {
		client = client.WithToken(cfg.API.Token)
	}
	if cfg.API.Timeout > 0 {
		client.SetTimeout(cfg.API.Timeout)
	}

	dialer, err := newDialer(cfg.Push, userID)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewPrometheusCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &Services{
		Config:   cfg,
		UserID:   userID,
		Client:   client,
		Dialer:   dialer,
		Metrics:  collector,
		Registry: reg,
	}, nil
}

func newDialer(cfg config.PushConfig, userID string) (transport.Dialer, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		return transport.NewNATSDialer(cfg.URL), nil
	case config.TransportWebSocket:
		d := transport.NewWebSocketDialer(cfg.URL)
		if userID != "" {
			u, err := url.Parse(cfg.URL)
			if err != nil {
				return nil, fmt.Errorf("invalid push url: %w", err)
			}
			q := u.Query()
			q.Set("user_id", userID)
			u.RawQuery = q.Encode()
			d.URL = u.String()
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Transport)
	}
}

// newSession builds an unmounted engine session for auctionID.
func (s *Services) newSession(auctionID string) *engine.AuctionSession {
	bidding := s.Config.Bidding
	return engine.New(engine.Deps{
		API:       s.Client,
		Dialer:    s.Dialer,
		Reconnect: s.Config.Push.Reconnect,
		Metrics:   s.Metrics,
	}, engine.Config{
		AuctionID:        auctionID,
		UserID:           s.UserID,
		Policy:           bidding.Increment,
		ActivityCapacity: bidding.ActivityCapacity,
		ConfirmTimeout:   bidding.ConfirmTimeout,
		RefreshDelay:     bidding.RefreshDelay,
	})
}
