// Package config loads client and gateway settings from an optional YAML
// file, then applies LIVEBID_* / NATS_* / GATEWAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/livebid/go/internal/livebid/store"
	"github.com/mcdev12/livebid/go/internal/livebid/transport"
)

// Push transports.
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// Config holds all runtime settings.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Push    PushConfig    `yaml:"push"`
	Bidding BiddingConfig `yaml:"bidding"`
	Log     LogConfig     `yaml:"log"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// APIConfig locates the REST resource provider.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// PushConfig selects and tunes the push transport.
type PushConfig struct {
	Transport string           `yaml:"transport"`
	URL       string           `yaml:"url"`
	Reconnect transport.Config `yaml:"reconnect"`
}

// BiddingConfig tunes the auction session.
type BiddingConfig struct {
	Increment        store.IncrementPolicy `yaml:"increment"`
	ActivityCapacity int                   `yaml:"activity_capacity"`
	ConfirmTimeout   time.Duration         `yaml:"confirm_timeout"`
	RefreshDelay     time.Duration         `yaml:"refresh_delay"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// GatewayConfig configures the push gateway binary.
type GatewayConfig struct {
	Port          string   `yaml:"port"`
	NATSURL       string   `yaml:"nats_url"`
	StreamName    string   `yaml:"stream_name"`
	ConsumerName  string   `yaml:"consumer_name"`
	Subjects      []string `yaml:"subjects"`
	AllowedOrigin []string `yaml:"allowed_origins"`
}

// Default returns settings for a local development stack.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Push: PushConfig{
			Transport: TransportWebSocket,
			URL:       "ws://localhost:8081/ws",
			Reconnect: transport.DefaultConfig(),
		},
		Bidding: BiddingConfig{
			Increment:        store.DefaultIncrementPolicy(),
			ActivityCapacity: store.DefaultActivityCapacity,
			ConfirmTimeout:   10 * time.Second,
			RefreshDelay:     2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Gateway: GatewayConfig{
			Port:          "8081",
			NATSURL:       "nats://localhost:4222",
			StreamName:    "AUCTION_EVENTS",
			ConsumerName:  "livebid-gateway",
			Subjects:      []string{"auctions.>", "users.>"},
			AllowedOrigin: []string{"*"},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.API.BaseURL = getEnv("LIVEBID_API_URL", c.API.BaseURL)
	c.API.Token = getEnv("LIVEBID_API_TOKEN", c.API.Token)
	c.Push.Transport = strings.ToLower(getEnv("LIVEBID_PUSH_TRANSPORT", c.Push.Transport))
	c.Push.URL = getEnv("LIVEBID_PUSH_URL", c.Push.URL)
	c.Push.Reconnect.MaxRetries = getEnvAsInt("LIVEBID_RECONNECT_MAX_RETRIES", c.Push.Reconnect.MaxRetries)
	c.Bidding.ConfirmTimeout = getEnvAsDuration("LIVEBID_CONFIRM_TIMEOUT", c.Bidding.ConfirmTimeout)
	c.Bidding.RefreshDelay = getEnvAsDuration("LIVEBID_REFRESH_DELAY", c.Bidding.RefreshDelay)
	c.Log.Level = getEnv("LIVEBID_LOG_LEVEL", c.Log.Level)
	c.Gateway.Port = getEnv("GATEWAY_PORT", c.Gateway.Port)
	c.Gateway.NATSURL = getEnv("NATS_URL", c.Gateway.NATSURL)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	switch c.Push.Transport {
	case TransportNATS, TransportWebSocket:
	default:
		errs = append(errs, fmt.Errorf("push.transport must be %q or %q, got %q", TransportNATS, TransportWebSocket, c.Push.Transport))
	}
	if c.Push.URL == "" {
		errs = append(errs, errors.New("push.url is required"))
	}
	if c.Push.Reconnect.InitialBackoff <= 0 || c.Push.Reconnect.MaxBackoff < c.Push.Reconnect.InitialBackoff {
		errs = append(errs, errors.New("push.reconnect backoff must satisfy 0 < initial_backoff <= max_backoff"))
	}
	if c.Bidding.Increment.BasisPoints < 0 || c.Bidding.Increment.Minimum <= 0 {
		errs = append(errs, errors.New("bidding.increment needs basis_points >= 0 and minimum > 0"))
	}
	if c.Bidding.ActivityCapacity <= 0 {
		errs = append(errs, errors.New("bidding.activity_capacity must be positive"))
	}
	if c.Bidding.ConfirmTimeout <= 0 || c.Bidding.RefreshDelay < 0 {
		errs = append(errs, errors.New("bidding.confirm_timeout must be positive and refresh_delay non-negative"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// ZerologLevel returns the configured level, defaulting to info.
func (l LogConfig) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
