package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livebid.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bidding.Increment.MinNextBid(1000) != 1100 {
		t.Fatalf("increment = %+v", cfg.Bidding.Increment)
	}
	if cfg.Bidding.ActivityCapacity != 20 || cfg.Bidding.RefreshDelay != 2*time.Second {
		t.Fatalf("bidding = %+v", cfg.Bidding)
	}
	if cfg.Push.Transport != TransportWebSocket {
		t.Fatalf("transport = %q", cfg.Push.Transport)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://auctions.example.com
push:
  transport: nats
  url: nats://broker:4222
  reconnect:
    initial_backoff: 250ms
    max_backoff: 5s
    max_retries: 3
bidding:
  increment:
    basis_points: 1000
    minimum: 50
  confirm_timeout: 15s
log:
  level: debug
`)
	t.Setenv("LIVEBID_API_URL", "https://override.example.com")
	t.Setenv("LIVEBID_REFRESH_DELAY", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.BaseURL != "https://override.example.com" {
		t.Errorf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.Push.Transport != TransportNATS || cfg.Push.URL != "nats://broker:4222" {
		t.Errorf("push = %+v", cfg.Push)
	}
	if cfg.Push.Reconnect.InitialBackoff != 250*time.Millisecond || cfg.Push.Reconnect.MaxRetries != 3 {
		t.Errorf("reconnect = %+v", cfg.Push.Reconnect)
	}
	if got := cfg.Bidding.Increment.MinNextBid(1000); got != 1100 {
		t.Errorf("MinNextBid(1000) = %d", got)
	}
	if got := cfg.Bidding.Increment.MinNextBid(200); got != 250 {
		t.Errorf("MinNextBid(200) = %d", got)
	}
	if cfg.Bidding.ConfirmTimeout != 15*time.Second || cfg.Bidding.RefreshDelay != 3*time.Second {
		t.Errorf("bidding = %+v", cfg.Bidding)
	}
	if cfg.Bidding.ActivityCapacity != 20 {
		t.Errorf("unset keys should keep defaults, capacity = %d", cfg.Bidding.ActivityCapacity)
	}
	if cfg.Log.ZerologLevel() != zerolog.DebugLevel {
		t.Errorf("level = %v", cfg.Log.ZerologLevel())
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	path := writeConfig(t, `
push:
  transport: carrier-pigeon
bidding:
  activity_capacity: -1
log:
  level: loud
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"push.transport", "activity_capacity", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSetupLogging(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	SetupLoggingTo(&buf, LogConfig{Level: "warn"})

	log.Info().Msg("hidden")
	log.Warn().Str("auction_id", "a1").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"auction_id":"a1"`) {
		t.Fatalf("log output = %q", out)
	}
}
