package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/livebid/go/internal/config"
	"github.com/mcdev12/livebid/go/internal/livebid/gateway"
)

func main() {
	configPath := flag.String("config", os.Getenv("LIVEBID_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	config.SetupLogging(cfg.Log)

	log.Info().
		Str("nats_url", cfg.Gateway.NATSURL).
		Str("stream", cfg.Gateway.StreamName).
		Str("port", cfg.Gateway.Port).
		Msg("starting push gateway")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := gateway.NewMetrics(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register metrics")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.JetStreamConfig.URL = cfg.Gateway.NATSURL
	gatewayConfig.JetStreamConfig.StreamName = cfg.Gateway.StreamName
	gatewayConfig.JetStreamConfig.ConsumerName = cfg.Gateway.ConsumerName
	gatewayConfig.JetStreamConfig.Subjects = cfg.Gateway.Subjects

	gatewayService, err := gateway.NewService(ctx, gatewayConfig, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	server := setupServer(cfg.Gateway, gatewayService, reg)

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	// Give the consumer time to nak in-flight messages
	time.Sleep(1 * time.Second)

	log.Info().Msg("push gateway shutdown complete")
}

func setupServer(cfg config.GatewayConfig, svc *gateway.Service, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()

	svc.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service": "livebid-gateway",
			"stats":   svc.GetStats(),
		})
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedOrigins: cfg.AllowedOrigin,
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}
