package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livebid/go/internal/config"
)

const usage = `usage: livebid [flags] <command> [args]

commands:
  watch <auctionId>           follow an auction until it closes
  bid <auctionId> <amount>    place a bid and wait for the outcome
  start <auctionId>           start a scheduled auction

flags:
`

func main() {
	os.Exit(execute())
}

// execute runs the CLI and returns the process exit code once every deferred
// cleanup has run.
func execute() int {
	fs := flag.NewFlagSet("livebid", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("LIVEBID_CONFIG"), "path to a YAML config file")
	userID := fs.String("user", os.Getenv("LIVEBID_USER_ID"), "signed-in user ID; empty watches anonymously")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}
	config.SetupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(cfg, *userID)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up services")
		return 1
	}
	if *metricsAddr != "" {
		srv := setupMetricsServer(*metricsAddr, services.Registry)
		go serveMetrics(srv)
		defer shutdownMetrics(srv)
	}

	if err := run(ctx, services, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		fmt.Fprintf(os.Stderr, "livebid: %v\n", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func run(ctx context.Context, services *Services, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "watch":
		if len(args) != 2 {
			return errUsage
		}
		return watch(ctx, services, args[1], os.Stdout)
	case "bid":
		if len(args) != 3 {
			return errUsage
		}
		return bid(ctx, services, args[1], args[2], os.Stdout)
	case "start":
		if len(args) != 2 {
			return errUsage
		}
		return start(ctx, services, args[1], os.Stdout)
	default:
		return errUsage
	}
}
