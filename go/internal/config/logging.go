package config

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger.
func SetupLogging(cfg LogConfig) {
	SetupLoggingTo(os.Stderr, cfg)
}

// SetupLoggingTo is SetupLogging with an explicit writer.
func SetupLoggingTo(w io.Writer, cfg LogConfig) {
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(cfg.ZerologLevel())
}
