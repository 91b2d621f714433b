package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/crateplan/cmd/crateplan/commands"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	configureLogger(os.Getenv("CRATEPLAN_LOG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()

	if err != nil {
		log.Error().Msg(err.Error())
		os.Exit(1)
	}
}

// configureLogger writes human-readable logs to stderr at the level named
// by spec, warn when spec is empty or unknown. --verbose lowers it later.
func configureLogger(spec string) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(spec)
	if err != nil || spec == "" {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
}
