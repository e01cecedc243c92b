package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/config"
	"github.com/manpreetbhatti/plaza/internal/db"
	"github.com/manpreetbhatti/plaza/internal/retention"
	"github.com/manpreetbhatti/plaza/internal/room"
)

func main() {
	days := flag.Int("days", 30, "remove rooms not saved for this many days")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "-days must be positive")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, closeStore, err := db.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	purger, ok := store.(room.Purger)
	if !ok {
		log.Fatal().Str("persistence", cfg.Persistence).Msg("store does not support cleanup")
	}

	svc := retention.New(purger, retention.Config{MaxAge: time.Duration(*days) * 24 * time.Hour}, log)
	n, err := svc.PurgeNow(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed")
		closeStore()
		os.Exit(1)
	}
	log.Info().Int("rooms", n).Int("days", *days).Msg("cleanup completed")
}
