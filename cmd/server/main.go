package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/manpreetbhatti/plaza/internal/api"
	"github.com/manpreetbhatti/plaza/internal/auth"
	"github.com/manpreetbhatti/plaza/internal/config"
	"github.com/manpreetbhatti/plaza/internal/db"
	"github.com/manpreetbhatti/plaza/internal/ratelimit"
	"github.com/manpreetbhatti/plaza/internal/retention"
	"github.com/manpreetbhatti/plaza/internal/room"
	"github.com/manpreetbhatti/plaza/internal/router"
	"github.com/manpreetbhatti/plaza/internal/ws"
)

const (
	shutdownTimeout    = 15 * time.Second
	policyReloadPeriod = 30 * time.Second
)

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "plaza").Logger()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := db.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("persistence", cfg.Persistence).Msg("failed to open store")
	}
	defer closeStore()

	authorizer, err := auth.New(cfg.LoginPolicyFile, cfg.JWTSecret, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.LoginPolicyFile).Msg("failed to load login policy")
	}

	ipLimiter := ratelimit.NewClientLimiters(10, 20)
	defer ipLimiter.Stop()

	hub := ws.NewHub(ws.HubConfig{
		Store:     store,
		SaveDelay: cfg.SaveDebounce,
		Interval:  cfg.LoopInterval,
		Router:    router.New(logger),
		Logger:    logger,
	})

	wsOpts := ws.Options{
		Authorizer:        authorizer,
		IPLimiter:         ipLimiter,
		Timeout:           cfg.WSTimeout,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		Logger:            logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.New(hub, store, logger), hub, wsOpts, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if purger, ok := store.(room.Purger); ok && cfg.RetentionMaxAge() > 0 {
		svc := retention.New(purger, retention.Config{
			Interval: cfg.RetentionInterval,
			MaxAge:   cfg.RetentionMaxAge(),
		}, logger)
		svc.Start()
		defer svc.Stop()
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := hub.Run(hubCtx)

		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Registry().FlushPending(flushCtx)
		logger.Info().Msg("pending room saves written")
		return err
	})

	g.Go(func() error {
		authorizer.Watch(gctx, policyReloadPeriod)
		return nil
	})

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("persistence", cfg.Persistence).
			Dur("interval", cfg.LoopInterval).
			Msg("plaza server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)

		// Let the loop process the disconnects queued by the shutdown.
		time.Sleep(2 * cfg.LoopInterval)
		stopHub()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
