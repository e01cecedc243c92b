package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/config"
	"github.com/manpreetbhatti/plaza/internal/room"
)

// Open builds the store selected by cfg.Persistence. The returned close
// function releases it. With persistence "none" the store is nil.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (room.Store, func(), error) {
	switch cfg.Persistence {
	case config.PersistenceSQLite:
		d, err := New(cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return d, func() { d.Close() }, nil
	case config.PersistenceFile:
		s, err := NewFileStore(cfg.RoomSaveDir, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return s, func() {}, nil
	case config.PersistenceRedis:
		s, err := NewRedisStore(ctx, cfg.RedisURL, cfg.RetentionMaxAge())
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info().Msg("redis store connected")
		return s, func() { s.Close() }, nil
	case config.PersistencePostgres:
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("postgres store connected")
		return s, s.Close, nil
	case config.PersistenceNone:
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence %q", cfg.Persistence)
	}
}
