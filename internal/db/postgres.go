package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manpreetbhatti/plaza/internal/room"
)

// PostgresStore keeps snapshots in a jsonb column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// makes sure its table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS room_snapshots (
			room_id TEXT PRIMARY KEY,
			snapshot_data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_room_snapshots_updated_at ON room_snapshots(updated_at);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Save(ctx context.Context, snap room.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO room_snapshots (room_id, snapshot_data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id) DO UPDATE SET
			snapshot_data = EXCLUDED.snapshot_data,
			updated_at = EXCLUDED.updated_at
	`, snap.RoomID, data, savedAt(snap))
	return err
}

func (s *PostgresStore) Load(ctx context.Context, roomID string) (*room.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		"SELECT snapshot_data FROM room_snapshots WHERE room_id = $1",
		roomID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(roomID, data)
}

func (s *PostgresStore) Delete(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM room_snapshots WHERE room_id = $1", roomID)
	return err
}

// PurgeOlderThan deletes snapshots last saved before cutoff.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM room_snapshots WHERE updated_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of stored rooms.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM room_snapshots").Scan(&count)
	return count, err
}
