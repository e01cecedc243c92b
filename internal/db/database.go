package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/plaza/internal/room"
)

// Database stores room snapshots in SQLite.
type Database struct {
	db  *sql.DB
	log zerolog.Logger
}

// SavedRoom describes a stored snapshot without its contents.
type SavedRoom struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(dbPath string, log zerolog.Logger) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", dbPath).Msg("database initialized")
	return &Database{db: db, log: log}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_id TEXT PRIMARY KEY,
		snapshot_data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_room_snapshots_updated_at ON room_snapshots(updated_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Save(ctx context.Context, snap room.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, snapshot_data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			updated_at = excluded.updated_at
	`, snap.RoomID, data, savedAt(snap).Unix())
	return err
}

func (d *Database) Load(ctx context.Context, roomID string) (*room.Snapshot, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx,
		"SELECT snapshot_data FROM room_snapshots WHERE room_id = ?",
		roomID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(roomID, data)
}

func (d *Database) Delete(ctx context.Context, roomID string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM room_snapshots WHERE room_id = ?", roomID)
	return err
}

// PurgeOlderThan deletes snapshots last saved before cutoff.
func (d *Database) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM room_snapshots WHERE updated_at < ?", cutoff.Unix())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// ListSaved returns stored rooms, most recently saved first.
func (d *Database) ListSaved(ctx context.Context, limit, offset int) ([]SavedRoom, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT room_id, updated_at FROM room_snapshots ORDER BY updated_at DESC, room_id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []SavedRoom
	for rows.Next() {
		var r SavedRoom
		var updated int64
		if err := rows.Scan(&r.ID, &updated); err != nil {
			return nil, err
		}
		r.UpdatedAt = time.Unix(updated, 0).UTC()
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// Count returns the number of stored rooms.
func (d *Database) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM room_snapshots").Scan(&count)
	return count, err
}

func savedAt(snap room.Snapshot) time.Time {
	if snap.SavedAt.IsZero() {
		return time.Now()
	}
	return snap.SavedAt
}

// decodeSnapshot parses a stored record and checks it belongs to roomID.
func decodeSnapshot(roomID string, data []byte) (*room.Snapshot, error) {
	var snap room.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", roomID, err)
	}
	if snap.RoomID != roomID {
		return nil, fmt.Errorf("snapshot for %q stored under %q", snap.RoomID, roomID)
	}
	return &snap, nil
}
