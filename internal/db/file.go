package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/room"
)

// FileStore keeps one JSON file per room under dir/<hash[:2]>/<hash>.json,
// where hash is the hex SHA-256 of the room id.
type FileStore struct {
	dir string
	log zerolog.Logger
}

type fileRecord struct {
	room.Snapshot
	RoomHash string `json:"roomHash"`
}

func NewFileStore(dir string, log zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	log.Info().Str("dir", dir).Msg("file store initialized")
	return &FileStore{dir: dir, log: log}, nil
}

func roomHash(roomID string) string {
	sum := sha256.Sum256([]byte(roomID))
	return hex.EncodeToString(sum[:])
}

func (s *FileStore) path(roomID string) (string, string) {
	hash := roomHash(roomID)
	return filepath.Join(s.dir, hash[:2], hash+".json"), hash
}

func (s *FileStore) Save(_ context.Context, snap room.Snapshot) error {
	path, hash := s.path(snap.RoomID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	snap.SavedAt = savedAt(snap)
	data, err := json.MarshalIndent(fileRecord{Snapshot: snap, RoomHash: hash}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Chtimes(path, snap.SavedAt, snap.SavedAt)
}

func (s *FileStore) Load(_ context.Context, roomID string) (*room.Snapshot, error) {
	path, _ := s.path(roomID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(roomID, data)
}

func (s *FileStore) Delete(_ context.Context, roomID string) error {
	path, _ := s.path(roomID)
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	removeIfEmpty(filepath.Dir(path))
	return nil
}

// PurgeOlderThan removes room files last modified before cutoff, and any
// shard directory left empty.
func (s *FileStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	shards, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		shardPath := filepath.Join(s.dir, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return deleted, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			info, err := f.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			filePath := filepath.Join(shardPath, f.Name())
			roomID := "?"
			if data, err := os.ReadFile(filePath); err == nil {
				var rec fileRecord
				if json.Unmarshal(data, &rec) == nil {
					roomID = rec.RoomID
				}
			}
			if err := os.Remove(filePath); err != nil {
				s.log.Error().Err(err).Str("file", filePath).Msg("failed to remove old room file")
				continue
			}
			deleted++
			s.log.Info().Str("room", roomID).Str("file", f.Name()).Msg("removed old room file")
		}
		removeIfEmpty(shardPath)
	}
	return deleted, nil
}

// Count returns the number of stored rooms.
func (s *FileStore) Count(_ context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*", "*.json"))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}
