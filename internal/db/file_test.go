package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func setupFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	return store, dir
}

func TestFileStore(t *testing.T) {
	store, _ := setupFileStore(t)
	storeContract(t, store)
}

func TestFileStoreLayout(t *testing.T) {
	store, dir := setupFileStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSnapshot(t, "lobby", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	hash := roomHash("lobby")
	if len(hash) != 64 {
		t.Fatalf("Expected a hex sha256, got %q", hash)
	}
	path := filepath.Join(dir, hash[:2], hash+".json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected room file at %s: %v", path, err)
	}

	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("Expected 1 stored room, got %d", n)
	}

	if err := store.Delete(ctx, "lobby"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, hash[:2])); !os.IsNotExist(err) {
		t.Error("Empty shard directory should be removed")
	}
}

func TestFileStoreRejectsHashCollision(t *testing.T) {
	store, dir := setupFileStore(t)
	ctx := context.Background()

	store.Save(ctx, testSnapshot(t, "lobby", time.Now()))
	hash := roomHash("lobby")
	data, err := os.ReadFile(filepath.Join(dir, hash[:2], hash+".json"))
	if err != nil {
		t.Fatal(err)
	}

	// Plant lobby's record under another room's path.
	other := roomHash("other")
	os.MkdirAll(filepath.Join(dir, other[:2]), 0755)
	if err := os.WriteFile(filepath.Join(dir, other[:2], other+".json"), data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, "other"); err == nil {
		t.Error("Expected the room id check to fail")
	}
}

func TestFileStorePurgesCorruptFiles(t *testing.T) {
	store, dir := setupFileStore(t)
	ctx := context.Background()

	shard := filepath.Join(dir, "zz")
	os.MkdirAll(shard, 0755)
	path := filepath.Join(shard, "broken.json")
	os.WriteFile(path, []byte("{"), 0644)
	old := time.Now().Add(-48 * time.Hour)
	os.Chtimes(path, old, old)

	n, err := store.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the corrupt file to be purged, got %d", n)
	}
	if _, err := os.Stat(shard); !os.IsNotExist(err) {
		t.Error("Empty shard should be removed")
	}
}
