package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/schedule"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]Snapshot
	saves   int
	deletes int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Snapshot)}
}

func (s *memStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[snap.RoomID] = snap
	s.saves++
	return nil
}

func (s *memStore) Load(_ context.Context, roomID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.records[roomID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *memStore) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, roomID)
	s.deletes++
	return nil
}

func (s *memStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, s.deletes
}

func setupRegistry(store Store) (*Registry, *schedule.FakeClock) {
	clock := schedule.NewFakeClock(time.Unix(1700000000, 0))
	reg := NewRegistry(RegistryConfig{
		Store:     store,
		Clock:     clock,
		SaveDelay: 5 * time.Second,
		Logger:    zerolog.Nop(),
	})
	return reg, clock
}

func TestRegistryGetOrCreate(t *testing.T) {
	reg, _ := setupRegistry(nil)
	ctx := context.Background()

	r := reg.GetOrCreate(ctx, "room-1")
	if r == nil {
		t.Fatal("Room should be created")
	}
	if reg.GetOrCreate(ctx, "room-1") != r {
		t.Error("Second lookup should return the same room")
	}
	if reg.Get("missing") != nil {
		t.Error("Get should not create rooms")
	}
	reg.GetOrCreate(ctx, "room-0")
	rooms := reg.Rooms()
	if len(rooms) != 2 || rooms[0].ID != "room-0" {
		t.Errorf("Expected rooms sorted by id, got %d rooms", len(rooms))
	}
}

func TestDurableRoundTrip(t *testing.T) {
	store := newMemStore()
	reg, clock := setupRegistry(store)
	ctx := context.Background()

	r := reg.GetOrCreate(ctx, "lobby")
	a, _ := join(r, "A")
	r.ApplyContentUpdates([]Payload{
		payload(t, "wall", 0, 0, `,"wallpaper":true,"url":"https://example.com/bg.png"`),
		payload(t, "note", 10, 10, ""),
	}, a)
	r.SetProperty("bg", "blue")

	clock.Advance(5 * time.Second)
	reg.FlushPending(ctx)

	saves, _ := store.counts()
	if saves != 1 {
		t.Fatalf("Expected one debounced save, got %d", saves)
	}

	restarted, _ := setupRegistry(store)
	restored := restarted.GetOrCreate(ctx, "lobby")

	if len(restored.Contents()) != 1 || restored.Content("wall") == nil {
		t.Fatalf("Expected only the wallpaper to be restored, got %d contents", len(restored.Contents()))
	}
	if restored.Properties()["bg"] != "blue" {
		t.Errorf("Expected property restored, got %v", restored.Properties())
	}
	wall := restored.Content("wall")
	if wall.Payload.Info().Name != "n" {
		t.Errorf("Expected payload fields restored, got %+v", wall.Payload.Info())
	}
	if restored.Tick() < wall.TimeUpdate {
		t.Errorf("Tick %d should not lag restored stamp %d", restored.Tick(), wall.TimeUpdate)
	}
}

func TestPropertiesPersistOnlyWithWallpaper(t *testing.T) {
	store := newMemStore()
	reg, clock := setupRegistry(store)
	ctx := context.Background()

	r := reg.GetOrCreate(ctx, "plain")
	r.SetProperty("bg", "blue")
	clock.Advance(10 * time.Second)
	reg.FlushPending(ctx)

	if saves, deletes := store.counts(); saves != 0 || deletes != 0 {
		t.Errorf("Room without wallpaper should not be persisted, got %d saves %d deletes", saves, deletes)
	}
}

func TestSaveIsDebounced(t *testing.T) {
	store := newMemStore()
	reg, clock := setupRegistry(store)
	ctx := context.Background()

	r := reg.GetOrCreate(ctx, "busy")
	a, _ := join(r, "A")
	for i := 0; i < 5; i++ {
		r.ApplyContentUpdates([]Payload{payload(t, "wall", float64(i), 0, `,"wallpaper":true`)}, a)
		clock.Advance(time.Second)
	}
	if saves, _ := store.counts(); saves != 0 {
		t.Fatalf("No save should fire while updates keep coming, got %d", saves)
	}

	clock.Advance(5 * time.Second)
	reg.FlushPending(ctx)
	if saves, _ := store.counts(); saves != 1 {
		t.Errorf("Expected exactly one save, got %d", saves)
	}
}

func TestRemovingLastWallpaperDeletesRecord(t *testing.T) {
	store := newMemStore()
	reg, clock := setupRegistry(store)
	ctx := context.Background()

	r := reg.GetOrCreate(ctx, "gallery")
	a, _ := join(r, "A")
	r.ApplyContentUpdates([]Payload{payload(t, "wall", 0, 0, `,"wallpaper":true`)}, a)
	clock.Advance(5 * time.Second)
	reg.FlushPending(ctx)

	r.RemoveContents([]string{"wall"}, a)
	clock.Advance(5 * time.Second)
	reg.FlushPending(ctx)

	if _, deletes := store.counts(); deletes != 1 {
		t.Errorf("Expected the record to be deleted, got %d deletes", deletes)
	}
	if snap, _ := store.Load(ctx, "gallery"); snap != nil {
		t.Error("Record should be gone")
	}
}

func TestFlushPendingWritesImmediately(t *testing.T) {
	store := newMemStore()
	reg, _ := setupRegistry(store)
	ctx := context.Background()

	r := reg.GetOrCreate(ctx, "shutdown")
	a, _ := join(r, "A")
	r.ApplyContentUpdates([]Payload{payload(t, "wall", 0, 0, `,"wallpaper":true`)}, a)

	reg.FlushPending(ctx)
	if saves, _ := store.counts(); saves != 1 {
		t.Errorf("Pending save should be written on flush, got %d", saves)
	}
}

func TestFlushPendingCoversQueuedSave(t *testing.T) {
	store := newMemStore()
	clock := schedule.NewFakeClock(time.Unix(1700000000, 0))
	var queued []func()
	reg := NewRegistry(RegistryConfig{
		Store:     store,
		Clock:     clock,
		SaveDelay: 5 * time.Second,
		// the loop has stopped: posted saves are never run
		Post:   func(f func()) { queued = append(queued, f) },
		Logger: zerolog.Nop(),
	})
	ctx := context.Background()

	r := reg.GetOrCreate(ctx, "late")
	a, _ := join(r, "A")
	r.ApplyContentUpdates([]Payload{payload(t, "wall", 0, 0, `,"wallpaper":true`)}, a)
	clock.Advance(5 * time.Second)

	if len(queued) != 1 {
		t.Fatalf("Expected the save to be posted once, got %d", len(queued))
	}

	reg.FlushPending(ctx)
	if saves, _ := store.counts(); saves != 1 {
		t.Fatalf("Posted but unrun save should be written on flush, got %d saves", saves)
	}
	snap, _ := store.Load(ctx, "late")
	if snap == nil || len(snap.Wallpapers) != 1 {
		t.Errorf("Expected the wallpaper to be stored, got %+v", snap)
	}

	reg.FlushPending(ctx)
	if saves, _ := store.counts(); saves != 1 {
		t.Errorf("A clean room should not be written again, got %d saves", saves)
	}
}

func TestFlushPendingSkipsSavedRooms(t *testing.T) {
	store := newMemStore()
	reg, clock := setupRegistry(store)
	ctx := context.Background()

	r := reg.GetOrCreate(ctx, "saved")
	a, _ := join(r, "A")
	r.ApplyContentUpdates([]Payload{payload(t, "wall", 0, 0, `,"wallpaper":true`)}, a)
	clock.Advance(5 * time.Second)

	reg.FlushPending(ctx)
	if saves, _ := store.counts(); saves != 1 {
		t.Errorf("Expected only the debounced save, got %d", saves)
	}
}

type stallingStore struct{ *memStore }

func (s *stallingStore) Load(ctx context.Context, _ string) (*Snapshot, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSlowLoadIsBounded(t *testing.T) {
	reg := NewRegistry(RegistryConfig{
		Store:       &stallingStore{newMemStore()},
		LoadTimeout: 20 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})

	start := time.Now()
	r := reg.GetOrCreate(context.Background(), "slow")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Load should give up after its timeout, took %v", elapsed)
	}
	if r == nil || len(r.Contents()) != 0 {
		t.Errorf("Expected an empty room after a failed load, got %+v", r)
	}
	if reg.Get("slow") != r {
		t.Error("Room should still be registered")
	}
}

func TestDefaultLoadTimeout(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Logger: zerolog.Nop()})
	if reg.cfg.LoadTimeout != DefaultLoadTimeout {
		t.Errorf("Expected %v, got %v", DefaultLoadTimeout, reg.cfg.LoadTimeout)
	}
}
