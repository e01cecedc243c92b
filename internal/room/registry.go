package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/metrics"
	"github.com/manpreetbhatti/plaza/internal/schedule"
)

// Snapshot is the durable part of a room: its properties and wallpapers.
type Snapshot struct {
	RoomID     string            `json:"roomId"`
	Properties map[string]string `json:"properties"`
	Wallpapers []Content         `json:"wallpaperContents"`
	SavedAt    time.Time         `json:"lastSaved"`
}

// Store persists room snapshots. Load returns nil, nil for an unknown room.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, roomID string) (*Snapshot, error)
	Delete(ctx context.Context, roomID string) error
}

// Purger is implemented by stores that can drop rooms not saved since a
// cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

const (
	DefaultSaveDelay   = 5 * time.Second
	DefaultLoadTimeout = 2 * time.Second
	storeTimeout       = 10 * time.Second
)

type RegistryConfig struct {
	Store     Store
	Clock     schedule.Clock
	SaveDelay time.Duration
	// LoadTimeout bounds the restore of a new room. It runs on the loop, so
	// every room waits for it.
	LoadTimeout time.Duration
	// Post runs f on the goroutine that owns the rooms. Nil runs f inline.
	Post   func(f func())
	Logger zerolog.Logger
}

// Registry maps room ids to rooms, creating them on first reference. Rooms
// are never evicted.
type Registry struct {
	cfg    RegistryConfig
	rooms  map[string]*Room
	savers map[string]*schedule.Debouncer
	// dirty holds rooms changed since their last snapshot. Cleared only by
	// save, so a save still queued on the loop is not forgotten.
	dirty  map[string]bool
	saving sync.WaitGroup
	log    zerolog.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = schedule.System()
	}
	if cfg.SaveDelay <= 0 {
		cfg.SaveDelay = DefaultSaveDelay
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Post == nil {
		cfg.Post = func(f func()) { f() }
	}
	return &Registry{
		cfg:    cfg,
		rooms:  make(map[string]*Room),
		savers: make(map[string]*schedule.Debouncer),
		dirty:  make(map[string]bool),
		log:    cfg.Logger,
	}
}

// Get returns an existing room or nil.
func (g *Registry) Get(id string) *Room {
	return g.rooms[id]
}

// GetOrCreate returns the room with the given id. A new room is restored
// from the store before it is returned.
func (g *Registry) GetOrCreate(ctx context.Context, id string) *Room {
	if r, ok := g.rooms[id]; ok {
		return r
	}

	r := New(id, g.log)
	saver := schedule.NewDebouncer(g.cfg.Clock, g.cfg.SaveDelay, func() {
		g.cfg.Post(func() { g.save(r) })
	})
	r.modified = func() {
		g.dirty[id] = true
		saver.Trigger()
	}
	g.savers[id] = saver
	g.rooms[id] = r

	if g.cfg.Store != nil {
		loadCtx, cancel := context.WithTimeout(ctx, g.cfg.LoadTimeout)
		start := time.Now()
		snap, err := g.cfg.Store.Load(loadCtx, id)
		cancel()
		metrics.PersistenceLatency.Observe(time.Since(start).Seconds())
		metrics.PersistenceOps.WithLabelValues("load", metrics.Result(err)).Inc()
		switch {
		case err != nil:
			g.log.Error().Err(err).Str("room", id).Msg("failed to load room")
		case snap != nil:
			r.restore(snap)
			g.log.Info().Str("room", id).Int("wallpapers", len(snap.Wallpapers)).
				Int("properties", len(snap.Properties)).Msg("room restored")
		}
	}

	metrics.RoomsActive.Set(float64(len(g.rooms)))
	g.log.Info().Str("room", id).Int("rooms", len(g.rooms)).Msg("room created")
	return r
}

// Rooms returns all rooms ordered by id.
func (g *Registry) Rooms() []*Room {
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// Len returns the number of rooms.
func (g *Registry) Len() int { return len(g.rooms) }

// ParticipantCount sums participants over all rooms.
func (g *Registry) ParticipantCount() int {
	n := 0
	for _, r := range g.rooms {
		n += len(r.participants)
	}
	return n
}

// save snapshots r on the calling goroutine and writes it in the
// background. A room without wallpaper has its record deleted.
func (g *Registry) save(r *Room) {
	delete(g.dirty, r.ID)
	if g.cfg.Store == nil {
		return
	}
	snap := r.Snapshot()
	snap.SavedAt = g.cfg.Clock.Now()

	g.saving.Add(1)
	go func() {
		defer g.saving.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		g.write(ctx, snap)
	}()
}

func (g *Registry) write(ctx context.Context, snap Snapshot) {
	start := time.Now()
	var err error
	op := "save"
	if len(snap.Wallpapers) == 0 {
		op = "delete"
		err = g.cfg.Store.Delete(ctx, snap.RoomID)
	} else {
		err = g.cfg.Store.Save(ctx, snap)
	}
	metrics.PersistenceLatency.Observe(time.Since(start).Seconds())
	metrics.PersistenceOps.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		g.log.Error().Err(err).Str("room", snap.RoomID).Str("op", op).Msg("failed to persist room")
		return
	}
	g.log.Debug().Str("room", snap.RoomID).Str("op", op).Int("wallpapers", len(snap.Wallpapers)).
		Int("properties", len(snap.Properties)).Msg("room persisted")
}

// FlushPending writes every room changed since its last snapshot and waits
// for all writes to finish. Used on shutdown, after the loop has stopped;
// saves posted to the loop but never run are covered too.
func (g *Registry) FlushPending(ctx context.Context) {
	if g.cfg.Store != nil {
		for id := range g.dirty {
			if saver := g.savers[id]; saver != nil {
				saver.Cancel()
			}
			snap := g.rooms[id].Snapshot()
			snap.SavedAt = g.cfg.Clock.Now()
			g.write(ctx, snap)
		}
		clear(g.dirty)
	}
	g.saving.Wait()
}
