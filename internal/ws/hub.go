package ws

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/auth"
	"github.com/manpreetbhatti/plaza/internal/metrics"
	"github.com/manpreetbhatti/plaza/internal/protocol"
	"github.com/manpreetbhatti/plaza/internal/room"
	"github.com/manpreetbhatti/plaza/internal/router"
)

const DefaultInterval = 100 * time.Millisecond

// Conn is the transport side of a connection as the hub sees it.
type Conn interface {
	room.Transport
	// Room is the room the connection was authorized for, or "" for any.
	Room() string
	Role() auth.Role
}

// entry is one inbound message, or a closure posted to the loop.
type entry struct {
	msg  protocol.Message
	conn Conn
	fn   func()
}

// Inbound is the FIFO between transports and the loop. It is safe for
// concurrent producers and a single consumer.
type Inbound struct {
	mu      sync.Mutex
	entries []entry
}

func (q *Inbound) push(e entry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	n := len(q.entries)
	q.mu.Unlock()
	metrics.QueueDepth.Set(float64(n))
}

func (q *Inbound) pop() (entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return entry{}, false
	}
	e := q.entries[0]
	q.entries[0] = entry{}
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		q.entries = nil
	}
	return e, true
}

// Len reports the number of queued entries.
func (q *Inbound) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

type binding struct {
	room        *room.Room
	participant *room.Participant
}

type HubConfig struct {
	Store     room.Store
	SaveDelay time.Duration
	Interval  time.Duration
	Router    *router.Router
	Logger    zerolog.Logger
}

// Hub owns every room. All room state is touched only from Run.
type Hub struct {
	inbound  Inbound
	registry *room.Registry
	router   *router.Router
	interval time.Duration
	log      zerolog.Logger

	// transport id -> entity, loop only
	bindings map[string]binding

	load atomic.Uint64
	ctx  context.Context
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Router == nil {
		cfg.Router = router.New(cfg.Logger)
	}
	h := &Hub{
		router:   cfg.Router,
		interval: cfg.Interval,
		log:      cfg.Logger,
		bindings: make(map[string]binding),
		ctx:      context.Background(),
	}
	h.registry = room.NewRegistry(room.RegistryConfig{
		Store:     cfg.Store,
		SaveDelay: cfg.SaveDelay,
		Post:      h.Post,
		Logger:    cfg.Logger,
	})
	return h
}

// Registry returns the rooms. Outside the loop it may only be used once Run
// has returned.
func (h *Hub) Registry() *room.Registry { return h.registry }

// Enqueue queues a message received on conn.
func (h *Hub) Enqueue(msg protocol.Message, conn Conn) {
	h.inbound.push(entry{msg: msg, conn: conn})
}

// Post queues f to run on the loop.
func (h *Hub) Post(f func()) {
	h.inbound.push(entry{fn: f})
}

// Query runs fn on the loop and waits for it. fn must not retain the
// registry.
func (h *Hub) Query(ctx context.Context, fn func(reg *room.Registry)) error {
	done := make(chan struct{})
	h.Post(func() {
		defer close(done)
		fn(h.registry)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load is the fraction of the last interval spent processing messages.
func (h *Hub) Load() float64 {
	return math.Float64frombits(h.load.Load())
}

// Pending is the number of queued inbound entries.
func (h *Hub) Pending() int { return h.inbound.Len() }

// Run processes inbound entries every interval, for at most half of it, until
// ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	h.ctx = ctx
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info().Dur("interval", h.interval).Msg("message loop started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Int("pending", h.inbound.Len()).Msg("message loop stopped")
			return nil
		case <-ticker.C:
			h.drain(h.interval / 2)
		}
	}
}

// drain processes entries until the queue is empty or budget is spent.
func (h *Hub) drain(budget time.Duration) {
	start := time.Now()
	for time.Since(start) < budget {
		e, ok := h.inbound.pop()
		if !ok {
			break
		}
		h.process(e)
	}

	load := float64(time.Since(start)) / float64(h.interval)
	h.load.Store(math.Float64bits(load))
	metrics.MessageLoad.Set(load)
	metrics.QueueDepth.Set(float64(h.inbound.Len()))
	metrics.RoomsActive.Set(float64(h.registry.Len()))
	metrics.ParticipantsActive.Set(float64(h.registry.ParticipantCount()))
}

func (h *Hub) process(e entry) {
	if e.fn != nil {
		h.run(e.fn)
		return
	}

	b, ok := h.resolve(e.msg, e.conn)
	if !ok {
		return
	}
	if protocol.Moderating(e.msg.T) && e.conn.Role() != auth.RoleAdmin {
		metrics.MessagesDropped.WithLabelValues("forbidden").Inc()
		h.log.Warn().Str("room", b.room.ID).Str("participant", b.participant.ID).
			Str("type", string(e.msg.T)).Msg("moderation from non-admin")
		return
	}
	if err := h.router.Dispatch(e.msg, b.participant, b.room); err != nil {
		metrics.MessagesDropped.WithLabelValues("invalid").Inc()
		h.log.Warn().Err(err).Str("room", b.room.ID).Str("participant", b.participant.ID).
			Str("type", string(e.msg.T)).Msg("message rejected")
	} else {
		metrics.MessagesProcessed.WithLabelValues(string(e.msg.T)).Inc()
	}

	if e.msg.T == protocol.ParticipantLeftByError {
		delete(h.bindings, e.conn.ID())
	}
}

// resolve finds the room and participant a message applies to. The first
// message of a connection binds it using the message's r and p.
func (h *Hub) resolve(msg protocol.Message, conn Conn) (binding, bool) {
	if b, ok := h.bindings[conn.ID()]; ok {
		if msg.T != protocol.ParticipantLeftByError && b.room.Participant(b.participant.ID) != b.participant {
			metrics.MessagesDropped.WithLabelValues("stale").Inc()
			return binding{}, false
		}
		return b, true
	}

	if msg.T == protocol.ParticipantLeftByError {
		return binding{}, false
	}
	if msg.R == "" || msg.P == "" {
		metrics.MessagesDropped.WithLabelValues("unbound").Inc()
		h.log.Warn().Str("conn", conn.ID()).Str("type", string(msg.T)).Msg("first message lacks room or participant")
		return binding{}, false
	}
	if allowed := conn.Room(); allowed != "" && allowed != msg.R {
		metrics.MessagesDropped.WithLabelValues("unauthorized").Inc()
		h.log.Warn().Str("conn", conn.ID()).Str("room", msg.R).Str("allowed", allowed).Msg("room not authorized for connection")
		conn.Close(4003, "room not authorized")
		return binding{}, false
	}

	r := h.registry.GetOrCreate(h.ctx, msg.R)
	p := r.GetOrCreateParticipant(msg.P, conn)
	b := binding{room: r, participant: p}
	h.bindings[conn.ID()] = b
	return b, true
}

func (h *Hub) run(f func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error().Str("panic", fmt.Sprint(rec)).Msg("posted task panicked")
		}
	}()
	f()
}
