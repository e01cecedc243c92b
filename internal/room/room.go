package room

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/protocol"
)

// ChatHistoryLimit caps one chat history response.
const ChatHistoryLimit = 100

// ChatMessage is one entry of a room's chat log.
type ChatMessage struct {
	From      string   `json:"from"`
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	To        string   `json:"to,omitempty"`
	Text      string   `json:"text"`
	Ts        float64  `json:"ts"`
	Colors    []string `json:"colors,omitempty"`
}

// A shared space. Rooms are only touched from the hub's loop goroutine.
type Room struct {
	ID string

	tick         int64
	participants map[string]*Participant
	order        []*Participant
	contents     map[string]*Content
	contentOrder []string
	properties   map[string]string
	chat         []ChatMessage

	// modified is called when durable state changes.
	modified func()
	log      zerolog.Logger
}

// Creates an empty room. The tick starts at 1.
func New(id string, log zerolog.Logger) *Room {
	return &Room{
		ID:           id,
		tick:         1,
		participants: make(map[string]*Participant),
		contents:     make(map[string]*Content),
		properties:   make(map[string]string),
		modified:     func() {},
		log:          log.With().Str("room", id).Logger(),
	}
}

// Tick returns the room's logical clock.
func (r *Room) Tick() int64 { return r.tick }

// Advance increments the logical clock and returns the new value.
func (r *Room) Advance() int64 {
	r.tick++
	return r.tick
}

// Participant looks up a participant by id.
func (r *Room) Participant(id string) *Participant {
	return r.participants[id]
}

// Participants returns participants in join order. The slice must not be
// modified.
func (r *Room) Participants() []*Participant { return r.order }

// Returns the participant with the given id, creating it if needed. A
// participant that reconnected on a new transport replaces the stale one,
// whose transport is closed and whose entity is cleaned up first.
func (r *Room) GetOrCreateParticipant(id string, t Transport) *Participant {
	if p, ok := r.participants[id]; ok {
		if p.Transport == t {
			return p
		}
		r.log.Warn().Str("participant", id).Msg("participant reconnected on a new transport, evicting stale entity")
		if p.Transport != nil && p.Transport.Open() {
			p.Transport.Close(1000, "replaced by a new connection")
		}
		r.OnParticipantLeft(p)
	}

	p := newParticipant(id, t)
	r.participants[id] = p
	r.order = append(r.order, p)
	r.log.Info().Str("participant", id).Int("participants", len(r.order)).Msg("participant joined")
	if r.HasWallpaper() {
		r.modified()
	}
	return p
}

// OnParticipantLeft removes p and everything that only existed for it.
func (r *Room) OnParticipantLeft(p *Participant) {
	if r.participants[p.ID] != p {
		return
	}

	var screens []string
	for _, id := range r.contentOrder {
		c := r.contents[id]
		if (c.Payload.Type == "screen" || c.Payload.Type == "camera") && strings.HasPrefix(id, p.ID) {
			screens = append(screens, id)
		}
	}
	if len(screens) > 0 {
		r.RemoveContents(screens, p)
	}

	delete(r.participants, p.ID)
	for i, q := range r.order {
		if q == p {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for _, q := range r.order {
		q.forgetParticipant(p.ID)
	}

	if len(r.participants) == 0 {
		kept := r.contentOrder[:0]
		for _, id := range r.contentOrder {
			if r.contents[id].Payload.Wallpaper {
				kept = append(kept, id)
			} else {
				delete(r.contents, id)
			}
		}
		r.contentOrder = kept
		r.log.Info().Int("wallpapers", len(kept)).Msg("room closed")
	}
}

// Content looks up a content by id.
func (r *Room) Content(id string) *Content { return r.contents[id] }

// Contents returns contents in creation order.
func (r *Room) Contents() []*Content {
	out := make([]*Content, 0, len(r.contentOrder))
	for _, id := range r.contentOrder {
		out = append(out, r.contents[id])
	}
	return out
}

// UpdateContent inserts or replaces c. Wallpaper changes are persisted.
func (r *Room) UpdateContent(c *Content) {
	id := c.ID()
	if _, ok := r.contents[id]; !ok {
		r.contentOrder = append(r.contentOrder, id)
	}
	r.contents[id] = c
	if c.Payload.Wallpaper {
		r.modified()
	}
}

// ApplyContentUpdates upserts contents sent by from. The tick is advanced
// first; geometry is always restamped, info only when it changed. from's
// cursors are set to the new versions so they are not echoed back.
func (r *Room) ApplyContentUpdates(payloads []Payload, from *Participant) {
	if len(payloads) == 0 {
		return
	}
	tick := r.Advance()
	for _, payload := range payloads {
		c, ok := r.contents[payload.ID]
		if ok {
			wasWallpaper := c.Payload.Wallpaper
			updated := &Content{Payload: payload, TimeUpdate: tick, TimeUpdateInfo: c.TimeUpdateInfo}
			if !c.Payload.Info().Equal(payload.Info()) || wasWallpaper != payload.Wallpaper {
				updated.TimeUpdateInfo = tick
			}
			c = updated
			if wasWallpaper && !payload.Wallpaper {
				r.modified()
			}
		} else {
			c = &Content{Payload: payload, TimeUpdate: tick, TimeUpdateInfo: tick}
		}
		r.UpdateContent(c)
		if from != nil {
			from.markContentSent(c)
		}
	}
}

// RemoveContents deletes contents, scrubs them from every participant's
// cursors and queued updates, and tells everyone but requester.
func (r *Room) RemoveContents(ids []string, requester *Participant) {
	removed := make(map[string]bool, len(ids))
	wallpaper := false
	for _, id := range ids {
		c, ok := r.contents[id]
		if !ok {
			continue
		}
		removed[id] = true
		wallpaper = wallpaper || c.Payload.Wallpaper
		delete(r.contents, id)
	}
	if len(removed) > 0 {
		kept := r.contentOrder[:0]
		for _, id := range r.contentOrder {
			if !removed[id] {
				kept = append(kept, id)
			}
		}
		r.contentOrder = kept
	}

	for _, p := range r.order {
		for id := range removed {
			p.forgetContent(id)
		}
		p.Outbox.Scrub(protocol.ContentInfoUpdate, removed)
		p.Outbox.Scrub(protocol.ContentUpdateRequest, removed)
	}

	msg := protocol.Message{T: protocol.ContentRemoveRequest, V: protocol.Value(ids), R: r.ID}
	for _, p := range r.order {
		if p != requester {
			p.Outbox.PushOrUpdate(msg)
		}
	}

	if wallpaper {
		r.modified()
	}
}

// HasWallpaper reports whether any durable content exists.
func (r *Room) HasWallpaper() bool {
	for _, c := range r.contents {
		if c.Payload.Wallpaper {
			return true
		}
	}
	return false
}

// SetProperty stores a room property. It is persisted only while the room
// holds a wallpaper.
func (r *Room) SetProperty(key, value string) {
	r.properties[key] = value
	if r.HasWallpaper() {
		r.modified()
	}
}

// DeleteProperty removes a room property.
func (r *Room) DeleteProperty(key string) {
	delete(r.properties, key)
	if r.HasWallpaper() {
		r.modified()
	}
}

// Properties returns a copy of the room properties.
func (r *Room) Properties() map[string]string {
	props := make(map[string]string, len(r.properties))
	for k, v := range r.properties {
		props[k] = v
	}
	return props
}

// AddChatMessage appends a chat entry from the message value, with the sender
// set by the server.
func (r *Room) AddChatMessage(v string, from *Participant) error {
	var msg ChatMessage
	if err := json.Unmarshal([]byte(v), &msg); err != nil {
		return err
	}
	msg.From = from.ID
	r.chat = append(r.chat, msg)
	return nil
}

// ChatHistory returns up to limit most recent messages strictly older than
// olderThan, oldest first.
func (r *Room) ChatHistory(olderThan float64, limit int) []ChatMessage {
	older := make([]ChatMessage, 0)
	for _, msg := range r.chat {
		if msg.Ts < olderThan {
			older = append(older, msg)
		}
	}
	if len(older) > limit {
		older = older[len(older)-limit:]
	}
	return older
}

// Snapshot returns the durable subset of the room.
func (r *Room) Snapshot() Snapshot {
	snap := Snapshot{RoomID: r.ID, Properties: r.Properties()}
	for _, c := range r.Contents() {
		if c.Payload.Wallpaper {
			snap.Wallpapers = append(snap.Wallpapers, *c)
		}
	}
	return snap
}

// restore loads a persisted snapshot into an empty room. The tick moves past
// every restored stamp so later updates compare newer.
func (r *Room) restore(snap *Snapshot) {
	for k, v := range snap.Properties {
		r.properties[k] = v
	}
	for i := range snap.Wallpapers {
		c := snap.Wallpapers[i]
		if c.ID() == "" {
			continue
		}
		if _, ok := r.contents[c.ID()]; !ok {
			r.contentOrder = append(r.contentOrder, c.ID())
		}
		r.contents[c.ID()] = &c
		if c.TimeUpdate > r.tick {
			r.tick = c.TimeUpdate
		}
		if c.TimeUpdateInfo > r.tick {
			r.tick = c.TimeUpdateInfo
		}
	}
}
