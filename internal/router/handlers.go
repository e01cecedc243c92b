package router

import (
	"encoding/json"
	"fmt"

	"github.com/manpreetbhatti/plaza/internal/geometry"
	"github.com/manpreetbhatti/plaza/internal/protocol"
	"github.com/manpreetbhatti/plaza/internal/room"
)

// instant relays the message to its destination, or to every other
// participant. Chat messages are also logged in the room.
func (rt *Router) instant(c *Context) error {
	msg := c.Msg
	if msg.T == protocol.ChatMessage {
		if err := c.Room.AddChatMessage(msg.V, c.From); err != nil {
			return fmt.Errorf("chat message: %w", err)
		}
	}

	msg.P = c.From.ID
	msg.R = ""
	if msg.D != "" {
		if to := c.Room.Participant(msg.D); to != nil {
			to.Outbox.PushOrUpdate(msg)
		}
		return nil
	}
	for _, p := range c.Room.Participants() {
		if p != c.From {
			p.Outbox.PushOrUpdate(msg)
		}
	}
	return nil
}

// stored keeps the message for late joiners and relays it.
func (rt *Router) stored(c *Context) error {
	c.Msg.P = c.From.ID
	c.Msg.R = ""
	c.From.Store(c.Msg)
	return rt.instant(c)
}

func (rt *Router) participantState(c *Context) error {
	c.From.SetState(c.Msg.T, c.Msg.V, c.Room.Tick())
	return nil
}

func (rt *Router) pose(c *Context) error {
	var s string
	if err := json.Unmarshal([]byte(c.Msg.V), &s); err != nil {
		return fmt.Errorf("pose: %w", err)
	}
	pose, err := geometry.ParsePose(s)
	if err != nil {
		return err
	}
	c.From.SetPose(pose, c.Msg.V, c.Room.Tick())
	return nil
}

func (rt *Router) onStage(c *Context) error {
	var onStage bool
	if err := json.Unmarshal([]byte(c.Msg.V), &onStage); err != nil {
		return fmt.Errorf("on stage: %w", err)
	}
	c.From.SetOnStage(onStage, c.Msg.V, c.Room.Tick())
	return nil
}

func (rt *Router) mouse(c *Context) error {
	var s string
	if err := json.Unmarshal([]byte(c.Msg.V), &s); err != nil {
		return fmt.Errorf("mouse: %w", err)
	}
	m, err := geometry.ParseMouse(s)
	if err != nil {
		return err
	}
	c.From.SetMouse(m, c.Msg.V, c.Room.Tick())
	return nil
}

// roomProp applies a property batch. A null value deletes the key. The batch
// is forwarded unchanged to everyone else.
func (rt *Router) roomProp(c *Context) error {
	var props map[string]*string
	if err := json.Unmarshal([]byte(c.Msg.V), &props); err != nil {
		return fmt.Errorf("room prop: %w", err)
	}
	for key, value := range props {
		if value == nil {
			c.Room.DeleteProperty(key)
		} else {
			c.Room.SetProperty(key, *value)
		}
	}

	msg := c.Msg
	msg.P = c.From.ID
	msg.R = ""
	for _, p := range c.Room.Participants() {
		if p != c.From {
			p.Outbox.Push(msg)
		}
	}
	return nil
}

// requestAll sends every stored message in the room, the room properties and
// an empty req_all marking the end, then flushes.
func (rt *Router) requestAll(c *Context) error {
	for _, p := range c.Room.Participants() {
		for _, msg := range p.StoredMessages() {
			c.From.Outbox.PushOrUpdate(msg)
		}
	}
	if props := c.Room.Properties(); len(props) > 0 {
		c.From.Outbox.Push(protocol.Message{T: protocol.RoomProp, V: protocol.Value(props)})
	}
	c.From.Outbox.Push(protocol.Message{T: protocol.RequestAll, V: "{}"})
	return rt.flush(c.From)
}

// requestRange sweeps the requester's interest area and flushes. A poll is
// always answered, with an empty frame when the ranges cannot be parsed.
func (rt *Router) requestRange(c *Context) error {
	visible, audible, err := parseRanges(c.Msg.V)
	if err != nil {
		if ferr := rt.flush(c.From); ferr != nil {
			return ferr
		}
		return fmt.Errorf("range: %w", err)
	}

	c.Room.Sweep(c.From, visible, audible)
	return rt.flush(c.From)
}

func parseRanges(v string) (geometry.Rect, geometry.Circle, error) {
	var ranges [][]float64
	if err := json.Unmarshal([]byte(v), &ranges); err != nil {
		return geometry.Rect{}, geometry.Circle{}, err
	}
	if len(ranges) < 2 {
		return geometry.Rect{}, geometry.Circle{}, fmt.Errorf("need visible and audible, got %d shapes", len(ranges))
	}
	visible, err := geometry.RectFromSlice(ranges[0])
	if err != nil {
		return geometry.Rect{}, geometry.Circle{}, err
	}
	audible, err := geometry.CircleFromSlice(ranges[1])
	if err != nil {
		return geometry.Rect{}, geometry.Circle{}, err
	}
	return visible, audible, nil
}

func (rt *Router) requestParticipantStates(c *Context) error {
	var ids []string
	if err := json.Unmarshal([]byte(c.Msg.V), &ids); err != nil {
		if ferr := rt.flush(c.From); ferr != nil {
			return ferr
		}
		return fmt.Errorf("participant states: %w", err)
	}
	c.Room.Advance()
	for _, id := range ids {
		if p := c.Room.Participant(id); p != nil {
			p.PushStatesTo(c.From)
		}
	}
	return rt.flush(c.From)
}

// requestTo sends what the server knows about each target. A target that has
// not sent its info yet is asked for it instead.
func (rt *Router) requestTo(c *Context) error {
	var ids []string
	if err := json.Unmarshal([]byte(c.Msg.V), &ids); err != nil {
		return fmt.Errorf("request to: %w", err)
	}
	c.Room.Advance()
	for _, id := range ids {
		to := c.Room.Participant(id)
		if to == nil {
			continue
		}
		if _, ok := to.Stored(protocol.ParticipantInfo); ok {
			for _, msg := range to.StoredMessages() {
				c.From.Outbox.PushOrUpdate(msg)
			}
			to.PushStatesTo(c.From)
			continue
		}
		to.Outbox.PushOrUpdate(protocol.Message{T: protocol.RequestTo})
	}
	return nil
}

// chatHistory answers with up to room.ChatHistoryLimit messages older than
// the requested timestamp. A malformed request gets an empty list.
func (rt *Router) chatHistory(c *Context) error {
	var req struct {
		OlderThan *float64 `json:"olderThan"`
	}
	history := []room.ChatMessage{}
	err := json.Unmarshal([]byte(c.Msg.V), &req)
	if err == nil && req.OlderThan == nil {
		err = fmt.Errorf("missing olderThan")
	}
	if err == nil {
		history = c.Room.ChatHistory(*req.OlderThan, room.ChatHistoryLimit)
	} else {
		rt.log.Warn().Err(err).Str("participant", c.From.ID).Msg("bad chat history request")
	}
	c.From.Outbox.PushOrUpdate(protocol.Message{T: protocol.RequestChatHistory, V: protocol.Value(history)})
	return nil
}

func (rt *Router) contentUpdate(c *Context) error {
	payloads, err := room.ParsePayloads(c.Msg.V)
	if err != nil {
		return fmt.Errorf("content update: %w", err)
	}
	c.Room.ApplyContentUpdates(payloads, c.From)
	return nil
}

func (rt *Router) contentUpdateByID(c *Context) error {
	var ids []string
	if err := json.Unmarshal([]byte(c.Msg.V), &ids); err != nil {
		return fmt.Errorf("content by id: %w", err)
	}
	c.Room.SendContents(c.From, ids)
	return nil
}

func (rt *Router) contentRemove(c *Context) error {
	var ids []string
	if err := json.Unmarshal([]byte(c.Msg.V), &ids); err != nil {
		return fmt.Errorf("content remove: %w", err)
	}
	c.Room.RemoveContents(ids, c.From)
	return nil
}

// participantLeft removes the listed participants, or the sender when the
// list is empty, and tells everyone who remains.
func (rt *Router) participantLeft(c *Context) error {
	var ids []string
	if c.Msg.V != "" {
		if err := json.Unmarshal([]byte(c.Msg.V), &ids); err != nil {
			rt.log.Debug().Err(err).Msg("participant left without id list")
		}
	}
	if len(ids) == 0 {
		ids = []string{c.From.ID}
	}
	rt.leave(c.Room, ids)
	return nil
}

type leaveCause struct {
	ErrorType string `json:"errorType"`
	Code      int    `json:"code"`
	Reason    string `json:"reason"`
}

// participantLeftByError is queued by the transport when a connection drops.
// It is ignored when the sender already left or was replaced.
func (rt *Router) participantLeftByError(c *Context) error {
	if c.Room.Participant(c.From.ID) != c.From {
		return nil
	}
	var cause leaveCause
	if err := json.Unmarshal([]byte(c.Msg.V), &cause); err != nil {
		rt.log.Debug().Err(err).Msg("left by error without cause")
	}
	rt.log.Warn().Str("room", c.Room.ID).Str("participant", c.From.ID).
		Str("errorType", cause.ErrorType).Int("code", cause.Code).Str("reason", cause.Reason).
		Msg("participant left by error")
	rt.leave(c.Room, []string{c.From.ID})
	return nil
}

func (rt *Router) leave(r *room.Room, ids []string) {
	for _, id := range ids {
		p := r.Participant(id)
		if p == nil {
			rt.log.Warn().Str("room", r.ID).Str("participant", id).Msg("participant left but not found")
			continue
		}
		if p.Transport != nil && p.Transport.Open() {
			p.Transport.Close(1000, "closed by participant left message")
		}
		r.OnParticipantLeft(p)
		rt.log.Info().Str("room", r.ID).Str("participant", id).Str("name", participantName(p)).
			Int("remaining", len(r.Participants())).Msg("participant left")
	}

	msg := protocol.Message{T: protocol.ParticipantLeft, V: protocol.Value(ids)}
	for _, p := range r.Participants() {
		p.Outbox.PushOrUpdate(msg)
	}
}

func participantName(p *room.Participant) string {
	info, ok := p.Stored(protocol.ParticipantInfo)
	if !ok {
		return ""
	}
	var v struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(info.V), &v); err != nil {
		return ""
	}
	return v.Name
}

func (rt *Router) flush(p *room.Participant) error {
	if err := p.Flush(); err != nil {
		return fmt.Errorf("flush to %s: %w", p.ID, err)
	}
	return nil
}
