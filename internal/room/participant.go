package room

import (
	"github.com/manpreetbhatti/plaza/internal/geometry"
	"github.com/manpreetbhatti/plaza/internal/protocol"
)

// State is the latest value of a participant-state message type and the
// tick it arrived at.
type State struct {
	Type       protocol.MessageType
	Value      string
	UpdateTime int64
}

// Cursors record what one observer was last sent about another entity.
// They are keyed by entity id.
type participantCursor struct {
	position    geometry.Vec2
	hasPosition bool
	timeSent    int64
}

type contentCursor struct {
	rect     geometry.Rect
	timeSent int64
}

// Participant is one connected user in a room.
type Participant struct {
	ID        string
	Transport Transport

	pose           *geometry.Pose
	onStage        bool
	onStageChanged int64

	mouse            *geometry.Mouse
	mouseValue       string
	mouseUpdateTime  int64
	mouseShowChanged int64

	stored      map[protocol.MessageType]protocol.Message
	storedOrder []protocol.MessageType
	states      map[protocol.MessageType]*State
	stateOrder  []protocol.MessageType

	Outbox Outbox

	participantsSent map[string]*participantCursor
	mousesSent       map[string]*participantCursor
	contentsSent     map[string]*contentCursor
	contentsInfoSent map[string]int64
}

func newParticipant(id string, t Transport) *Participant {
	return &Participant{
		ID:               id,
		Transport:        t,
		stored:           make(map[protocol.MessageType]protocol.Message),
		states:           make(map[protocol.MessageType]*State),
		participantsSent: make(map[string]*participantCursor),
		mousesSent:       make(map[string]*participantCursor),
		contentsSent:     make(map[string]*contentCursor),
		contentsInfoSent: make(map[string]int64),
	}
}

// Pose returns the participant's avatar pose, or false if none was reported.
func (p *Participant) Pose() (geometry.Pose, bool) {
	if p.pose == nil {
		return geometry.Pose{}, false
	}
	return *p.pose, true
}

// OnStage reports the last on-stage flag.
func (p *Participant) OnStage() bool { return p.onStage }

// Mouse returns the last pointer report, or false if none was received.
func (p *Participant) Mouse() (geometry.Mouse, bool) {
	if p.mouse == nil {
		return geometry.Mouse{}, false
	}
	return *p.mouse, true
}

// SetState records a participant-state value at the given tick.
func (p *Participant) SetState(t protocol.MessageType, value string, tick int64) {
	if s, ok := p.states[t]; ok {
		s.Value = value
		s.UpdateTime = tick
		return
	}
	p.states[t] = &State{Type: t, Value: value, UpdateTime: tick}
	p.stateOrder = append(p.stateOrder, t)
}

// State returns the stored state of type t.
func (p *Participant) State(t protocol.MessageType) (State, bool) {
	s, ok := p.states[t]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// SetPose stores a pose report, which is also a participant state.
func (p *Participant) SetPose(pose geometry.Pose, value string, tick int64) {
	p.pose = &pose
	p.SetState(protocol.ParticipantPose, value, tick)
}

// SetOnStage stores the on-stage flag and remembers the tick of the last
// change so every observer is sent the new status once.
func (p *Participant) SetOnStage(onStage bool, value string, tick int64) {
	if onStage != p.onStage {
		p.onStageChanged = tick
	}
	p.onStage = onStage
	p.SetState(protocol.ParticipantOnStage, value, tick)
}

// SetMouse stores a pointer report. A change of visibility is remembered the
// same way as an on-stage change.
func (p *Participant) SetMouse(m geometry.Mouse, value string, tick int64) {
	prevShow := p.mouse != nil && p.mouse.Show
	if m.Show != prevShow {
		p.mouseShowChanged = tick
	}
	p.mouse = &m
	p.mouseValue = value
	p.mouseUpdateTime = tick
	p.SetState(protocol.ParticipantMouse, value, tick)
}

// Store keeps msg as the last stored message of its type.
func (p *Participant) Store(msg protocol.Message) {
	if _, ok := p.stored[msg.T]; !ok {
		p.storedOrder = append(p.storedOrder, msg.T)
	}
	p.stored[msg.T] = msg
}

// Stored returns the last stored message of type t.
func (p *Participant) Stored(t protocol.MessageType) (protocol.Message, bool) {
	msg, ok := p.stored[t]
	return msg, ok
}

// StoredMessages returns stored messages in first-stored order.
func (p *Participant) StoredMessages() []protocol.Message {
	msgs := make([]protocol.Message, 0, len(p.storedOrder))
	for _, t := range p.storedOrder {
		msgs = append(msgs, p.stored[t])
	}
	return msgs
}

// Flush sends the outbox over the participant's transport.
func (p *Participant) Flush() error {
	return p.Outbox.Flush(p.Transport)
}

// PushStatesTo queues every state of p that observer has not been sent yet
// and advances observer's cursor for p.
func (p *Participant) PushStatesTo(observer *Participant) {
	sent, tracked := observer.participantsSent[p.ID]
	var since int64
	if tracked {
		since = sent.timeSent
	}
	latest := since
	for _, t := range p.stateOrder {
		s := p.states[t]
		if tracked && s.UpdateTime <= since {
			continue
		}
		observer.Outbox.PushOrUpdate(protocol.Message{T: s.Type, V: s.Value, P: p.ID})
		if s.UpdateTime > latest {
			latest = s.UpdateTime
		}
	}

	if !tracked {
		sent = &participantCursor{}
		observer.participantsSent[p.ID] = sent
	}
	sent.timeSent = latest
	if p.pose != nil {
		sent.position = p.pose.Position
		sent.hasPosition = true
	}
}

// pushMouseTo queues p's pointer if observer has an older one.
func (p *Participant) pushMouseTo(observer *Participant) {
	if p.mouse == nil || p.mouseValue == "" {
		return
	}
	sent, tracked := observer.mousesSent[p.ID]
	if tracked && p.mouseUpdateTime <= sent.timeSent {
		return
	}
	if !tracked {
		sent = &participantCursor{}
		observer.mousesSent[p.ID] = sent
	}
	sent.position = p.mouse.Position
	sent.hasPosition = true
	sent.timeSent = p.mouseUpdateTime
	observer.Outbox.PushOrUpdate(protocol.Message{T: protocol.ParticipantMouse, V: p.mouseValue, P: p.ID})
}

// forgetParticipant drops every cursor p holds for participant id.
func (p *Participant) forgetParticipant(id string) {
	delete(p.participantsSent, id)
	delete(p.mousesSent, id)
}

func (p *Participant) forgetContent(id string) {
	delete(p.contentsSent, id)
	delete(p.contentsInfoSent, id)
}

// markContentSent records that p holds the current version of c, so the next
// sweep does not echo it back.
func (p *Participant) markContentSent(c *Content) {
	p.contentsSent[c.ID()] = &contentCursor{rect: c.Payload.Rect(), timeSent: c.TimeUpdate}
	p.contentsInfoSent[c.ID()] = c.TimeUpdateInfo
}
