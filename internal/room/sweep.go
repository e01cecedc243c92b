package room

import (
	"sort"

	"github.com/manpreetbhatti/plaza/internal/geometry"
	"github.com/manpreetbhatti/plaza/internal/protocol"
)

// Sweep advances the tick and queues for observer everything that entered
// or changed inside the visible rect or audible circle, plus "out" notices
// for tracked entities that just left them.
func (r *Room) Sweep(observer *Participant, visible geometry.Rect, audible geometry.Circle) {
	r.Advance()
	r.sweepParticipants(observer, visible, audible)
	r.sweepMice(observer, visible, audible)
	contents := r.Contents()
	r.sweepContents(observer, contents, visible, audible)
	r.sweepContentInfo(observer, contents)
}

// transitionPending reports whether p changed its on-stage or pointer
// visibility after observer's last update about p.
func transitionPending(observer, p *Participant) bool {
	changed := p.onStageChanged
	if p.mouseShowChanged > changed {
		changed = p.mouseShowChanged
	}
	if changed == 0 {
		return false
	}
	sent, ok := observer.participantsSent[p.ID]
	return !ok || sent.timeSent < changed
}

func (r *Room) sweepParticipants(observer *Participant, visible geometry.Rect, audible geometry.Circle) {
	overlaps := make(map[string]bool)
	for _, p := range r.order {
		if p == observer {
			continue
		}
		include := transitionPending(observer, p)
		if !include {
			pose, ok := p.Pose()
			if !ok {
				r.log.Debug().Str("participant", p.ID).Msg("no pose yet, skipped by range check")
				continue
			}
			include = geometry.InRange(pose.Position, visible, audible)
		}
		if include {
			overlaps[p.ID] = true
			p.PushStatesTo(observer)
		}
	}

	var out []string
	for id, sent := range observer.participantsSent {
		if overlaps[id] || !sent.hasPosition {
			continue
		}
		if geometry.InRange(sent.position, visible, audible) {
			delete(observer.participantsSent, id)
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		sort.Strings(out)
		observer.Outbox.PushOrUpdate(protocol.Message{T: protocol.ParticipantOut, V: protocol.Value(out)})
	}
}

func (r *Room) sweepMice(observer *Participant, visible geometry.Rect, audible geometry.Circle) {
	overlaps := make(map[string]bool)
	for _, p := range r.order {
		if p == observer || p.mouse == nil {
			continue
		}
		if geometry.InRange(p.mouse.Position, visible, audible) {
			overlaps[p.ID] = true
			p.pushMouseTo(observer)
		}
	}

	var out []string
	for id, sent := range observer.mousesSent {
		if overlaps[id] {
			continue
		}
		if geometry.InRange(sent.position, visible, audible) {
			delete(observer.mousesSent, id)
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		sort.Strings(out)
		observer.Outbox.PushOrUpdate(protocol.Message{T: protocol.MouseOut, V: protocol.Value(out)})
	}
}

func (r *Room) sweepContents(observer *Participant, contents []*Content, visible geometry.Rect, audible geometry.Circle) {
	overlaps := make(map[string]bool)
	var send []Payload
	for _, c := range contents {
		rect := c.Payload.Rect()
		if !geometry.RectInRange(rect, visible, audible) {
			continue
		}
		overlaps[c.ID()] = true
		sent, ok := observer.contentsSent[c.ID()]
		if !ok {
			observer.contentsSent[c.ID()] = &contentCursor{rect: rect, timeSent: c.TimeUpdate}
			send = append(send, c.Payload)
			continue
		}
		if sent.timeSent < c.TimeUpdate {
			sent.timeSent = c.TimeUpdate
			sent.rect = rect
			send = append(send, c.Payload)
		}
	}

	var out []string
	for id, sent := range observer.contentsSent {
		if overlaps[id] {
			continue
		}
		if geometry.RectInRange(sent.rect, visible, audible) {
			delete(observer.contentsSent, id)
			out = append(out, id)
		}
	}

	if len(send) > 0 {
		observer.Outbox.PushOrUpdate(protocol.Message{T: protocol.ContentUpdateRequest, V: protocol.Value(send)})
	}
	if len(out) > 0 {
		sort.Strings(out)
		observer.Outbox.PushOrUpdate(protocol.Message{T: protocol.ContentOut, V: protocol.Value(out)})
	}
}

func (r *Room) sweepContentInfo(observer *Participant, contents []*Content) {
	var infos []ContentInfo
	for _, c := range contents {
		sent, ok := observer.contentsInfoSent[c.ID()]
		if ok && sent >= c.TimeUpdateInfo {
			continue
		}
		observer.contentsInfoSent[c.ID()] = c.TimeUpdateInfo
		infos = append(infos, c.Payload.Info())
	}
	if len(infos) > 0 {
		observer.Outbox.PushOrUpdate(protocol.Message{T: protocol.ContentInfoUpdate, V: protocol.Value(infos)})
	}
}

// SendContents queues the named contents for observer regardless of range
// and advances its geometry cursors. Unknown ids are skipped.
func (r *Room) SendContents(observer *Participant, ids []string) {
	r.Advance()
	send := make([]Payload, 0, len(ids))
	for _, id := range ids {
		c, ok := r.contents[id]
		if !ok {
			continue
		}
		send = append(send, c.Payload)
		rect := c.Payload.Rect()
		if sent, ok := observer.contentsSent[id]; ok {
			if sent.timeSent < c.TimeUpdate {
				sent.timeSent = c.TimeUpdate
				sent.rect = rect
			}
			continue
		}
		observer.contentsSent[id] = &contentCursor{rect: rect, timeSent: c.TimeUpdate}
	}
	observer.Outbox.PushOrUpdate(protocol.Message{T: protocol.ContentUpdateRequest, V: protocol.Value(send)})
}
