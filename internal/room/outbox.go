package room

import (
	"encoding/json"

	"github.com/manpreetbhatti/plaza/internal/metrics"
	"github.com/manpreetbhatti/plaza/internal/protocol"
)

// Transport is the connection a participant's outbox is flushed to.
type Transport interface {
	ID() string
	Open() bool
	Send(data []byte) error
	Close(code int, reason string)
}

// Outbox is a participant's queue of messages waiting for the next flush.
// Messages with the same (t, p) are merged in place.
type Outbox struct {
	msgs []protocol.Message
}

// Push appends msg without merging.
func (o *Outbox) Push(msg protocol.Message) {
	o.msgs = append(o.msgs, msg)
}

// PushOrUpdate merges msg into a queued message with the same type and
// source, or appends it.
func (o *Outbox) PushOrUpdate(msg protocol.Message) {
	for i := range o.msgs {
		queued := &o.msgs[i]
		if queued.T != msg.T || queued.P != msg.P {
			continue
		}
		switch protocol.MergeKindOf(msg.T) {
		case protocol.MergeByID:
			if v, ok := mergeByID(queued.V, msg.V); ok {
				queued.V = v
				return
			}
		case protocol.MergeByValue:
			if v, ok := mergeByValue(queued.V, msg.V); ok {
				queued.V = v
				return
			}
		}
		*queued = msg
		return
	}
	o.msgs = append(o.msgs, msg)
}

// Scrub removes elements with the given ids from queued id-keyed messages
// of type t.
func (o *Outbox) Scrub(t protocol.MessageType, ids map[string]bool) {
	for i := range o.msgs {
		if o.msgs[i].T != t {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(o.msgs[i].V), &items); err != nil {
			continue
		}
		kept := items[:0]
		for _, item := range items {
			if !ids[itemID(item)] {
				kept = append(kept, item)
			}
		}
		if len(kept) != len(items) {
			o.msgs[i].V = encodeRaw(kept)
		}
	}
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int { return len(o.msgs) }

// Messages returns a copy of the queue.
func (o *Outbox) Messages() []protocol.Message {
	out := make([]protocol.Message, len(o.msgs))
	copy(out, o.msgs)
	return out
}

// Flush sends the whole queue as one frame if the transport is open and
// clears it either way.
func (o *Outbox) Flush(t Transport) error {
	msgs := o.msgs
	o.msgs = nil
	if t == nil || !t.Open() {
		return nil
	}
	data, err := protocol.EncodeFrame(msgs)
	if err != nil {
		return err
	}
	metrics.FlushBytes.Observe(float64(len(data)))
	return t.Send(data)
}

func mergeByID(old, add string) (string, bool) {
	var oldItems, newItems []json.RawMessage
	if json.Unmarshal([]byte(old), &oldItems) != nil || json.Unmarshal([]byte(add), &newItems) != nil {
		return "", false
	}
	index := make(map[string]int, len(oldItems))
	for i, item := range oldItems {
		index[itemID(item)] = i
	}
	for _, item := range newItems {
		id := itemID(item)
		if i, ok := index[id]; ok {
			oldItems[i] = item
			continue
		}
		index[id] = len(oldItems)
		oldItems = append(oldItems, item)
	}
	return encodeRaw(oldItems), true
}

func mergeByValue(old, add string) (string, bool) {
	var oldItems, newItems []string
	if json.Unmarshal([]byte(old), &oldItems) != nil || json.Unmarshal([]byte(add), &newItems) != nil {
		return "", false
	}
	seen := make(map[string]bool, len(oldItems))
	for _, v := range oldItems {
		seen[v] = true
	}
	for _, v := range newItems {
		if !seen[v] {
			seen[v] = true
			oldItems = append(oldItems, v)
		}
	}
	return protocol.Value(oldItems), true
}

func itemID(item json.RawMessage) string {
	var withID struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &withID); err != nil {
		return ""
	}
	return withID.ID
}

func encodeRaw(items []json.RawMessage) string {
	if items == nil {
		items = []json.RawMessage{}
	}
	return protocol.Value(items)
}
