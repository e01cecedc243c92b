// Package router maps inbound messages to the operations that apply them to a
// room.
package router

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/protocol"
	"github.com/manpreetbhatti/plaza/internal/room"
)

var ErrUnknownType = errors.New("unknown message type")

// Context carries one inbound message and the entities it applies to.
type Context struct {
	Msg  protocol.Message
	From *room.Participant
	Room *room.Room
}

// Handler applies one message type.
type Handler interface {
	Handle(c *Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *Context) error

func (f HandlerFunc) Handle(c *Context) error { return f(c) }

// Router holds the dispatch table. It is built once and never changed.
type Router struct {
	explicit   map[protocol.MessageType]Handler
	categories map[protocol.Category]Handler
	log        zerolog.Logger
}

func New(log zerolog.Logger) *Router {
	rt := &Router{
		explicit:   make(map[protocol.MessageType]Handler),
		categories: make(map[protocol.Category]Handler),
		log:        log,
	}

	rt.categories[protocol.Instant] = HandlerFunc(rt.instant)
	rt.categories[protocol.Stored] = HandlerFunc(rt.stored)
	rt.categories[protocol.ParticipantState] = HandlerFunc(rt.participantState)

	rt.explicit[protocol.ParticipantPose] = HandlerFunc(rt.pose)
	rt.explicit[protocol.ParticipantOnStage] = HandlerFunc(rt.onStage)
	rt.explicit[protocol.ParticipantMouse] = HandlerFunc(rt.mouse)
	rt.explicit[protocol.RoomProp] = HandlerFunc(rt.roomProp)
	rt.explicit[protocol.RequestAll] = HandlerFunc(rt.requestAll)
	rt.explicit[protocol.RequestRange] = HandlerFunc(rt.requestRange)
	rt.explicit[protocol.RequestParticipantStates] = HandlerFunc(rt.requestParticipantStates)
	rt.explicit[protocol.RequestTo] = HandlerFunc(rt.requestTo)
	rt.explicit[protocol.RequestChatHistory] = HandlerFunc(rt.chatHistory)
	rt.explicit[protocol.ContentUpdateRequest] = HandlerFunc(rt.contentUpdate)
	rt.explicit[protocol.ContentUpdateRequestByID] = HandlerFunc(rt.contentUpdateByID)
	rt.explicit[protocol.ContentRemoveRequest] = HandlerFunc(rt.contentRemove)
	rt.explicit[protocol.ParticipantLeft] = HandlerFunc(rt.participantLeft)
	rt.explicit[protocol.ParticipantLeftByError] = HandlerFunc(rt.participantLeftByError)
	rt.explicit[protocol.Pong] = HandlerFunc(func(*Context) error { return nil })

	return rt
}

// Lookup returns the handler for t, or nil.
func (rt *Router) Lookup(t protocol.MessageType) Handler {
	if h, ok := rt.explicit[t]; ok {
		return h
	}
	if cat := protocol.CategoryOf(t); cat != protocol.Explicit {
		return rt.categories[cat]
	}
	return nil
}

// Dispatch applies msg from a participant of r. A panicking handler is
// reported as an error.
func (rt *Router) Dispatch(msg protocol.Message, from *room.Participant, r *room.Room) (err error) {
	h := rt.Lookup(msg.T)
	if h == nil {
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.T)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler %s panicked: %v", msg.T, rec)
		}
	}()
	return h.Handle(&Context{Msg: msg, From: from, Room: r})
}
