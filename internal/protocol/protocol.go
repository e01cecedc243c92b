package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Message is the unit exchanged with clients. V is itself a JSON document
// encoded as a string.
type Message struct {
	T MessageType `json:"t"`
	V string      `json:"v"`
	P string      `json:"p,omitempty"` // source participant
	D string      `json:"d,omitempty"` // destination participant
	R string      `json:"r,omitempty"` // room, only on the first message of a connection
}

// MessageType is the short tag carried in Message.T.
type MessageType string

const (
	// Stored: relayed and kept per sender for late joiners.
	ParticipantInfo MessageType = "p_info"
	MainScreen      MessageType = "m_main_screen"
	MyContent       MessageType = "m_my_content"

	// Instant: relayed once to the destination or every other participant.
	ChatMessage   MessageType = "m_chat"
	CallRemote    MessageType = "m_call"
	Kick          MessageType = "m_kick"
	MuteVideo     MessageType = "m_mute_v"
	MuteAudio     MessageType = "m_mute_a"
	ReloadBrowser MessageType = "m_reload"
	YarnPhone     MessageType = "m_yarn"

	// Participant state: stamped with the room tick, delivered by the sweep.
	ParticipantTrackStates MessageType = "p_trackSt"
	ParticipantViewpoint   MessageType = "p_viewpoint"
	ParticipantPhysics     MessageType = "p_physics"
	ParticipantAFK         MessageType = "p_afk"

	// Participant state with extra handling.
	ParticipantPose    MessageType = "p_pose"
	ParticipantMouse   MessageType = "p_mouse"
	ParticipantOnStage MessageType = "p_onStage"

	// Client requests.
	RoomProp                 MessageType = "room_prop"
	RequestAll               MessageType = "req_all"
	RequestRange             MessageType = "req_range"
	RequestParticipantStates MessageType = "req_p_states"
	RequestTo                MessageType = "req_to"
	RequestChatHistory       MessageType = "req_chat"
	ContentUpdateRequest     MessageType = "c_update"
	ContentUpdateRequestByID MessageType = "c_update_id"
	ContentRemoveRequest     MessageType = "c_remove"
	ParticipantLeft          MessageType = "p_left"
	ParticipantLeftByError   MessageType = "p_left_err"
	Pong                     MessageType = "pong"

	// Server notices.
	ParticipantOut    MessageType = "p_out"
	MouseOut          MessageType = "mouse_out"
	ContentOut        MessageType = "c_out"
	ContentInfoUpdate MessageType = "c_info"
)

// Category selects the generic handler a message type is routed to.
type Category int

const (
	// Explicit types have a dedicated handler or are server-only.
	Explicit Category = iota
	Instant
	Stored
	ParticipantState
)

func (c Category) String() string {
	switch c {
	case Instant:
		return "instant"
	case Stored:
		return "stored"
	case ParticipantState:
		return "participant-state"
	default:
		return "explicit"
	}
}

var categories = map[MessageType]Category{
	ParticipantInfo: Stored,
	MainScreen:      Stored,
	MyContent:       Stored,

	ChatMessage:   Instant,
	CallRemote:    Instant,
	Kick:          Instant,
	MuteVideo:     Instant,
	MuteAudio:     Instant,
	ReloadBrowser: Instant,
	YarnPhone:     Instant,

	ParticipantTrackStates: ParticipantState,
	ParticipantViewpoint:   ParticipantState,
	ParticipantPhysics:     ParticipantState,
	ParticipantAFK:         ParticipantState,
}

// CategoryOf returns the routing category of t.
func CategoryOf(t MessageType) Category {
	return categories[t]
}

// TypesIn lists the message types of a category.
func TypesIn(c Category) []MessageType {
	var types []MessageType
	for t, cat := range categories {
		if cat == c {
			types = append(types, t)
		}
	}
	return types
}

// MergeKind says how a queued message absorbs a newer one with the same
// (t, p) key.
type MergeKind int

const (
	// MergeReplace keeps only the newest value.
	MergeReplace MergeKind = iota
	// MergeByID treats V as an array of objects and upserts by their "id".
	MergeByID
	// MergeByValue treats V as an array of strings and adds missing ones.
	MergeByValue
)

// MergeKindOf returns the merge rule for t.
// Moderating reports whether t acts on other participants' clients and is
// reserved to room admins.
func Moderating(t MessageType) bool {
	return t == Kick || t == ReloadBrowser
}

func MergeKindOf(t MessageType) MergeKind {
	switch t {
	case ContentUpdateRequest, ContentInfoUpdate:
		return MergeByID
	case ParticipantOut, MouseOut, ContentOut, ContentRemoveRequest, ParticipantLeft:
		return MergeByValue
	default:
		return MergeReplace
	}
}

var ErrEmptyFrame = errors.New("empty frame")

// DecodeFrame parses a client frame. A frame is a JSON array of messages; a
// single message object is accepted too.
func DecodeFrame(data []byte) ([]Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	if data[0] == '{' {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// EncodeFrame serializes a batch for one send. A nil batch becomes [].
func EncodeFrame(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(msgs)
}

// Value marshals v into the string form carried by Message.V.
func Value(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
