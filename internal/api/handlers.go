package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/room"
	"github.com/manpreetbhatti/plaza/internal/ws"
)

const queryTimeout = 2 * time.Second

// counter is implemented by stores that can report how many rooms they hold.
type counter interface {
	Count(ctx context.Context) (int, error)
}

type API struct {
	hub   *ws.Hub
	store room.Store
	log   zerolog.Logger
}

func New(hub *ws.Hub, store room.Store, log zerolog.Logger) *API {
	return &API{
		hub:   hub,
		store: store,
		log:   log,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error().Err(err).Msg("error encoding JSON response")
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	var rooms, participants int
	err := a.hub.Query(ctx, func(reg *room.Registry) {
		rooms = reg.Len()
		participants = reg.ParticipantCount()
	})
	if err != nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "message loop busy")
		return
	}

	stats := map[string]interface{}{
		"active_rooms":        rooms,
		"active_participants": participants,
		"message_load":        a.hub.Load(),
		"pending_messages":    a.hub.Pending(),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}

	if c, ok := a.store.(counter); ok {
		if n, err := c.Count(ctx); err == nil {
			stats["saved_rooms"] = n
		} else {
			a.log.Warn().Err(err).Msg("failed to count saved rooms")
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// LoadHandler reports the fraction of each loop interval spent processing
// messages.
func (a *API) LoadHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"load":    a.hub.Load(),
		"pending": a.hub.Pending(),
	})
}

// Room handlers

type RoomResponse struct {
	ID             string            `json:"id"`
	Live           bool              `json:"live"`
	Tick           int64             `json:"tick,omitempty"`
	Participants   int               `json:"participants"`
	ParticipantIDs []string          `json:"participant_ids,omitempty"`
	Contents       int               `json:"contents"`
	Wallpapers     int               `json:"wallpapers"`
	Properties     map[string]string `json:"properties,omitempty"`
	LastSaved      *time.Time        `json:"last_saved,omitempty"`
}

func summarize(r *room.Room, detail bool) RoomResponse {
	resp := RoomResponse{
		ID:           r.ID,
		Participants: len(r.Participants()),
		Tick:         r.Tick(),
		Live:         true,
	}
	for _, c := range r.Contents() {
		resp.Contents++
		if c.Payload.Wallpaper {
			resp.Wallpapers++
		}
	}
	if detail {
		resp.Properties = r.Properties()
		for _, p := range r.Participants() {
			resp.ParticipantIDs = append(resp.ParticipantIDs, p.ID)
		}
	}
	return resp
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	rooms := []RoomResponse{}
	err := a.hub.Query(ctx, func(reg *room.Registry) {
		for _, rm := range reg.Rooms() {
			rooms = append(rooms, summarize(rm, false))
		}
	})
	if err != nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "message loop busy")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"total": len(rooms),
	})
}

// GetRoomHandler describes a live room, or the stored snapshot of a room
// nobody has opened since startup.
func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Room ID required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	var resp RoomResponse
	var found bool
	err := a.hub.Query(ctx, func(reg *room.Registry) {
		if rm := reg.Get(roomID); rm != nil {
			resp, found = summarize(rm, true), true
		}
	})
	if err != nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "message loop busy")
		return
	}
	if found {
		a.jsonResponse(w, http.StatusOK, resp)
		return
	}

	if a.store != nil {
		snap, err := a.store.Load(ctx, roomID)
		if err != nil {
			a.log.Error().Err(err).Str("room", roomID).Msg("failed to load room")
			a.errorResponse(w, http.StatusInternalServerError, "Failed to load room")
			return
		}
		if snap != nil {
			saved := snap.SavedAt
			a.jsonResponse(w, http.StatusOK, RoomResponse{
				ID:         roomID,
				Contents:   len(snap.Wallpapers),
				Wallpapers: len(snap.Wallpapers),
				Properties: snap.Properties,
				LastSaved:  &saved,
			})
			return
		}
	}

	a.errorResponse(w, http.StatusNotFound, "Room not found")
}
