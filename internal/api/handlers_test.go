package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/db"
	"github.com/manpreetbhatti/plaza/internal/room"
	"github.com/manpreetbhatti/plaza/internal/ws"
)

type nopTransport struct{ id string }

func (n *nopTransport) ID() string             { return n.id }
func (n *nopTransport) Open() bool             { return true }
func (n *nopTransport) Send(data []byte) error { return nil }
func (n *nopTransport) Close(int, string)      {}

type testEnv struct {
	api    *API
	hub    *ws.Hub
	store  *db.FileStore
	router *chi.Mux
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()

	store, err := db.NewFileStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	hub := ws.NewHub(ws.HubConfig{Store: store, Interval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	api := New(hub, store, zerolog.Nop())
	return &testEnv{
		api:    api,
		hub:    hub,
		store:  store,
		router: NewRouter(api, hub, ws.Options{Logger: zerolog.Nop()}, zerolog.Nop()),
	}
}

// populate opens a live room with one participant, one wallpaper and one
// ordinary content.
func (e *testEnv) populate(t *testing.T, roomID string) {
	t.Helper()

	var wallpaper, note room.Payload
	if err := json.Unmarshal([]byte(`{"id":"w1","type":"img","wallpaper":true,"pose":{"position":[0,0],"orientation":0},"size":[100,100]}`), &wallpaper); err != nil {
		t.Fatalf("Failed to build payload: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"id":"n1","type":"text","pose":{"position":[5,5],"orientation":0},"size":[10,10]}`), &note); err != nil {
		t.Fatalf("Failed to build payload: %v", err)
	}

	err := e.hub.Query(context.Background(), func(reg *room.Registry) {
		r := reg.GetOrCreate(context.Background(), roomID)
		p := r.GetOrCreateParticipant("alice", &nopTransport{id: "conn-alice"})
		r.ApplyContentUpdates([]room.Payload{wallpaper, note}, p)
		r.SetProperty("bg", "blue")
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
}

func (e *testEnv) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response from %s: %v", path, err)
	}
	return w, response
}

func TestHealthHandler(t *testing.T) {
	env := setupTestAPI(t)

	w, response := env.get(t, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	env := setupTestAPI(t)
	env.populate(t, "lobby")

	w, response := env.get(t, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	if response["active_rooms"] != float64(1) {
		t.Errorf("Expected 1 active room, got %v", response["active_rooms"])
	}
	if response["active_participants"] != float64(1) {
		t.Errorf("Expected 1 participant, got %v", response["active_participants"])
	}
	if _, ok := response["message_load"]; !ok {
		t.Error("Expected message_load in stats")
	}
	if _, ok := response["saved_rooms"]; !ok {
		t.Error("Expected saved_rooms for a counting store")
	}
}

func TestLoadHandler(t *testing.T) {
	env := setupTestAPI(t)

	w, response := env.get(t, "/load")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	load, ok := response["load"].(float64)
	if !ok || load < 0 {
		t.Errorf("Unexpected load %v", response["load"])
	}
}

func TestListRooms(t *testing.T) {
	env := setupTestAPI(t)
	env.populate(t, "lobby")
	env.populate(t, "garden")

	w, response := env.get(t, "/api/rooms")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if response["total"] != float64(2) {
		t.Errorf("Expected 2 rooms, got %v", response["total"])
	}

	rooms := response["rooms"].([]any)
	first := rooms[0].(map[string]any)
	if first["contents"] != float64(2) || first["wallpapers"] != float64(1) {
		t.Errorf("Unexpected room summary %v", first)
	}
}

func TestListRoomsEmpty(t *testing.T) {
	env := setupTestAPI(t)

	_, response := env.get(t, "/api/rooms")
	rooms, ok := response["rooms"].([]any)
	if !ok || len(rooms) != 0 {
		t.Errorf("Expected an empty list, got %v", response["rooms"])
	}
}

func TestGetRoom(t *testing.T) {
	env := setupTestAPI(t)
	env.populate(t, "lobby")

	w, response := env.get(t, "/api/rooms/lobby")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if response["id"] != "lobby" || response["live"] != true {
		t.Errorf("Unexpected room %v", response)
	}
	props := response["properties"].(map[string]any)
	if props["bg"] != "blue" {
		t.Errorf("Expected bg property, got %v", props)
	}
	ids := response["participant_ids"].([]any)
	if len(ids) != 1 || ids[0] != "alice" {
		t.Errorf("Expected [alice], got %v", ids)
	}
}

func TestGetRoomFromStore(t *testing.T) {
	env := setupTestAPI(t)

	var wallpaper room.Payload
	if err := json.Unmarshal([]byte(`{"id":"w1","wallpaper":true}`), &wallpaper); err != nil {
		t.Fatalf("Failed to build payload: %v", err)
	}
	snap := room.Snapshot{
		RoomID:     "archive",
		Properties: map[string]string{"bg": "green"},
		Wallpapers: []room.Content{{Payload: wallpaper, TimeUpdate: 3, TimeUpdateInfo: 3}},
		SavedAt:    time.Now().Add(-time.Hour),
	}
	if err := env.store.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	w, response := env.get(t, "/api/rooms/archive")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if response["live"] != false {
		t.Error("Expected a stored room not to be live")
	}
	if response["wallpapers"] != float64(1) {
		t.Errorf("Expected 1 wallpaper, got %v", response["wallpapers"])
	}
	if _, ok := response["last_saved"]; !ok {
		t.Error("Expected last_saved for a stored room")
	}
}

func TestGetRoomNotFound(t *testing.T) {
	env := setupTestAPI(t)

	w, response := env.get(t, "/api/rooms/nowhere")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if response["error"] == nil {
		t.Error("Expected an error message")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestAPI(t)
	env.get(t, "/health")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/rooms", "/api/rooms"},
		{"/api/rooms/", "/api/rooms/"},
		{"/api/rooms/lobby", "/api/rooms/:id"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
