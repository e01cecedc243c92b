package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/auth"
	"github.com/manpreetbhatti/plaza/internal/protocol"
	"github.com/manpreetbhatti/plaza/internal/room"
)

type denyRoom string

func (d denyRoom) Authorize(roomID, _, _ string) (auth.Role, error) {
	if roomID == string(d) {
		return "", auth.ErrForbidden
	}
	return auth.RoleGuest, nil
}

func setupServer(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(h, opts, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	msgs, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatalf("Bad frame %s: %v", data, err)
	}
	return msgs
}

func waitFor(t *testing.T, h *Hub, cond func(reg *room.Registry) bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := h.Query(ctx, func(reg *room.Registry) { ok = cond(reg) })
		cancel()
		if err == nil && ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestClientRoundTrip(t *testing.T) {
	_, url := setupServer(t, Options{Logger: zerolog.Nop()})
	conn := dial(t, url+"?room=lobby")

	frame := `[{"t":"p_info","v":"{\"name\":\"Alice\"}","r":"lobby","p":"alice"},{"t":"req_all","v":""}]`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	msgs := readFrame(t, conn)
	if len(msgs) == 0 {
		t.Fatal("Expected a non-empty flush")
	}
	last := msgs[len(msgs)-1]
	if last.T != protocol.RequestAll || last.V != "{}" {
		t.Errorf("Expected the end marker last, got %+v", last)
	}
	var sawInfo bool
	for _, m := range msgs {
		if m.T == protocol.ParticipantInfo && m.P == "alice" {
			sawInfo = true
		}
	}
	if !sawInfo {
		t.Errorf("Expected alice's own info, got %+v", msgs)
	}
}

func TestClientDisconnectLeavesRoom(t *testing.T) {
	h, url := setupServer(t, Options{Logger: zerolog.Nop()})
	conn := dial(t, url+"?room=lobby")

	conn.WriteMessage(websocket.TextMessage, []byte(`[{"t":"p_info","v":"{}","r":"lobby","p":"alice"}]`))
	waitFor(t, h, func(reg *room.Registry) bool {
		r := reg.Get("lobby")
		return r != nil && r.Participant("alice") != nil
	})

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	waitFor(t, h, func(reg *room.Registry) bool {
		return reg.Get("lobby").Participant("alice") == nil
	})
}

func TestServeWsRefusesUnauthorized(t *testing.T) {
	_, url := setupServer(t, Options{Authorizer: denyRoom("secret"), Logger: zerolog.Nop()})

	_, resp, err := websocket.DefaultDialer.Dial(url+"?room=secret", nil)
	if err == nil {
		t.Fatal("Expected the handshake to fail")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Errorf("Expected a bad handshake, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %+v", resp)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	c := &Client{id: "c", send: make(chan []byte, 1), done: make(chan struct{})}
	c.open.Store(true)

	if err := c.Send([]byte("[]")); err != nil {
		t.Fatalf("First send should be buffered: %v", err)
	}
	if err := c.Send([]byte("[]")); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}
	if c.Open() {
		t.Error("Slow client should be closed")
	}
	if err := c.Send([]byte("[]")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	c.Close(websocket.CloseNormalClosure, "again")
}

func TestCloseFrameCodes(t *testing.T) {
	tests := []struct {
		code      int
		wantFrame bool
	}{
		{websocket.CloseNormalClosure, true},
		{websocket.ClosePolicyViolation, true},
		{websocket.CloseTryAgainLater, true},
		{4003, true},
		{websocket.CloseNoStatusReceived, false},
		{websocket.CloseAbnormalClosure, false},
		{websocket.CloseTLSHandshake, false},
	}
	for _, tt := range tests {
		c := &Client{id: "c", send: make(chan []byte, 1), done: make(chan struct{})}
		c.open.Store(true)
		c.Close(tt.code, "write failed")

		if got := c.closeMsg != nil; got != tt.wantFrame {
			t.Errorf("Close(%d): frame = %v, want %v", tt.code, got, tt.wantFrame)
		}
		select {
		case <-c.done:
		default:
			t.Errorf("Close(%d) should stop the pumps", tt.code)
		}
	}
}
