package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"autodelta/internal/logbus"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) logbus.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg logbus.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHandler_ReplaysThenFollows(t *testing.T) {
	bus := logbus.New(10)
	bus.Publish("round_state", map[string]any{"round": 1})
	srv := httptest.NewServer(NewHandler(bus, nil))
	defer srv.Close()

	conn := dial(t, srv, "")
	if msg := readMessage(t, conn); msg.Type != "round_state" {
		t.Fatalf("expected replayed round_state, got %q", msg.Type)
	}

	// Give the handler time to start following.
	time.Sleep(20 * time.Millisecond)
	bus.Publish("trade", map[string]any{"lot": 31})
	if msg := readMessage(t, conn); msg.Type != "trade" {
		t.Fatalf("expected live trade, got %q", msg.Type)
	}
}

func TestHandler_TypeFilter(t *testing.T) {
	bus := logbus.New(10)
	bus.Log("info", "skipped", nil)
	bus.Publish("recovery", map[string]any{"id": "r1"})
	srv := httptest.NewServer(NewHandler(bus, nil))
	defer srv.Close()

	conn := dial(t, srv, "?types=recovery")
	if msg := readMessage(t, conn); msg.Type != "recovery" {
		t.Fatalf("expected recovery only, got %q", msg.Type)
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(logbus.New(1), []string{"http://localhost:5173"})
	cases := map[string]bool{
		"":                      true,
		"http://localhost:5173": true,
		"http://evil.example":   false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := h.checkOrigin(r); got != want {
			t.Errorf("origin %q: got %v want %v", origin, got, want)
		}
	}
}
