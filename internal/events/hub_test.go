package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForListeners(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Listeners() != n {
		if time.Now().After(deadline) {
			t.Fatalf("listeners = %d, want %d", h.Listeners(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return ev
}

func TestHubDeliversEventsInOrder(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)
	waitForListeners(t, h, 1)

	for _, pct := range []uint32{10, 20, 30} {
		h.Emit(UpdateDownloadProgress, pct)
	}

	for _, want := range []float64{10, 20, 30} {
		ev := readEvent(t, conn)
		if ev.Name != UpdateDownloadProgress {
			t.Fatalf("event name = %q", ev.Name)
		}
		if got, ok := ev.Payload.(float64); !ok || got != want {
			t.Fatalf("payload = %#v, want %v", ev.Payload, want)
		}
	}
}

func TestHubFansOutToAllListeners(t *testing.T) {
	h := NewHub(nil)
	a := dialHub(t, h)
	b := dialHub(t, h)
	waitForListeners(t, h, 2)

	h.Emit(UpdateDownloadProgress, uint32(50))

	for _, conn := range []*websocket.Conn{a, b} {
		if ev := readEvent(t, conn); ev.Payload != float64(50) {
			t.Fatalf("payload = %#v", ev.Payload)
		}
	}
}

func TestHubDropsWithoutListeners(t *testing.T) {
	h := NewHub(nil)
	h.Emit(UpdateDownloadProgress, uint32(1))
	h.Emit(UpdateDownloadProgress, uint32(2))

	if got := h.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestHubUnregistersOnClientClose(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)
	waitForListeners(t, h, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitForListeners(t, h, 0)
}

func TestHubCloseDisconnectsListeners(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)
	waitForListeners(t, h, 1)

	h.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read error after hub close")
	}
	waitForListeners(t, h, 0)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	h := NewHub(func(r *http.Request) bool {
		return r.Header.Get("Origin") == "tauri://localhost"
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err == nil {
		t.Fatal("expected handshake failure for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestEmitterFuncAndDiscard(t *testing.T) {
	var got []any
	var e Emitter = EmitterFunc(func(name string, payload any) {
		got = append(got, payload)
	})
	e.Emit(UpdateDownloadProgress, uint32(7))
	Discard.Emit(UpdateDownloadProgress, uint32(8))

	if len(got) != 1 || got[0] != uint32(7) {
		t.Fatalf("got %v", got)
	}
}
