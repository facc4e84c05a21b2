package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nnfz/stretch-host/internal/logging"
)

var log = logging.L("events")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendQueueSize  = 64
)

// Hub fans events out to every UI connection attached through ServeHTTP.
type Hub struct {
	upgrader  websocket.Upgrader
	mu        sync.RWMutex
	listeners map[*listener]struct{}
	dropped   atomic.Int64
}

type listener struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub. checkOrigin decides which UI origins may attach; nil
// accepts only same-origin requests (gorilla's default).
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		listeners: make(map[*listener]struct{}),
	}
}

// Emit queues the event on every attached listener. Listeners whose queue is
// full miss the event; with no listeners the event is discarded.
func (h *Hub) Emit(name string, payload any) {
	data, err := json.Marshal(Event{Name: name, Payload: payload})
	if err != nil {
		log.Debug("dropping unencodable event", "event", name, logging.KeyError, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.listeners) == 0 {
		h.dropped.Add(1)
		return
	}
	for l := range h.listeners {
		select {
		case l.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Listeners returns the number of attached UI connections.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Dropped returns how many deliveries were skipped so far.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ServeHTTP upgrades the request to a WebSocket and streams events to it
// until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("event listener upgrade failed", "remote", r.RemoteAddr, logging.KeyError, err)
		return
	}

	l := &listener{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	h.register(l)
	log.Info("event listener attached", "remote", r.RemoteAddr, "listeners", h.Listeners())

	go h.writePump(l)
	h.readPump(l)

	h.unregister(l)
	log.Info("event listener detached", "remote", r.RemoteAddr, "listeners", h.Listeners())
}

// Close disconnects every listener.
func (h *Hub) Close() {
	h.mu.Lock()
	listeners := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()

	for _, l := range listeners {
		l.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(writeWait),
		)
		h.unregister(l)
	}
}

func (h *Hub) register(l *listener) {
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(l *listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()

	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// readPump only services control frames; the UI never sends data on this socket.
func (h *Hub) readPump(l *listener) {
	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("event listener read error", logging.KeyError, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(l *listener) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case data := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("event write failed", logging.KeyError, err)
				h.unregister(l)
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(l)
				return
			}
		}
	}
}
