package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 32
	writeTimeout     = 10 * time.Second
)

// StreamMessage is the frame pushed to stream subscribers.
type StreamMessage struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

// Hub broadcasts audit events to websocket subscribers. A subscriber that
// falls behind loses frames rather than blocking the emitter.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub with no subscribers.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced by the router
			},
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Emit queues the event for every subscriber.
func (h *Hub) Emit(_ context.Context, name string, payload map[string]any) {
	data, err := json.Marshal(StreamMessage{Event: name, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		h.log.Error("marshal stream message", "event", name, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			h.log.Warn("stream subscriber lagging, frame dropped", "event", name)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("stream upgrade failed", "err", err)
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go h.readLoop(s, done)
	h.writeLoop(s, done)

	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	conn.Close()
}

// readLoop drains client frames so close messages are processed.
func (h *Hub) readLoop(s *subscriber, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
