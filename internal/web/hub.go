package web

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/spoolworks/mediaspool/internal/jobs"
)

// Hub fans job state transitions out to websocket subscribers. It implements
// the manager's EventSink; a slow or dead client is dropped rather than
// allowed to block a broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	slog.Debug("websocket client connected", "total", total)
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	slog.Debug("websocket client disconnected", "remaining", total)
}

// JobUpdated broadcasts one job transition to every subscriber.
func (h *Hub) JobUpdated(s jobs.Summary) {
	msg, err := json.Marshal(map[string]any{
		"type": "job_update",
		"job":  s,
	})
	if err != nil {
		slog.Error("failed to encode job update", "job_id", s.JobID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Close drops all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
