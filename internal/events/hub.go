package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is one quote lifecycle notification pushed to subscribed clients.
type Event struct {
	Type       string    `json:"type"`
	QuoteID    string    `json:"quote_id"`
	Reference  string    `json:"reference,omitempty"`
	Status     string    `json:"status,omitempty"`
	FailReason string    `json:"fail_reason,omitempty"`
	BridgeID   string    `json:"bridge_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	TypeStatusChanged = "status_changed"
	TypeClaimed       = "claimed"
	TypeCompleted     = "completed"
	TypeFailed        = "failed"
)

// Hub fans quote events out to websocket subscribers. Slow or dead
// subscribers are dropped rather than blocking the dispatcher.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		conns: make(map[string]*websocket.Conn),
	}
}

// Publish sends an event to every subscriber. Best effort: event delivery
// never fails a job.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(h.conns))
	for id, c := range h.conns {
		conns[id] = c
	}
	h.mu.RUnlock()

	for id, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := wsjson.Write(ctx, conn, ev)
		cancel()
		if err != nil {
			h.log.Debug("dropping event subscriber", "subscriber", id, "error", err)
			h.remove(id)
			conn.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

// Handle upgrades an HTTP request to a websocket subscription and holds it
// open until the client leaves.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	id := uuid.NewString()
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	defer h.remove(id)

	h.log.Debug("event subscriber connected", "subscriber", id)

	// Drain the read side so pings and the close handshake are processed.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
