// Package events streams inventory changes to connected clients over WebSocket.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/erazemk/shramba/internal/model"
)

// Hub tracks WebSocket clients per user and fans change events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

// Register adds a client to its user's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// Notify sends ev to every client of userID. Clients whose buffer is full
// miss the event.
func (h *Hub) Notify(userID string, ev model.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal change event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			slog.Warn("dropping change event for slow client", "user", userID, "type", ev.Type)
		}
	}
}

// ClientCount returns the number of connected clients for userID.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
