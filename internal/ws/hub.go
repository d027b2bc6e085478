package ws

import (
	"log/slog"
	"sync"

	"chaos-organizer/internal/models"

	"github.com/goccy/go-json"
)

// Hub maintains the live set of WebSocket connections and fans accepted
// events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a connection to the live set. Nothing is sent to it; clients
// backfill history through the messages endpoint.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("[HUB] Client registered", "addr", client.addr, "clients", clientCount)
}

// Unregister removes a connection and closes its send queue. Calling it for a
// connection that is not registered is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	clientCount := len(h.clients)
	h.mu.Unlock()

	slog.Info("[HUB] Client unregistered", "addr", client.addr, "clients", clientCount)
}

// Fanout serializes ev once and queues it for every open connection. It
// returns the number of connections the event was queued for.
func (h *Hub) Fanout(ev models.Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("[HUB] Failed to marshal event", "event", ev.ID, "error", err)
		return 0
	}
	return h.Broadcast(&models.BroadcastMessage{EventID: ev.ID, Payload: payload})
}

// Broadcast queues message for every open connection without waiting for
// delivery. A connection whose send queue is full is disconnected.
func (h *Hub) Broadcast(message *models.BroadcastMessage) int {
	var sentCount int
	var overflowed []*Client

	h.mu.RLock()
	for client := range h.clients {
		if client.closing.Load() {
			continue
		}
		select {
		case client.send <- message.Payload:
			sentCount++
		default:
			overflowed = append(overflowed, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range overflowed {
		slog.Warn("[HUB] Client send queue full, disconnecting", "addr", client.addr)
		h.Unregister(client)
	}

	slog.Debug("[HUB] Broadcast complete", "event", message.EventID, "sent", sentCount, "dropped", len(overflowed))
	return sentCount
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown unregisters every connection. Each write pump then sends a close
// frame and closes its socket.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.Unregister(client)
	}
	slog.Info("[HUB] Closed client connections", "count", len(clients))
}
