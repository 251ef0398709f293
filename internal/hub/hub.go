// Package hub fans state broadcasts out to connected websocket viewers.
// Delivery is best-effort per viewer: a slow client loses messages (and
// eventually its connection) rather than back-pressuring ingestion.
package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/contestmap/contestmap/internal/metrics"
	"github.com/contestmap/contestmap/pkg/streaming"
)

// SnapshotFunc supplies the full current state for a late-joining viewer.
type SnapshotFunc func() []streaming.Envelope

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	logger   *slog.Logger
	snapshot SnapshotFunc

	clients    map[*Client]bool
	broadcast  chan streaming.Envelope
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. snapshot may be nil, in which case late joiners
// start from the live stream only.
func NewHub(logger *slog.Logger, snapshot SnapshotFunc) *Hub {
	return &Hub{
		logger:     logger,
		snapshot:   snapshot,
		broadcast:  make(chan streaming.Envelope, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Broadcast queues one message for every connected viewer. Never blocks;
// if the hub's own queue is full the message is dropped and counted.
func (h *Hub) Broadcast(env streaming.Envelope) {
	select {
	case h.broadcast <- env:
	default:
		metrics.WSMessagesDroppedTotal.Inc()
		h.logger.Warn("hub broadcast queue full, dropping message", "type", env.Type)
	}
}

// Run processes lifecycle events and broadcasts until ctx is canceled.
// Lifecycle events take priority over broadcasts so the client set is
// consistent before each message goes out.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case env := <-h.broadcast:
			h.broadcastToClients(env)
		}
	}
}

// register queues the state snapshot to the new client before it joins the
// broadcast set, so the client converges without racing the live stream.
func (h *Hub) register(client *Client) {
	if h.snapshot != nil {
		for _, env := range h.snapshot() {
			select {
			case client.send <- env:
			default:
				// snapshot exceeds the client queue; the client is
				// already too slow to be useful
				close(client.send)
				h.logger.Warn("viewer dropped during snapshot")
				return
			}
		}
	}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSClients.Set(float64(total))
	h.logger.Info("viewer connected", "total_clients", total)
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSClients.Set(float64(total))
	h.logger.Info("viewer disconnected", "total_clients", total)
}

// broadcastToClients delivers one message to every client in a stable
// order. A client whose queue is full is disconnected rather than blocked
// on.
func (h *Hub) broadcastToClients(env streaming.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- env:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSMessagesDroppedTotal.Inc()
		h.logger.Warn("viewer queue full, disconnecting", "type", env.Type)
	}
	if len(toRemove) > 0 {
		metrics.WSClients.Set(float64(len(h.clients)))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	count := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WSClients.Set(0)
	h.logger.Info("hub stopped", "clients_closed", count)
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
