// Package hub broadcasts evaluation results to websocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/liamcoop/timecontrol/controller"
	"github.com/liamcoop/timecontrol/internal/logger"
)

type message struct {
	nodeID string
	data   []byte
}

// Hub maintains the set of active clients and broadcasts results to them.
// It implements controller.Emitter.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        *slog.Logger
	mu         sync.RWMutex
}

// New creates a hub. Run must be started before clients register.
func New(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.OrDefault(log, "hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Info("websocket client registered",
				slog.String("client", client.ID),
				slog.String("node", client.NodeID),
				slog.String("remote", client.remote()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Info("websocket client unregistered", slog.String("client", client.ID))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.NodeID != "" && client.NodeID != msg.nodeID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					h.log.Warn("websocket client send buffer full, removing", slog.String("client", client.ID))
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit queues res for every client subscribed to its node. Results are dropped when
// the broadcast queue is full so that evaluation never waits on slow subscribers.
func (h *Hub) Emit(_ context.Context, res *controller.Result) {
	data, err := json.Marshal(map[string]any{"type": "result", "payload": res})
	if err != nil {
		h.log.Error("failed to marshal result for broadcast", slog.Any("error", err))
		return
	}
	select {
	case h.broadcast <- message{nodeID: res.NodeID, data: data}:
	default:
		h.log.Warn("broadcast queue full, result dropped", slog.String("node", res.NodeID))
	}
}

// NewClientID returns a fresh client identifier.
func NewClientID() string {
	return uuid.NewString()
}
