package websocket

import (
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/types"
	"github.com/rs/zerolog"
)

// Hub maintains the set of active connections keyed by endpoint identity and
// delivers outbound events to them. It implements signaling.Notifier.
type Hub struct {
	// Registered clients
	clients map[string]*Client

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]*Client),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	m := metrics.Get()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()

			m.RecordWebSocketConnect()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.clients[client.id]; ok && existing == client {
				delete(h.clients, client.id)
				client.Close()
				m.RecordWebSocketDisconnect()
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send encodes an event and queues it for one endpoint. It returns false
// when the endpoint is gone or cannot keep up.
func (h *Hub) Send(id string, event types.EventType, payload any) bool {
	data, err := json.Marshal(types.Message{Type: event, Data: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(event)).Msg("failed to marshal event")
		return false
	}
	return h.sendRaw(id, data)
}

func (h *Hub) sendRaw(id string, data []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[id]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	if !client.safeSend(data) {
		metrics.Get().RecordDroppedSend()
		h.logger.Warn().
			Str("client_id", id).
			Msg("client send buffer full, dropping event")
		return false
	}
	return true
}
