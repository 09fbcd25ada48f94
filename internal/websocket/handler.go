package websocket

import (
	"net/http"

	"github.com/dennisdiepolder/livetalk/internal/config"
	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	broker   *signaling.Broker
	config   *config.Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, broker *signaling.Broker, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		broker: broker,
		config: cfg,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits requests without an Origin header (non-browser
// endpoints) and browsers from an allowed origin
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	// Create new client
	client := NewClient(h.hub, h.broker, conn, h.config, h.logger)

	// Register client with hub, then with the broker as unassigned
	h.hub.register <- client
	h.broker.Connect(client.id)

	// Start client pumps
	client.Start()
}
