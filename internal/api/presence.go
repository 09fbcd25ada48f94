package api

import (
	"net/http"

	"github.com/dennisdiepolder/livetalk/internal/auth"
	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/dennisdiepolder/livetalk/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Broker is the part of the signaling broker the operator API reads and resets
type Broker interface {
	Agents() []types.AgentInfo
	Clients() []types.ClientInfo
	Requests() []signaling.RequestInfo
	Stats() signaling.Stats
	Status(address string) types.StatusReply
	ResetBusyState(id string) error
}

// PresenceHandler serves the operator view of presence and open requests
type PresenceHandler struct {
	broker Broker
	logger zerolog.Logger
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(broker Broker, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{
		broker: broker,
		logger: logger.With().Str("component", "operator-api").Logger(),
	}
}

// Routes mounts the handlers on r
func (h *PresenceHandler) Routes(r chi.Router) {
	r.Get("/agents", h.ListAgents)
	r.Get("/clients", h.ListClients)
	r.Get("/requests", h.ListRequests)
	r.Get("/stats", h.GetStats)
	r.Get("/status/{address}", h.GetStatus)
	r.Post("/agents/{id}/reset-busy", h.ResetBusy)
}

// ListAgents handles GET /api/agents
func (h *PresenceHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.broker.Agents()
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

// ListClients handles GET /api/clients
func (h *PresenceHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients := h.broker.Clients()
	writeJSON(w, http.StatusOK, map[string]any{
		"clients": clients,
		"count":   len(clients),
	})
}

// ListRequests handles GET /api/requests
func (h *PresenceHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	requests := h.broker.Requests()
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

// GetStats handles GET /api/stats
func (h *PresenceHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.Stats())
}

// GetStatus handles GET /api/status/{address}
func (h *PresenceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	writeJSON(w, http.StatusOK, h.broker.Status(address))
}

// ResetBusy handles POST /api/agents/{id}/reset-busy
func (h *PresenceHandler) ResetBusy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.broker.ResetBusyState(id); err != nil {
		h.logger.Debug().Err(err).Str("agent_id", id).Msg("reset-busy refused")
		writeError(w, statusFor(err), err.Error())
		return
	}

	operator := "unknown"
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		operator = claims.Email
	}
	h.logger.Info().Str("agent_id", id).Str("operator", operator).Msg("busy state reset via operator API")

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "busy state reset",
		"agentId": id,
	})
}
