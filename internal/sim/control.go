package sim

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Runner is the simulation the control API drives
type Runner interface {
	Start(plan Plan) error
	Stop() error
	Status() Status
}

// API provides the HTTP control interface for the simulation
type API struct {
	runner Runner
	plan   Plan // applied when a start request omits the endpoint counts
	logger zerolog.Logger
}

// NewAPI creates a control API; base fills in plans posted without counts
func NewAPI(runner Runner, base Plan, logger zerolog.Logger) *API {
	return &API{runner: runner, plan: base, logger: logger}
}

// SetupRoutes configures HTTP routes
func (api *API) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", api.healthHandler).Methods("GET")
	router.HandleFunc("/status", api.statusHandler).Methods("GET")
	router.HandleFunc("/start", api.startHandler).Methods("POST")
	router.HandleFunc("/stop", api.stopHandler).Methods("POST")
}

// healthHandler returns service health
func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// statusHandler returns current simulation status
func (api *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.runner.Status())
}

// startHandler starts the simulation; an empty body uses the base plan
func (api *API) startHandler(w http.ResponseWriter, r *http.Request) {
	plan := api.plan
	var req Plan
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Agents > 0 || req.Clients > 0 {
		plan.Agents = req.Agents
		plan.Clients = req.Clients
		plan.Targeted = req.Targeted
	}
	if req.RingDelayMs > 0 {
		plan.RingDelayMs = req.RingDelayMs
	}
	if req.HoldTimeMs > 0 {
		plan.HoldTimeMs = req.HoldTimeMs
	}
	if req.RequestIntervalMs > 0 {
		plan.RequestIntervalMs = req.RequestIntervalMs
	}

	switch err := api.runner.Start(plan); {
	case errors.Is(err, ErrRunning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, ErrEmptyPlan):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		api.logger.Error().Err(err).Msg("failed to start simulation")
		http.Error(w, "failed to start simulation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "started",
		"plan":   plan,
	})
}

// stopHandler stops the simulation
func (api *API) stopHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.runner.Stop(); err != nil {
		if errors.Is(err, ErrNotRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		api.logger.Error().Err(err).Msg("failed to stop simulation")
		http.Error(w, "failed to stop simulation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
