package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/auth"
	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/rs/zerolog"
)

// AdminHandler proxies simulator control requests to agentsim
type AdminHandler struct {
	simURL string
	logger zerolog.Logger
	client *http.Client
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(simURL string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		simURL: simURL,
		logger: logger.With().Str("component", "admin").Logger(),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// RequireAdmin admits the admin role or the livetalk-admins group
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !(auth.HasRole(claims, "admin") || auth.InGroup(claims, "livetalk-admins")) {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// proxyToSim forwards a request to agentsim and copies the response back
func (h *AdminHandler) proxyToSim(w http.ResponseWriter, r *http.Request, method, path string) {
	url := h.simURL + path

	var body io.Reader
	if r.Body != nil && method == http.MethodPost {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), method, url, body)
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("failed to create proxy request")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error().Err(err).Str("url", url).Msg("failed to reach agentsim")
		writeError(w, http.StatusBadGateway, "agentsim unavailable")
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// GetSimStatus proxies GET /status to agentsim
func (h *AdminHandler) GetSimStatus(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodGet, "/status")
}

// StartSim proxies POST /start to agentsim
func (h *AdminHandler) StartSim(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodPost, "/start")
}

// StopSim proxies POST /stop to agentsim
func (h *AdminHandler) StopSim(w http.ResponseWriter, r *http.Request) {
	h.proxyToSim(w, r, http.MethodPost, "/stop")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps broker errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, signaling.ErrNotFound), errors.Is(err, signaling.ErrStaleReference):
		return http.StatusNotFound
	case errors.Is(err, signaling.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, signaling.ErrBusy), errors.Is(err, signaling.ErrAlreadyInCall):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
