package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// CORS applies the cross-origin policy shared by the operator API and the
// websocket upgrade. A "*" entry admits any origin but drops credentials,
// which browsers refuse on a wildcard response anyway.
func CORS(allowedOrigins []string, logger zerolog.Logger) func(http.Handler) http.Handler {
	corsLogger := logger.With().Str("component", "cors").Logger()
	wildcard := slices.Contains(allowedOrigins, "*")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: !wildcard,
		MaxAge:           300, // Maximum value not ignored by any of major browsers

		// zerolog Printf writes at debug level
		Logger: &corsLogger,
	})

	return c.Handler
}
