package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/api"
	"github.com/dennisdiepolder/livetalk/internal/auth"
	"github.com/dennisdiepolder/livetalk/internal/config"
	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/dennisdiepolder/livetalk/internal/ticker"
	"github.com/dennisdiepolder/livetalk/internal/websocket"
	"github.com/dennisdiepolder/livetalk/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Dur("call_timeout", cfg.CallTimeout).
		Bool("queue_offline", cfg.QueueOfflineRequests).
		Str("config_file", cfg.ConfigFile).
		Msg("starting livetalk signaling server")

	// Create WebSocket hub
	hub := websocket.NewHub(log.Logger)
	go hub.Run()

	// Create the broker that owns presence and call state
	broker := signaling.NewBroker(hub, signaling.Options{
		CallTimeout:  cfg.CallTimeout,
		QueueOffline: cfg.QueueOfflineRequests,
	}, log.Logger)

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Presence gauges
	tickerService := ticker.NewTicker(broker, cfg.StatsInterval, log.Logger)
	go tickerService.Start(ctx)

	authenticator, err := auth.New(auth.Options{
		Secret:   cfg.AdminJWTSecret,
		Issuer:   cfg.OIDCIssuer,
		SkipAuth: cfg.SkipAuth,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure authentication")
	}

	r := newRouter(cfg, hub, broker, authenticator, log.Logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Cancel ticker context
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	// Stop pending request timers
	broker.Close()

	log.Info().Msg("server stopped")
}

// newRouter mounts the public, socket and operator routes
func newRouter(cfg *config.Config, hub *websocket.Hub, broker *signaling.Broker, authenticator *auth.Authenticator, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins, logger))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Signaling sockets are anonymous; identity is the connection
	r.Get("/ws", websocket.NewHandler(hub, broker, cfg, logger).ServeHTTP)

	presenceHandler := api.NewPresenceHandler(broker, logger)
	adminHandler := api.NewAdminHandler(cfg.SimURL, logger)

	// Operator API
	r.Route("/api", func(r chi.Router) {
		r.Use(authenticator.Middleware)
		r.Use(api.RequireAdmin)

		presenceHandler.Routes(r)

		r.Get("/sim/status", adminHandler.GetSimStatus)
		r.Post("/sim/start", adminHandler.StartSim)
		r.Post("/sim/stop", adminHandler.StopSim)
	})

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"livetalk-signaling"}`)
}
