package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/sim"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// CLI flags
	var (
		controlPort = flag.String("control-port", "8090", "Control API port")
		serverURL   = flag.String("server-url", "http://localhost:8080", "Signaling server URL")
		agents      = flag.Int("agents", sim.DefaultPlan.Agents, "Number of simulated agents")
		clients     = flag.Int("clients", sim.DefaultPlan.Clients, "Number of simulated clients")
		ringDelay   = flag.Duration("ring-delay", time.Duration(sim.DefaultPlan.RingDelayMs)*time.Millisecond, "Delay before agents answer")
		holdTime    = flag.Duration("hold-time", time.Duration(sim.DefaultPlan.HoldTimeMs)*time.Millisecond, "Call length before agents hang up")
		interval    = flag.Duration("request-interval", time.Duration(sim.DefaultPlan.RequestIntervalMs)*time.Millisecond, "Pause between client call attempts")
		broadcast   = flag.Bool("broadcast-only", false, "Clients only place broadcast requests")
		autoStart   = flag.Bool("auto-start", false, "Automatically start simulation")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Setup logger
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "agentsim").
		Logger()

	logger.Info().Msg("starting agentsim")

	plan := sim.Plan{
		Agents:            *agents,
		Clients:           *clients,
		RingDelayMs:       int(ringDelay.Milliseconds()),
		HoldTimeMs:        int(holdTime.Milliseconds()),
		RequestIntervalMs: int(interval.Milliseconds()),
		Targeted:          !*broadcast,
	}

	simulator := sim.New(*serverURL, logger)
	controlAPI := sim.NewAPI(simulator, plan, logger)

	router := mux.NewRouter()
	controlAPI.SetupRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", *controlPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start control API
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("control API failed")
		}
	}()

	// Auto-start if requested
	if *autoStart {
		logger.Info().Int("agents", plan.Agents).Int("clients", plan.Clients).Msg("auto-starting simulation")
		if err := simulator.Start(plan); err != nil {
			logger.Error().Err(err).Msg("failed to auto-start simulation")
		}
	}

	logger.Info().
		Str("control_api", fmt.Sprintf("http://localhost:%s", *controlPort)).
		Str("server_url", *serverURL).
		Msg("agentsim ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down agentsim")

	if err := simulator.Stop(); err != nil && !errors.Is(err, sim.ErrNotRunning) {
		logger.Error().Err(err).Msg("failed to stop simulation")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("control API shutdown failed")
	}
}
