package ticker

import (
	"context"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/rs/zerolog"
)

// Source reports the current broker state
type Source interface {
	Stats() signaling.Stats
}

// Ticker periodically samples presence and ledger gauges into metrics
type Ticker struct {
	source   Source
	interval time.Duration
	logger   zerolog.Logger

	// last is the most recent sample, read only by tests
	last signaling.Stats
}

// NewTicker creates a new Ticker
func NewTicker(source Source, interval time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Start samples on every tick until ctx is done
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case <-ticker.C:
			t.sample()
		}
	}
}

func (t *Ticker) sample() {
	s := t.source.Stats()
	metrics.Get().UpdatePresence(s.Clients, s.Agents, s.BusyAgents, s.OpenRequests, s.ActiveCalls)

	if s != t.last {
		t.logger.Debug().
			Int("clients", s.Clients).
			Int("agents", s.Agents).
			Int("busy_agents", s.BusyAgents).
			Int("open_requests", s.OpenRequests).
			Int("active_calls", s.ActiveCalls).
			Msg("presence changed")
	}
	t.last = s
}
