package ticker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/rs/zerolog"
)

type fakeSource struct {
	calls atomic.Int32
	stats signaling.Stats
}

func (f *fakeSource) Stats() signaling.Stats {
	f.calls.Add(1)
	return f.stats
}

func TestNewTicker(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	source := &fakeSource{}
	ticker := NewTicker(source, 1*time.Second, logger)

	if ticker == nil {
		t.Fatal("expected ticker to be created")
	}

	if ticker.source != source {
		t.Error("ticker source not set correctly")
	}

	if ticker.interval != 1*time.Second {
		t.Errorf("expected interval 1s, got %v", ticker.interval)
	}
}

func TestTickerStart(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})

	// Create ticker with short interval for testing
	ticker := NewTicker(&fakeSource{}, 100*time.Millisecond, logger)

	// Start ticker with context
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// Run ticker
	done := make(chan bool)
	go func() {
		ticker.Start(ctx)
		done <- true
	}()

	// Wait for context to timeout
	<-ctx.Done()

	// Wait for ticker to stop
	select {
	case <-done:
		// Ticker stopped as expected
	case <-time.After(1 * time.Second):
		t.Error("ticker did not stop after context cancel")
	}
}

func TestTickerSamplesSource(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	source := &fakeSource{stats: signaling.Stats{Clients: 3, Agents: 2, BusyAgents: 1, OpenRequests: 1, ActiveCalls: 1}}

	// Create ticker with short interval
	ticker := NewTicker(source, 50*time.Millisecond, logger)

	// Start ticker and let it run for a few ticks
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan bool)
	go func() {
		ticker.Start(ctx)
		done <- true
	}()
	<-done

	if n := source.calls.Load(); n < 2 {
		t.Errorf("expected at least 2 samples, got %d", n)
	}

	// an unchanged sample is only logged once
	if n := strings.Count(buf.String(), "presence changed"); n != 1 {
		t.Errorf("expected 1 presence log line, got %d", n)
	}

	rec := httptest.NewRecorder()
	metrics.Get().Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if body := rec.Body.String(); !strings.Contains(body, "livetalk_busy_agents 1") {
		t.Errorf("expected busy gauge in metrics output, got:\n%s", body)
	}
}
