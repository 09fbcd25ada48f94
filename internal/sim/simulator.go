package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrRunning    = errors.New("simulation already running")
	ErrNotRunning = errors.New("simulation not running")
	ErrEmptyPlan  = errors.New("plan needs at least one agent or client")
)

// Plan describes one simulation run
type Plan struct {
	Agents            int  `json:"agents"`
	Clients           int  `json:"clients"`
	RingDelayMs       int  `json:"ringDelayMs"`
	HoldTimeMs        int  `json:"holdTimeMs"`
	RequestIntervalMs int  `json:"requestIntervalMs"`
	Targeted          bool `json:"targeted"` // clients also dial agents by address
}

// DefaultPlan is used for fields a start request leaves out
var DefaultPlan = Plan{
	Agents:            5,
	Clients:           10,
	RingDelayMs:       1500,
	HoldTimeMs:        20000,
	RequestIntervalMs: 5000,
	Targeted:          true,
}

func (p Plan) withDefaults() Plan {
	if p.RingDelayMs <= 0 {
		p.RingDelayMs = DefaultPlan.RingDelayMs
	}
	if p.HoldTimeMs <= 0 {
		p.HoldTimeMs = DefaultPlan.HoldTimeMs
	}
	if p.RequestIntervalMs <= 0 {
		p.RequestIntervalMs = DefaultPlan.RequestIntervalMs
	}
	return p
}

func (p Plan) behavior() Behavior {
	return Behavior{
		RingDelay:       time.Duration(p.RingDelayMs) * time.Millisecond,
		HoldTime:        time.Duration(p.HoldTimeMs) * time.Millisecond,
		RequestInterval: time.Duration(p.RequestIntervalMs) * time.Millisecond,
		CallType:        types.CallVideo,
	}
}

// Status is the snapshot served by the control API
type Status struct {
	Running    bool      `json:"running"`
	StartedAt  time.Time `json:"startedAt"`
	Plan       Plan      `json:"plan"`
	Agents     int       `json:"agents"`
	Clients    int       `json:"clients"`
	Connected  int       `json:"connected"`
	Connects   int64     `json:"connects"`
	Offered    int64     `json:"offered"`
	Accepted   int64     `json:"accepted"`
	Completed  int64     `json:"completed"`
	Relayed    int64     `json:"relayed"`
	Busy       int64     `json:"busy"`
	Timeouts   int64     `json:"timeouts"`
	Failures   int64     `json:"failures"`
	Reconnects int64     `json:"reconnects"`
}

// Simulator drives simulated agents and clients against a signaling server
type Simulator struct {
	serverURL string
	logger    zerolog.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	plan      Plan
	endpoints []*Endpoint
	counters  *Counters
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a simulator for the server at serverURL
func New(serverURL string, logger zerolog.Logger) *Simulator {
	return &Simulator{
		serverURL: serverURL,
		logger:    logger,
		counters:  &Counters{},
	}
}

// Start spawns the endpoints described by plan
func (s *Simulator) Start(plan Plan) error {
	if plan.Agents < 0 || plan.Clients < 0 || plan.Agents+plan.Clients == 0 {
		return ErrEmptyPlan
	}
	plan = plan.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	behavior := plan.behavior()
	counters := &Counters{}

	addresses := make([]string, 0, plan.Agents)
	endpoints := make([]*Endpoint, 0, plan.Agents+plan.Clients)
	for i := 1; i <= plan.Agents; i++ {
		address := fmt.Sprintf("agent-%03d", i)
		addresses = append(addresses, address)
		endpoints = append(endpoints, NewAgent(address, fmt.Sprintf("Sim Agent %d", i), s.serverURL, behavior, counters, s.logger))
	}

	// "" places a broadcast request
	targets := []string{""}
	if plan.Targeted {
		targets = append(targets, addresses...)
	}
	for i := 1; i <= plan.Clients; i++ {
		endpoints = append(endpoints, NewClient(fmt.Sprintf("sim-client-%03d", i), targets, s.serverURL, behavior, counters, s.logger))
	}

	for _, ep := range endpoints {
		s.wg.Add(1)
		go func(ep *Endpoint) {
			defer s.wg.Done()
			ep.Run(ctx)
		}(ep)
	}

	s.running = true
	s.startedAt = time.Now()
	s.plan = plan
	s.endpoints = endpoints
	s.counters = counters
	s.cancel = cancel

	s.logger.Info().
		Int("agents", plan.Agents).
		Int("clients", plan.Clients).
		Str("server", s.serverURL).
		Msg("simulation started")
	return nil
}

// Stop closes every endpoint and waits for them to exit
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	endpoints := s.endpoints
	s.endpoints = nil
	s.mu.Unlock()

	cancel()
	for _, ep := range endpoints {
		ep.Close()
	}
	s.wg.Wait()

	s.logger.Info().Msg("simulation stopped")
	return nil
}

// Status reports the current run and its counters
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:   s.running,
		StartedAt: s.startedAt,
		Plan:      s.plan,
		Connects:  s.counters.Connects.Load(),
		Offered:   s.counters.Offered.Load(),
		Accepted:  s.counters.Accepted.Load(),
		Completed: s.counters.Completed.Load(),
		Relayed:   s.counters.Relayed.Load(),
		Busy:      s.counters.Busy.Load(),
		Timeouts:  s.counters.Timeouts.Load(),
		Failures:  s.counters.Failures.Load(),
	}
	for _, ep := range s.endpoints {
		if ep.role == RoleAgent {
			st.Agents++
		} else {
			st.Clients++
		}
		if ep.IsConnected() {
			st.Connected++
		}
		st.Reconnects += ep.Reconnects()
	}
	return st
}
