package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/ledger"
	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/presence"
	"github.com/dennisdiepolder/livetalk/internal/types"
	"github.com/rs/zerolog"
)

// Failure taxonomy. Every error is resolved locally: the caller logs it and
// the affected endpoints learn about it through an outbound event, if at all.
var (
	ErrNotFound       = errors.New("not found")
	ErrBusy           = errors.New("target busy")
	ErrAlreadyInCall  = errors.New("requester already in call")
	ErrUnauthorized   = errors.New("event not permitted for role")
	ErrTimeout        = errors.New("request timed out")
	ErrStaleReference = errors.New("call request no longer exists")
)

// DefaultCallTimeout is how long an unanswered request stays open
const DefaultCallTimeout = 30 * time.Second

// Notifier delivers an outbound event to one endpoint. Sending to an endpoint
// that is already gone must be a silent no-op returning false.
type Notifier interface {
	Send(id string, event types.EventType, payload any) bool
}

// Options tunes the broker
type Options struct {
	// CallTimeout is the TTL of every ledger entry
	CallTimeout time.Duration

	// QueueOffline holds requests for unknown addresses until the address
	// registers. When false such requests fail fast with an offline event.
	QueueOffline bool
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		CallTimeout:  DefaultCallTimeout,
		QueueOffline: true,
	}
}

// Broker is the single authority over presence and call request state.
// Every operation, including timer expiry, runs under one mutex.
type Broker struct {
	registry *presence.Registry
	ledger   *ledger.Ledger
	notifier Notifier

	// calls pairs the two participants of every accepted call, both directions
	calls map[string]string

	opts   Options
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewBroker creates a broker that notifies endpoints through notifier
func NewBroker(notifier Notifier, opts Options, logger zerolog.Logger) *Broker {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	b := &Broker{
		registry: presence.NewRegistry(),
		notifier: notifier,
		calls:    make(map[string]string),
		opts:     opts,
		logger:   logger.With().Str("component", "broker").Logger(),
	}
	b.ledger = ledger.New(b.expire)
	return b
}

// Close stops every pending expiry timer
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.ledger.Close()
	b.logger.Info().Int("dropped_requests", n).Msg("broker closed")
}

// send is fire-and-forget; a gone endpoint owns its own cleanup
func (b *Broker) send(id string, event types.EventType, payload any) {
	if id == "" {
		return
	}
	if !b.notifier.Send(id, event, payload) {
		b.logger.Debug().
			Str("target", id).
			Str("event", string(event)).
			Msg("notification not delivered")
	}
}

// sendAgents notifies every registered agent except skip
func (b *Broker) sendAgents(skip string, event types.EventType, payload any) {
	for _, ep := range b.registry.ListByRole(types.RoleAgent) {
		if ep.ID != skip {
			b.send(ep.ID, event, payload)
		}
	}
}

// setBusy flips an agent's busy flag and tells the other agents
func (b *Broker) setBusy(id string, inCall bool) {
	if !b.registry.SetInCall(id, inCall) {
		return
	}
	b.sendAgents(id, types.EventStatusChanged, types.StatusChanged{AgentID: id, InCall: inCall})
}

// pair records an accepted call between a and c
func (b *Broker) pair(a, c string) {
	b.calls[a] = c
	b.calls[c] = a
}

// unpair forgets the call between a and c, leaving unrelated pairings alone
func (b *Broker) unpair(a, c string) {
	if b.calls[a] == c {
		delete(b.calls, a)
	}
	if b.calls[c] == a {
		delete(b.calls, c)
	}
}

func (b *Broker) timeoutSeconds() int {
	return int(b.opts.CallTimeout / time.Second)
}

func callType(a, c presence.Endpoint) string {
	if a.IsAgent() && c.IsAgent() {
		return "agent-agent"
	}
	return "client-agent"
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func record(outcome metrics.CallOutcome, kind types.CallKind) {
	metrics.Get().RecordCall(outcome, string(kind))
}
