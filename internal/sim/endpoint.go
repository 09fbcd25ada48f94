package sim

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Write timeout
	writeTimeout = 10 * time.Second

	// Reconnect backoff
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Role is the side a simulated endpoint plays
type Role string

const (
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

// Behavior tunes how simulated endpoints act
type Behavior struct {
	RingDelay       time.Duration // agent: pause before answering
	HoldTime        time.Duration // agent: call length before hanging up
	RequestInterval time.Duration // client: pause between call attempts
	CallType        types.CallKind
}

// Counters are shared by every endpoint of one simulation run
type Counters struct {
	Connects  atomic.Int64
	Offered   atomic.Int64
	Accepted  atomic.Int64
	Completed atomic.Int64
	Relayed   atomic.Int64
	Busy      atomic.Int64
	Timeouts  atomic.Int64
	Failures  atomic.Int64
}

// Endpoint is one simulated agent or client with its own connection
type Endpoint struct {
	role      Role
	address   string
	name      string
	targets   []string // client: addresses to call, "" means any agent
	serverURL string
	behavior  Behavior
	counters  *Counters
	logger    zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	closed     bool // Permanently closed, no reconnects
	inCall     bool
	waiting    bool // client: request outstanding
	peer       string
	offers     map[string]bool // agent: requesters still ringing
	reconnects int64
}

// NewAgent creates a simulated agent registered under address
func NewAgent(address, name, serverURL string, behavior Behavior, counters *Counters, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		role:      RoleAgent,
		address:   address,
		name:      name,
		serverURL: serverURL,
		behavior:  behavior,
		counters:  counters,
		logger:    logger.With().Str("agent", address).Logger(),
	}
}

// NewClient creates a simulated client that calls one of targets each round
func NewClient(name string, targets []string, serverURL string, behavior Behavior, counters *Counters, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		role:      RoleClient,
		name:      name,
		targets:   targets,
		serverURL: serverURL,
		behavior:  behavior,
		counters:  counters,
		logger:    logger.With().Str("client", name).Logger(),
	}
}

// Run connects and keeps the endpoint connected until ctx is done
func (e *Endpoint) Run(ctx context.Context) {
	reconnectDelay := initialReconnectDelay

	for {
		// Check if permanently closed
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			e.Close()
			return
		default:
		}

		if err := e.connect(); err != nil {
			e.logger.Debug().Err(err).Dur("retry_in", reconnectDelay).Msg("connection failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			// Exponential backoff
			reconnectDelay *= 2
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
			e.mu.Lock()
			e.reconnects++
			e.mu.Unlock()
			continue
		}

		// Reset backoff on successful connection
		reconnectDelay = initialReconnectDelay
		e.counters.Connects.Add(1)

		e.register()
		e.runLoop(ctx)

		// Connection lost, try to reconnect with a clean call state
		e.mu.Lock()
		e.connected = false
		e.inCall = false
		e.waiting = false
		e.peer = ""
		e.offers = nil
		if e.conn != nil {
			e.conn.Close()
			e.conn = nil
		}
		e.mu.Unlock()
	}
}

// connect establishes the WebSocket connection
func (e *Endpoint) connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	wsURL := strings.TrimSuffix(e.serverURL, "/") + "/ws"
	// Convert http:// to ws:// or https:// to wss://
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[4:]
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}

	e.conn = conn
	e.connected = true
	e.logger.Debug().Msg("websocket connected")
	return nil
}

// Close permanently closes the connection and prevents reconnects
func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true // Prevent reconnects
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connected = false
}

// IsConnected returns whether the connection is established
func (e *Endpoint) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Reconnects returns how often the endpoint had to retry its connection
func (e *Endpoint) Reconnects() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconnects
}

func (e *Endpoint) register() {
	if e.role == RoleAgent {
		e.emit(types.EventRegisterAgent, types.RegisterAgent{Address: e.address, Name: e.name})
		return
	}
	e.emit(types.EventRegisterClient, map[string]string{"name": e.name, "source": "agentsim"})
}

// runLoop reads frames and, for clients, places calls on every tick
func (e *Endpoint) runLoop(ctx context.Context) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return
	}

	// Start read goroutine
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			e.handleIncoming(message)
		}
	}()

	var tick <-chan time.Time
	if e.role == RoleClient && e.behavior.RequestInterval > 0 {
		ticker := time.NewTicker(e.behavior.RequestInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-readDone
			return
		case <-readDone:
			return
		case <-tick:
			e.placeCall()
		}
	}
}

func (e *Endpoint) placeCall() {
	e.mu.Lock()
	if e.inCall || e.waiting || len(e.targets) == 0 {
		e.mu.Unlock()
		return
	}
	e.waiting = true
	target := e.targets[rand.Intn(len(e.targets))]
	e.mu.Unlock()

	e.emit(types.EventCallRequest, types.CallRequest{
		CallType:      string(e.behavior.CallType),
		TargetAddress: target,
	})
}

// handleIncoming processes frames from the server
func (e *Endpoint) handleIncoming(message []byte) {
	var env types.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return
	}

	switch env.Type {
	case types.EventIncomingCall:
		var in types.IncomingCall
		if err := json.Unmarshal(env.Data, &in); err != nil {
			return
		}
		e.counters.Offered.Add(1)
		e.mu.Lock()
		if e.offers == nil {
			e.offers = make(map[string]bool)
		}
		e.offers[in.SocketID] = true
		e.mu.Unlock()
		time.AfterFunc(e.behavior.RingDelay, func() { e.answer(in) })

	case types.EventCallHandled:
		var handled types.CallHandled
		if err := json.Unmarshal(env.Data, &handled); err == nil {
			e.withdrawOffer(handled.ClientID)
		}

	case types.EventCallRequestCancelled:
		var cancelled types.CallRequestCancelled
		if err := json.Unmarshal(env.Data, &cancelled); err == nil {
			e.withdrawOffer(cancelled.SocketID)
		}

	case types.EventCallAccepted:
		var acc types.CallAccepted
		if err := json.Unmarshal(env.Data, &acc); err != nil {
			return
		}
		e.mu.Lock()
		e.waiting = false
		e.inCall = true
		e.peer = acc.AgentID
		e.mu.Unlock()

		e.counters.Accepted.Add(1)
		e.emit(types.EventOffer, map[string]string{"target": acc.AgentID, "sdp": "v=0 agentsim"})

	case types.EventOffer:
		var frame map[string]string
		if err := json.Unmarshal(env.Data, &frame); err != nil {
			return
		}
		e.emit(types.EventAnswer, map[string]string{"target": frame["source"], "sdp": "v=0 agentsim"})

	case types.EventAnswer:
		e.counters.Relayed.Add(1)

	case types.EventCallEnded:
		e.mu.Lock()
		wasInCall := e.inCall
		e.inCall = false
		e.peer = ""
		e.mu.Unlock()
		if wasInCall && e.role == RoleClient {
			e.counters.Completed.Add(1)
		}

	case types.EventBusy, types.EventOffline, types.EventCallRejected:
		e.counters.Busy.Add(1)
		e.release()

	case types.EventCallTimeout:
		e.counters.Timeouts.Add(1)
		e.release()

	case types.EventCallError:
		e.counters.Failures.Add(1)
		e.release()
	}
}

// answer accepts an offered call and schedules the hang-up
func (e *Endpoint) answer(in types.IncomingCall) {
	e.mu.Lock()
	ringing := e.offers[in.SocketID]
	delete(e.offers, in.SocketID)
	if !ringing || e.inCall || !e.connected {
		e.mu.Unlock()
		return
	}
	e.inCall = true
	e.peer = in.SocketID
	e.mu.Unlock()

	e.emit(types.EventAcceptCall, types.AcceptCall{RequesterID: in.SocketID, CallType: string(in.CallType)})

	time.AfterFunc(e.behavior.HoldTime, func() {
		e.mu.Lock()
		peer := e.peer
		active := e.inCall && peer == in.SocketID
		e.inCall = false
		e.peer = ""
		e.mu.Unlock()

		if active {
			e.emit(types.EventEndCall, types.EndCall{TargetID: peer, Reason: "completed"})
		}
	})
}

func (e *Endpoint) withdrawOffer(requester string) {
	e.mu.Lock()
	delete(e.offers, requester)
	e.mu.Unlock()
}

func (e *Endpoint) release() {
	e.mu.Lock()
	e.waiting = false
	e.mu.Unlock()
}

// emit writes one event frame
func (e *Endpoint) emit(event types.EventType, data any) {
	payload, err := json.Marshal(types.Message{Type: event, Data: data})
	if err != nil {
		e.logger.Error().Err(err).Str("event", string(event)).Msg("failed to marshal frame")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil || !e.connected {
		return
	}

	e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := e.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		e.logger.Debug().Err(err).Msg("write error")
	}
}
