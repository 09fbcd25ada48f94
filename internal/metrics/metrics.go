package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livetalk"

// CallOutcome labels a call lifecycle counter
type CallOutcome string

const (
	CallRequested CallOutcome = "requested"
	CallQueued    CallOutcome = "queued"
	CallDelivered CallOutcome = "delivered" // deferred request reached its target
	CallBusy      CallOutcome = "busy"
	CallOffline   CallOutcome = "offline"
	CallAccepted  CallOutcome = "accepted"
	CallRejected  CallOutcome = "rejected"
	CallCancelled CallOutcome = "cancelled"
	CallTimeout   CallOutcome = "timeout"
	CallEnded     CallOutcome = "ended"
)

// Metrics holds all application metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// WebSocket metrics
	wsConnections    prometheus.Counter
	wsDisconnections prometheus.Counter
	wsMessages       prometheus.Counter
	wsErrors         prometheus.Counter
	wsDropped        prometheus.Counter
	activeConns      prometheus.Gauge

	// Relay metrics
	relayFrames      prometheus.Counter
	relayUndelivered prometheus.Counter

	// Call lifecycle counters, by outcome and call kind
	calls *prometheus.CounterVec

	// Presence gauges, refreshed by the stats sampler
	connectedClients prometheus.Gauge
	connectedAgents  prometheus.Gauge
	busyAgents       prometheus.Gauge
	openRequests     prometheus.Gauge
	activeCalls      prometheus.Gauge

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		wsConnections:    counter("websocket", "connections_total", "WebSocket connections accepted."),
		wsDisconnections: counter("websocket", "disconnections_total", "WebSocket connections closed."),
		wsMessages:       counter("websocket", "messages_total", "Inbound WebSocket frames."),
		wsErrors:         counter("websocket", "errors_total", "Unexpected WebSocket read or write errors."),
		wsDropped:        counter("websocket", "dropped_sends_total", "Notifications dropped on a full send buffer."),
		activeConns:      gauge("websocket", "active_connections", "Open WebSocket connections."),

		relayFrames:      counter("relay", "frames_total", "Negotiation frames relayed."),
		relayUndelivered: counter("relay", "undelivered_total", "Negotiation frames whose target was gone."),

		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Call lifecycle transitions.",
		}, []string{"outcome", "kind"}),

		connectedClients: gauge("", "connected_clients", "Registered clients."),
		connectedAgents:  gauge("", "connected_agents", "Registered agents."),
		busyAgents:       gauge("", "busy_agents", "Agents in a call."),
		openRequests:     gauge("", "open_requests", "Open call requests in the ledger."),
		activeCalls:      gauge("", "active_calls", "Paired calls."),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"endpoint", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.wsConnections, m.wsDisconnections, m.wsMessages, m.wsErrors, m.wsDropped, m.activeConns,
		m.relayFrames, m.relayUndelivered,
		m.calls,
		m.connectedClients, m.connectedAgents, m.busyAgents, m.openRequests, m.activeCalls,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.wsConnections.Inc()
	m.activeConns.Inc()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.wsDisconnections.Inc()
	m.activeConns.Dec()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.wsMessages.Inc()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.wsErrors.Inc()
}

// RecordDroppedSend counts a notification dropped because the send buffer was full
func (m *Metrics) RecordDroppedSend() {
	m.wsDropped.Inc()
}

// RecordRelay counts a negotiation frame and whether it reached its target
func (m *Metrics) RecordRelay(delivered bool) {
	m.relayFrames.Inc()
	if !delivered {
		m.relayUndelivered.Inc()
	}
}

// RecordCall increments a call lifecycle counter
func (m *Metrics) RecordCall(outcome CallOutcome, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.calls.WithLabelValues(string(outcome), kind).Inc()
}

// UpdatePresence replaces the presence gauges
func (m *Metrics) UpdatePresence(clients, agents, busy, openRequests, activeCalls int) {
	m.connectedClients.Set(float64(clients))
	m.connectedAgents.Set(float64(agents))
	m.busyAgents.Set(float64(busy))
	m.openRequests.Set(float64(openRequests))
	m.activeCalls.Set(float64(activeCalls))
}

// RecordHTTPRequest records an HTTP request and its latency
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.httpRequests.WithLabelValues(endpoint, status).Inc()
	m.httpDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP
}
