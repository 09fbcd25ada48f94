package websocket

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/config"
	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/dennisdiepolder/livetalk/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestNewHub(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	if hub == nil {
		t.Fatal("expected hub to be created")
	}

	if hub.clients == nil {
		t.Error("expected clients map to be initialized")
	}

	if hub.register == nil {
		t.Error("expected register channel to be initialized")
	}

	if hub.unregister == nil {
		t.Error("expected unregister channel to be initialized")
	}
}

func TestHubClientCount(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Initial count should be 0
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	// Simulate adding clients
	hub.mu.Lock()
	hub.clients["test1"] = &Client{id: "test1"}
	hub.clients["test2"] = &Client{id: "test2"}
	hub.mu.Unlock()

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	// Start hub in goroutine
	go hub.Run()

	// Create mock client
	client := &Client{
		id:   "test-client",
		hub:  hub,
		send: make(chan []byte, 1),
	}

	// Register client
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after register, got %d", hub.ClientCount())
	}

	// Unregister client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}

	// send channel is closed on unregister
	if _, ok := <-client.send; ok {
		t.Error("expected send channel to be closed")
	}
}

func TestHubSend(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	client := &Client{id: "a1", hub: hub, send: make(chan []byte, 1)}
	hub.clients["a1"] = client

	if !hub.Send("a1", types.EventBusy, types.Busy{TargetAgentID: "a2", Address: "555"}) {
		t.Fatal("expected send to succeed")
	}

	var msg struct {
		Type types.EventType `json:"type"`
		Data types.Busy      `json:"data"`
	}
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Type != types.EventBusy || msg.Data.TargetAgentID != "a2" {
		t.Errorf("unexpected frame %+v", msg)
	}

	if hub.Send("missing", types.EventBusy, nil) {
		t.Error("expected send to unknown endpoint to fail")
	}

	// buffer of one is now full again
	hub.Send("a1", types.EventBusy, nil)
	if hub.Send("a1", types.EventBusy, nil) {
		t.Error("expected send to a full buffer to fail")
	}
}

func TestHubSendAfterClose(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	client := &Client{id: "a1", hub: hub, send: make(chan []byte, 1)}
	hub.clients["a1"] = client
	client.Close()
	client.Close()

	if hub.Send("a1", types.EventBusy, nil) {
		t.Error("expected send on a closed client to fail")
	}
}

func TestHubRelay(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	target := &Client{id: "b", hub: hub, send: make(chan []byte, 1)}
	hub.clients["b"] = target

	env := types.Envelope{
		Type: types.EventOffer,
		Data: json.RawMessage(`{"target":"b","sdp":{"type":"offer","sdp":"v=0"}}`),
	}
	if !hub.Relay("a", env) {
		t.Fatal("expected relay to be delivered")
	}

	var msg struct {
		Type types.EventType            `json:"type"`
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(<-target.send, &msg); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if msg.Type != types.EventOffer {
		t.Errorf("expected offer, got %s", msg.Type)
	}
	if string(msg.Data["source"]) != `"a"` {
		t.Errorf("expected source a, got %s", msg.Data["source"])
	}
	if _, ok := msg.Data["target"]; ok {
		t.Error("expected target to be stripped")
	}
	if !strings.Contains(string(msg.Data["sdp"]), "v=0") {
		t.Errorf("expected sdp to pass through, got %s", msg.Data["sdp"])
	}
}

func TestHubRelayWithoutTarget(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)

	tests := []struct {
		name string
		data string
	}{
		{name: "no payload", data: ``},
		{name: "no target", data: `{"candidate":"x"}`},
		{name: "unknown target", data: `{"target":"ghost","candidate":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := types.Envelope{Type: types.EventICECandidate, Data: json.RawMessage(tt.data)}
			if hub.Relay("a", env) {
				t.Error("expected relay to fail")
			}
		})
	}
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"http://localhost:5173"},
		PongWait:       time.Minute,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 65536,
	}
}

// startServer runs a hub, broker and upgrade handler behind httptest
func startServer(t *testing.T) (*httptest.Server, *signaling.Broker) {
	t.Helper()
	logger := zerolog.New(&bytes.Buffer{})
	hub := NewHub(logger)
	go hub.Run()

	broker := signaling.NewBroker(hub, signaling.DefaultOptions(), logger)
	t.Cleanup(broker.Close)

	srv := httptest.NewServer(NewHandler(hub, broker, testConfig(), logger))
	t.Cleanup(srv.Close)
	return srv, broker
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event types.EventType, data any) {
	t.Helper()
	if err := conn.WriteJSON(types.Message{Type: event, Data: data}); err != nil {
		t.Fatalf("failed to write %s: %v", event, err)
	}
}

// await reads frames until one of the wanted type arrives
func await(t *testing.T, conn *websocket.Conn, event types.EventType) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env types.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Type == event {
			return env.Data
		}
	}
}

func TestEndToEndCallFlow(t *testing.T) {
	srv, broker := startServer(t)

	agentConn := dial(t, srv)
	emit(t, agentConn, types.EventRegisterAgent, types.RegisterAgent{Address: "555", Name: "Alice"})
	await(t, agentConn, types.EventCurrentAgents)

	clientConn := dial(t, srv)
	emit(t, clientConn, types.EventRegisterClient, map[string]string{"name": "bob"})
	await(t, agentConn, types.EventNewClient)

	emit(t, clientConn, types.EventCallRequest, types.CallRequest{CallType: "video", TargetAddress: "555"})

	var incoming types.IncomingCall
	if err := json.Unmarshal(await(t, agentConn, types.EventIncomingCall), &incoming); err != nil {
		t.Fatalf("failed to decode incoming-call: %v", err)
	}
	if incoming.CallType != types.CallVideo || !incoming.TargetSpecific {
		t.Errorf("unexpected incoming-call %+v", incoming)
	}
	await(t, clientConn, types.EventCallRequestSent)

	emit(t, agentConn, types.EventAcceptCall, types.AcceptCall{RequesterID: incoming.SocketID, CallType: "video"})

	var accepted types.CallAccepted
	if err := json.Unmarshal(await(t, clientConn, types.EventCallAccepted), &accepted); err != nil {
		t.Fatalf("failed to decode call-accepted: %v", err)
	}
	if accepted.AgentName != "Alice" || accepted.AgentAddress != "555" {
		t.Errorf("unexpected call-accepted %+v", accepted)
	}

	// negotiation frames pass straight through
	emit(t, clientConn, types.EventOffer, map[string]any{"target": accepted.AgentID, "sdp": "v=0"})
	var offer map[string]string
	if err := json.Unmarshal(await(t, agentConn, types.EventOffer), &offer); err != nil {
		t.Fatalf("failed to decode offer: %v", err)
	}
	if offer["source"] != incoming.SocketID || offer["sdp"] != "v=0" {
		t.Errorf("unexpected relayed offer %v", offer)
	}

	clientConn.Close()

	var ended types.CallEnded
	if err := json.Unmarshal(await(t, agentConn, types.EventCallEnded), &ended); err != nil {
		t.Fatalf("failed to decode call-ended: %v", err)
	}
	if ended.Reason != "disconnect" {
		t.Errorf("expected disconnect reason, got %s", ended.Reason)
	}
	await(t, agentConn, types.EventClientDisconnected)

	if stats := broker.Stats(); stats.Clients != 0 || stats.BusyAgents != 0 {
		t.Errorf("unexpected stats after disconnect %+v", stats)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	await(t, conn, types.EventCallError)

	emit(t, conn, types.EventCheckStatus, types.CheckStatus{Address: "555"})
	var reply types.StatusReply
	if err := json.Unmarshal(await(t, conn, types.EventStatusReply), &reply); err != nil {
		t.Fatalf("failed to decode status-reply: %v", err)
	}
	if reply.Online {
		t.Error("expected unknown address to be offline")
	}
}

func TestCheckOrigin(t *testing.T) {
	logger := zerolog.New(&bytes.Buffer{})
	h := NewHandler(NewHub(logger), nil, testConfig(), logger)

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://localhost:5173", want: true},
		{origin: "http://evil.example", want: false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}
}
