package types

import "encoding/json"

// Role identifies which side of a call an endpoint plays
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleClient     Role = "client"
	RoleAgent      Role = "agent"
)

// CallKind is the media kind requested for a call
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// ParseCallKind maps a wire value to a CallKind, defaulting to audio
func ParseCallKind(s string) CallKind {
	if CallKind(s) == CallVideo {
		return CallVideo
	}
	return CallAudio
}

// EventType is the named type carried by every frame
type EventType string

// Inbound events (endpoint -> server)
const (
	EventRegisterClient    EventType = "register-client"
	EventRegisterAgent     EventType = "register-agent"
	EventCallRequest       EventType = "call-request"
	EventAgentCallAgent    EventType = "agent-call-agent"
	EventAcceptCall        EventType = "accept-call"
	EventAcceptAgentCall   EventType = "accept-agent-call"
	EventRejectCall        EventType = "reject-call"
	EventRejectAgentCall   EventType = "reject-agent-call"
	EventEndCall           EventType = "end-call"
	EventCancelCallRequest EventType = "cancel-call-request"
	EventCancelAgentCall   EventType = "cancel-agent-call"
	EventResetBusyState    EventType = "reset-busy-state"
	EventCheckStatus       EventType = "check-status"

	// Negotiation relay, passed through untouched
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"
)

// Outbound events (server -> endpoint)
const (
	EventNewClient            EventType = "new-client"
	EventNewAgent             EventType = "new-agent"
	EventCurrentClients       EventType = "current-clients"
	EventCurrentAgents        EventType = "current-agents"
	EventIncomingCall         EventType = "incoming-call"
	EventIncomingAgentCall    EventType = "incoming-agent-call"
	EventCallRequestSent      EventType = "call-request-sent"
	EventCallRequestQueued    EventType = "call-request-queued"
	EventCallRequestCancelled EventType = "call-request-cancelled"
	EventAgentCallCancelled   EventType = "agent-call-cancelled"
	EventBusy                 EventType = "busy"
	EventOffline              EventType = "offline"
	EventCallAccepted         EventType = "call-accepted"
	EventCallHandled          EventType = "call-handled"
	EventCallRejected         EventType = "call-rejected"
	EventAgentCallAccepted    EventType = "agent-call-accepted"
	EventAgentCallRejected    EventType = "agent-call-rejected"
	EventCallEnded            EventType = "call-ended"
	EventCallTimeout          EventType = "call-timeout"
	EventAgentDisconnected    EventType = "agent-disconnected"
	EventClientDisconnected   EventType = "client-disconnected"
	EventStatusChanged        EventType = "status-changed"
	EventStatusReply          EventType = "status-reply"
	EventCallError            EventType = "call-error"
)

// IsRelay reports whether the event is a negotiation frame forwarded verbatim
func (e EventType) IsRelay() bool {
	return e == EventOffer || e == EventAnswer || e == EventICECandidate
}

// Envelope is an inbound frame; Data is decoded per Type
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame
type Message struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}
