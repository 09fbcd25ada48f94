package types

import "encoding/json"

// RegisterAgent is the payload of register-agent
type RegisterAgent struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// CallRequest is the payload of call-request and agent-call-agent
type CallRequest struct {
	CallType      string `json:"callType"`
	TargetAddress string `json:"targetAddress,omitempty"`
}

// AcceptCall is sent by an agent taking a client request
type AcceptCall struct {
	RequesterID string `json:"requesterId"`
	ClientID    string `json:"clientId,omitempty"` // older clients
	CallType    string `json:"callType"`
}

// Requester returns the requester identity, accepting the legacy field
func (a AcceptCall) Requester() string {
	if a.RequesterID != "" {
		return a.RequesterID
	}
	return a.ClientID
}

// AgentCallReply is the payload of accept-agent-call and reject-agent-call
type AgentCallReply struct {
	AgentID  string `json:"agentId"`
	CallType string `json:"callType,omitempty"`
}

// RejectCall is sent by an agent declining a client request
type RejectCall struct {
	ClientID string `json:"clientId"`
}

// EndCall is the payload of end-call
type EndCall struct {
	TargetID     string `json:"targetId"`
	Reason       string `json:"reason,omitempty"`
	ForceCleanup bool   `json:"forceCleanup,omitempty"`
}

// CancelAgentCall names the callee by identity or address
type CancelAgentCall struct {
	TargetID string `json:"targetId"`
}

// CheckStatus asks whether an address is reachable
type CheckStatus struct {
	Address string `json:"address"`
}

// Relay is a negotiation frame; only Target is interpreted
type Relay map[string]json.RawMessage
