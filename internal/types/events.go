package types

import "encoding/json"

// ClientInfo describes a connected client to agents
type ClientInfo struct {
	SocketID string          `json:"socketId"`
	UserData json.RawMessage `json:"userData,omitempty"`
}

// AgentInfo describes a connected agent
type AgentInfo struct {
	SocketID string `json:"socketId"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	InCall   bool   `json:"inCall"`
}

// IncomingCall offers a client request to an agent
type IncomingCall struct {
	SocketID       string          `json:"socketId"`
	UserData       json.RawMessage `json:"userData,omitempty"`
	CallType       CallKind        `json:"callType"`
	TargetSpecific bool            `json:"targetSpecific,omitempty"`
}

// IncomingAgentCall offers an agent-to-agent request to its callee
type IncomingAgentCall struct {
	SocketID  string    `json:"socketId"`
	AgentData AgentInfo `json:"agentData"`
	CallType  CallKind  `json:"callType"`
}

// CallRequestSent acknowledges a request to its requester
type CallRequestSent struct {
	CallType      CallKind `json:"callType"`
	TargetAddress string   `json:"targetAddress,omitempty"`
	TargetAgentID string   `json:"targetAgentId,omitempty"`
	AgentIsOnline bool     `json:"agentIsOnline"`
	Timeout       int      `json:"timeout"` // seconds
}

// CallRequestQueued tells the requester its target is not connected yet
type CallRequestQueued struct {
	CallType      CallKind `json:"callType"`
	TargetAddress string   `json:"targetAddress"`
	Timeout       int      `json:"timeout"` // seconds
}

// CallRequestCancelled withdraws a client request from an agent
type CallRequestCancelled struct {
	SocketID string          `json:"socketId"`
	UserData json.RawMessage `json:"userData,omitempty"`
	Reason   string          `json:"reason"`
}

// AgentCallCancelled withdraws an agent-to-agent request from its counterpart
type AgentCallCancelled struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName,omitempty"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// Busy reports that every agent at the target address is in a call
type Busy struct {
	TargetAgentID string `json:"targetAgentId"`
	AgentName     string `json:"agentName"`
	Address       string `json:"address"`
}

// Offline reports that no agent holds the target address
type Offline struct {
	Address string `json:"address"`
}

// CallAccepted tells a client which agent took its request
type CallAccepted struct {
	AgentID      string   `json:"agentId"`
	AgentAddress string   `json:"agentAddress"`
	AgentName    string   `json:"agentName"`
	CallType     CallKind `json:"callType"`
}

// CallHandled tells the other offered agents a broadcast was taken
type CallHandled struct {
	ClientID  string    `json:"clientId"`
	HandledBy AgentInfo `json:"handledBy"`
}

// CallRejected tells a client its targeted agent declined
type CallRejected struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

// AgentCallAccepted tells the calling agent its callee answered
type AgentCallAccepted struct {
	AgentID  string   `json:"agentId"`
	CallType CallKind `json:"callType"`
}

// AgentCallRejected tells the calling agent its callee declined
type AgentCallRejected struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

// CallEnded is sent to the remaining side of a call
type CallEnded struct {
	Source    string `json:"source"`
	IsAgent   bool   `json:"isAgent"`
	Reason    string `json:"reason"`
	CallType  string `json:"callType"` // "agent-agent" or "client-agent"
	EndedBy   string `json:"endedBy"`
	Timestamp int64  `json:"timestamp"`
}

// CallTimeout tells a requester nobody answered in time
type CallTimeout struct {
	Message       string `json:"message"`
	TargetAgentID string `json:"targetAgentId,omitempty"`
	TargetAddress string `json:"targetAddress,omitempty"`
}

// StatusChanged broadcasts an agent's busy flag
type StatusChanged struct {
	AgentID string `json:"agentId"`
	InCall  bool   `json:"inCall"`
}

// StatusReply answers check-status
type StatusReply struct {
	Address   string `json:"address"`
	Online    bool   `json:"online"`
	InCall    bool   `json:"inCall"`
	AgentName string `json:"agentName,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
}

// CallError surfaces a rejected operation to its sender
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
