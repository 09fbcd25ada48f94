package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/presence"
	"github.com/dennisdiepolder/livetalk/internal/types"
)

// Connect records a freshly connected, unassigned endpoint
func (b *Broker) Connect(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.registry.Connect(id)
}

// RegisterClient assigns the client role and announces the client to every agent
func (b *Broker) RegisterClient(id string, profile json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, err := b.registry.RegisterClient(id, profile)
	if err != nil {
		b.send(id, types.EventCallError, types.CallError{Code: "duplicate-registration", Message: "endpoint is already registered"})
		return fmt.Errorf("register client %s: %w", id, err)
	}

	b.logger.Info().Str("client_id", id).Msg("client registered")
	b.sendAgents("", types.EventNewClient, ep.ClientInfo())
	return nil
}

// RegisterAgent assigns the agent role, sends the agent the current roster,
// announces it, and delivers every request that was waiting for its address
// before returning.
func (b *Broker) RegisterAgent(id, address, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		name = "Agent"
	}
	ep, err := b.registry.RegisterAgent(id, address, name)
	if err != nil {
		b.send(id, types.EventCallError, types.CallError{Code: "duplicate-registration", Message: "endpoint is already registered"})
		return fmt.Errorf("register agent %s: %w", id, err)
	}

	b.logger.Info().
		Str("agent_id", id).
		Str("address", address).
		Str("name", name).
		Msg("agent registered")

	clients := make([]types.ClientInfo, 0)
	for _, c := range b.registry.ListByRole(types.RoleClient) {
		clients = append(clients, c.ClientInfo())
	}
	b.send(id, types.EventCurrentClients, clients)

	others := make([]types.AgentInfo, 0)
	for _, a := range b.registry.ListByRole(types.RoleAgent) {
		if a.ID != id {
			others = append(others, a.AgentInfo())
		}
	}
	b.send(id, types.EventCurrentAgents, others)

	b.sendAgents(id, types.EventNewAgent, ep.AgentInfo())

	b.deliverDeferred(ep)
	return nil
}

// CheckStatus answers whether an address is reachable and free
func (b *Broker) CheckStatus(id, address string) types.StatusReply {
	b.mu.Lock()
	defer b.mu.Unlock()

	reply := b.status(address)
	b.send(id, types.EventStatusReply, reply)
	return reply
}

// Status is CheckStatus without a requester, for the operator API
func (b *Broker) Status(address string) types.StatusReply {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.status(address)
}

func (b *Broker) status(address string) types.StatusReply {
	reply := types.StatusReply{Address: address}
	matches := b.registry.Resolve(address)
	if len(matches) == 0 {
		return reply
	}

	reply.Online = true
	pick, ok := b.registry.ResolveAvailable(address)
	if !ok {
		reply.InCall = true
		pick = matches[0]
	}
	reply.AgentID = pick.ID
	reply.AgentName = pick.Name
	return reply
}

// Agent returns the registry record of a connected agent
func (b *Broker) Agent(id string) (presence.Endpoint, bool) {
	ep, ok := b.registry.Find(id)
	if !ok || !ep.IsAgent() {
		return presence.Endpoint{}, false
	}
	return ep, true
}

// Endpoint returns the registry record of any connected endpoint
func (b *Broker) Endpoint(id string) (presence.Endpoint, bool) {
	return b.registry.Find(id)
}

// Agents returns a snapshot of every connected agent in registration order
func (b *Broker) Agents() []types.AgentInfo {
	list := make([]types.AgentInfo, 0)
	for _, ep := range b.registry.ListByRole(types.RoleAgent) {
		list = append(list, ep.AgentInfo())
	}
	return list
}

// Clients returns a snapshot of every connected client in registration order
func (b *Broker) Clients() []types.ClientInfo {
	list := make([]types.ClientInfo, 0)
	for _, ep := range b.registry.ListByRole(types.RoleClient) {
		list = append(list, ep.ClientInfo())
	}
	return list
}

// RequestInfo is the operator view of a ledger entry
type RequestInfo struct {
	Requester string         `json:"requester"`
	Kind      types.CallKind `json:"callType"`
	Address   string         `json:"targetAddress,omitempty"`
	Resolved  string         `json:"resolvedTarget,omitempty"`
	Notified  []string       `json:"notified,omitempty"`
	AgentCall bool           `json:"agentCall"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Requests returns every open request in creation order
func (b *Broker) Requests() []RequestInfo {
	entries := b.ledger.List()
	list := make([]RequestInfo, 0, len(entries))
	for _, e := range entries {
		list = append(list, RequestInfo{
			Requester: e.Key.Requester,
			Kind:      e.Kind,
			Address:   e.Address,
			Resolved:  e.Resolved,
			Notified:  e.Notified,
			AgentCall: e.Key.IsAgentCall(),
			CreatedAt: e.CreatedAt,
			ExpiresAt: e.ExpiresAt,
		})
	}
	return list
}

// Stats is a point-in-time summary used by the metrics sampler
type Stats struct {
	Clients      int `json:"clients"`
	Agents       int `json:"agents"`
	BusyAgents   int `json:"busyAgents"`
	OpenRequests int `json:"openRequests"`
	ActiveCalls  int `json:"activeCalls"`
}

// Stats summarizes the broker state
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, agents, busy := b.registry.Counts()
	return Stats{
		Clients:      clients,
		Agents:       agents,
		BusyAgents:   busy,
		OpenRequests: b.ledger.Len(),
		ActiveCalls:  len(b.calls) / 2,
	}
}
