package presence

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/livetalk/internal/types"
)

// ErrDuplicateRegistration is returned when an identity already has a role
var ErrDuplicateRegistration = errors.New("endpoint already registered")

// Endpoint is one connected participant
type Endpoint struct {
	ID           string
	Role         types.Role
	Profile      json.RawMessage // clients only
	Address      string          // agents only
	Name         string          // agents only
	InCall       bool            // agents only
	ConnectedAt  time.Time
	RegisteredAt time.Time

	// seq orders registrations; earlier registrations win address resolution
	seq uint64
}

// AgentInfo returns the public view of an agent
func (e Endpoint) AgentInfo() types.AgentInfo {
	return types.AgentInfo{
		SocketID: e.ID,
		Address:  e.Address,
		Name:     e.Name,
		InCall:   e.InCall,
	}
}

// ClientInfo returns the public view of a client
func (e Endpoint) ClientInfo() types.ClientInfo {
	return types.ClientInfo{
		SocketID: e.ID,
		UserData: e.Profile,
	}
}

// IsAgent reports whether the endpoint registered as an agent
func (e Endpoint) IsAgent() bool {
	return e.Role == types.RoleAgent
}

// Registry tracks connected endpoints, partitioned by role
type Registry struct {
	endpoints map[string]*Endpoint // identity -> record
	byAddress map[string][]string  // address -> agent identities, registration order
	nextSeq   uint64
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[string]*Endpoint),
		byAddress: make(map[string][]string),
	}
}

// Connect records a new, unassigned endpoint. It is a no-op if the identity is known.
func (r *Registry) Connect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[id]; exists {
		return
	}
	r.endpoints[id] = &Endpoint{
		ID:          id,
		Role:        types.RoleUnassigned,
		ConnectedAt: time.Now(),
	}
}

// RegisterClient assigns the client role to an identity
func (r *Registry) RegisterClient(id string, profile json.RawMessage) (Endpoint, error) {
	return r.register(id, types.RoleClient, func(ep *Endpoint) {
		ep.Profile = profile
	})
}

// RegisterAgent assigns the agent role to an identity and indexes its address
func (r *Registry) RegisterAgent(id, address, name string) (Endpoint, error) {
	return r.register(id, types.RoleAgent, func(ep *Endpoint) {
		ep.Address = address
		ep.Name = name
	})
}

func (r *Registry) register(id string, role types.Role, fill func(*Endpoint)) (Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	ep, exists := r.endpoints[id]
	if !exists {
		ep = &Endpoint{ID: id, ConnectedAt: now}
		r.endpoints[id] = ep
	}
	if ep.Role != types.RoleUnassigned && ep.Role != "" {
		return *ep, ErrDuplicateRegistration
	}

	r.nextSeq++
	ep.Role = role
	ep.RegisteredAt = now
	ep.seq = r.nextSeq
	fill(ep)

	if role == types.RoleAgent && ep.Address != "" {
		r.byAddress[ep.Address] = append(r.byAddress[ep.Address], id)
	}
	return *ep, nil
}

// Unregister removes an identity and returns its prior record
func (r *Registry) Unregister(id string) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, exists := r.endpoints[id]
	if !exists {
		return Endpoint{}, false
	}
	delete(r.endpoints, id)

	if ep.Role == types.RoleAgent && ep.Address != "" {
		ids := r.byAddress[ep.Address]
		for i, other := range ids {
			if other == id {
				ids = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(r.byAddress, ep.Address)
		} else {
			r.byAddress[ep.Address] = ids
		}
	}
	return *ep, true
}

// Find returns a copy of the record for an identity
func (r *Registry) Find(id string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, exists := r.endpoints[id]
	if !exists {
		return Endpoint{}, false
	}
	return *ep, true
}

// ListByRole returns a point-in-time snapshot of one partition in registration order
func (r *Registry) ListByRole(role types.Role) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Endpoint, 0)
	for _, ep := range r.endpoints {
		if ep.Role == role {
			list = append(list, *ep)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

// SetInCall updates an agent's busy flag. It returns false for unknown or non-agent identities.
func (r *Registry) SetInCall(id string, inCall bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, exists := r.endpoints[id]
	if !exists || ep.Role != types.RoleAgent {
		return false
	}
	ep.InCall = inCall
	return true
}

// Counts returns the size of each partition and the number of busy agents
func (r *Registry) Counts() (clients, agents, busy int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ep := range r.endpoints {
		switch ep.Role {
		case types.RoleClient:
			clients++
		case types.RoleAgent:
			agents++
			if ep.InCall {
				busy++
			}
		}
	}
	return
}
