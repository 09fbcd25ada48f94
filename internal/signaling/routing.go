package signaling

import (
	"fmt"

	"github.com/dennisdiepolder/livetalk/internal/ledger"
	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/presence"
	"github.com/dennisdiepolder/livetalk/internal/types"
)

type routeKind int

const (
	routeBroadcast routeKind = iota // no address: every free agent
	routeTargeted                   // address resolved to a free agent
	routeBusy                       // address resolved only to busy agents
	routeQueued                     // address unknown: hold until it registers
	routeOffline                    // address unknown and queuing disabled
)

type route struct {
	kind    routeKind
	targets []presence.Endpoint
}

// route decides whom a request from requester goes to. The requester itself
// is never a candidate.
func (b *Broker) route(requester, address string) route {
	if address == "" {
		var free []presence.Endpoint
		for _, ep := range b.registry.ListByRole(types.RoleAgent) {
			if !ep.InCall && ep.ID != requester {
				free = append(free, ep)
			}
		}
		return route{kind: routeBroadcast, targets: free}
	}

	var matches []presence.Endpoint
	for _, ep := range b.registry.Resolve(address) {
		if ep.ID != requester {
			matches = append(matches, ep)
		}
	}
	if len(matches) == 0 {
		if b.opts.QueueOffline {
			return route{kind: routeQueued}
		}
		return route{kind: routeOffline}
	}
	for _, ep := range matches {
		if !ep.InCall {
			return route{kind: routeTargeted, targets: []presence.Endpoint{ep}}
		}
	}
	return route{kind: routeBusy, targets: matches[:1]}
}

// RequestCall handles call-request from a client
func (b *Broker) RequestCall(id string, kind types.CallKind, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	requester, ok := b.registry.Find(id)
	if !ok || requester.Role != types.RoleClient {
		return fmt.Errorf("call-request from %s: %w", id, ErrUnauthorized)
	}

	return b.open(requester, ledger.ClientKey(id), kind, address)
}

// AgentCallAgent handles agent-call-agent. A busy requester is refused before
// the ledger is consulted.
func (b *Broker) AgentCallAgent(id string, kind types.CallKind, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	requester, ok := b.registry.Find(id)
	if !ok || !requester.IsAgent() {
		return fmt.Errorf("agent-call-agent from %s: %w", id, ErrUnauthorized)
	}
	if requester.InCall {
		b.send(id, types.EventCallError, types.CallError{Code: "already-in-call", Message: "you are already in another call"})
		return fmt.Errorf("agent-call-agent from %s: %w", id, ErrAlreadyInCall)
	}
	if address == "" {
		b.send(id, types.EventCallError, types.CallError{Code: "missing-target", Message: "target address not provided"})
		return fmt.Errorf("agent-call-agent from %s: target address required: %w", id, ErrNotFound)
	}

	return b.open(requester, ledger.AgentKey(id, address), kind, address)
}

// open applies the routing decision for a new request
func (b *Broker) open(requester presence.Endpoint, key ledger.Key, kind types.CallKind, address string) error {
	r := b.route(requester.ID, address)

	switch r.kind {
	case routeBusy:
		target := r.targets[0]
		b.send(requester.ID, types.EventBusy, types.Busy{
			TargetAgentID: target.ID,
			AgentName:     target.Name,
			Address:       address,
		})
		record(metrics.CallBusy, kind)
		return fmt.Errorf("request to %s: %w", address, ErrBusy)

	case routeOffline:
		b.send(requester.ID, types.EventOffline, types.Offline{Address: address})
		record(metrics.CallOffline, kind)
		return fmt.Errorf("request to %s: %w", address, ErrNotFound)
	}

	entry, superseded := b.ledger.Open(key, kind, address, b.opts.CallTimeout)
	for _, old := range superseded {
		b.withdraw(old, "superseded")
	}
	record(metrics.CallRequested, kind)

	log := b.logger.Debug().
		Str("requester", requester.ID).
		Str("key", key.String()).
		Str("call_type", string(kind)).
		Str("address", address)

	switch r.kind {
	case routeBroadcast:
		ids := make([]string, 0, len(r.targets))
		for _, t := range r.targets {
			ids = append(ids, t.ID)
		}
		b.ledger.SetNotified(key, ids)
		for _, t := range r.targets {
			b.offer(entry, requester, t)
		}
		b.send(requester.ID, types.EventCallRequestSent, types.CallRequestSent{
			CallType:      kind,
			AgentIsOnline: len(ids) > 0,
			Timeout:       b.timeoutSeconds(),
		})
		log.Int("offered", len(ids)).Msg("broadcast request opened")

	case routeTargeted:
		target := r.targets[0]
		b.ledger.Resolve(key, target.ID)
		entry.Resolved = target.ID
		b.offer(entry, requester, target)
		b.send(requester.ID, types.EventCallRequestSent, types.CallRequestSent{
			CallType:      kind,
			TargetAddress: address,
			TargetAgentID: target.ID,
			AgentIsOnline: true,
			Timeout:       b.timeoutSeconds(),
		})
		log.Str("target", target.ID).Msg("targeted request opened")

	case routeQueued:
		b.send(requester.ID, types.EventCallRequestQueued, types.CallRequestQueued{
			CallType:      kind,
			TargetAddress: address,
			Timeout:       b.timeoutSeconds(),
		})
		record(metrics.CallQueued, kind)
		log.Msg("request queued until address registers")
	}
	return nil
}

// deliverDeferred hands every request waiting for agent's address to agent
func (b *Broker) deliverDeferred(agent presence.Endpoint) {
	for _, e := range b.ledger.ResolveDeferred(agent.Address, agent.ID) {
		requester, ok := b.registry.Find(e.Key.Requester)
		if !ok {
			continue
		}
		b.offer(e, requester, agent)
		b.send(requester.ID, types.EventCallRequestSent, types.CallRequestSent{
			CallType:      e.Kind,
			TargetAddress: e.Address,
			TargetAgentID: agent.ID,
			AgentIsOnline: true,
			Timeout:       b.timeoutSeconds(),
		})
		record(metrics.CallDelivered, e.Kind)

		b.logger.Debug().
			Str("requester", requester.ID).
			Str("target", agent.ID).
			Str("address", agent.Address).
			Msg("deferred request delivered")
	}
}

// offer notifies one target of a request
func (b *Broker) offer(e ledger.Entry, requester, target presence.Endpoint) {
	if e.Key.IsAgentCall() {
		b.send(target.ID, types.EventIncomingAgentCall, types.IncomingAgentCall{
			SocketID:  requester.ID,
			AgentData: requester.AgentInfo(),
			CallType:  e.Kind,
		})
		return
	}
	b.send(target.ID, types.EventIncomingCall, types.IncomingCall{
		SocketID:       requester.ID,
		UserData:       requester.Profile,
		CallType:       e.Kind,
		TargetSpecific: !e.Broadcast(),
	})
}

// withdraw tells everyone offered a removed request that it is gone
func (b *Broker) withdraw(e ledger.Entry, reason string) {
	requester, _ := b.registry.Find(e.Key.Requester)

	if e.Key.IsAgentCall() {
		b.send(e.Resolved, types.EventAgentCallCancelled, types.AgentCallCancelled{
			AgentID:   e.Key.Requester,
			AgentName: requester.Name,
			Reason:    reason,
			Timestamp: nowMillis(),
		})
		return
	}
	for _, id := range e.Targets() {
		b.send(id, types.EventCallRequestCancelled, types.CallRequestCancelled{
			SocketID: e.Key.Requester,
			UserData: requester.Profile,
			Reason:   reason,
		})
	}
}
