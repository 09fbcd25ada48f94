package signaling

import (
	"fmt"

	"github.com/dennisdiepolder/livetalk/internal/ledger"
	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/presence"
	"github.com/dennisdiepolder/livetalk/internal/types"
)

// AcceptCall handles accept-call from an agent. For a broadcast request the
// first acceptor wins; later acceptors find no entry.
func (b *Broker) AcceptCall(acceptorID, requesterID string, kind types.CallKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	acceptor, ok := b.registry.Find(acceptorID)
	if !ok || !acceptor.IsAgent() {
		return fmt.Errorf("accept-call from %s: %w", acceptorID, ErrUnauthorized)
	}
	if acceptor.InCall {
		b.send(acceptorID, types.EventCallError, types.CallError{Code: "already-in-call", Message: "finish the current call first"})
		return fmt.Errorf("accept-call from %s: %w", acceptorID, ErrAlreadyInCall)
	}

	key := ledger.ClientKey(requesterID)
	entry, ok := b.ledger.Get(key)
	if !ok {
		return fmt.Errorf("accept-call %s: %w", requesterID, ErrStaleReference)
	}
	if !offeredTo(entry, acceptorID) {
		return fmt.Errorf("accept-call %s by %s: %w", requesterID, acceptorID, ErrUnauthorized)
	}

	entry, _ = b.ledger.Take(key)
	b.dropOwnRequest(acceptorID)

	if kind == "" {
		kind = entry.Kind
	}
	b.setBusy(acceptorID, true)
	b.pair(acceptorID, requesterID)

	b.send(requesterID, types.EventCallAccepted, types.CallAccepted{
		AgentID:      acceptorID,
		AgentAddress: acceptor.Address,
		AgentName:    acceptor.Name,
		CallType:     kind,
	})

	if entry.Broadcast() {
		handled := types.CallHandled{ClientID: requesterID, HandledBy: b.agentInfo(acceptorID)}
		for _, id := range entry.Notified {
			if id != acceptorID {
				b.send(id, types.EventCallHandled, handled)
			}
		}
	}
	record(metrics.CallAccepted, kind)

	b.logger.Info().
		Str("agent_id", acceptorID).
		Str("client_id", requesterID).
		Str("call_type", string(kind)).
		Msg("call accepted")
	return nil
}

// AcceptAgentCall handles accept-agent-call from the target agent
func (b *Broker) AcceptAgentCall(acceptorID, callerID string, kind types.CallKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	acceptor, ok := b.registry.Find(acceptorID)
	if !ok || !acceptor.IsAgent() {
		return fmt.Errorf("accept-agent-call from %s: %w", acceptorID, ErrUnauthorized)
	}
	if acceptor.InCall {
		b.send(acceptorID, types.EventCallError, types.CallError{Code: "already-in-call", Message: "finish the current call first"})
		return fmt.Errorf("accept-agent-call from %s: %w", acceptorID, ErrAlreadyInCall)
	}

	entry, ok := b.ledger.ByRequester(callerID)
	if !ok || !entry.Key.IsAgentCall() {
		return fmt.Errorf("accept-agent-call %s: %w", callerID, ErrStaleReference)
	}
	if entry.Resolved != acceptorID {
		return fmt.Errorf("accept-agent-call %s by %s: %w", callerID, acceptorID, ErrUnauthorized)
	}

	b.ledger.Take(entry.Key)
	b.dropOwnRequest(acceptorID)

	if kind == "" {
		kind = entry.Kind
	}
	b.setBusy(acceptorID, true)
	b.setBusy(callerID, true)
	b.pair(acceptorID, callerID)

	b.send(callerID, types.EventAgentCallAccepted, types.AgentCallAccepted{AgentID: acceptorID, CallType: kind})
	record(metrics.CallAccepted, kind)

	b.logger.Info().
		Str("agent_id", acceptorID).
		Str("caller_id", callerID).
		Str("call_type", string(kind)).
		Msg("agent call accepted")
	return nil
}

// RejectCall handles reject-call. A targeted request is closed; a broadcast
// request is only closed once every offered agent has declined.
func (b *Broker) RejectCall(rejectorID, requesterID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rejector, ok := b.registry.Find(rejectorID)
	if !ok || !rejector.IsAgent() {
		return fmt.Errorf("reject-call from %s: %w", rejectorID, ErrUnauthorized)
	}

	key := ledger.ClientKey(requesterID)
	entry, ok := b.ledger.Get(key)
	if !ok {
		return fmt.Errorf("reject-call %s: %w", requesterID, ErrStaleReference)
	}
	if !offeredTo(entry, rejectorID) {
		return fmt.Errorf("reject-call %s by %s: %w", requesterID, rejectorID, ErrUnauthorized)
	}

	if entry.Broadcast() {
		b.ledger.Withdraw(key, rejectorID)
		if e, ok := b.ledger.Get(key); ok && len(e.Notified) > 0 {
			b.logger.Debug().
				Str("agent_id", rejectorID).
				Str("client_id", requesterID).
				Int("remaining", len(e.Notified)).
				Msg("broadcast offer declined")
			return nil
		}
	}

	b.ledger.Take(key)
	b.send(requesterID, types.EventCallRejected, types.CallRejected{AgentID: rejectorID, AgentName: rejector.Name})
	record(metrics.CallRejected, entry.Kind)

	b.logger.Info().
		Str("agent_id", rejectorID).
		Str("client_id", requesterID).
		Msg("call rejected")
	return nil
}

// RejectAgentCall handles reject-agent-call from the target agent
func (b *Broker) RejectAgentCall(rejectorID, callerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rejector, ok := b.registry.Find(rejectorID)
	if !ok || !rejector.IsAgent() {
		return fmt.Errorf("reject-agent-call from %s: %w", rejectorID, ErrUnauthorized)
	}

	entry, ok := b.ledger.ByRequester(callerID)
	if !ok || !entry.Key.IsAgentCall() {
		return fmt.Errorf("reject-agent-call %s: %w", callerID, ErrStaleReference)
	}
	if entry.Resolved != rejectorID {
		return fmt.Errorf("reject-agent-call %s by %s: %w", callerID, rejectorID, ErrUnauthorized)
	}

	b.ledger.Take(entry.Key)
	b.send(callerID, types.EventAgentCallRejected, types.AgentCallRejected{AgentID: rejectorID, AgentName: rejector.Name})
	record(metrics.CallRejected, entry.Kind)

	b.logger.Info().
		Str("agent_id", rejectorID).
		Str("caller_id", callerID).
		Msg("agent call rejected")
	return nil
}

// CancelRequest handles cancel-call-request. It reports whether an entry
// existed; a missing entry emits nothing.
func (b *Broker) CancelRequest(id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.ledger.ByRequester(id)
	if !ok {
		return false, nil
	}
	b.ledger.Take(entry.Key)
	b.withdraw(entry, "user-cancelled")
	record(metrics.CallCancelled, entry.Kind)

	b.logger.Info().Str("requester", id).Str("key", entry.Key.String()).Msg("call request cancelled")
	return true, nil
}

// CancelAgentCall handles cancel-agent-call. target is either the resolved
// agent identity or the address the call was placed to.
func (b *Broker) CancelAgentCall(callerID, target string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	caller, ok := b.registry.Find(callerID)
	if !ok || !caller.IsAgent() {
		return false, fmt.Errorf("cancel-agent-call from %s: %w", callerID, ErrUnauthorized)
	}

	entry, ok := b.ledger.ByRequester(callerID)
	if !ok || !entry.Key.IsAgentCall() {
		return false, nil
	}
	if target != "" && target != entry.Resolved && target != entry.Key.Target {
		return false, fmt.Errorf("cancel-agent-call %s: %w", target, ErrStaleReference)
	}

	b.ledger.Take(entry.Key)
	b.withdraw(entry, "user-cancelled")
	record(metrics.CallCancelled, entry.Kind)

	b.logger.Info().Str("caller_id", callerID).Str("key", entry.Key.String()).Msg("agent call cancelled")
	return true, nil
}

// EndCall handles end-call. An empty targetID ends the sender's active call.
// With force set and no call to end, the sender's own busy flag is reset.
func (b *Broker) EndCall(id, targetID, reason string, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sender, ok := b.registry.Find(id)
	if !ok || sender.Role == types.RoleUnassigned {
		return fmt.Errorf("end-call from %s: %w", id, ErrUnauthorized)
	}
	if reason == "" {
		reason = "unknown"
	}

	partner, paired := b.calls[id]
	if targetID == "" {
		targetID = partner
	}

	if sender.Role == types.RoleClient {
		if entry, ok := b.ledger.ByRequester(id); ok {
			b.ledger.Take(entry.Key)
			b.withdraw(entry, "user-cancelled")
			record(metrics.CallCancelled, entry.Kind)
		}
	}

	if targetID == "" {
		if force && sender.IsAgent() {
			b.setBusy(id, false)
			return nil
		}
		return fmt.Errorf("end-call from %s: no active call: %w", id, ErrNotFound)
	}
	if paired && partner != targetID {
		return fmt.Errorf("end-call %s from %s: partner is %s: %w", targetID, id, partner, ErrStaleReference)
	}

	b.endCall(sender, targetID, reason, id)
	return nil
}

// endCall tears down the call between sender and targetID and notifies the
// target. endedBy names whoever asked for the teardown.
func (b *Broker) endCall(sender presence.Endpoint, targetID, reason, endedBy string) {
	target, _ := b.registry.Find(targetID)

	b.send(targetID, types.EventCallEnded, types.CallEnded{
		Source:    sender.ID,
		IsAgent:   sender.IsAgent(),
		Reason:    reason,
		CallType:  callType(sender, target),
		EndedBy:   endedBy,
		Timestamp: nowMillis(),
	})

	if sender.IsAgent() {
		b.setBusy(sender.ID, false)
	}
	if b.calls[sender.ID] == targetID {
		if target.IsAgent() {
			b.setBusy(targetID, false)
		}
		b.unpair(sender.ID, targetID)
	}
	record(metrics.CallEnded, "")

	b.logger.Info().
		Str("source", sender.ID).
		Str("target", targetID).
		Str("reason", reason).
		Msg("call ended")
}

// ResetBusyState forces an agent back to available and forgets its call
func (b *Broker) ResetBusyState(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, ok := b.registry.Find(id)
	if !ok || !ep.IsAgent() {
		return fmt.Errorf("reset-busy-state for %s: %w", id, ErrNotFound)
	}

	if partner, ok := b.calls[id]; ok {
		b.unpair(id, partner)
	}
	if ep.InCall {
		b.setBusy(id, false)
	} else {
		b.sendAgents(id, types.EventStatusChanged, types.StatusChanged{AgentID: id, InCall: false})
	}

	b.logger.Info().Str("agent_id", id).Bool("was_busy", ep.InCall).Msg("busy state reset")
	return nil
}

// Disconnect purges everything tied to id and tells the counterparts. The
// whole teardown runs under the broker lock so nothing observes a partly
// removed endpoint.
func (b *Broker) Disconnect(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep, ok := b.registry.Find(id)
	if !ok {
		return
	}

	switch ep.Role {
	case types.RoleClient:
		if entry, ok := b.ledger.ByRequester(id); ok {
			b.ledger.Take(entry.Key)
			b.withdraw(entry, "disconnect")
			record(metrics.CallCancelled, entry.Kind)
		}
		if partner, ok := b.calls[id]; ok {
			b.endCall(ep, partner, "disconnect", id)
		}
		b.registry.Unregister(id)
		b.sendAgents("", types.EventClientDisconnected, ep.ClientInfo())

	case types.RoleAgent:
		for _, entry := range b.ledger.Involving(id) {
			b.ledger.Take(entry.Key)
			b.dropEntryOf(entry, ep)
		}
		for _, entry := range b.ledger.OfferedTo(id) {
			b.ledger.Withdraw(entry.Key, id)
			b.closeUnanswerable(entry.Key, ep)
		}
		if partner, ok := b.calls[id]; ok {
			b.endCall(ep, partner, "disconnect", id)
		}
		b.registry.Unregister(id)
		b.sendAgents(id, types.EventAgentDisconnected, ep.AgentInfo())

	default:
		b.registry.Unregister(id)
	}

	b.logger.Info().
		Str("endpoint_id", id).
		Str("role", string(ep.Role)).
		Msg("endpoint disconnected")
}

// closeUnanswerable closes a broadcast entry whose last offered agent is
// gone, the same way a final reject-call does
func (b *Broker) closeUnanswerable(key ledger.Key, last presence.Endpoint) {
	entry, ok := b.ledger.Get(key)
	if !ok || !entry.Broadcast() || len(entry.Notified) > 0 {
		return
	}

	b.ledger.Take(key)
	b.send(key.Requester, types.EventCallRejected, types.CallRejected{AgentID: last.ID, AgentName: last.Name})
	record(metrics.CallRejected, entry.Kind)

	b.logger.Debug().
		Str("client_id", key.Requester).
		Str("agent_id", last.ID).
		Msg("broadcast request lost its last agent")
}

// dropEntryOf notifies the counterpart of an entry removed because agent left
func (b *Broker) dropEntryOf(entry ledger.Entry, agent presence.Endpoint) {
	record(metrics.CallCancelled, entry.Kind)

	if entry.Key.Requester == agent.ID {
		b.withdraw(entry, "disconnect")
		return
	}
	if entry.Key.IsAgentCall() {
		b.send(entry.Key.Requester, types.EventAgentCallCancelled, types.AgentCallCancelled{
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Reason:    "disconnect",
			Timestamp: nowMillis(),
		})
		return
	}
	b.send(entry.Key.Requester, types.EventCallEnded, types.CallEnded{
		Source:    agent.ID,
		IsAgent:   true,
		Reason:    "disconnect",
		CallType:  "client-agent",
		EndedBy:   agent.ID,
		Timestamp: nowMillis(),
	})
}

// expire runs on the ledger timer goroutine
func (b *Broker) expire(key ledger.Key, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.ledger.Expire(key, gen)
	if !ok {
		return
	}

	b.send(key.Requester, types.EventCallTimeout, types.CallTimeout{
		Message:       "no agent answered the call request",
		TargetAgentID: entry.Resolved,
		TargetAddress: entry.Address,
	})
	b.withdraw(entry, "timeout")
	record(metrics.CallTimeout, entry.Kind)

	b.logger.Info().
		Err(ErrTimeout).
		Str("requester", key.Requester).
		Str("key", key.String()).
		Dur("ttl", entry.TTL()).
		Msg("call request expired")
}

// dropOwnRequest cancels whatever the agent itself was calling before it
// took another call
func (b *Broker) dropOwnRequest(id string) {
	entry, ok := b.ledger.ByRequester(id)
	if !ok {
		return
	}
	b.ledger.Take(entry.Key)
	b.withdraw(entry, "superseded")
}

func (b *Broker) agentInfo(id string) types.AgentInfo {
	ep, _ := b.registry.Find(id)
	return ep.AgentInfo()
}

// offeredTo reports whether id may answer entry
func offeredTo(e ledger.Entry, id string) bool {
	if e.Resolved != "" {
		return e.Resolved == id
	}
	for _, n := range e.Notified {
		if n == id {
			return true
		}
	}
	return false
}
