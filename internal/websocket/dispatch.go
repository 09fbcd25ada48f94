package websocket

import (
	"encoding/json"
	"errors"

	"github.com/dennisdiepolder/livetalk/internal/signaling"
	"github.com/dennisdiepolder/livetalk/internal/types"
)

// dispatch decodes one inbound frame and hands it to the broker. Every
// failure is logged and dropped; the connection stays up.
func (c *Client) dispatch(message []byte) {
	var env types.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse envelope")
		c.hub.Send(c.id, types.EventCallError, types.CallError{Code: "bad-frame", Message: "frame is not a valid event"})
		return
	}

	if env.Type.IsRelay() {
		c.hub.Relay(c.id, env)
		return
	}

	if err := c.handle(env); err != nil {
		c.logResult(env.Type, err)
	}
}

func (c *Client) handle(env types.Envelope) error {
	b := c.broker

	switch env.Type {
	case types.EventRegisterClient:
		// the whole payload is the opaque profile
		return b.RegisterClient(c.id, env.Data)

	case types.EventRegisterAgent:
		var msg types.RegisterAgent
		if err := decode(env, &msg); err != nil {
			return err
		}
		return b.RegisterAgent(c.id, msg.Address, msg.Name)

	case types.EventCallRequest:
		var msg types.CallRequest
		if err := decode(env, &msg); err != nil {
			return err
		}
		return b.RequestCall(c.id, types.ParseCallKind(msg.CallType), msg.TargetAddress)

	case types.EventAgentCallAgent:
		var msg types.CallRequest
		if err := decode(env, &msg); err != nil {
			return err
		}
		return b.AgentCallAgent(c.id, types.ParseCallKind(msg.CallType), msg.TargetAddress)

	case types.EventAcceptCall:
		var msg types.AcceptCall
		if err := decode(env, &msg); err != nil {
			return err
		}
		return b.AcceptCall(c.id, msg.Requester(), types.CallKind(msg.CallType))

	case types.EventAcceptAgentCall:
		var msg types.AgentCallReply
		if err := decode(env, &msg); err != nil {
			return err
		}
		return b.AcceptAgentCall(c.id, msg.AgentID, types.CallKind(msg.CallType))

	case types.EventRejectCall:
		var msg types.RejectCall
		if err := decode(env, &msg); err != nil {
			return err
		}
		return b.RejectCall(c.id, msg.ClientID)

	case types.EventRejectAgentCall:
		var msg types.AgentCallReply
		if err := decode(env, &msg); err != nil {
			return err
		}
		return b.RejectAgentCall(c.id, msg.AgentID)

	case types.EventEndCall:
		var msg types.EndCall
		if err := decode(env, &msg); err != nil {
			return err
		}
		return b.EndCall(c.id, msg.TargetID, msg.Reason, msg.ForceCleanup)

	case types.EventCancelCallRequest:
		found, err := b.CancelRequest(c.id)
		if err == nil && !found {
			c.logger.Debug().Msg("cancel-call-request: no entry found")
		}
		return err

	case types.EventCancelAgentCall:
		var msg types.CancelAgentCall
		if err := decode(env, &msg); err != nil {
			return err
		}
		found, err := b.CancelAgentCall(c.id, msg.TargetID)
		if err == nil && !found {
			c.logger.Debug().Msg("cancel-agent-call: no entry found")
		}
		return err

	case types.EventResetBusyState:
		return b.ResetBusyState(c.id)

	case types.EventCheckStatus:
		var msg types.CheckStatus
		if err := decode(env, &msg); err != nil {
			return err
		}
		b.CheckStatus(c.id, msg.Address)
		return nil

	default:
		c.logger.Debug().Str("type", string(env.Type)).Msg("unknown message type")
		return nil
	}
}

var errBadPayload = errors.New("malformed payload")

func decode(env types.Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return errors.Join(errBadPayload, err)
	}
	return nil
}

// logResult records a rejected operation. Stale and unauthorized input is
// expected traffic and stays at debug.
func (c *Client) logResult(event types.EventType, err error) {
	switch {
	case errors.Is(err, signaling.ErrStaleReference),
		errors.Is(err, signaling.ErrUnauthorized),
		errors.Is(err, signaling.ErrBusy),
		errors.Is(err, signaling.ErrNotFound):
		c.logger.Debug().Err(err).Str("type", string(event)).Msg("event ignored")
	case errors.Is(err, errBadPayload):
		c.logger.Debug().Err(err).Str("type", string(event)).Msg("failed to parse payload")
		c.hub.Send(c.id, types.EventCallError, types.CallError{Code: "bad-payload", Message: "payload for " + string(event) + " is malformed"})
	default:
		c.logger.Warn().Err(err).Str("type", string(event)).Msg("event failed")
	}
}
