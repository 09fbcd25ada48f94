package websocket

import (
	"encoding/json"

	"github.com/dennisdiepolder/livetalk/internal/metrics"
	"github.com/dennisdiepolder/livetalk/internal/types"
)

// Relay forwards a negotiation frame to the identity named in its target
// field. The payload is passed through untouched apart from swapping target
// for source.
func (h *Hub) Relay(from string, env types.Envelope) bool {
	var frame types.Relay
	if err := json.Unmarshal(env.Data, &frame); err != nil || frame == nil {
		h.logger.Debug().Str("from", from).Str("type", string(env.Type)).Msg("relay frame without payload")
		metrics.Get().RecordRelay(false)
		return false
	}

	var target string
	if err := json.Unmarshal(frame["target"], &target); err != nil || target == "" {
		h.logger.Debug().Str("from", from).Str("type", string(env.Type)).Msg("relay frame without target")
		metrics.Get().RecordRelay(false)
		return false
	}

	delete(frame, "target")
	source, _ := json.Marshal(from)
	frame["source"] = source

	data, err := json.Marshal(types.Message{Type: env.Type, Data: frame})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal relay frame")
		return false
	}

	delivered := h.sendRaw(target, data)
	metrics.Get().RecordRelay(delivered)
	if !delivered {
		h.logger.Debug().
			Str("from", from).
			Str("target", target).
			Str("type", string(env.Type)).
			Msg("relay target not connected")
	}
	return delivered
}
