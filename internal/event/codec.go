package event

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire form of a trade event: a type discriminator plus the
// JSON-encoded payload. Used by the journal and the pub/sub transport.
type envelope struct {
	Type TradeEventType  `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes a trade event with its type discriminator.
func Encode(ev TradeEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}
	return json.Marshal(envelope{Type: ev.Type(), Data: data})
}

// Decode deserializes a trade event produced by Encode, dispatching on the
// discriminator over the closed event set.
func Decode(raw []byte) (TradeEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}

	switch env.Type {
	case TradeEventTypeAsk:
		var a Ask
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal Ask: %w", err)
		}
		return a, nil
	case TradeEventTypeBid:
		var b Bid
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return nil, fmt.Errorf("unmarshal Bid: %w", err)
		}
		return b, nil
	case TradeEventTypeFill:
		var f Fill
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return nil, fmt.Errorf("unmarshal Fill: %w", err)
		}
		return f, nil
	case TradeEventTypeMatch:
		var m Match
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal Match: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown trade event type %d", env.Type)
	}
}
