package journal

import (
	"encoding/json"
	"fmt"

	"StockMesh/internal/event"
	"StockMesh/internal/pricing"
)

// recordEnvelope is the stored form of a journal record: a string type
// discriminator plus the JSON-encoded payload. Trade events use their
// TradeEventType names; the aggregator's per-tick record uses its own.
type recordEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const aggregatorSnapshotType = "MatchAggregatorSnapshot"

// RecordTypeName returns the discriminator a record is stored under.
func RecordTypeName(r Record) (string, error) {
	switch v := r.(type) {
	case event.TradeEvent:
		return v.Type().String(), nil
	case pricing.MatchAggregatorSnapshot:
		return aggregatorSnapshotType, nil
	default:
		return "", fmt.Errorf("journal: unsupported record type %T", r)
	}
}

// EncodeRecord serializes a record with its type discriminator.
func EncodeRecord(r Record) ([]byte, error) {
	name, err := RecordTypeName(r)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", name, err)
	}
	return json.Marshal(recordEnvelope{Type: name, Data: data})
}

// DecodeRecord deserializes a record produced by EncodeRecord, dispatching
// on the discriminator over the closed record set.
func DecodeRecord(raw []byte) (Record, error) {
	var env recordEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal record envelope: %w", err)
	}

	switch env.Type {
	case event.TradeEventTypeAsk.String():
		var a event.Ask
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal Ask: %w", err)
		}
		return a, nil
	case event.TradeEventTypeBid.String():
		var b event.Bid
		if err := json.Unmarshal(env.Data, &b); err != nil {
			return nil, fmt.Errorf("unmarshal Bid: %w", err)
		}
		return b, nil
	case event.TradeEventTypeFill.String():
		var f event.Fill
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return nil, fmt.Errorf("unmarshal Fill: %w", err)
		}
		return f, nil
	case event.TradeEventTypeMatch.String():
		var m event.Match
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal Match: %w", err)
		}
		return m, nil
	case aggregatorSnapshotType:
		var s pricing.MatchAggregatorSnapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("unmarshal MatchAggregatorSnapshot: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("journal: unknown record type %q", env.Type)
	}
}
