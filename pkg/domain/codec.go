package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// The canonical wire form of an event. Field order is fixed by the struct
// definitions below, so encoding the same event always yields the same
// bytes; idempotency comparisons rely on that. Timestamps travel as
// milliseconds since epoch, amounts as fixed-point decimal strings.
type wireEnvelope struct {
	EventID       string          `json:"event_id"`
	Timestamp     int64           `json:"timestamp"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int64           `json:"version"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type wireOpened struct {
	Holder         string          `json:"holder"`
	AccountType    string          `json:"account_type"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreatedAt      int64           `json:"created_at"`
}

type wireAmount struct {
	Amount decimal.Decimal `json:"amount"`
}

// EncodeEvent serializes an event into its canonical form for log storage
// and stream transport.
func EncodeEvent(event Event) ([]byte, error) {
	var payload any
	switch e := event.(type) {
	case AccountOpened:
		payload = wireOpened{
			Holder:         e.Holder,
			AccountType:    string(e.Type),
			OpeningBalance: e.OpeningBalance,
			CreatedAt:      e.CreatedAt.UnixMilli(),
		}
	case FundsDeposited:
		payload = wireAmount{Amount: e.Amount}
	case FundsWithdrawn:
		payload = wireAmount{Amount: e.Amount}
	case AccountClosed:
		payload = struct{}{}
	default:
		return nil, NewSerializationError(fmt.Sprintf("unknown event type %T", event), nil)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, NewSerializationError("marshal payload", err)
	}

	data, err := json.Marshal(wireEnvelope{
		EventID:       event.EventID(),
		Timestamp:     event.OccurredAt().UnixMilli(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		Version:       event.Version(),
		EventType:     event.EventType(),
		Payload:       raw,
	})
	if err != nil {
		return nil, NewSerializationError("marshal envelope", err)
	}
	return data, nil
}

// DecodeEvent parses a canonical event back into its concrete type. Unknown
// event types and malformed payloads come back as SerializationError, which
// stream consumers treat as poison records.
func DecodeEvent(data []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewSerializationError("unmarshal envelope", err)
	}
	if env.EventID == "" || env.AggregateID == "" {
		return nil, NewSerializationError("envelope missing event_id or aggregate_id", nil)
	}
	if env.Version < 1 {
		return nil, NewSerializationError(fmt.Sprintf("invalid version %d", env.Version), nil)
	}

	meta := EventMeta{
		ID:      env.EventID,
		Account: env.AggregateID,
		Seq:     env.Version,
		At:      time.UnixMilli(env.Timestamp).UTC(),
	}

	switch env.EventType {
	case EventTypeAccountOpened:
		var p wireOpened
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, NewSerializationError("unmarshal AccountOpened payload", err)
		}
		return AccountOpened{
			EventMeta:      meta,
			Holder:         p.Holder,
			Type:           AccountType(p.AccountType),
			OpeningBalance: p.OpeningBalance,
			CreatedAt:      time.UnixMilli(p.CreatedAt).UTC(),
		}, nil
	case EventTypeFundsDeposited:
		var p wireAmount
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, NewSerializationError("unmarshal FundsDeposited payload", err)
		}
		return FundsDeposited{EventMeta: meta, Amount: p.Amount}, nil
	case EventTypeFundsWithdrawn:
		var p wireAmount
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, NewSerializationError("unmarshal FundsWithdrawn payload", err)
		}
		return FundsWithdrawn{EventMeta: meta, Amount: p.Amount}, nil
	case EventTypeAccountClosed:
		return AccountClosed{EventMeta: meta}, nil
	default:
		return nil, NewSerializationError(fmt.Sprintf("unknown event type %q", env.EventType), nil)
	}
}
