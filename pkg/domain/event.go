// Package domain holds the pure model of the ledger: the closed set of
// account events, the account aggregate, command validation, the canonical
// event codec, and the ports the application layer depends on (event log,
// logger). The package has no store or transport dependencies so the whole
// write-path decision logic can be exercised in memory.
package domain

import (
	"time"

	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeAccount tags every event in this system; the log is shared
// infrastructure and keeps an aggregate_type column for future stream types.
const AggregateTypeAccount = "account"

// Event type tags as they appear on the wire and in the log.
const (
	EventTypeAccountOpened  = "AccountOpened"
	EventTypeFundsDeposited = "FundsDeposited"
	EventTypeFundsWithdrawn = "FundsWithdrawn"
	EventTypeAccountClosed  = "AccountClosed"
)

// Event is an immutable fact about an account. The set of implementations is
// closed: AccountOpened, FundsDeposited, FundsWithdrawn, AccountClosed.
// Everything that consumes events (apply, project, encode) switches
// exhaustively on the concrete type; a transfer is not an event of its own
// but a withdrawal and a deposit committed in one atomic batch.
type Event interface {
	// EventID is globally unique and is the primary key in the log; it is
	// what makes appends and projection writes idempotent.
	EventID() string

	// AggregateID identifies the account stream this event belongs to.
	AggregateID() string

	// AggregateType returns the stream type tag, always "account" here.
	AggregateType() string

	// Version is the event's position in its aggregate's stream, starting
	// at 1 with no gaps.
	Version() int64

	// EventType returns the wire tag for this event.
	EventType() string

	// OccurredAt is the wall-clock creation instant, millisecond precision.
	OccurredAt() time.Time
}

// EventMeta carries the identity fields shared by every event. Concrete
// events embed it by value so they stay plain comparable data.
type EventMeta struct {
	ID      string
	Account string
	Seq     int64
	At      time.Time
}

// NewEventMeta mints metadata for a freshly decided event. The timestamp is
// truncated to millisecond precision because that is what the canonical
// encoding carries; this keeps decode(encode(e)) exact.
func NewEventMeta(accountID string, version int64) EventMeta {
	return EventMeta{
		ID:      ksuid.New().String(),
		Account: accountID,
		Seq:     version,
		At:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (m EventMeta) EventID() string       { return m.ID }
func (m EventMeta) AggregateID() string   { return m.Account }
func (m EventMeta) AggregateType() string { return AggregateTypeAccount }
func (m EventMeta) Version() int64        { return m.Seq }
func (m EventMeta) OccurredAt() time.Time { return m.At }

// AccountOpened creates the account stream. It is always version 1.
type AccountOpened struct {
	EventMeta
	Holder         string
	Type           AccountType
	OpeningBalance decimal.Decimal
	CreatedAt      time.Time
}

func (AccountOpened) EventType() string { return EventTypeAccountOpened }

// FundsDeposited credits the account with a positive amount.
type FundsDeposited struct {
	EventMeta
	Amount decimal.Decimal
}

func (FundsDeposited) EventType() string { return EventTypeFundsDeposited }

// FundsWithdrawn debits the account with a positive amount that was covered
// by the balance at decision time.
type FundsWithdrawn struct {
	EventMeta
	Amount decimal.Decimal
}

func (FundsWithdrawn) EventType() string { return EventTypeFundsWithdrawn }

// AccountClosed terminates the stream logically; it carries no payload.
type AccountClosed struct {
	EventMeta
}

func (AccountClosed) EventType() string { return EventTypeAccountClosed }
