package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the product kind of a ledger account.
type AccountType string

const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeSavings  AccountType = "savings"
)

// ValidAccountType reports whether t is one of the supported account kinds.
func ValidAccountType(t AccountType) bool {
	return t == AccountTypeChecking || t == AccountTypeSavings
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusClosed AccountStatus = "closed"
)

// Account is the reconstituted state of one ledger account. It is derived
// state only: it is rebuilt from the event stream for every command and is
// never persisted as a first-class entity.
type Account struct {
	ID        string
	Holder    string
	Type      AccountType
	Balance   decimal.Decimal
	Status    AccountStatus
	CreatedAt time.Time
	Version   int64
}

// LoadAccount folds an event history, in version order, into account state.
// It returns nil for an empty history, which is how callers distinguish "no
// such account" from an existing one. The fold never validates; history was
// validated when it was written.
func LoadAccount(events []Event) *Account {
	if len(events) == 0 {
		return nil
	}

	account := &Account{}
	for _, event := range events {
		account.apply(event)
	}
	return account
}

// IsActive reports whether the account exists and has not been closed.
func (a *Account) IsActive() bool {
	return a != nil && a.Status == AccountStatusActive
}

func (a *Account) apply(event Event) {
	switch e := event.(type) {
	case AccountOpened:
		a.ID = e.AggregateID()
		a.Holder = e.Holder
		a.Type = e.Type
		a.Balance = e.OpeningBalance
		a.Status = AccountStatusActive
		a.CreatedAt = e.CreatedAt
	case FundsDeposited:
		a.Balance = a.Balance.Add(e.Amount)
	case FundsWithdrawn:
		a.Balance = a.Balance.Sub(e.Amount)
	case AccountClosed:
		a.Status = AccountStatusClosed
	default:
		// The event set is closed; anything else is a programming error.
		panic(fmt.Sprintf("domain: unknown event type %T", event))
	}
	a.Version = event.Version()
}
