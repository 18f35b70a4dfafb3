package domain

import "github.com/shopspring/decimal"

// Command is the marker for single-account ledger commands understood by
// Decide. Transfer is deliberately not a Command: it touches two aggregates
// and goes through DecideTransfer instead.
type Command interface {
	// TargetAccount returns the aggregate the command operates on.
	TargetAccount() string

	// CommandName returns a stable name used for logging and metrics.
	CommandName() string
}

// OpenAccount creates a new account with an opening balance (zero allowed).
type OpenAccount struct {
	AccountID      string
	Holder         string
	Type           AccountType
	OpeningBalance decimal.Decimal
}

func (c OpenAccount) TargetAccount() string { return c.AccountID }
func (c OpenAccount) CommandName() string   { return "open_account" }

// Deposit credits an active account.
type Deposit struct {
	AccountID string
	Amount    decimal.Decimal
}

func (c Deposit) TargetAccount() string { return c.AccountID }
func (c Deposit) CommandName() string   { return "deposit" }

// Withdraw debits an active account; the balance must cover the amount.
type Withdraw struct {
	AccountID string
	Amount    decimal.Decimal
}

func (c Withdraw) TargetAccount() string { return c.AccountID }
func (c Withdraw) CommandName() string   { return "withdraw" }

// CloseAccount closes an active account with a zero balance.
type CloseAccount struct {
	AccountID string
}

func (c CloseAccount) TargetAccount() string { return c.AccountID }
func (c CloseAccount) CommandName() string   { return "close_account" }

// Transfer moves funds between two distinct active accounts. It produces a
// withdrawal on the source and a deposit on the destination which must be
// appended to the log in one atomic batch.
type Transfer struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
}

func (c Transfer) CommandName() string { return "transfer" }
