package domain

import "fmt"

// Rule identifiers carried by DomainError so callers can react to the exact
// business rule that rejected a command.
const (
	RuleUnknownAccount   = "unknown_account"
	RuleDuplicateOpen    = "duplicate_open"
	RuleNegativeOpening  = "negative_opening_balance"
	RuleInvalidType      = "invalid_account_type"
	RuleNonPositive      = "non_positive_amount"
	RuleInsufficientFund = "insufficient_funds"
	RuleAccountClosed    = "account_closed"
	RuleNonZeroBalance   = "non_zero_balance"
	RuleSameAccount      = "same_account"
)

// Decide validates a single-account command against the reconstituted state
// and emits the resulting events. The account argument is nil when the
// stream is empty. Neither the account nor the command is mutated; emitted
// events carry fresh event IDs and versions continuing the stream.
func Decide(cmd Command, account *Account) ([]Event, error) {
	switch c := cmd.(type) {
	case OpenAccount:
		return decideOpen(c, account)
	case Deposit:
		return decideDeposit(c, account)
	case Withdraw:
		return decideWithdraw(c, account)
	case CloseAccount:
		return decideClose(c, account)
	default:
		panic(fmt.Sprintf("domain: unknown command type %T", cmd))
	}
}

func decideOpen(cmd OpenAccount, account *Account) ([]Event, error) {
	if account != nil {
		return nil, NewDomainError(RuleDuplicateOpen, "account already exists", map[string]any{
			"account_id": cmd.AccountID,
		})
	}
	if !ValidAccountType(cmd.Type) {
		return nil, NewDomainError(RuleInvalidType, "unsupported account type", map[string]any{
			"account_id":   cmd.AccountID,
			"account_type": string(cmd.Type),
		})
	}
	if cmd.OpeningBalance.IsNegative() {
		return nil, NewDomainError(RuleNegativeOpening, "opening balance must not be negative", map[string]any{
			"account_id":      cmd.AccountID,
			"opening_balance": cmd.OpeningBalance.String(),
		})
	}

	meta := NewEventMeta(cmd.AccountID, 1)
	return []Event{AccountOpened{
		EventMeta:      meta,
		Holder:         cmd.Holder,
		Type:           cmd.Type,
		OpeningBalance: cmd.OpeningBalance,
		CreatedAt:      meta.At,
	}}, nil
}

func decideDeposit(cmd Deposit, account *Account) ([]Event, error) {
	if err := requireActive(cmd.AccountID, account); err != nil {
		return nil, err
	}
	if !cmd.Amount.IsPositive() {
		return nil, NewDomainError(RuleNonPositive, "deposit amount must be positive", map[string]any{
			"account_id": cmd.AccountID,
			"amount":     cmd.Amount.String(),
		})
	}

	return []Event{FundsDeposited{
		EventMeta: NewEventMeta(cmd.AccountID, account.Version+1),
		Amount:    cmd.Amount,
	}}, nil
}

func decideWithdraw(cmd Withdraw, account *Account) ([]Event, error) {
	if err := requireActive(cmd.AccountID, account); err != nil {
		return nil, err
	}
	if !cmd.Amount.IsPositive() {
		return nil, NewDomainError(RuleNonPositive, "withdrawal amount must be positive", map[string]any{
			"account_id": cmd.AccountID,
			"amount":     cmd.Amount.String(),
		})
	}
	if account.Balance.LessThan(cmd.Amount) {
		return nil, NewDomainError(RuleInsufficientFund, "balance does not cover withdrawal", map[string]any{
			"account_id": cmd.AccountID,
			"balance":    account.Balance.String(),
			"requested":  cmd.Amount.String(),
		})
	}

	return []Event{FundsWithdrawn{
		EventMeta: NewEventMeta(cmd.AccountID, account.Version+1),
		Amount:    cmd.Amount,
	}}, nil
}

func decideClose(cmd CloseAccount, account *Account) ([]Event, error) {
	if err := requireActive(cmd.AccountID, account); err != nil {
		return nil, err
	}
	if !account.Balance.IsZero() {
		return nil, NewDomainError(RuleNonZeroBalance, "account must have a zero balance to close", map[string]any{
			"account_id": cmd.AccountID,
			"balance":    account.Balance.String(),
		})
	}

	return []Event{AccountClosed{
		EventMeta: NewEventMeta(cmd.AccountID, account.Version+1),
	}}, nil
}

// DecideTransfer validates a transfer against both reconstituted accounts
// and emits the withdrawal/deposit pair. The two events continue their
// respective streams independently; callers must append them in a single
// atomic batch so the pair commits or fails together.
func DecideTransfer(cmd Transfer, from, to *Account) ([]Event, error) {
	if cmd.FromAccountID == cmd.ToAccountID {
		return nil, NewDomainError(RuleSameAccount, "transfer source and destination must differ", map[string]any{
			"account_id": cmd.FromAccountID,
		})
	}
	if err := requireActive(cmd.FromAccountID, from); err != nil {
		return nil, err
	}
	if err := requireActive(cmd.ToAccountID, to); err != nil {
		return nil, err
	}
	if !cmd.Amount.IsPositive() {
		return nil, NewDomainError(RuleNonPositive, "transfer amount must be positive", map[string]any{
			"from_account_id": cmd.FromAccountID,
			"to_account_id":   cmd.ToAccountID,
			"amount":          cmd.Amount.String(),
		})
	}
	if from.Balance.LessThan(cmd.Amount) {
		return nil, NewDomainError(RuleInsufficientFund, "source balance does not cover transfer", map[string]any{
			"account_id": cmd.FromAccountID,
			"balance":    from.Balance.String(),
			"requested":  cmd.Amount.String(),
		})
	}

	return []Event{
		FundsWithdrawn{
			EventMeta: NewEventMeta(cmd.FromAccountID, from.Version+1),
			Amount:    cmd.Amount,
		},
		FundsDeposited{
			EventMeta: NewEventMeta(cmd.ToAccountID, to.Version+1),
			Amount:    cmd.Amount,
		},
	}, nil
}

func requireActive(accountID string, account *Account) error {
	if account == nil {
		return NewDomainError(RuleUnknownAccount, "account does not exist", map[string]any{
			"account_id": accountID,
		})
	}
	if account.Status == AccountStatusClosed {
		return NewDomainError(RuleAccountClosed, "account is closed", map[string]any{
			"account_id": accountID,
		})
	}
	return nil
}
