package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/harborfin/ledger/pkg/domain"
)

// AccountRecord is the analytical account master row.
type AccountRecord struct {
	AccountID string          `gorm:"primaryKey;column:account_id"`
	Holder    string          `gorm:"index"`
	Type      string          `gorm:"index"`
	Balance   decimal.Decimal `gorm:"type:numeric(19,4)"`
	Status    string          `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
	Version   int64
}

// TableName returns the table name for GORM.
func (AccountRecord) TableName() string { return "accounts" }

// TransactionRecord is one ledger line; its primary key is the event ID,
// which is what makes replays no-ops.
type TransactionRecord struct {
	TransactionID string          `gorm:"primaryKey;column:transaction_id"`
	AccountID     string          `gorm:"index"`
	Type          string          `gorm:"index"`
	Amount        decimal.Decimal `gorm:"type:numeric(19,4)"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(19,4)"`
	Timestamp     time.Time       `gorm:"index"`
	Description   string
}

// TableName returns the table name for GORM.
func (TransactionRecord) TableName() string { return "transactions" }

// AccountSummaryRecord carries running totals per account.
type AccountSummaryRecord struct {
	AccountID           string          `gorm:"primaryKey;column:account_id"`
	Holder              string
	Type                string
	CurrentBalance      decimal.Decimal `gorm:"type:numeric(19,4)"`
	TotalDeposits       decimal.Decimal `gorm:"type:numeric(19,4)"`
	TotalWithdrawals    decimal.Decimal `gorm:"type:numeric(19,4)"`
	TransactionCount    int64
	LastTransactionDate *time.Time
	AccountAgeDays      int64
	Status              string
}

// TableName returns the table name for GORM.
func (AccountSummaryRecord) TableName() string { return "account_summary" }

// DailyBalanceRecord is the per-day rollup; the (account, date) pair is
// unique and rows accumulate via upsert.
type DailyBalanceRecord struct {
	ID               uint            `gorm:"primaryKey;autoIncrement"`
	AccountID        string          `gorm:"uniqueIndex:idx_account_balance_date"`
	BalanceDate      string          `gorm:"uniqueIndex:idx_account_balance_date;type:varchar(10)"`
	ClosingBalance   decimal.Decimal `gorm:"type:numeric(19,4)"`
	DailyDeposits    decimal.Decimal `gorm:"type:numeric(19,4)"`
	DailyWithdrawals decimal.Decimal `gorm:"type:numeric(19,4)"`
	TransactionCount int64
}

// TableName returns the table name for GORM.
func (DailyBalanceRecord) TableName() string { return "daily_balances" }

// RelationalProjection maintains the analytical read model: account master,
// transaction ledger, running summary, and daily rollups, all updated in one
// database transaction per event.
//
// Idempotency: deposits and withdrawals hinge on the transactions insert;
// when the event's row already exists the whole event is skipped.
// AccountOpened hinges the same way on the accounts row insert.
// AccountClosed writes no transaction row and is guarded by the account
// row's stored version instead.
type RelationalProjection struct {
	db     *gorm.DB
	logger domain.Logger
}

// NewRelationalProjection creates the relational projection target.
func NewRelationalProjection(db *gorm.DB, logger domain.Logger) *RelationalProjection {
	return &RelationalProjection{db: db, logger: logger}
}

// Name implements application.ProjectionTarget.
func (p *RelationalProjection) Name() string { return "relational" }

// Apply implements application.ProjectionTarget.
func (p *RelationalProjection) Apply(ctx context.Context, event domain.Event) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch e := event.(type) {
		case domain.AccountOpened:
			return p.applyOpened(tx, e)
		case domain.FundsDeposited:
			return p.applyMovement(tx, e, TxTypeDeposit, e.Amount)
		case domain.FundsWithdrawn:
			return p.applyMovement(tx, e, TxTypeWithdrawal, e.Amount.Neg())
		case domain.AccountClosed:
			return p.applyClosed(tx, e)
		default:
			return fmt.Errorf("unknown event type %T", event)
		}
	})
	if err != nil {
		return fmt.Errorf("relational projection of event %s: %w", event.EventID(), err)
	}
	return nil
}

func (p *RelationalProjection) applyOpened(tx *gorm.DB, e domain.AccountOpened) error {
	account := AccountRecord{
		AccountID: e.AggregateID(),
		Holder:    e.Holder,
		Type:      string(e.Type),
		Balance:   e.OpeningBalance,
		Status:    string(domain.AccountStatusActive),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.OccurredAt(),
		Version:   e.Version(),
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&account)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // already applied
	}

	summary := AccountSummaryRecord{
		AccountID:      e.AggregateID(),
		Holder:         e.Holder,
		Type:           string(e.Type),
		CurrentBalance: e.OpeningBalance,
		Status:         string(domain.AccountStatusActive),
	}
	if e.OpeningBalance.IsPositive() {
		summary.TotalDeposits = e.OpeningBalance
		summary.TransactionCount = 1
		at := e.OccurredAt()
		summary.LastTransactionDate = &at
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&summary).Error; err != nil {
		return err
	}

	if !e.OpeningBalance.IsPositive() {
		return nil
	}
	if err := p.insertTransaction(tx, e, TxTypeOpeningDeposit, e.OpeningBalance, e.OpeningBalance); err != nil {
		return err
	}
	return p.upsertDailyBalance(tx, e.AggregateID(), e.OccurredAt(), e.OpeningBalance, e.OpeningBalance, decimal.Zero)
}

func (p *RelationalProjection) applyMovement(tx *gorm.DB, e domain.Event, txType string, delta decimal.Decimal) error {
	var account AccountRecord
	if err := tx.First(&account, "account_id = ?", e.AggregateID()).Error; err != nil {
		return fmt.Errorf("account row missing for %s: %w", e.AggregateID(), err)
	}

	newBalance := account.Balance.Add(delta)
	amount := delta.Abs()

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&TransactionRecord{
		TransactionID: e.EventID(),
		AccountID:     e.AggregateID(),
		Type:          txType,
		Amount:        amount,
		BalanceAfter:  newBalance,
		Timestamp:     e.OccurredAt(),
		Description:   transactionDescription(txType),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // duplicate delivery
	}

	if err := tx.Model(&AccountRecord{}).Where("account_id = ?", e.AggregateID()).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"updated_at": e.OccurredAt(),
			"version":    e.Version(),
		}).Error; err != nil {
		return err
	}

	at := e.OccurredAt()
	summaryUpdates := map[string]interface{}{
		"current_balance":       newBalance,
		"transaction_count":     gorm.Expr("transaction_count + 1"),
		"last_transaction_date": at,
		"account_age_days":      int64(at.Sub(account.CreatedAt).Hours() / 24),
	}
	dailyDeposit, dailyWithdrawal := decimal.Zero, decimal.Zero
	if txType == TxTypeDeposit {
		summaryUpdates["total_deposits"] = gorm.Expr("total_deposits + ?", amount)
		dailyDeposit = amount
	} else {
		summaryUpdates["total_withdrawals"] = gorm.Expr("total_withdrawals + ?", amount)
		dailyWithdrawal = amount
	}
	if err := tx.Model(&AccountSummaryRecord{}).Where("account_id = ?", e.AggregateID()).
		Updates(summaryUpdates).Error; err != nil {
		return err
	}

	return p.upsertDailyBalance(tx, e.AggregateID(), at, newBalance, dailyDeposit, dailyWithdrawal)
}

func (p *RelationalProjection) applyClosed(tx *gorm.DB, e domain.AccountClosed) error {
	var account AccountRecord
	if err := tx.First(&account, "account_id = ?", e.AggregateID()).Error; err != nil {
		return fmt.Errorf("account row missing for %s: %w", e.AggregateID(), err)
	}
	if account.Version >= e.Version() {
		return nil // already applied
	}

	closedAt := e.OccurredAt()
	if err := tx.Model(&AccountRecord{}).Where("account_id = ?", e.AggregateID()).
		Updates(map[string]interface{}{
			"status":     string(domain.AccountStatusClosed),
			"closed_at":  closedAt,
			"updated_at": closedAt,
			"version":    e.Version(),
		}).Error; err != nil {
		return err
	}

	return tx.Model(&AccountSummaryRecord{}).Where("account_id = ?", e.AggregateID()).
		Update("status", string(domain.AccountStatusClosed)).Error
}

func (p *RelationalProjection) insertTransaction(tx *gorm.DB, e domain.Event, txType string, amount, balanceAfter decimal.Decimal) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&TransactionRecord{
		TransactionID: e.EventID(),
		AccountID:     e.AggregateID(),
		Type:          txType,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Timestamp:     e.OccurredAt(),
		Description:   transactionDescription(txType),
	}).Error
}

func (p *RelationalProjection) upsertDailyBalance(tx *gorm.DB, accountID string, at time.Time,
	closingBalance, deposit, withdrawal decimal.Decimal) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "balance_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"closing_balance":   closingBalance,
			"daily_deposits":    gorm.Expr("daily_balances.daily_deposits + ?", deposit),
			"daily_withdrawals": gorm.Expr("daily_balances.daily_withdrawals + ?", withdrawal),
			"transaction_count": gorm.Expr("daily_balances.transaction_count + 1"),
		}),
	}).Create(&DailyBalanceRecord{
		AccountID:        accountID,
		BalanceDate:      at.UTC().Format("2006-01-02"),
		ClosingBalance:   closingBalance,
		DailyDeposits:    deposit,
		DailyWithdrawals: withdrawal,
		TransactionCount: 1,
	}).Error
}

func transactionDescription(txType string) string {
	switch txType {
	case TxTypeOpeningDeposit:
		return "Opening deposit"
	case TxTypeDeposit:
		return "Deposit"
	case TxTypeWithdrawal:
		return "Withdrawal"
	default:
		return txType
	}
}
