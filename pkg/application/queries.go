package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harborfin/ledger/pkg/domain"
)

// AccountBalanceView is the point-lookup read model served from the KV
// projection.
type AccountBalanceView struct {
	AccountID   string
	Holder      string
	Type        string
	Balance     decimal.Decimal
	Status      string
	LastUpdated time.Time
}

// TransactionView is one ledger line in the KV history projection.
type TransactionView struct {
	TransactionID string
	AccountID     string
	Type          string
	Amount        decimal.Decimal
	Timestamp     time.Time
}

// BalanceReader serves point lookups from the key-value projection. The
// view is eventually consistent with the log: a just-committed command may
// not be visible until the stream consumer catches up.
type BalanceReader interface {
	// GetBalance returns the projected state of one account, or nil when
	// the account has not been projected yet.
	GetBalance(ctx context.Context, accountID string) (*AccountBalanceView, error)

	// RecentTransactions returns up to limit transactions for the account,
	// newest first.
	RecentTransactions(ctx context.Context, accountID string, limit int) ([]TransactionView, error)
}

// AccountSummaryView is the analytical rollup served from the relational
// projection.
type AccountSummaryView struct {
	AccountID           string
	Holder              string
	Type                string
	CurrentBalance      decimal.Decimal
	TotalDeposits       decimal.Decimal
	TotalWithdrawals    decimal.Decimal
	TransactionCount    int64
	LastTransactionDate *time.Time
	Status              string
}

// SummaryReader serves analytical queries from the relational projection.
type SummaryReader interface {
	// GetSummary returns the running totals for one account, or nil when
	// the account has not been projected yet.
	GetSummary(ctx context.Context, accountID string) (*AccountSummaryView, error)
}

// QueryService bundles the read sides behind one facade for the ingress
// layer. It owns no state and performs no writes.
type QueryService struct {
	balances  BalanceReader
	summaries SummaryReader
	logger    domain.Logger
}

// NewQueryService creates the query facade.
func NewQueryService(balances BalanceReader, summaries SummaryReader, logger domain.Logger) *QueryService {
	return &QueryService{balances: balances, summaries: summaries, logger: logger}
}

// Balance returns the projected balance row for an account.
func (s *QueryService) Balance(ctx context.Context, accountID string) (*AccountBalanceView, error) {
	return s.balances.GetBalance(ctx, accountID)
}

// RecentTransactions returns the newest transactions for an account.
func (s *QueryService) RecentTransactions(ctx context.Context, accountID string, limit int) ([]TransactionView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.balances.RecentTransactions(ctx, accountID, limit)
}

// Summary returns the analytical rollup for an account.
func (s *QueryService) Summary(ctx context.Context, accountID string) (*AccountSummaryView, error) {
	return s.summaries.GetSummary(ctx, accountID)
}
