package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/harborfin/ledger/pkg/application"
)

// RelationalReader implements application.SummaryReader over the analytical
// projection.
type RelationalReader struct {
	db *gorm.DB
}

// NewRelationalReader creates the analytical reader.
func NewRelationalReader(db *gorm.DB) *RelationalReader {
	return &RelationalReader{db: db}
}

// GetSummary implements application.SummaryReader.
func (r *RelationalReader) GetSummary(ctx context.Context, accountID string) (*application.AccountSummaryView, error) {
	var record AccountSummaryRecord
	err := r.db.WithContext(ctx).First(&record, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read summary for %s: %w", accountID, err)
	}

	return &application.AccountSummaryView{
		AccountID:           record.AccountID,
		Holder:              record.Holder,
		Type:                record.Type,
		CurrentBalance:      record.CurrentBalance,
		TotalDeposits:       record.TotalDeposits,
		TotalWithdrawals:    record.TotalWithdrawals,
		TransactionCount:    record.TransactionCount,
		LastTransactionDate: record.LastTransactionDate,
		Status:              record.Status,
	}, nil
}
