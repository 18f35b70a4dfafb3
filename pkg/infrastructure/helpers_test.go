package infrastructure

import (
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/harborfin/ledger/pkg/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})   {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})   {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{})  {}
func (nopLogger) Fatalf(string, ...interface{}) {}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDatabase(DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := MigrateProjectionTables(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func openedEvent(accountID, opening string) domain.AccountOpened {
	meta := domain.NewEventMeta(accountID, 1)
	return domain.AccountOpened{
		EventMeta:      meta,
		Holder:         "Jane Doe",
		Type:           domain.AccountTypeChecking,
		OpeningBalance: dec(opening),
		CreatedAt:      meta.At,
	}
}

func depositEvent(accountID string, version int64, amount string) domain.FundsDeposited {
	return domain.FundsDeposited{EventMeta: domain.NewEventMeta(accountID, version), Amount: dec(amount)}
}

func withdrawalEvent(accountID string, version int64, amount string) domain.FundsWithdrawn {
	return domain.FundsWithdrawn{EventMeta: domain.NewEventMeta(accountID, version), Amount: dec(amount)}
}

func closedEvent(accountID string, version int64) domain.AccountClosed {
	return domain.AccountClosed{EventMeta: domain.NewEventMeta(accountID, version)}
}
