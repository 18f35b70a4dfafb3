package application_test

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/harborfin/ledger/pkg/application"
	"github.com/harborfin/ledger/pkg/domain"
	"github.com/harborfin/ledger/pkg/infrastructure"
)

func newProjectionDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := infrastructure.NewDatabase(infrastructure.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := infrastructure.MigrateProjectionTables(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// replay pushes the full log through the projector in commit order, the way
// a TRIM_HORIZON pass over the change stream would.
func replay(t *testing.T, projector *application.Projector, log *infrastructure.MemoryEventLog) {
	t.Helper()
	for _, event := range log.AllEvents() {
		if err := projector.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("projection failed for %s: %v", event.EventID(), err)
		}
	}
}

func TestWriteThenProjectEndToEnd(t *testing.T) {
	log := infrastructure.NewMemoryEventLog()
	service := newService(log)
	ctx := context.Background()

	// scenario: open two accounts, move money, transfer across them
	steps := []func() error{
		func() error {
			return service.OpenAccount(ctx, domain.OpenAccount{
				AccountID: "A", Holder: "Jane", Type: domain.AccountTypeChecking, OpeningBalance: dec("100")})
		},
		func() error {
			return service.OpenAccount(ctx, domain.OpenAccount{
				AccountID: "B", Holder: "John", Type: domain.AccountTypeSavings, OpeningBalance: dec("50")})
		},
		func() error { return service.Deposit(ctx, domain.Deposit{AccountID: "B", Amount: dec("30")}) },
		func() error { return service.Withdraw(ctx, domain.Withdraw{AccountID: "B", Amount: dec("20")}) },
		func() error {
			return service.Transfer(ctx, domain.Transfer{FromAccountID: "A", ToAccountID: "B", Amount: dec("40")})
		},
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	db := newProjectionDB(t)
	projector := application.NewProjector(
		[]application.ProjectionTarget{infrastructure.NewRelationalProjection(db, nopLogger{})},
		nopLogger{}, nil)
	replay(t, projector, log)

	assertAccountRow(t, db, "A", "60", "active")
	assertAccountRow(t, db, "B", "100", "active")

	var txCount int64
	if err := db.Model(&infrastructure.TransactionRecord{}).Where("account_id = ?", "B").Count(&txCount).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	// opening deposit, deposit, withdrawal, transfer credit
	if txCount != 4 {
		t.Errorf("expected 4 transactions for B, got %d", txCount)
	}

	var summary infrastructure.AccountSummaryRecord
	if err := db.First(&summary, "account_id = ?", "B").Error; err != nil {
		t.Fatalf("summary row missing: %v", err)
	}
	if !summary.TotalDeposits.Equal(dec("120")) {
		t.Errorf("expected total deposits 120 (50 opening + 30 + 40 transfer), got %s", summary.TotalDeposits)
	}
	if !summary.TotalWithdrawals.Equal(dec("20")) {
		t.Errorf("expected total withdrawals 20, got %s", summary.TotalWithdrawals)
	}

	// funds are conserved across the transfer
	var a, b infrastructure.AccountRecord
	db.First(&a, "account_id = ?", "A")
	db.First(&b, "account_id = ?", "B")
	if !a.Balance.Add(b.Balance).Equal(dec("160")) {
		t.Errorf("projected balances must conserve funds, got %s", a.Balance.Add(b.Balance))
	}
}

func TestTrimHorizonReplayIsIdempotent(t *testing.T) {
	log := infrastructure.NewMemoryEventLog()
	service := newService(log)
	ctx := context.Background()

	if err := service.OpenAccount(ctx, domain.OpenAccount{
		AccountID: "B", Holder: "Jane", Type: domain.AccountTypeChecking, OpeningBalance: dec("50")}); err != nil {
		t.Fatal(err)
	}
	if err := service.Deposit(ctx, domain.Deposit{AccountID: "B", Amount: dec("30")}); err != nil {
		t.Fatal(err)
	}
	if err := service.Withdraw(ctx, domain.Withdraw{AccountID: "B", Amount: dec("20")}); err != nil {
		t.Fatal(err)
	}

	db := newProjectionDB(t)
	projector := application.NewProjector(
		[]application.ProjectionTarget{infrastructure.NewRelationalProjection(db, nopLogger{})},
		nopLogger{}, nil)

	// first pass, then a full replay from the oldest retained record
	replay(t, projector, log)
	replay(t, projector, log)

	assertAccountRow(t, db, "B", "60", "active")

	var txCount int64
	db.Model(&infrastructure.TransactionRecord{}).Where("account_id = ?", "B").Count(&txCount)
	if txCount != 3 {
		t.Errorf("replay must not duplicate transactions, got %d", txCount)
	}

	var summary infrastructure.AccountSummaryRecord
	if err := db.First(&summary, "account_id = ?", "B").Error; err != nil {
		t.Fatalf("summary row missing: %v", err)
	}
	if summary.TransactionCount != 3 {
		t.Errorf("replay must not inflate transaction count, got %d", summary.TransactionCount)
	}
	if !summary.TotalDeposits.Equal(dec("80")) {
		t.Errorf("expected total deposits 80, got %s", summary.TotalDeposits)
	}

	var daily []infrastructure.DailyBalanceRecord
	db.Where("account_id = ?", "B").Find(&daily)
	if len(daily) != 1 {
		t.Fatalf("expected a single daily rollup row, got %d", len(daily))
	}
	if !daily[0].DailyDeposits.Equal(dec("80")) || !daily[0].DailyWithdrawals.Equal(dec("20")) {
		t.Errorf("daily rollup double-counted: deposits=%s withdrawals=%s",
			daily[0].DailyDeposits, daily[0].DailyWithdrawals)
	}
}

func assertAccountRow(t *testing.T, db *gorm.DB, accountID, balance, status string) {
	t.Helper()
	var account infrastructure.AccountRecord
	if err := db.First(&account, "account_id = ?", accountID).Error; err != nil {
		t.Fatalf("account row %s missing: %v", accountID, err)
	}
	if !account.Balance.Equal(dec(balance)) {
		t.Errorf("account %s: expected balance %s, got %s", accountID, balance, account.Balance)
	}
	if account.Status != status {
		t.Errorf("account %s: expected status %s, got %s", accountID, status, account.Status)
	}
}
