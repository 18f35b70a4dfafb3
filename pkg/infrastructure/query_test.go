package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/harborfin/ledger/pkg/domain"
)

func TestKVReaderGetBalance(t *testing.T) {
	fake, kv := newKV()
	reader := NewKVReader(fake, "account_balance", "transaction_history")
	ctx := context.Background()

	missing, err := reader.GetBalance(ctx, "nobody")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil view for unprojected account, got %+v", missing)
	}

	if err := kv.Apply(ctx, openedEvent("q1", "100")); err != nil {
		t.Fatal(err)
	}

	view, err := reader.GetBalance(ctx, "q1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if view == nil {
		t.Fatal("expected balance view")
	}
	if !view.Balance.Equal(dec("100")) || view.Status != "active" || view.Holder != "Jane Doe" {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestKVReaderRecentTransactionsNewestFirst(t *testing.T) {
	fake, kv := newKV()
	reader := NewKVReader(fake, "account_balance", "transaction_history")
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	opened := openedEvent("q2", "100")
	opened.At = base
	opened.CreatedAt = base

	first := depositEvent("q2", 2, "10")
	first.At = base.Add(time.Second)
	second := withdrawalEvent("q2", 3, "5")
	second.At = base.Add(2 * time.Second)

	for _, event := range []domain.Event{opened, first, second} {
		if err := kv.Apply(ctx, event); err != nil {
			t.Fatal(err)
		}
	}

	views, err := reader.RecentTransactions(ctx, "q2", 2)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(views))
	}
	if views[0].TransactionID != second.EventID() || views[1].TransactionID != first.EventID() {
		t.Errorf("expected newest-first order, got %s then %s", views[0].TransactionID, views[1].TransactionID)
	}
	if views[0].Type != TxTypeWithdrawal || !views[0].Amount.Equal(dec("5")) {
		t.Errorf("unexpected newest transaction: %+v", views[0])
	}
}

func TestRelationalReaderGetSummary(t *testing.T) {
	db := testDB(t)
	projection := NewRelationalProjection(db, nopLogger{})
	reader := NewRelationalReader(db)
	ctx := context.Background()

	missing, err := reader.GetSummary(ctx, "nobody")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil summary for unprojected account, got %+v", missing)
	}

	for _, event := range []domain.Event{openedEvent("q3", "50"), depositEvent("q3", 2, "30")} {
		if err := projection.Apply(ctx, event); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := reader.GetSummary(ctx, "q3")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if summary == nil {
		t.Fatal("expected summary view")
	}
	if !summary.CurrentBalance.Equal(dec("80")) || summary.TransactionCount != 2 {
		t.Errorf("unexpected summary: balance=%s count=%d", summary.CurrentBalance, summary.TransactionCount)
	}
}
