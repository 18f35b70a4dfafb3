package infrastructure

import (
	"context"
	"testing"

	"github.com/harborfin/ledger/pkg/domain"
)

func TestMemoryEventLogAppendAndRead(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()

	events := []domain.Event{
		openedEvent("m1", "100"),
	}
	if err := log.AppendAtomic(ctx, events); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := log.AppendAtomic(ctx, []domain.Event{depositEvent("m1", 2, "10")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	stream, err := log.ReadStream(ctx, "m1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(stream) != 2 {
		t.Fatalf("expected 2 events, got %d", len(stream))
	}
	for i, event := range stream {
		if event.Version() != int64(i+1) {
			t.Errorf("expected version %d at %d, got %d", i+1, i, event.Version())
		}
	}

	head, err := log.HighestVersion(ctx, "m1")
	if err != nil {
		t.Fatalf("highest version failed: %v", err)
	}
	if head != 2 {
		t.Errorf("expected head 2, got %d", head)
	}

	if head, _ := log.HighestVersion(ctx, "unknown"); head != 0 {
		t.Errorf("unknown aggregate must report head 0, got %d", head)
	}
}

func TestMemoryEventLogRejectsDuplicateEventID(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()

	event := openedEvent("m2", "0")
	if err := log.AppendAtomic(ctx, []domain.Event{event}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// same event re-appended: identical ID, conflict
	err := log.AppendAtomic(ctx, []domain.Event{event})
	if !domain.IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestMemoryEventLogRejectsTakenVersionSlot(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()

	if err := log.AppendAtomic(ctx, []domain.Event{openedEvent("m3", "0")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// two racers both built version 2; the second must lose
	if err := log.AppendAtomic(ctx, []domain.Event{depositEvent("m3", 2, "5")}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	err := log.AppendAtomic(ctx, []domain.Event{depositEvent("m3", 2, "7")})
	if !domain.IsConflict(err) {
		t.Fatalf("expected ConflictError for taken version slot, got %v", err)
	}

	// gapped version is a conflict too
	err = log.AppendAtomic(ctx, []domain.Event{depositEvent("m3", 5, "7")})
	if !domain.IsConflict(err) {
		t.Fatalf("expected ConflictError for gapped version, got %v", err)
	}

	stream, _ := log.ReadStream(ctx, "m3")
	if len(stream) != 2 {
		t.Errorf("failed appends must leave the log untouched, got %d events", len(stream))
	}
}

func TestMemoryEventLogCrossAggregateBatch(t *testing.T) {
	log := NewMemoryEventLog()
	ctx := context.Background()

	if err := log.AppendAtomic(ctx, []domain.Event{openedEvent("m4", "100")}); err != nil {
		t.Fatal(err)
	}
	if err := log.AppendAtomic(ctx, []domain.Event{openedEvent("m5", "0")}); err != nil {
		t.Fatal(err)
	}

	// a transfer batch touches both aggregates atomically
	batch := []domain.Event{
		withdrawalEvent("m4", 2, "40"),
		depositEvent("m5", 2, "40"),
	}
	if err := log.AppendAtomic(ctx, batch); err != nil {
		t.Fatalf("cross-aggregate append failed: %v", err)
	}

	// a batch with one stale leg must commit nothing
	bad := []domain.Event{
		withdrawalEvent("m4", 3, "1"),
		depositEvent("m5", 2, "1"), // slot taken
	}
	err := log.AppendAtomic(ctx, bad)
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	m4, _ := log.ReadStream(ctx, "m4")
	if len(m4) != 2 {
		t.Errorf("partial batch must not commit, m4 has %d events", len(m4))
	}
}

func TestMemoryEventLogRejectsNonConsecutiveBatch(t *testing.T) {
	log := NewMemoryEventLog()

	batch := []domain.Event{
		openedEvent("m6", "0"),
		depositEvent("m6", 3, "1"), // gap: 1 then 3
	}
	if err := log.AppendAtomic(context.Background(), batch); err == nil {
		t.Fatal("expected error for non-consecutive batch versions")
	}
}
