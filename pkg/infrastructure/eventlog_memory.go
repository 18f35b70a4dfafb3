package infrastructure

import (
	"context"
	"fmt"
	"sync"

	"github.com/harborfin/ledger/pkg/domain"
)

// MemoryEventLog is an in-memory domain.EventLog with the same conflict
// semantics as the DynamoDB log. It backs tests and local development; it
// does not survive restarts.
type MemoryEventLog struct {
	mu       sync.RWMutex
	streams  map[string][]domain.Event // aggregateID -> events in version order
	byID     map[string]domain.Event   // eventID -> event
	appended []domain.Event            // global append order, for replay
}

// NewMemoryEventLog creates an empty in-memory event log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		streams: make(map[string][]domain.Event),
		byID:    make(map[string]domain.Event),
	}
}

// AppendAtomic implements domain.EventLog. The whole batch is validated
// against both uniqueness predicates before anything is written, so a
// failed append leaves the log untouched.
func (l *MemoryEventLog) AppendAtomic(ctx context.Context, events []domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("append batch must not be empty")
	}

	heads, err := batchHeads(events)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, event := range events {
		if _, exists := l.byID[event.EventID()]; exists {
			return domain.NewConflictError(event.AggregateID(), event.Version())
		}
	}
	for aggregateID, span := range heads {
		head := int64(len(l.streams[aggregateID]))
		if span.low != head+1 {
			return domain.NewConflictError(aggregateID, span.low)
		}
	}

	for _, event := range events {
		l.streams[event.AggregateID()] = append(l.streams[event.AggregateID()], event)
		l.byID[event.EventID()] = event
		l.appended = append(l.appended, event)
	}
	return nil
}

// ReadStream implements domain.EventLog.
func (l *MemoryEventLog) ReadStream(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stream := l.streams[aggregateID]
	out := make([]domain.Event, len(stream))
	copy(out, stream)
	return out, nil
}

// HighestVersion implements domain.EventLog.
func (l *MemoryEventLog) HighestVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.streams[aggregateID])), nil
}

// AllEvents returns every committed event in global append order. Tests use
// it to replay the full log through projections, the way a TRIM_HORIZON
// stream replay would.
func (l *MemoryEventLog) AllEvents() []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Event, len(l.appended))
	copy(out, l.appended)
	return out
}
