package infrastructure

import (
	"sync"
	"time"

	"github.com/harborfin/ledger/pkg/application"
	"github.com/harborfin/ledger/pkg/domain"
)

// LedgerMetrics is an in-memory application.MetricsCollector. It keeps
// simple counters and durations per command, shard, and projection target;
// Snapshot exposes them for logging or an operational endpoint.
type LedgerMetrics struct {
	logger domain.Logger
	mu     sync.RWMutex

	commandDurations map[string][]time.Duration
	commandErrors    map[string]int64
	conflictRetries  map[string]int64
	recordsProcessed map[string]int64
	recordsSkipped   map[string]int64
	projectionErrors map[string]int64
}

// NewLedgerMetrics creates an empty metrics collector.
func NewLedgerMetrics(logger domain.Logger) *LedgerMetrics {
	return &LedgerMetrics{
		logger:           logger,
		commandDurations: make(map[string][]time.Duration),
		commandErrors:    make(map[string]int64),
		conflictRetries:  make(map[string]int64),
		recordsProcessed: make(map[string]int64),
		recordsSkipped:   make(map[string]int64),
		projectionErrors: make(map[string]int64),
	}
}

var _ application.MetricsCollector = (*LedgerMetrics)(nil)

// RecordCommandDuration implements application.MetricsCollector.
func (m *LedgerMetrics) RecordCommandDuration(command string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandDurations[command] = append(m.commandDurations[command], d)
}

// IncrementCommandErrors implements application.MetricsCollector.
func (m *LedgerMetrics) IncrementCommandErrors(command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandErrors[command]++
}

// IncrementConflictRetries implements application.MetricsCollector.
func (m *LedgerMetrics) IncrementConflictRetries(command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflictRetries[command]++
}

// IncrementRecordsProcessed implements application.MetricsCollector.
func (m *LedgerMetrics) IncrementRecordsProcessed(shardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsProcessed[shardID]++
}

// IncrementRecordsSkipped implements application.MetricsCollector.
func (m *LedgerMetrics) IncrementRecordsSkipped(shardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsSkipped[shardID]++
}

// IncrementProjectionErrors implements application.MetricsCollector.
func (m *LedgerMetrics) IncrementProjectionErrors(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectionErrors[target]++
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	CommandCounts    map[string]int64
	CommandErrors    map[string]int64
	ConflictRetries  map[string]int64
	RecordsProcessed map[string]int64
	RecordsSkipped   map[string]int64
	ProjectionErrors map[string]int64
}

// Snapshot copies the current counters.
func (m *LedgerMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		CommandCounts:    make(map[string]int64, len(m.commandDurations)),
		CommandErrors:    copyCounts(m.commandErrors),
		ConflictRetries:  copyCounts(m.conflictRetries),
		RecordsProcessed: copyCounts(m.recordsProcessed),
		RecordsSkipped:   copyCounts(m.recordsSkipped),
		ProjectionErrors: copyCounts(m.projectionErrors),
	}
	for command, durations := range m.commandDurations {
		snap.CommandCounts[command] = int64(len(durations))
	}
	return snap
}

// LogSummary writes the current counters through the logger; the process
// wiring calls it on shutdown.
func (m *LedgerMetrics) LogSummary() {
	snap := m.Snapshot()
	m.logger.Info("metrics summary",
		"commands", snap.CommandCounts,
		"command_errors", snap.CommandErrors,
		"conflict_retries", snap.ConflictRetries,
		"records_processed", snap.RecordsProcessed,
		"records_skipped", snap.RecordsSkipped,
		"projection_errors", snap.ProjectionErrors)
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
