package application

import "time"

// MetricsCollector records operational counters for the command pipeline,
// the stream consumer, and the projection service. Implementations must be
// safe for concurrent use.
type MetricsCollector interface {
	RecordCommandDuration(command string, d time.Duration)
	IncrementCommandErrors(command string)
	IncrementConflictRetries(command string)
	IncrementRecordsProcessed(shardID string)
	IncrementRecordsSkipped(shardID string)
	IncrementProjectionErrors(target string)
}

// NopMetrics discards every measurement. It stands in wherever metrics are
// not wired, including tests.
type NopMetrics struct{}

func (NopMetrics) RecordCommandDuration(string, time.Duration) {}
func (NopMetrics) IncrementCommandErrors(string)               {}
func (NopMetrics) IncrementConflictRetries(string)             {}
func (NopMetrics) IncrementRecordsProcessed(string)            {}
func (NopMetrics) IncrementRecordsSkipped(string)              {}
func (NopMetrics) IncrementProjectionErrors(string)            {}
