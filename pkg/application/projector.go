package application

import (
	"context"
	"errors"

	"github.com/harborfin/ledger/pkg/domain"
)

// ProjectionTarget is one read-optimized store fed from the change stream.
// Apply must be idempotent: delivery is at-least-once and replays of an
// already-applied event must leave the target unchanged.
type ProjectionTarget interface {
	// Name identifies the target in logs and errors.
	Name() string

	// Apply folds one committed event into the target's state.
	Apply(ctx context.Context, event domain.Event) error
}

// Projector is the projection service. It applies every delivered event to
// all registered targets independently: a failure in one target never
// prevents the attempt on the others, and never halts the stream consumer.
// Failures are wrapped as ProjectionError, logged per target, and joined
// into the return value for observability; the consumer checkpoints
// regardless and relies on re-delivery for recovery.
type Projector struct {
	targets []ProjectionTarget
	logger  domain.Logger
	metrics MetricsCollector
}

// NewProjector creates a projection service over the given targets.
func NewProjector(targets []ProjectionTarget, logger domain.Logger, metrics MetricsCollector) *Projector {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Projector{targets: targets, logger: logger, metrics: metrics}
}

// HandleEvent applies one committed event to every target. The returned
// error joins per-target failures; callers that must stay live (the stream
// consumer) log it and move on.
func (p *Projector) HandleEvent(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, target := range p.targets {
		if err := target.Apply(ctx, event); err != nil {
			perr := domain.NewProjectionError(target.Name(), event.EventID(), err)
			p.logger.Error("projection target failed",
				"target", target.Name(),
				"event_id", event.EventID(),
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"error", err)
			p.metrics.IncrementProjectionErrors(target.Name())
			errs = append(errs, perr)
		}
	}
	return errors.Join(errs...)
}
