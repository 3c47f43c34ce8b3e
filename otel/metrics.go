// Package otel provides OpenTelemetry integration for sync pipeline events.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/toolgarden/syncer"
)

// MetricsHandler translates sync pipeline events into OpenTelemetry metrics.
// It records counters for processed, skipped, and errored changes, orphan
// deletions, queued health checks, and a histogram of run durations.
type MetricsHandler struct {
	changesApplied metric.Int64Counter
	changesSkipped metric.Int64Counter
	changesErrored metric.Int64Counter
	orphansDeleted metric.Int64Counter
	healthQueued   metric.Int64Counter
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording sync metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	applied, err := meter.Int64Counter("toolgarden.sync.changes.applied",
		metric.WithDescription("Number of change events applied to the catalog"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter("toolgarden.sync.changes.skipped",
		metric.WithDescription("Number of change events skipped"),
	)
	if err != nil {
		return nil, err
	}

	errored, err := meter.Int64Counter("toolgarden.sync.changes.errored",
		metric.WithDescription("Number of change events that failed"),
	)
	if err != nil {
		return nil, err
	}

	orphans, err := meter.Int64Counter("toolgarden.sync.orphans.deleted",
		metric.WithDescription("Number of orphan tools deleted during reconciliation"),
	)
	if err != nil {
		return nil, err
	}

	health, err := meter.Int64Counter("toolgarden.sync.health.queued",
		metric.WithDescription("Number of health checks queued by sync runs"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("toolgarden.sync.run.duration",
		metric.WithDescription("Duration of one sync run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		changesApplied: applied,
		changesSkipped: skipped,
		changesErrored: errored,
		orphansDeleted: orphans,
		healthQueued:   health,
		runDuration:    runDur,
	}, nil
}

// Handle processes a sync event and records the appropriate metrics.
// It implements syncer.EventHandler semantics.
func (h *MetricsHandler) Handle(e syncer.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("source", e.Source))

	switch e.Kind {
	case syncer.EventChangeApplied:
		h.changesApplied.Add(ctx, 1, attrs)
	case syncer.EventChangeSkipped:
		h.changesSkipped.Add(ctx, 1, attrs)
	case syncer.EventChangeErrored:
		h.changesErrored.Add(ctx, 1, attrs)
	case syncer.EventOrphansDeleted:
		h.orphansDeleted.Add(ctx, int64(e.Count), attrs)
	case syncer.EventHealthQueued:
		h.healthQueued.Add(ctx, 1, attrs)
	case syncer.EventRunFinished:
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			attribute.String("source", e.Source),
			attribute.String("outcome", string(e.Outcome)),
		))
	}
}
