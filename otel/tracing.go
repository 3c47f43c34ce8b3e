package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/toolgarden/syncer"
)

// TracingHandler translates sync pipeline events into OpenTelemetry spans:
// one span per run, keyed by source, opened on run start and closed with
// counts and outcome on run finish.
type TracingHandler struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span // source -> active run span
}

// NewTracingHandler creates a TracingHandler using the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// Handle processes a sync event, creating or ending run spans.
// It implements syncer.EventHandler semantics.
func (h *TracingHandler) Handle(e syncer.Event) {
	switch e.Kind {
	case syncer.EventRunStarted:
		h.handleRunStarted(e)
	case syncer.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e syncer.Event) {
	_, span := h.tracer.Start(context.Background(), "sync:"+e.Source,
		trace.WithAttributes(attribute.String("sync.source", e.Source)))

	h.mu.Lock()
	// A run span left open by a crashed handler is closed before being
	// replaced, so spans never leak across runs.
	if prev, ok := h.spans[e.Source]; ok {
		prev.End()
	}
	h.spans[e.Source] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleRunFinished(e syncer.Event) {
	h.mu.Lock()
	span, ok := h.spans[e.Source]
	delete(h.spans, e.Source)
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("sync.outcome", string(e.Outcome)),
		attribute.Int("sync.processed", e.Count),
	)
	if e.Err != "" {
		span.SetStatus(codes.Error, e.Err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
