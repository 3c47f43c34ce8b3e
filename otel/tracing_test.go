package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/toolgarden/catalog"
	gardenotel "github.com/petal-labs/toolgarden/otel"
	"github.com/petal-labs/toolgarden/syncer"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return exporter, tp
}

func TestTracingHandlerSpanPerRun(t *testing.T) {
	exporter, tp := newTestTracer()
	h := gardenotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(syncer.Event{Kind: syncer.EventRunStarted, Source: syncer.SourceChanges})
	h.Handle(syncer.Event{
		Kind:    syncer.EventRunFinished,
		Source:  syncer.SourceChanges,
		Outcome: catalog.SyncSuccess,
		Count:   7,
		Elapsed: 200 * time.Millisecond,
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "sync:changes-feed" {
		t.Errorf("span name = %q", span.Name)
	}
	if span.Status.Code != otelcodes.Ok {
		t.Errorf("status = %v, want Ok", span.Status.Code)
	}

	var sawOutcome, sawProcessed bool
	for _, attr := range span.Attributes {
		switch string(attr.Key) {
		case "sync.outcome":
			sawOutcome = attr.Value.AsString() == string(catalog.SyncSuccess)
		case "sync.processed":
			sawProcessed = attr.Value.AsInt64() == 7
		}
	}
	if !sawOutcome || !sawProcessed {
		t.Errorf("span attributes missing outcome/processed: %v", span.Attributes)
	}
}

func TestTracingHandlerErrorStatus(t *testing.T) {
	exporter, tp := newTestTracer()
	h := gardenotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(syncer.Event{Kind: syncer.EventRunStarted, Source: syncer.SourceChanges})
	h.Handle(syncer.Event{
		Kind:    syncer.EventRunFinished,
		Source:  syncer.SourceChanges,
		Outcome: catalog.SyncError,
		Err:     "fetch change page: feed unreachable",
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "fetch change page: feed unreachable" {
		t.Errorf("status description = %q", spans[0].Status.Description)
	}
}

func TestTracingHandlerFinishWithoutStartIsIgnored(t *testing.T) {
	exporter, tp := newTestTracer()
	h := gardenotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(syncer.Event{Kind: syncer.EventRunFinished, Source: syncer.SourceMetrics})

	if spans := exporter.GetSpans(); len(spans) != 0 {
		t.Fatalf("spans = %d, want 0", len(spans))
	}
}

func TestTracingHandlerLeakedSpanClosedOnRestart(t *testing.T) {
	exporter, tp := newTestTracer()
	h := gardenotel.NewTracingHandler(tp.Tracer("test"))

	// First run never finished; the next start must close its span.
	h.Handle(syncer.Event{Kind: syncer.EventRunStarted, Source: syncer.SourceChanges})
	h.Handle(syncer.Event{Kind: syncer.EventRunStarted, Source: syncer.SourceChanges})

	if spans := exporter.GetSpans(); len(spans) != 1 {
		t.Fatalf("spans after replace = %d, want 1 (the leaked one)", len(spans))
	}

	h.Handle(syncer.Event{Kind: syncer.EventRunFinished, Source: syncer.SourceChanges, Outcome: catalog.SyncSuccess})
	if spans := exporter.GetSpans(); len(spans) != 2 {
		t.Fatalf("spans after finish = %d, want 2", len(spans))
	}
}
