package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/petal-labs/toolgarden/catalog"
)

func TestParseCronExpressionUTC(t *testing.T) {
	valid := []string{
		DefaultChangesCron,
		DefaultDiscoveryCron,
		DefaultMetricsCron,
		"0 0 * * *",
		"*/5 * * * 1-5",
	}
	for _, expr := range valid {
		if _, err := ParseCronExpressionUTC(expr); err != nil {
			t.Errorf("ParseCronExpressionUTC(%q) error = %v", expr, err)
		}
	}

	// Four fields, six fields, out-of-range values, and timezone prefixes
	// must all be rejected.
	invalid := []string{
		"",
		"   ",
		"* * * *",
		"0 0 * * * *",
		"61 * * * *",
		"CRON_TZ=America/New_York 0 0 * * *",
		"TZ=UTC 0 0 * * *",
	}
	for _, expr := range invalid {
		if _, err := ParseCronExpressionUTC(expr); err == nil {
			t.Errorf("ParseCronExpressionUTC(%q) accepted invalid expression", expr)
		}
	}
}

func TestParseCronExpressionUTCNextFire(t *testing.T) {
	schedule, err := ParseCronExpressionUTC("0 12 * * *")
	if err != nil {
		t.Fatalf("ParseCronExpressionUTC() error = %v", err)
	}
	from := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	next := schedule.Next(from)
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next(%v) = %v, want %v", from, next, want)
	}
}

func TestNewSchedulerRejectsBadCadence(t *testing.T) {
	o := newOrchestrator(t, catalog.NewMemoryStore(), &fakeRegistry{}, &fakeSandbox{})
	_, err := NewScheduler(SchedulerConfig{Orchestrator: o, ChangesCron: "not a cron"})
	if err == nil {
		t.Fatal("NewScheduler() accepted a malformed cadence")
	}
}

func TestNewSchedulerRequiresOrchestrator(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{}); err == nil {
		t.Fatal("NewScheduler() without orchestrator returned nil error")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	o := newOrchestrator(t, catalog.NewMemoryStore(), &fakeRegistry{}, &fakeSandbox{})
	s, err := NewScheduler(SchedulerConfig{Orchestrator: o, ChangesCron: DefaultChangesCron})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Second Start is a no-op.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() twice error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// Second Stop is a no-op.
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() twice error = %v", err)
	}
}
