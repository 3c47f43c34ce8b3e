package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Default cadences: near-real-time change ingestion, periodic keyword
// re-discovery, periodic metrics refresh.
const (
	DefaultChangesCron   = "*/2 * * * *"
	DefaultDiscoveryCron = "0 */6 * * *"
	DefaultMetricsCron   = "30 3 * * *"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ParseCronExpressionUTC validates a UTC-only five-field cron expression.
func ParseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// SchedulerConfig configures the cron-driven sync scheduler.
type SchedulerConfig struct {
	Orchestrator *Orchestrator
	// ChangesCron, DiscoveryCron, MetricsCron are five-field UTC cron
	// expressions; an empty string disables that cadence.
	ChangesCron   string
	DiscoveryCron string
	MetricsCron   string
	Logger        *slog.Logger
}

// Scheduler invokes the three sync cadences on their cron schedules. Each
// run carries its own timeout-free context; overlap protection comes from
// the orchestrator's per-source run lock, not from scheduling.
type Scheduler struct {
	orch   *Orchestrator
	logger *slog.Logger
	runner *cron.Cron

	mu      sync.Mutex
	cancel  context.CancelFunc
	loopCtx context.Context
	done    chan struct{}
}

// NewScheduler creates a sync scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("syncer: scheduler orchestrator is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		orch:   cfg.Orchestrator,
		logger: cfg.Logger,
		runner: cron.New(cron.WithParser(standardCronParser), cron.WithLocation(time.UTC)),
	}

	add := func(expr, name string, run func(context.Context) error) error {
		clean := strings.TrimSpace(expr)
		if clean == "" {
			return nil
		}
		if _, err := ParseCronExpressionUTC(clean); err != nil {
			return fmt.Errorf("syncer: %s cadence: %w", name, err)
		}
		_, err := s.runner.AddFunc(clean, func() {
			s.mu.Lock()
			cancel := s.cancel
			s.mu.Unlock()
			if cancel == nil {
				return
			}
			if err := run(s.loopContext()); err != nil && !errors.Is(err, ErrRunLocked) {
				s.logger.Error("scheduled sync run failed", "source", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("syncer: register %s cadence: %w", name, err)
		}
		return nil
	}

	if err := add(cfg.ChangesCron, SourceChanges, func(ctx context.Context) error {
		_, err := s.orch.RunChanges(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := add(cfg.DiscoveryCron, SourceDiscovery, func(ctx context.Context) error {
		_, err := s.orch.RunKeywordDiscovery(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := add(cfg.MetricsCron, SourceMetrics, func(ctx context.Context) error {
		_, err := s.orch.RunMetricsRefresh(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins cron execution. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("syncer: scheduler is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.loopCtx = loopCtx
	s.done = done
	s.mu.Unlock()

	s.runner.Start()

	go func() {
		<-loopCtx.Done()
		stopped := s.runner.Stop()
		<-stopped.Done()
		close(done)
	}()

	return nil
}

// Stop halts cron execution and waits for in-flight runs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loopContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopCtx != nil {
		return s.loopCtx
	}
	return context.Background()
}
