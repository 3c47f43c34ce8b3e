// Package health probes whether cataloged tools still import and execute
// correctly. Checks run on a bounded worker pool; enqueueing never blocks
// and never surfaces an error to the caller. A check that cannot be queued
// lands in the dead-letter log instead of being silently dropped.
package health

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/toolgarden/catalog"
	"github.com/petal-labs/toolgarden/sandbox"
)

// Trigger records why a check was requested.
type Trigger string

const (
	TriggerSync   Trigger = "sync"
	TriggerManual Trigger = "manual"
)

const (
	defaultConcurrency = 4
	defaultQueueDepth  = 256
	defaultJobTimeout  = 2 * time.Minute
)

// Job is one queued health check.
type Job struct {
	ID       string
	ToolID   string
	Trigger  Trigger
	QueuedAt time.Time
}

// DeadLetter records a check that never made it through the pool.
type DeadLetter struct {
	Job    Job
	Reason string
	At     time.Time
}

// CheckerConfig configures the health check service.
type CheckerConfig struct {
	Store   catalog.Store
	Sandbox sandbox.Client
	// Concurrency caps in-flight checks. Defaults to 4.
	Concurrency int
	// QueueDepth caps pending checks; past it, jobs dead-letter. Defaults to 256.
	QueueDepth int
	// JobTimeout bounds one full check (both probes). Defaults to 2 minutes.
	JobTimeout time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Checker is the asynchronous health check service.
type Checker struct {
	store       catalog.Store
	sandbox     sandbox.Client
	concurrency int
	jobTimeout  time.Duration
	logger      *slog.Logger
	now         func() time.Time

	jobs chan Job
	wg   sync.WaitGroup

	mu          sync.Mutex
	deadLetters []DeadLetter
	started     bool
	closed      bool
}

// NewChecker creates a health check service. Start must be called before
// checks are processed.
func NewChecker(cfg CheckerConfig) (*Checker, error) {
	if cfg.Store == nil {
		return nil, errors.New("health: checker store is nil")
	}
	if cfg.Sandbox == nil {
		return nil, errors.New("health: checker sandbox client is nil")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Checker{
		store:       cfg.Store,
		sandbox:     cfg.Sandbox,
		concurrency: cfg.Concurrency,
		jobTimeout:  cfg.JobTimeout,
		logger:      cfg.Logger,
		now:         cfg.Now,
		jobs:        make(chan Job, cfg.QueueDepth),
	}, nil
}

// Start launches the worker pool. Calling Start twice is a no-op.
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	n := c.concurrency
	c.mu.Unlock()

	for i := 0; i < n; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					c.drainToDeadLetter("shutdown")
					return
				case job, ok := <-c.jobs:
					if !ok {
						return
					}
					c.run(ctx, job)
				}
			}
		}()
	}
}

// Stop waits for in-flight checks to finish. Queued jobs that were never
// picked up are dead-lettered by their workers on context cancellation.
func (c *Checker) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	// Closed under mu so Check can never send on a closed channel.
	close(c.jobs)
	c.mu.Unlock()
	c.wg.Wait()
}

// Check requests a health check for one tool. It never blocks and never
// returns an error: a saturated queue dead-letters the job, and the caller
// moves on either way.
func (c *Checker) Check(toolID string, trigger Trigger) {
	if c == nil {
		return
	}
	job := Job{
		ID:       uuid.NewString(),
		ToolID:   toolID,
		Trigger:  trigger,
		QueuedAt: c.now(),
	}

	// The non-blocking send happens under mu, the same lock Stop holds
	// while closing the channel, so the two can never interleave.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.deadLetter(job, "checker stopped")
		return
	}
	select {
	case c.jobs <- job:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.deadLetter(job, "queue full")
	}
}

// DeadLetters returns a snapshot of checks that never completed.
func (c *Checker) DeadLetters() []DeadLetter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeadLetter, len(c.deadLetters))
	copy(out, c.deadLetters)
	return out
}

func (c *Checker) deadLetter(job Job, reason string) {
	c.mu.Lock()
	c.deadLetters = append(c.deadLetters, DeadLetter{Job: job, Reason: reason, At: c.now()})
	c.mu.Unlock()
	c.logger.Warn("health check dead-lettered",
		"tool_id", job.ToolID, "trigger", string(job.Trigger), "reason", reason)
}

func (c *Checker) drainToDeadLetter(reason string) {
	for {
		select {
		case job, ok := <-c.jobs:
			if !ok {
				return
			}
			c.deadLetter(job, reason)
		default:
			return
		}
	}
}

// run executes one check: an import probe and an execution probe, each
// independent, results overwriting whatever the previous check wrote.
// Failures are recorded on the tool row, never propagated.
func (c *Checker) run(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	defer cancel()

	tool, ok, err := c.store.GetTool(ctx, job.ToolID)
	if err != nil || !ok {
		c.logger.Warn("health check target missing", "tool_id", job.ToolID, "error", err)
		return
	}
	pkg, ok, err := c.store.GetPackageByID(ctx, tool.PackageID)
	if err != nil || !ok {
		c.logger.Warn("health check package missing", "tool_id", job.ToolID, "error", err)
		return
	}

	upd := catalog.HealthUpdate{
		ImportHealth:    catalog.HealthHealthy,
		ExecutionHealth: catalog.HealthHealthy,
		CheckedAt:       c.now(),
	}
	var failures []string

	if res, err := c.sandbox.ListExports(ctx, pkg.Name, pkg.Version); err != nil || !res.Success {
		upd.ImportHealth = catalog.HealthBroken
		failures = append(failures, "import: "+probeError(res.Error, err))
		// A package that does not import cannot execute either; skip the
		// second probe and mark it unknown rather than guessing.
		upd.ExecutionHealth = catalog.HealthUnknown
	} else if res, err := c.sandbox.Execute(ctx, sandbox.ExecuteRequest{
		PackageName: pkg.Name,
		Name:        tool.Name,
		Version:     pkg.Version,
		Params:      map[string]any{},
	}); err != nil || !res.Success {
		upd.ExecutionHealth = catalog.HealthBroken
		failures = append(failures, "execute: "+probeError(res.Error, err))
	}

	if len(failures) > 0 {
		upd.Error = truncate(strings.Join(failures, "; "), 500)
	}

	if err := c.store.UpdateToolHealth(ctx, tool.ID, upd); err != nil {
		c.logger.Warn("health check write failed", "tool_id", tool.ID, "error", err)
	}
}

func probeError(resultErr string, err error) string {
	if resultErr != "" {
		return resultErr
	}
	if err != nil {
		return err.Error()
	}
	return "unknown failure"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
