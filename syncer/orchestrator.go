// Package syncer drives the registry synchronization pipeline: incremental
// change ingestion, metadata validation, tool discovery, schema extraction,
// and orphan reconciliation, under a strict time budget per run.
//
// A run is largely sequential: changes within one page are processed one at
// a time so checkpoint advancement and orphan-set computation never race
// another writer for the same package. Per-change failures are counted and
// skipped; only a failure to fetch the change page at all aborts a run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/petal-labs/toolgarden/catalog"
	"github.com/petal-labs/toolgarden/metadata"
	"github.com/petal-labs/toolgarden/registry"
	"github.com/petal-labs/toolgarden/sandbox"
)

// Sync sources, each independently checkpointed.
const (
	SourceChanges   = "changes-feed"
	SourceDiscovery = "keyword-search"
	SourceMetrics   = "metrics-refresh"
)

const (
	defaultPageLimit   = 100
	defaultRunLockTTL  = 10 * time.Minute
	maxErrorSummaryLen = 1000
	maxErrorSummaryCnt = 10
	perItemErrorMaxLen = 160
)

// ErrRunLocked is returned when another run of the same source holds the
// advisory lock.
var ErrRunLocked = errors.New("syncer: run already in progress for source")

// Indexer receives catalog updates for the full-text search index. A nil
// Indexer disables indexing.
type Indexer interface {
	IndexPackage(pkg catalog.Package, tools []catalog.Tool) error
	RemoveTools(ids []string) error
}

// OrchestratorConfig wires the sync pipeline's collaborators. All clients
// are constructed once at process start and passed in; the pipeline holds
// no lazily-initialized globals.
type OrchestratorConfig struct {
	Store    catalog.Store
	Registry registry.Client
	Sandbox  sandbox.Client
	// HealthCheck is invoked fire-and-forget per upserted tool. Nil disables.
	HealthCheck func(toolID string)
	// Index is the optional search index.
	Index Indexer

	// PageLimit bounds one change page. Defaults to 100.
	PageLimit int
	// RunLockTTL bounds how long a crashed run can hold the source lock.
	RunLockTTL time.Duration
	// DiscoveryKeywords drives the keyword re-discovery cadence.
	DiscoveryKeywords []string

	Logger  *slog.Logger
	OnEvent EventHandler
	Now     func() time.Time
}

// Orchestrator runs sync passes against the upstream registry.
type Orchestrator struct {
	store       catalog.Store
	registry    registry.Client
	sandbox     sandbox.Client
	healthCheck func(toolID string)
	index       Indexer

	pageLimit  int
	runLockTTL time.Duration
	keywords   []string

	logger  *slog.Logger
	onEvent EventHandler
	now     func() time.Time
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("syncer: orchestrator store is nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("syncer: orchestrator registry client is nil")
	}
	if cfg.Sandbox == nil {
		return nil, errors.New("syncer: orchestrator sandbox client is nil")
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.RunLockTTL <= 0 {
		cfg.RunLockTTL = defaultRunLockTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Orchestrator{
		store:       cfg.Store,
		registry:    cfg.Registry,
		sandbox:     cfg.Sandbox,
		healthCheck: cfg.HealthCheck,
		index:       cfg.Index,
		pageLimit:   cfg.PageLimit,
		runLockTTL:  cfg.RunLockTTL,
		keywords:    cfg.DiscoveryKeywords,
		logger:      cfg.Logger,
		onEvent:     cfg.OnEvent,
		now:         cfg.Now,
	}, nil
}

// runCounters tracks per-run outcomes.
type runCounters struct {
	processed int
	skipped   int
	errors    int
	errList   []string
}

func (rc *runCounters) addError(item string, err error) {
	rc.errors++
	msg := item + ": " + err.Error()
	if len(msg) > perItemErrorMaxLen {
		msg = msg[:perItemErrorMaxLen]
	}
	if len(rc.errList) < maxErrorSummaryCnt {
		rc.errList = append(rc.errList, msg)
	}
}

func (rc *runCounters) summary() string {
	s := strings.Join(rc.errList, "; ")
	if len(s) > maxErrorSummaryLen {
		s = s[:maxErrorSummaryLen]
	}
	return s
}

func (rc *runCounters) outcome() catalog.SyncOutcome {
	if rc.errors > 0 {
		return catalog.SyncPartial
	}
	return catalog.SyncSuccess
}

// RunChanges executes one incremental ingestion pass over the upstream
// change feed: LOAD_CHECKPOINT, FETCH_CHANGE_PAGE, per-change processing,
// ADVANCE_CHECKPOINT, WRITE_LOG.
func (o *Orchestrator) RunChanges(ctx context.Context) (catalog.SyncLog, error) {
	return o.withRunLock(ctx, SourceChanges, func(ctx context.Context, start time.Time) (catalog.SyncLog, error) {
		cp, _, err := o.store.GetCheckpoint(ctx, SourceChanges)
		if err != nil {
			return o.writeFatal(ctx, SourceChanges, start, fmt.Errorf("load checkpoint: %w", err))
		}

		page, err := o.registry.FetchChanges(ctx, cp.LastSeq, o.pageLimit, true)
		if err != nil {
			// Fatal: the checkpoint stays put so the next run retries the
			// same window.
			return o.writeFatal(ctx, SourceChanges, start, fmt.Errorf("fetch change page: %w", err))
		}

		var rc runCounters
		for _, change := range page.Results {
			if change.Deleted {
				// Package removal is an out-of-band administrative action,
				// never a sync-pipeline one.
				rc.skipped++
				o.emit(Event{Kind: EventChangeSkipped, Source: SourceChanges, Package: change.ID})
				continue
			}
			o.processPackage(ctx, SourceChanges, change.ID, catalog.DiscoveryChangesFeed, &rc)
		}

		// Advancing past failed items is deliberate: it bounds worst-case
		// run time over an unbounded backlog. Errored packages are only
		// re-surfaced by the periodic discovery cadence.
		if page.LastSeq != "" {
			if err := o.store.AdvanceCheckpoint(ctx, SourceChanges, page.LastSeq, o.now()); err != nil {
				return o.writeFatal(ctx, SourceChanges, start, fmt.Errorf("advance checkpoint: %w", err))
			}
		}
		return o.writeLog(ctx, SourceChanges, start, &rc, page.LastSeq)
	})
}

// RunKeywordDiscovery re-scans the registry's keyword search for packages
// the change feed may have skipped past.
func (o *Orchestrator) RunKeywordDiscovery(ctx context.Context) (catalog.SyncLog, error) {
	return o.withRunLock(ctx, SourceDiscovery, func(ctx context.Context, start time.Time) (catalog.SyncLog, error) {
		var rc runCounters
		seen := map[string]bool{}
		for _, keyword := range o.keywords {
			names, err := o.registry.SearchPackages(ctx, keyword, o.pageLimit)
			if err != nil {
				rc.addError("search "+keyword, err)
				continue
			}
			for _, name := range names {
				if seen[name] {
					continue
				}
				seen[name] = true
				o.processPackage(ctx, SourceDiscovery, name, catalog.DiscoveryKeywordSearch, &rc)
			}
		}

		seq := strconv.FormatInt(start.Unix(), 10)
		if err := o.store.AdvanceCheckpoint(ctx, SourceDiscovery, seq, o.now()); err != nil {
			return o.writeFatal(ctx, SourceDiscovery, start, fmt.Errorf("advance checkpoint: %w", err))
		}
		return o.writeLog(ctx, SourceDiscovery, start, &rc, seq)
	})
}

// RunMetricsRefresh refreshes download and star counts for known packages
// and recomputes quality scores — a read-modify-write pass with no tool
// reconciliation.
func (o *Orchestrator) RunMetricsRefresh(ctx context.Context) (catalog.SyncLog, error) {
	return o.withRunLock(ctx, SourceMetrics, func(ctx context.Context, start time.Time) (catalog.SyncLog, error) {
		pkgs, err := o.store.ListPackages(ctx)
		if err != nil {
			return o.writeFatal(ctx, SourceMetrics, start, fmt.Errorf("list packages: %w", err))
		}

		var rc runCounters
		for _, pkg := range pkgs {
			meta, err := o.registry.FetchPackageMetadata(ctx, pkg.Name)
			if err != nil {
				rc.addError(pkg.Name, err)
				continue
			}
			if meta == nil {
				rc.skipped++
				continue
			}

			pkg.Downloads = meta.Downloads
			pkg.Stars = meta.Stars
			stored, err := o.store.UpsertPackage(ctx, pkg)
			if err != nil {
				rc.addError(pkg.Name, err)
				continue
			}

			score := catalog.QualityScore(stored.Tier, stored.Downloads, stored.Stars)
			tools, err := o.store.ListToolsByPackage(ctx, stored.ID)
			if err != nil {
				rc.addError(pkg.Name, err)
				continue
			}
			for _, tool := range tools {
				if err := o.store.UpdateToolScore(ctx, tool.ID, score); err != nil {
					rc.addError(pkg.Name+"/"+tool.Name, err)
				}
			}
			rc.processed++
		}

		seq := strconv.FormatInt(start.Unix(), 10)
		if err := o.store.AdvanceCheckpoint(ctx, SourceMetrics, seq, o.now()); err != nil {
			return o.writeFatal(ctx, SourceMetrics, start, fmt.Errorf("advance checkpoint: %w", err))
		}
		return o.writeLog(ctx, SourceMetrics, start, &rc, seq)
	})
}

func (o *Orchestrator) withRunLock(ctx context.Context, source string,
	run func(ctx context.Context, start time.Time) (catalog.SyncLog, error)) (catalog.SyncLog, error) {

	acquired, err := o.store.AcquireRunLock(ctx, source, o.runLockTTL)
	if err != nil {
		return catalog.SyncLog{}, fmt.Errorf("syncer: acquire run lock %s: %w", source, err)
	}
	if !acquired {
		o.logger.Info("sync run skipped, lock held", "source", source)
		return catalog.SyncLog{}, fmt.Errorf("%w: %s", ErrRunLocked, source)
	}
	defer func() {
		// Release even when the run aborted on ctx cancellation, or the
		// source stays locked until the TTL expires.
		if err := o.store.ReleaseRunLock(context.WithoutCancel(ctx), source); err != nil {
			o.logger.Warn("release run lock failed", "source", source, "error", err)
		}
	}()

	start := o.now()
	o.emit(Event{Kind: EventRunStarted, Source: source})
	return run(ctx, start)
}

// processPackage handles one change: FETCH_METADATA, VALIDATE,
// UPSERT_PACKAGE, RECONCILE_TOOLS. Failures increment counters and return;
// they never abort the surrounding run.
func (o *Orchestrator) processPackage(ctx context.Context, source, name string,
	discovery catalog.DiscoveryMethod, rc *runCounters) {

	meta, err := o.registry.FetchPackageMetadata(ctx, name)
	if err != nil {
		rc.addError(name, err)
		o.emit(Event{Kind: EventChangeErrored, Source: source, Package: name, Err: err.Error()})
		return
	}
	if meta == nil {
		rc.skipped++
		o.emit(Event{Kind: EventChangeSkipped, Source: source, Package: name})
		return
	}

	res := metadata.Validate(meta.ToolMetadata)
	if !res.Valid {
		// Absent or malformed metadata is a skip, not an error: most
		// registry packages are simply not tools.
		rc.skipped++
		o.logger.Debug("metadata invalid", "package", name, "reason", res.Reason)
		o.emit(Event{Kind: EventChangeSkipped, Source: source, Package: name})
		return
	}

	pkg, err := o.store.UpsertPackage(ctx, catalog.Package{
		Name:        meta.Name,
		Version:     meta.Version,
		Description: meta.Description,
		Homepage:    meta.Homepage,
		License:     meta.License,
		Repository:  meta.Repository,
		Keywords:    meta.Keywords,
		Readme:      meta.Readme,
		Author:      meta.Author,
		Maintainers: meta.Maintainers,
		Category:    res.Category,
		Tier:        res.Tier,
		Discovery:   discovery,
		Downloads:   meta.Downloads,
		Stars:       meta.Stars,
	})
	if err != nil {
		rc.addError(name, err)
		o.emit(Event{Kind: EventChangeErrored, Source: source, Package: name, Err: err.Error()})
		return
	}

	if err := o.reconcileTools(ctx, source, pkg, res); err != nil {
		rc.addError(name, err)
		o.emit(Event{Kind: EventChangeErrored, Source: source, Package: name, Err: err.Error()})
		return
	}

	rc.processed++
	o.emit(Event{Kind: EventChangeApplied, Source: source, Package: name})
}

// reconcileTools makes the stored tool set match the package's current
// authoritative set: declared tools, or sandbox-discovered exports when the
// validator flagged auto-discovery. Tools missing from the authoritative
// set are orphans and are deleted.
func (o *Orchestrator) reconcileTools(ctx context.Context, source string,
	pkg catalog.Package, res metadata.Result) error {

	before, err := o.store.ListToolsByPackage(ctx, pkg.ID)
	if err != nil {
		return fmt.Errorf("list existing tools: %w", err)
	}

	defs, toolSource, err := o.authoritativeSet(ctx, pkg, res)
	if err != nil {
		return err
	}

	kept := make(map[string]bool, len(defs))
	var upserted []catalog.Tool
	for _, def := range defs {
		if def.Name == "" {
			return errors.New("tool definition has no name")
		}
		kept[def.Name] = true

		tool := catalog.Tool{
			PackageID:   pkg.ID,
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
			Source:      toolSource,
		}
		o.extractSchema(ctx, pkg, &tool)

		stored, err := o.store.UpsertTool(ctx, tool)
		if err != nil {
			return fmt.Errorf("upsert tool %s: %w", def.Name, err)
		}
		upserted = append(upserted, stored)

		if o.healthCheck != nil {
			// Fire-and-forget; the checker owns completion and errors.
			o.healthCheck(stored.ID)
			o.emit(Event{Kind: EventHealthQueued, Source: source, Package: pkg.Name})
		}
	}

	var orphans []string
	for _, tool := range before {
		if !kept[tool.Name] {
			orphans = append(orphans, tool.ID)
		}
	}
	if len(orphans) > 0 {
		if err := o.store.DeleteTools(ctx, orphans); err != nil {
			return fmt.Errorf("delete orphan tools: %w", err)
		}
		o.emit(Event{Kind: EventOrphansDeleted, Source: source, Package: pkg.Name, Count: len(orphans)})
	}

	if o.index != nil {
		if len(orphans) > 0 {
			if err := o.index.RemoveTools(orphans); err != nil {
				o.logger.Warn("search index remove failed", "package", pkg.Name, "error", err)
			}
		}
		if err := o.index.IndexPackage(pkg, upserted); err != nil {
			o.logger.Warn("search index update failed", "package", pkg.Name, "error", err)
		}
	}
	return nil
}

// authoritativeSet resolves the tool list to reconcile against: the
// declared list, or sandbox export inspection when discovery was flagged.
func (o *Orchestrator) authoritativeSet(ctx context.Context, pkg catalog.Package,
	res metadata.Result) ([]metadata.ToolDef, catalog.ToolSource, error) {

	if !res.NeedsDiscovery {
		return res.Tools, catalog.ToolSourceManual, nil
	}

	listed, err := o.sandbox.ListExports(ctx, pkg.Name, pkg.Version)
	if err != nil {
		return nil, "", fmt.Errorf("list exports: %w", err)
	}
	if !listed.Success {
		return nil, "", fmt.Errorf("list exports: %s", listed.Error)
	}

	var defs []metadata.ToolDef
	for _, export := range listed.Tools {
		if !export.IsValidTool {
			continue
		}
		defs = append(defs, metadata.ToolDef{
			Name:        export.Name,
			Description: export.Description,
		})
	}
	return defs, catalog.ToolSourceAuto, nil
}

// extractSchema runs sandboxed schema extraction for one tool and sets the
// schema fields in place. Extraction failure degrades the schema source; it
// is never fatal to the tool's existence.
func (o *Orchestrator) extractSchema(ctx context.Context, pkg catalog.Package, tool *catalog.Tool) {
	extracted, err := o.sandbox.ExtractSchema(ctx, pkg.Name, tool.Name, pkg.Version)
	if err == nil && extracted.Success && validSchema(extracted.InputSchema) {
		tool.InputSchema = extracted.InputSchema
		tool.SchemaSource = catalog.SchemaSourceExtracted
		tool.SchemaAt = o.now()
		// The extracted schema is authoritative for the parameter list too.
		tool.Parameters = extracted.InputSchema
		if tool.Description == "" && extracted.Description != "" {
			tool.Description = extracted.Description
		}
		return
	}

	if len(tool.Parameters) > 0 {
		tool.SchemaSource = catalog.SchemaSourceAuthor
	} else {
		tool.SchemaSource = catalog.SchemaSourceNone
	}
	if err != nil {
		o.logger.Debug("schema extraction failed", "package", pkg.Name, "tool", tool.Name, "error", err)
	}
}

// validSchema reports whether extracted bytes compile as a JSON Schema. A
// schema the sandbox returns but that does not compile is treated the same
// as an extraction failure.
func validSchema(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	_, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	return err == nil
}

func (o *Orchestrator) writeLog(ctx context.Context, source string, start time.Time,
	rc *runCounters, lastSeq string) (catalog.SyncLog, error) {

	log := catalog.SyncLog{
		ID:           uuid.NewString(),
		Source:       source,
		Outcome:      rc.outcome(),
		Processed:    rc.processed,
		Skipped:      rc.skipped,
		Errors:       rc.errors,
		ErrorSummary: rc.summary(),
		Duration:     o.now().Sub(start),
		LastSeq:      lastSeq,
		CreatedAt:    o.now(),
	}
	if err := o.store.AppendSyncLog(ctx, log); err != nil {
		return log, fmt.Errorf("syncer: append sync log: %w", err)
	}

	o.logger.Info("sync run finished",
		"source", source, "outcome", string(log.Outcome),
		"processed", log.Processed, "skipped", log.Skipped,
		"errors", log.Errors, "duration", log.Duration)
	o.emit(Event{Kind: EventRunFinished, Source: source, Outcome: log.Outcome,
		Count: log.Processed, Elapsed: log.Duration})
	return log, nil
}

// writeFatal records an aborted run. The checkpoint is left untouched.
func (o *Orchestrator) writeFatal(ctx context.Context, source string, start time.Time,
	cause error) (catalog.SyncLog, error) {

	log := catalog.SyncLog{
		ID:           uuid.NewString(),
		Source:       source,
		Outcome:      catalog.SyncError,
		ErrorSummary: truncateSummary(cause.Error()),
		Duration:     o.now().Sub(start),
		CreatedAt:    o.now(),
	}
	if err := o.store.AppendSyncLog(ctx, log); err != nil {
		o.logger.Error("append error sync log failed", "source", source, "error", err)
	}

	o.logger.Error("sync run aborted", "source", source, "error", cause)
	o.emit(Event{Kind: EventRunFinished, Source: source, Outcome: catalog.SyncError,
		Elapsed: log.Duration, Err: cause.Error()})
	return log, fmt.Errorf("syncer: %s run: %w", source, cause)
}

func truncateSummary(s string) string {
	if len(s) > maxErrorSummaryLen {
		return s[:maxErrorSummaryLen]
	}
	return s
}
