package catalog

import (
	"context"
	"strconv"
	"time"
)

// Store is the persistence boundary for the catalog. Upserts are the
// idempotency mechanism the sync pipeline relies on: re-applying the same
// change converges to the same row state (last-write-wins), never a
// duplicate row.
type Store interface {
	// UpsertPackage inserts or updates a package keyed by Name. The stored
	// row (with ID and CreatedAt filled) is returned.
	UpsertPackage(ctx context.Context, pkg Package) (Package, error)
	GetPackage(ctx context.Context, name string) (Package, bool, error)
	GetPackageByID(ctx context.Context, id string) (Package, bool, error)
	ListPackages(ctx context.Context) ([]Package, error)

	// UpsertTool inserts or updates a tool keyed by (PackageID, Name).
	UpsertTool(ctx context.Context, tool Tool) (Tool, error)
	GetTool(ctx context.Context, id string) (Tool, bool, error)
	ListToolsByPackage(ctx context.Context, packageID string) ([]Tool, error)
	// DeleteTools removes tools by id. Missing ids are ignored.
	DeleteTools(ctx context.Context, ids []string) error
	UpdateToolHealth(ctx context.Context, toolID string, upd HealthUpdate) error
	UpdateToolScore(ctx context.Context, toolID string, score float64) error

	GetCheckpoint(ctx context.Context, source string) (SyncCheckpoint, bool, error)
	// AdvanceCheckpoint moves the cursor for source forward to seq. A seq
	// behind the stored cursor is ignored; LastSeq never decreases.
	AdvanceCheckpoint(ctx context.Context, source, seq string, at time.Time) error

	// AppendSyncLog records one run. Sync logs are insert-only.
	AppendSyncLog(ctx context.Context, log SyncLog) error
	ListSyncLogs(ctx context.Context, source string, limit int) ([]SyncLog, error)

	// AcquireRunLock takes the per-source advisory lock. It returns false
	// without error when another run holds a live lock. Expired locks are
	// stolen.
	AcquireRunLock(ctx context.Context, source string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, source string) error

	Close() error
}

// seqAdvances reports whether next moves the cursor forward from prev.
// Cursors are opaque, but the upstream feed emits numeric sequence numbers;
// compare numerically when both sides parse, lexically otherwise.
func seqAdvances(prev, next string) bool {
	if next == "" {
		return false
	}
	if prev == "" {
		return true
	}
	pn, perr := strconv.ParseInt(prev, 10, 64)
	nn, nerr := strconv.ParseInt(next, 10, 64)
	if perr == nil && nerr == nil {
		return nn >= pn
	}
	return next >= prev
}
