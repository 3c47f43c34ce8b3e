package catalog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteCatalogStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStorePackageUpsertIsIdempotent(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	pkg := Package{
		Name:        "weather-tools",
		Version:     "1.2.0",
		Description: "forecast helpers",
		Keywords:    []string{"weather", "forecast"},
		Tier:        TierBasic,
		Discovery:   DiscoveryChangesFeed,
		Downloads:   1200,
		Stars:       34,
	}

	first, err := store.UpsertPackage(ctx, pkg)
	if err != nil {
		t.Fatalf("UpsertPackage() error = %v", err)
	}
	second, err := store.UpsertPackage(ctx, pkg)
	if err != nil {
		t.Fatalf("UpsertPackage() second error = %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("re-upsert changed ID: %q then %q", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("re-upsert changed CreatedAt: %v then %v", first.CreatedAt, second.CreatedAt)
	}

	all, err := store.ListPackages(ctx)
	if err != nil {
		t.Fatalf("ListPackages() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListPackages() len = %d, want 1", len(all))
	}
	if got := all[0]; got.Version != "1.2.0" || got.Keywords[1] != "forecast" {
		t.Fatalf("stored package = %+v", got)
	}
}

func TestSQLiteStorePackageUpsertUpdatesFields(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	if _, err := store.UpsertPackage(ctx, Package{Name: "pkg", Version: "1.0.0", Tier: TierMinimal}); err != nil {
		t.Fatalf("UpsertPackage() error = %v", err)
	}
	if _, err := store.UpsertPackage(ctx, Package{Name: "pkg", Version: "2.0.0", Tier: TierRich, Downloads: 99}); err != nil {
		t.Fatalf("UpsertPackage() update error = %v", err)
	}

	got, ok, err := store.GetPackage(ctx, "pkg")
	if err != nil {
		t.Fatalf("GetPackage() error = %v", err)
	}
	if !ok {
		t.Fatal("GetPackage() ok = false, want true")
	}
	if got.Version != "2.0.0" || got.Tier != TierRich || got.Downloads != 99 {
		t.Fatalf("updated package = %+v", got)
	}
}

func TestSQLiteStoreToolUpsertKeyedByPackageAndName(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	pkg, err := store.UpsertPackage(ctx, Package{Name: "pkg", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("UpsertPackage() error = %v", err)
	}

	tool := Tool{
		PackageID:    pkg.ID,
		Name:         "get_forecast",
		Description:  "returns a forecast",
		Parameters:   json.RawMessage(`{"type":"object"}`),
		SchemaSource: SchemaSourceAuthor,
	}
	first, err := store.UpsertTool(ctx, tool)
	if err != nil {
		t.Fatalf("UpsertTool() error = %v", err)
	}

	tool.Description = "returns a 7-day forecast"
	second, err := store.UpsertTool(ctx, tool)
	if err != nil {
		t.Fatalf("UpsertTool() second error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("re-upsert changed tool ID: %q then %q", first.ID, second.ID)
	}

	tools, err := store.ListToolsByPackage(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("ListToolsByPackage() error = %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("ListToolsByPackage() len = %d, want 1", len(tools))
	}
	if tools[0].Description != "returns a 7-day forecast" {
		t.Fatalf("Description = %q", tools[0].Description)
	}
	if tools[0].ImportHealth != HealthUnknown || tools[0].ExecutionHealth != HealthUnknown {
		t.Fatalf("new tool health = %s/%s, want unknown/unknown", tools[0].ImportHealth, tools[0].ExecutionHealth)
	}
}

func TestSQLiteStoreToolUpsertPreservesHealthAndScore(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	pkg, _ := store.UpsertPackage(ctx, Package{Name: "pkg", Version: "1.0.0"})
	tool, err := store.UpsertTool(ctx, Tool{PackageID: pkg.ID, Name: "a"})
	if err != nil {
		t.Fatalf("UpsertTool() error = %v", err)
	}

	checkedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.UpdateToolHealth(ctx, tool.ID, HealthUpdate{
		ImportHealth:    HealthHealthy,
		ExecutionHealth: HealthBroken,
		Error:           "boom",
		CheckedAt:       checkedAt,
	}); err != nil {
		t.Fatalf("UpdateToolHealth() error = %v", err)
	}
	if err := store.UpdateToolScore(ctx, tool.ID, 0.55); err != nil {
		t.Fatalf("UpdateToolScore() error = %v", err)
	}

	// A sync-path upsert that says nothing about health must not reset it.
	if _, err := store.UpsertTool(ctx, Tool{PackageID: pkg.ID, Name: "a", Description: "updated"}); err != nil {
		t.Fatalf("UpsertTool() after health error = %v", err)
	}

	got, ok, err := store.GetTool(ctx, tool.ID)
	if err != nil || !ok {
		t.Fatalf("GetTool() = %v, %v", ok, err)
	}
	if got.ImportHealth != HealthHealthy || got.ExecutionHealth != HealthBroken {
		t.Fatalf("health after upsert = %s/%s", got.ImportHealth, got.ExecutionHealth)
	}
	if got.HealthCheckError != "boom" {
		t.Fatalf("HealthCheckError = %q", got.HealthCheckError)
	}
	if !got.LastHealthCheck.Equal(checkedAt) {
		t.Fatalf("LastHealthCheck = %v, want %v", got.LastHealthCheck, checkedAt)
	}
	if got.QualityScore == nil || *got.QualityScore != 0.55 {
		t.Fatalf("QualityScore = %v, want 0.55", got.QualityScore)
	}
}

func TestSQLiteStoreDeleteTools(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	pkg, _ := store.UpsertPackage(ctx, Package{Name: "pkg", Version: "1.0.0"})
	a, _ := store.UpsertTool(ctx, Tool{PackageID: pkg.ID, Name: "a"})
	b, _ := store.UpsertTool(ctx, Tool{PackageID: pkg.ID, Name: "b"})
	c, _ := store.UpsertTool(ctx, Tool{PackageID: pkg.ID, Name: "c"})

	if err := store.DeleteTools(ctx, []string{b.ID, "missing-id"}); err != nil {
		t.Fatalf("DeleteTools() error = %v", err)
	}

	tools, err := store.ListToolsByPackage(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("ListToolsByPackage() error = %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("remaining tools = %d, want 2", len(tools))
	}
	if tools[0].ID != a.ID || tools[1].ID != c.ID {
		t.Fatalf("remaining tool ids = %q, %q", tools[0].ID, tools[1].ID)
	}
}

func TestSQLiteStoreCheckpointMonotone(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.AdvanceCheckpoint(ctx, "changes-feed", "100", now); err != nil {
		t.Fatalf("AdvanceCheckpoint() error = %v", err)
	}
	// A stale cursor must not move the checkpoint backward.
	if err := store.AdvanceCheckpoint(ctx, "changes-feed", "50", now); err != nil {
		t.Fatalf("AdvanceCheckpoint() stale error = %v", err)
	}

	cp, ok, err := store.GetCheckpoint(ctx, "changes-feed")
	if err != nil || !ok {
		t.Fatalf("GetCheckpoint() = %v, %v", ok, err)
	}
	if cp.LastSeq != "100" {
		t.Fatalf("LastSeq = %q, want 100", cp.LastSeq)
	}

	if err := store.AdvanceCheckpoint(ctx, "changes-feed", "250", now); err != nil {
		t.Fatalf("AdvanceCheckpoint() forward error = %v", err)
	}
	cp, _, _ = store.GetCheckpoint(ctx, "changes-feed")
	if cp.LastSeq != "250" {
		t.Fatalf("LastSeq = %q, want 250", cp.LastSeq)
	}
}

func TestSQLiteStoreSyncLogsNewestFirst(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	for i, outcome := range []SyncOutcome{SyncSuccess, SyncPartial, SyncError} {
		if err := store.AppendSyncLog(ctx, SyncLog{
			Source:    "changes-feed",
			Outcome:   outcome,
			Processed: i,
			Duration:  time.Duration(i) * time.Second,
		}); err != nil {
			t.Fatalf("AppendSyncLog() error = %v", err)
		}
	}

	logs, err := store.ListSyncLogs(ctx, "changes-feed", 2)
	if err != nil {
		t.Fatalf("ListSyncLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("ListSyncLogs() len = %d, want 2", len(logs))
	}
	if logs[0].Outcome != SyncError || logs[1].Outcome != SyncPartial {
		t.Fatalf("order = %s, %s; want error, partial", logs[0].Outcome, logs[1].Outcome)
	}
}

func TestSQLiteStoreRunLockExcludesSameInstance(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	ok, err := store.AcquireRunLock(ctx, "changes-feed", time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock() error = %v", err)
	}
	if !ok {
		t.Fatal("first AcquireRunLock() = false, want true")
	}

	// The shared serve-mode store must not re-acquire its own live lock:
	// a manual run racing a scheduled run goes through one instance.
	ok, err = store.AcquireRunLock(ctx, "changes-feed", time.Minute)
	if err != nil {
		t.Fatalf("second AcquireRunLock() error = %v", err)
	}
	if ok {
		t.Fatal("second AcquireRunLock() = true, want false while held by same instance")
	}

	// An unrelated source is not affected.
	ok, err = store.AcquireRunLock(ctx, "keyword-search", time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock(keyword-search) error = %v", err)
	}
	if !ok {
		t.Fatal("AcquireRunLock(keyword-search) = false, want true")
	}

	if err := store.ReleaseRunLock(ctx, "changes-feed"); err != nil {
		t.Fatalf("ReleaseRunLock() error = %v", err)
	}
	ok, err = store.AcquireRunLock(ctx, "changes-feed", time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock() after release error = %v", err)
	}
	if !ok {
		t.Fatal("AcquireRunLock() after release = false, want true")
	}
}

func TestSQLiteStoreRunLockExpiredLockIsStolen(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	ok, err := store.AcquireRunLock(ctx, "changes-feed", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireRunLock() error = %v", err)
	}
	if !ok {
		t.Fatal("AcquireRunLock() = false, want true")
	}

	time.Sleep(20 * time.Millisecond)
	ok, err = store.AcquireRunLock(ctx, "changes-feed", time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock() after expiry error = %v", err)
	}
	if !ok {
		t.Fatal("AcquireRunLock() after expiry = false, want steal")
	}
}

func TestSQLiteStoreRunLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.db")
	first, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer first.Close()
	second, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() second error = %v", err)
	}
	defer second.Close()

	ctx := context.Background()
	ok, err := first.AcquireRunLock(ctx, "changes-feed", time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock() error = %v", err)
	}
	if !ok {
		t.Fatal("first AcquireRunLock() = false, want true")
	}

	ok, err = second.AcquireRunLock(ctx, "changes-feed", time.Minute)
	if err != nil {
		t.Fatalf("second AcquireRunLock() error = %v", err)
	}
	if ok {
		t.Fatal("second AcquireRunLock() = true, want false while held")
	}

	if err := first.ReleaseRunLock(ctx, "changes-feed"); err != nil {
		t.Fatalf("ReleaseRunLock() error = %v", err)
	}
	ok, err = second.AcquireRunLock(ctx, "changes-feed", time.Minute)
	if err != nil {
		t.Fatalf("AcquireRunLock() after release error = %v", err)
	}
	if !ok {
		t.Fatal("AcquireRunLock() after release = false, want true")
	}
}
