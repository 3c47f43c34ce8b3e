package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory catalog store. It backs tests and ephemeral
// runs; semantics match SQLiteStore.
type MemoryStore struct {
	mu          sync.RWMutex
	packages    map[string]Package // keyed by name
	tools       map[string]Tool    // keyed by id
	checkpoints map[string]SyncCheckpoint
	logs        []SyncLog
	locks       map[string]time.Time
}

// NewMemoryStore creates an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages:    make(map[string]Package),
		tools:       make(map[string]Tool),
		checkpoints: make(map[string]SyncCheckpoint),
		locks:       make(map[string]time.Time),
	}
}

// UpsertPackage inserts or updates a package keyed by name.
func (s *MemoryStore) UpsertPackage(ctx context.Context, pkg Package) (Package, error) {
	if err := ctx.Err(); err != nil {
		return Package{}, err
	}
	if strings.TrimSpace(pkg.Name) == "" {
		return Package{}, errors.New("catalog: package name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.packages[pkg.Name]; ok {
		pkg.ID = existing.ID
		pkg.CreatedAt = existing.CreatedAt
	} else {
		if pkg.ID == "" {
			pkg.ID = uuid.NewString()
		}
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now
	if pkg.Tier == "" {
		pkg.Tier = TierMinimal
	}
	if pkg.Discovery == "" {
		pkg.Discovery = DiscoveryChangesFeed
	}
	s.packages[pkg.Name] = pkg
	return pkg, nil
}

// GetPackage returns a package by name.
func (s *MemoryStore) GetPackage(ctx context.Context, name string) (Package, bool, error) {
	if err := ctx.Err(); err != nil {
		return Package{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packages[name]
	return pkg, ok, nil
}

// GetPackageByID returns a package by id.
func (s *MemoryStore) GetPackageByID(ctx context.Context, id string) (Package, bool, error) {
	if err := ctx.Err(); err != nil {
		return Package{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pkg := range s.packages {
		if pkg.ID == id {
			return pkg, true, nil
		}
	}
	return Package{}, false, nil
}

// ListPackages returns all packages in name order.
func (s *MemoryStore) ListPackages(ctx context.Context) ([]Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.packages))
	for name := range s.packages {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Package, 0, len(names))
	for _, name := range names {
		out = append(out, s.packages[name])
	}
	return out, nil
}

// UpsertTool inserts or updates a tool keyed by (PackageID, Name).
func (s *MemoryStore) UpsertTool(ctx context.Context, tool Tool) (Tool, error) {
	if err := ctx.Err(); err != nil {
		return Tool{}, err
	}
	if strings.TrimSpace(tool.PackageID) == "" || strings.TrimSpace(tool.Name) == "" {
		return Tool{}, errors.New("catalog: tool package id and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var existing *Tool
	for id := range s.tools {
		t := s.tools[id]
		if t.PackageID == tool.PackageID && t.Name == tool.Name {
			existing = &t
			break
		}
	}
	if existing != nil {
		tool.ID = existing.ID
		tool.CreatedAt = existing.CreatedAt
		if tool.ImportHealth == "" {
			tool.ImportHealth = existing.ImportHealth
		}
		if tool.ExecutionHealth == "" {
			tool.ExecutionHealth = existing.ExecutionHealth
		}
		if tool.HealthCheckError == "" {
			tool.HealthCheckError = existing.HealthCheckError
		}
		if tool.LastHealthCheck.IsZero() {
			tool.LastHealthCheck = existing.LastHealthCheck
		}
		if tool.QualityScore == nil {
			tool.QualityScore = existing.QualityScore
		}
	} else {
		if tool.ID == "" {
			tool.ID = uuid.NewString()
		}
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now
	if tool.SchemaSource == "" {
		tool.SchemaSource = SchemaSourceNone
	}
	if tool.Source == "" {
		tool.Source = ToolSourceManual
	}
	if tool.ImportHealth == "" {
		tool.ImportHealth = HealthUnknown
	}
	if tool.ExecutionHealth == "" {
		tool.ExecutionHealth = HealthUnknown
	}
	s.tools[tool.ID] = tool
	return tool, nil
}

// GetTool returns a tool by id.
func (s *MemoryStore) GetTool(ctx context.Context, id string) (Tool, bool, error) {
	if err := ctx.Err(); err != nil {
		return Tool{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tool, ok := s.tools[id]
	return tool, ok, nil
}

// ListToolsByPackage returns a package's tools in name order.
func (s *MemoryStore) ListToolsByPackage(ctx context.Context, packageID string) ([]Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tools []Tool
	for _, tool := range s.tools {
		if tool.PackageID == packageID {
			tools = append(tools, tool)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

// DeleteTools removes tools by id. Missing ids are a no-op.
func (s *MemoryStore) DeleteTools(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.tools, id)
	}
	return nil
}

// UpdateToolHealth writes the result of one health check.
func (s *MemoryStore) UpdateToolHealth(ctx context.Context, toolID string, upd HealthUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tool, ok := s.tools[toolID]
	if !ok {
		return nil
	}
	tool.ImportHealth = upd.ImportHealth
	tool.ExecutionHealth = upd.ExecutionHealth
	tool.HealthCheckError = upd.Error
	tool.LastHealthCheck = upd.CheckedAt
	tool.UpdatedAt = time.Now().UTC()
	s.tools[toolID] = tool
	return nil
}

// UpdateToolScore writes a recomputed quality score.
func (s *MemoryStore) UpdateToolScore(ctx context.Context, toolID string, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tool, ok := s.tools[toolID]
	if !ok {
		return nil
	}
	tool.QualityScore = &score
	tool.UpdatedAt = time.Now().UTC()
	s.tools[toolID] = tool
	return nil
}

// GetCheckpoint returns the checkpoint for a sync source.
func (s *MemoryStore) GetCheckpoint(ctx context.Context, source string) (SyncCheckpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return SyncCheckpoint{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[source]
	return cp, ok, nil
}

// AdvanceCheckpoint moves a source's cursor forward, never backward.
func (s *MemoryStore) AdvanceCheckpoint(ctx context.Context, source, seq string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(source) == "" {
		return errors.New("catalog: checkpoint source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.checkpoints[source]; ok && !seqAdvances(existing.LastSeq, seq) {
		return nil
	}
	s.checkpoints[source] = SyncCheckpoint{Source: source, LastSeq: seq, LastRunAt: at.UTC()}
	return nil
}

// AppendSyncLog records one run.
func (s *MemoryStore) AppendSyncLog(ctx context.Context, log SyncLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

// ListSyncLogs returns the most recent runs for a source, newest first.
func (s *MemoryStore) ListSyncLogs(ctx context.Context, source string, limit int) ([]SyncLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SyncLog
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if source != "" && s.logs[i].Source != source {
			continue
		}
		out = append(out, s.logs[i])
	}
	return out, nil
}

// AcquireRunLock takes the per-source advisory lock. Expired locks are stolen.
func (s *MemoryStore) AcquireRunLock(ctx context.Context, source string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if expires, ok := s.locks[source]; ok && now.Before(expires) {
		return false, nil
	}
	s.locks[source] = now.Add(ttl)
	return true, nil
}

// ReleaseRunLock drops the per-source lock.
func (s *MemoryStore) ReleaseRunLock(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, source)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
