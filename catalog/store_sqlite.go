package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const catalogSQLiteSchema = `
CREATE TABLE IF NOT EXISTS packages (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	version TEXT NOT NULL,
	description TEXT,
	homepage TEXT,
	license TEXT,
	repository TEXT,
	keywords BLOB,
	readme TEXT,
	author TEXT,
	maintainers BLOB,
	category TEXT,
	tier TEXT NOT NULL,
	discovery TEXT NOT NULL,
	official INTEGER NOT NULL DEFAULT 0,
	downloads INTEGER NOT NULL DEFAULT 0,
	stars INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tools (
	id TEXT PRIMARY KEY,
	package_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	parameters BLOB,
	input_schema BLOB,
	schema_source TEXT NOT NULL,
	schema_at TEXT,
	source TEXT NOT NULL,
	quality_score REAL,
	import_health TEXT NOT NULL,
	execution_health TEXT NOT NULL,
	health_check_error TEXT,
	last_health_check TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(package_id, name),
	FOREIGN KEY(package_id) REFERENCES packages(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tools_package ON tools(package_id);

CREATE TABLE IF NOT EXISTS sync_checkpoints (
	source TEXT PRIMARY KEY,
	last_seq TEXT NOT NULL,
	last_run_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_logs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	outcome TEXT NOT NULL,
	processed INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	error_summary TEXT,
	duration_ms INTEGER NOT NULL,
	last_seq TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_logs_source ON sync_logs(source, seq);

CREATE TABLE IF NOT EXISTS sync_locks (
	source TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	expires_at TEXT NOT NULL
);`

// SQLiteStoreConfig configures the SQLite-backed catalog store.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists the catalog in SQLite.
type SQLiteStore struct {
	db *sql.DB

	// lockMu guards lockTokens, the per-source tokens of run locks this
	// instance currently holds. A fresh token per acquisition keeps one
	// instance from re-acquiring its own live lock.
	lockMu     sync.Mutex
	lockTokens map[string]string
}

// NewSQLiteStore opens (or creates) a SQLite-backed catalog store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("catalog: sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: sqlite store enable foreign keys: %w", err)
	}
	if _, err := db.Exec(catalogSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db, lockTokens: make(map[string]string)}, nil
}

// UpsertPackage inserts or updates a package keyed by name.
func (s *SQLiteStore) UpsertPackage(ctx context.Context, pkg Package) (Package, error) {
	if err := ctx.Err(); err != nil {
		return Package{}, err
	}
	if s == nil || s.db == nil {
		return Package{}, errors.New("catalog: sqlite store is nil")
	}
	if strings.TrimSpace(pkg.Name) == "" {
		return Package{}, errors.New("catalog: package name is required")
	}

	existing, found, err := s.GetPackage(ctx, pkg.Name)
	if err != nil {
		return Package{}, err
	}

	now := time.Now().UTC()
	if found {
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

	keywords, err := encodeJSONList(pkg.Keywords)
	if err != nil {
		return Package{}, fmt.Errorf("catalog: encode keywords for %s: %w", pkg.Name, err)
	}
	maintainers, err := encodeJSONList(pkg.Maintainers)
	if err != nil {
		return Package{}, fmt.Errorf("catalog: encode maintainers for %s: %w", pkg.Name, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO packages (
	id, name, version, description, homepage, license, repository, keywords,
	readme, author, maintainers, category, tier, discovery, official,
	downloads, stars, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	version = excluded.version,
	description = excluded.description,
	homepage = excluded.homepage,
	license = excluded.license,
	repository = excluded.repository,
	keywords = excluded.keywords,
	readme = excluded.readme,
	author = excluded.author,
	maintainers = excluded.maintainers,
	category = excluded.category,
	tier = excluded.tier,
	discovery = excluded.discovery,
	official = excluded.official,
	downloads = excluded.downloads,
	stars = excluded.stars,
	updated_at = excluded.updated_at`,
		pkg.ID, pkg.Name, pkg.Version, pkg.Description, pkg.Homepage,
		pkg.License, pkg.Repository, keywords, pkg.Readme, pkg.Author,
		maintainers, pkg.Category, string(pkg.Tier), string(pkg.Discovery),
		boolToInt(pkg.Official), pkg.Downloads, pkg.Stars,
		pkg.CreatedAt.Format(time.RFC3339Nano), pkg.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Package{}, fmt.Errorf("catalog: sqlite upsert package %s: %w", pkg.Name, err)
	}
	return pkg, nil
}

const packageColumns = `
	id, name, version, description, homepage, license, repository, keywords,
	readme, author, maintainers, category, tier, discovery, official,
	downloads, stars, created_at, updated_at`

// GetPackage returns a package by name.
func (s *SQLiteStore) GetPackage(ctx context.Context, name string) (Package, bool, error) {
	return s.getPackageWhere(ctx, "name = ?", name)
}

// GetPackageByID returns a package by id.
func (s *SQLiteStore) GetPackageByID(ctx context.Context, id string) (Package, bool, error) {
	return s.getPackageWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) getPackageWhere(ctx context.Context, where string, arg any) (Package, bool, error) {
	if err := ctx.Err(); err != nil {
		return Package{}, false, err
	}
	if s == nil || s.db == nil {
		return Package{}, false, errors.New("catalog: sqlite store is nil")
	}

	row := s.db.QueryRowContext(ctx, "SELECT"+packageColumns+" FROM packages WHERE "+where, arg)
	pkg, err := scanPackage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Package{}, false, nil
		}
		return Package{}, false, fmt.Errorf("catalog: sqlite get package: %w", err)
	}
	return pkg, true, nil
}

// ListPackages returns all packages in name order.
func (s *SQLiteStore) ListPackages(ctx context.Context) ([]Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("catalog: sqlite store is nil")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT"+packageColumns+" FROM packages ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite list packages: %w", err)
	}
	defer rows.Close()

	var pkgs []Package
	for rows.Next() {
		pkg, err := scanPackage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("catalog: sqlite scan package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: sqlite package rows: %w", err)
	}
	return pkgs, nil
}

func scanPackage(scan func(dest ...any) error) (Package, error) {
	var (
		pkg                      Package
		keywords, maintainers    []byte
		official                 int
		createdAt, updatedAt     string
		tier, discovery          string
		desc, home, lic, repo    sql.NullString
		readme, author, category sql.NullString
	)
	err := scan(
		&pkg.ID, &pkg.Name, &pkg.Version, &desc, &home, &lic, &repo,
		&keywords, &readme, &author, &maintainers, &category, &tier,
		&discovery, &official, &pkg.Downloads, &pkg.Stars, &createdAt, &updatedAt,
	)
	if err != nil {
		return Package{}, err
	}
	pkg.Description = desc.String
	pkg.Homepage = home.String
	pkg.License = lic.String
	pkg.Repository = repo.String
	pkg.Readme = readme.String
	pkg.Author = author.String
	pkg.Category = category.String
	pkg.Tier = Tier(tier)
	pkg.Discovery = DiscoveryMethod(discovery)
	pkg.Official = official != 0
	if err := decodeJSONList(keywords, &pkg.Keywords); err != nil {
		return Package{}, err
	}
	if err := decodeJSONList(maintainers, &pkg.Maintainers); err != nil {
		return Package{}, err
	}
	pkg.CreatedAt = parseStoredTime(createdAt)
	pkg.UpdatedAt = parseStoredTime(updatedAt)
	return pkg, nil
}

// UpsertTool inserts or updates a tool keyed by (package_id, name).
func (s *SQLiteStore) UpsertTool(ctx context.Context, tool Tool) (Tool, error) {
	if err := ctx.Err(); err != nil {
		return Tool{}, err
	}
	if s == nil || s.db == nil {
		return Tool{}, errors.New("catalog: sqlite store is nil")
	}
	if strings.TrimSpace(tool.PackageID) == "" || strings.TrimSpace(tool.Name) == "" {
		return Tool{}, errors.New("catalog: tool package id and name are required")
	}

	existing, found, err := s.getToolByKey(ctx, tool.PackageID, tool.Name)
	if err != nil {
		return Tool{}, err
	}

	now := time.Now().UTC()
	if found {
		tool.ID = existing.ID
		tool.CreatedAt = existing.CreatedAt
		// Health state is owned by the health service; an upsert from the
		// sync path must not reset it.
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

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tools (
	id, package_id, name, description, parameters, input_schema,
	schema_source, schema_at, source, quality_score, import_health,
	execution_health, health_check_error, last_health_check, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(package_id, name) DO UPDATE SET
	description = excluded.description,
	parameters = excluded.parameters,
	input_schema = excluded.input_schema,
	schema_source = excluded.schema_source,
	schema_at = excluded.schema_at,
	source = excluded.source,
	quality_score = excluded.quality_score,
	import_health = excluded.import_health,
	execution_health = excluded.execution_health,
	health_check_error = excluded.health_check_error,
	last_health_check = excluded.last_health_check,
	updated_at = excluded.updated_at`,
		tool.ID, tool.PackageID, tool.Name, tool.Description,
		[]byte(tool.Parameters), []byte(tool.InputSchema),
		string(tool.SchemaSource), formatStoredTime(tool.SchemaAt), string(tool.Source),
		tool.QualityScore, string(tool.ImportHealth), string(tool.ExecutionHealth),
		tool.HealthCheckError, formatStoredTime(tool.LastHealthCheck),
		tool.CreatedAt.Format(time.RFC3339Nano), tool.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Tool{}, fmt.Errorf("catalog: sqlite upsert tool %s/%s: %w", tool.PackageID, tool.Name, err)
	}
	return tool, nil
}

const toolColumns = `
	id, package_id, name, description, parameters, input_schema,
	schema_source, schema_at, source, quality_score, import_health,
	execution_health, health_check_error, last_health_check, created_at, updated_at`

// GetTool returns a tool by id.
func (s *SQLiteStore) GetTool(ctx context.Context, id string) (Tool, bool, error) {
	return s.getToolWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) getToolByKey(ctx context.Context, packageID, name string) (Tool, bool, error) {
	return s.getToolWhere(ctx, "package_id = ? AND name = ?", packageID, name)
}

func (s *SQLiteStore) getToolWhere(ctx context.Context, where string, args ...any) (Tool, bool, error) {
	if err := ctx.Err(); err != nil {
		return Tool{}, false, err
	}
	if s == nil || s.db == nil {
		return Tool{}, false, errors.New("catalog: sqlite store is nil")
	}

	row := s.db.QueryRowContext(ctx, "SELECT"+toolColumns+" FROM tools WHERE "+where, args...)
	tool, err := scanTool(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tool{}, false, nil
		}
		return Tool{}, false, fmt.Errorf("catalog: sqlite get tool: %w", err)
	}
	return tool, true, nil
}

// ListToolsByPackage returns a package's tools in name order.
func (s *SQLiteStore) ListToolsByPackage(ctx context.Context, packageID string) ([]Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("catalog: sqlite store is nil")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT"+toolColumns+" FROM tools WHERE package_id = ? ORDER BY name ASC", packageID)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite list tools: %w", err)
	}
	defer rows.Close()

	var tools []Tool
	for rows.Next() {
		tool, err := scanTool(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("catalog: sqlite scan tool: %w", err)
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: sqlite tool rows: %w", err)
	}
	return tools, nil
}

func scanTool(scan func(dest ...any) error) (Tool, error) {
	var (
		tool                 Tool
		params, schema       []byte
		schemaSource, source string
		importH, execH       string
		score                sql.NullFloat64
		desc, healthErr      sql.NullString
		schemaAt, lastCheck  sql.NullString
		createdAt, updatedAt string
	)
	err := scan(
		&tool.ID, &tool.PackageID, &tool.Name, &desc, &params, &schema,
		&schemaSource, &schemaAt, &source, &score, &importH, &execH,
		&healthErr, &lastCheck, &createdAt, &updatedAt,
	)
	if err != nil {
		return Tool{}, err
	}
	tool.Description = desc.String
	if len(params) > 0 {
		tool.Parameters = json.RawMessage(params)
	}
	if len(schema) > 0 {
		tool.InputSchema = json.RawMessage(schema)
	}
	tool.SchemaSource = SchemaSource(schemaSource)
	tool.Source = ToolSource(source)
	tool.ImportHealth = HealthState(importH)
	tool.ExecutionHealth = HealthState(execH)
	tool.HealthCheckError = healthErr.String
	if score.Valid {
		v := score.Float64
		tool.QualityScore = &v
	}
	tool.SchemaAt = parseStoredTime(schemaAt.String)
	tool.LastHealthCheck = parseStoredTime(lastCheck.String)
	tool.CreatedAt = parseStoredTime(createdAt)
	tool.UpdatedAt = parseStoredTime(updatedAt)
	return tool, nil
}

// DeleteTools removes tools by id. Missing ids are a no-op.
func (s *SQLiteStore) DeleteTools(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM tools WHERE id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("catalog: sqlite delete tools: %w", err)
	}
	return nil
}

// UpdateToolHealth writes the result of one health check.
func (s *SQLiteStore) UpdateToolHealth(ctx context.Context, toolID string, upd HealthUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}

	_, err := s.db.ExecContext(ctx, `
UPDATE tools SET
	import_health = ?,
	execution_health = ?,
	health_check_error = ?,
	last_health_check = ?,
	updated_at = ?
WHERE id = ?`,
		string(upd.ImportHealth), string(upd.ExecutionHealth), upd.Error,
		formatStoredTime(upd.CheckedAt), time.Now().UTC().Format(time.RFC3339Nano), toolID)
	if err != nil {
		return fmt.Errorf("catalog: sqlite update tool health %s: %w", toolID, err)
	}
	return nil
}

// UpdateToolScore writes a recomputed quality score.
func (s *SQLiteStore) UpdateToolScore(ctx context.Context, toolID string, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}

	_, err := s.db.ExecContext(ctx, `
UPDATE tools SET quality_score = ?, updated_at = ? WHERE id = ?`,
		score, time.Now().UTC().Format(time.RFC3339Nano), toolID)
	if err != nil {
		return fmt.Errorf("catalog: sqlite update tool score %s: %w", toolID, err)
	}
	return nil
}

// GetCheckpoint returns the checkpoint for a sync source.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, source string) (SyncCheckpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return SyncCheckpoint{}, false, err
	}
	if s == nil || s.db == nil {
		return SyncCheckpoint{}, false, errors.New("catalog: sqlite store is nil")
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT source, last_seq, last_run_at FROM sync_checkpoints WHERE source = ?", source)
	var cp SyncCheckpoint
	var lastRunAt string
	if err := row.Scan(&cp.Source, &cp.LastSeq, &lastRunAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SyncCheckpoint{}, false, nil
		}
		return SyncCheckpoint{}, false, fmt.Errorf("catalog: sqlite get checkpoint: %w", err)
	}
	cp.LastRunAt = parseStoredTime(lastRunAt)
	return cp, true, nil
}

// AdvanceCheckpoint moves a source's cursor forward. A seq behind the
// stored cursor is ignored so LastSeq never decreases.
func (s *SQLiteStore) AdvanceCheckpoint(ctx context.Context, source, seq string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}
	if strings.TrimSpace(source) == "" {
		return errors.New("catalog: checkpoint source is required")
	}

	existing, found, err := s.GetCheckpoint(ctx, source)
	if err != nil {
		return err
	}
	if found && !seqAdvances(existing.LastSeq, seq) {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO sync_checkpoints (source, last_seq, last_run_at)
VALUES (?, ?, ?)
ON CONFLICT(source) DO UPDATE SET
	last_seq = excluded.last_seq,
	last_run_at = excluded.last_run_at`,
		source, seq, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("catalog: sqlite advance checkpoint %s: %w", source, err)
	}
	return nil
}

// AppendSyncLog records one run. Rows are never mutated after insert.
func (s *SQLiteStore) AppendSyncLog(ctx context.Context, log SyncLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_logs (id, source, outcome, processed, skipped, errors, error_summary, duration_ms, last_seq, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Source, string(log.Outcome), log.Processed, log.Skipped,
		log.Errors, log.ErrorSummary, log.Duration.Milliseconds(), log.LastSeq,
		log.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("catalog: sqlite append sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns the most recent runs for a source, newest first.
// An empty source returns runs across all sources.
func (s *SQLiteStore) ListSyncLogs(ctx context.Context, source string, limit int) ([]SyncLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("catalog: sqlite store is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT id, source, outcome, processed, skipped, errors, error_summary, duration_ms, last_seq, created_at
FROM sync_logs`
	args := []any{}
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []SyncLog
	for rows.Next() {
		var (
			log                SyncLog
			outcome, createdAt string
			summary, lastSeq   sql.NullString
			durationMS         int64
		)
		if err := rows.Scan(&log.ID, &log.Source, &outcome, &log.Processed,
			&log.Skipped, &log.Errors, &summary, &durationMS, &lastSeq, &createdAt); err != nil {
			return nil, fmt.Errorf("catalog: sqlite scan sync log: %w", err)
		}
		log.Outcome = SyncOutcome(outcome)
		log.ErrorSummary = summary.String
		log.LastSeq = lastSeq.String
		log.Duration = time.Duration(durationMS) * time.Millisecond
		log.CreatedAt = parseStoredTime(createdAt)
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: sqlite sync log rows: %w", err)
	}
	return logs, nil
}

// AcquireRunLock takes the per-source advisory lock with a single
// compare-and-swap statement. Expired locks are stolen.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context, source string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.db == nil {
		return false, errors.New("catalog: sqlite store is nil")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	// A fresh token per acquisition: a held lock is never re-acquired,
	// not even by the instance that holds it. Only expired locks are
	// stolen.
	token := uuid.NewString()
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sync_locks (source, holder, expires_at)
VALUES (?, ?, ?)
ON CONFLICT(source) DO UPDATE SET
	holder = excluded.holder,
	expires_at = excluded.expires_at
WHERE sync_locks.expires_at < ?`,
		source, token, now.Add(ttl).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("catalog: sqlite acquire run lock %s: %w", source, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("catalog: sqlite run lock rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	s.lockMu.Lock()
	s.lockTokens[source] = token
	s.lockMu.Unlock()
	return true, nil
}

// ReleaseRunLock drops the lock if this store instance acquired it. Releasing
// a lock it does not hold is a no-op.
func (s *SQLiteStore) ReleaseRunLock(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}

	s.lockMu.Lock()
	token, held := s.lockTokens[source]
	delete(s.lockTokens, source)
	s.lockMu.Unlock()
	if !held {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_locks WHERE source = ? AND holder = ?", source, token); err != nil {
		return fmt.Errorf("catalog: sqlite release run lock %s: %w", source, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeJSONList(list []string) ([]byte, error) {
	if len(list) == 0 {
		return nil, nil
	}
	return json.Marshal(list)
}

func decodeJSONList(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatStoredTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
