// Package catalog defines the persistent data model for the tool catalog:
// packages observed in the upstream registry, the tools they export, and
// the bookkeeping rows (checkpoints, run logs) the sync pipeline maintains.
package catalog

import (
	"encoding/json"
	"time"
)

// Tier classifies how completely a package documents its tools.
type Tier string

const (
	TierMinimal Tier = "minimal"
	TierBasic   Tier = "basic"
	TierRich    Tier = "rich"
)

// DiscoveryMethod records how a package entered the catalog.
type DiscoveryMethod string

const (
	DiscoveryChangesFeed   DiscoveryMethod = "changes-feed"
	DiscoveryKeywordSearch DiscoveryMethod = "keyword-search"
)

// SchemaSource records where a tool's input schema came from.
type SchemaSource string

const (
	SchemaSourceAuthor    SchemaSource = "author"
	SchemaSourceExtracted SchemaSource = "extracted"
	SchemaSourceNone      SchemaSource = "none"
)

// HealthState is the result of the most recent health probe.
type HealthState string

const (
	HealthUnknown HealthState = "unknown"
	HealthHealthy HealthState = "healthy"
	HealthBroken  HealthState = "broken"
)

// ToolSource records whether a tool definition was author-declared or
// discovered by sandboxed export inspection.
type ToolSource string

const (
	ToolSourceManual ToolSource = "manual"
	ToolSourceAuto   ToolSource = "auto"
)

// Package is one row per distinct registry package name. The sync pipeline
// creates and updates packages; it never deletes them.
type Package struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Homepage    string          `json:"homepage,omitempty"`
	License     string          `json:"license,omitempty"`
	Repository  string          `json:"repository,omitempty"`
	Keywords    []string        `json:"keywords,omitempty"`
	Readme      string          `json:"readme,omitempty"`
	Author      string          `json:"author,omitempty"`
	Maintainers []string        `json:"maintainers,omitempty"`
	Category    string          `json:"category,omitempty"`
	Tier        Tier            `json:"tier"`
	Discovery   DiscoveryMethod `json:"discovery"`
	Official    bool            `json:"official"`
	Downloads   int64           `json:"downloads"`
	Stars       int64           `json:"stars"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Tool is one row per exported capability of a Package, unique on
// (PackageID, Name). Orphan cleanup is the only path that deletes tools.
type Tool struct {
	ID          string          `json:"id"`
	PackageID   string          `json:"package_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`

	SchemaSource SchemaSource `json:"schema_source"`
	SchemaAt     time.Time    `json:"schema_at,omitzero"`
	Source       ToolSource   `json:"source"`

	// QualityScore is nil until the first metrics refresh computes it.
	QualityScore *float64 `json:"quality_score,omitempty"`

	ImportHealth     HealthState `json:"import_health"`
	ExecutionHealth  HealthState `json:"execution_health"`
	HealthCheckError string      `json:"health_check_error,omitempty"`
	LastHealthCheck  time.Time   `json:"last_health_check,omitzero"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncCheckpoint marks the last observed position in an upstream change
// feed for one sync source. LastSeq is monotonically non-decreasing.
type SyncCheckpoint struct {
	Source    string    `json:"source"`
	LastSeq   string    `json:"last_seq"`
	LastRunAt time.Time `json:"last_run_at"`
}

// SyncOutcome is the terminal status of one sync run.
type SyncOutcome string

const (
	SyncSuccess SyncOutcome = "success"
	SyncPartial SyncOutcome = "partial"
	SyncError   SyncOutcome = "error"
)

// SyncLog is an append-only audit record for one sync run.
type SyncLog struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	Outcome   SyncOutcome `json:"outcome"`
	Processed int         `json:"processed"`
	Skipped   int         `json:"skipped"`
	Errors    int         `json:"errors"`
	// ErrorSummary is truncated; it is a debugging aid, not a full log.
	ErrorSummary string        `json:"error_summary,omitempty"`
	Duration     time.Duration `json:"duration"`
	LastSeq      string        `json:"last_seq,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// HealthUpdate carries the result of one health check back to the store.
type HealthUpdate struct {
	ImportHealth    HealthState
	ExecutionHealth HealthState
	Error           string
	CheckedAt       time.Time
}
