// Package metadata normalizes the tool metadata blob a package declares in
// its registry manifest. Two historical generations are accepted: the modern
// multi-tool shape and the legacy single-tool shape. Validation never fails
// with an error; malformed input yields a Result with Valid=false so the
// sync pipeline can skip-and-count instead of aborting.
package metadata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/petal-labs/toolgarden/catalog"
)

// ToolDef is one declared tool after normalization.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Returns     json.RawMessage `json:"returns,omitempty"`
	Guidance    string          `json:"guidance,omitempty"`
}

// Result is the canonical outcome of validating a metadata blob.
type Result struct {
	Valid  bool
	Reason string

	Category   string
	EnvVars    []string
	Frameworks []string
	Tier       catalog.Tier

	// Migrated is set when the blob was the legacy single-tool generation
	// and was lifted into the modern shape.
	Migrated bool
	// NeedsDiscovery is set when tool metadata is present but carries no
	// explicit tool list; the tool set must come from sandboxed export
	// inspection instead.
	NeedsDiscovery bool

	Tools []ToolDef
}

func invalid(format string, args ...any) Result {
	return Result{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

// modernBlob is the current multi-tool metadata generation.
type modernBlob struct {
	Category   string      `json:"category"`
	EnvVars    []string    `json:"envVars"`
	Frameworks []string    `json:"frameworks"`
	Guidance   string      `json:"guidance"`
	Tools      []modernDef `json:"tools"`
}

type modernDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Returns     json.RawMessage `json:"returns"`
	Guidance    string          `json:"guidance"`
}

// legacyBlob is the original single-tool metadata generation: tool fields
// live at the top level of the blob.
type legacyBlob struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Category    string          `json:"category"`
	EnvVars     []string        `json:"env"`
}

// Validate normalizes a raw metadata blob into a Result. The modern
// generation is attempted first; the legacy generation is the fallback.
// The caller never needs to know which generation was present.
func Validate(raw json.RawMessage) Result {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return invalid("no tool metadata declared")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return invalid("metadata is not a JSON object: %v", err)
	}

	if _, ok := probe["tools"]; ok {
		return validateModern(raw)
	}
	return validateLegacy(raw)
}

func validateModern(raw json.RawMessage) Result {
	var blob modernBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return invalid("malformed modern metadata: %v", err)
	}

	res := Result{
		Valid:      true,
		Category:   strings.TrimSpace(blob.Category),
		EnvVars:    cleanList(blob.EnvVars),
		Frameworks: cleanList(blob.Frameworks),
	}

	for i, def := range blob.Tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return invalid("tool %d has no name", i)
		}
		res.Tools = append(res.Tools, ToolDef{
			Name:        name,
			Description: strings.TrimSpace(def.Description),
			Parameters:  compactRaw(def.Parameters),
			Returns:     compactRaw(def.Returns),
			Guidance:    strings.TrimSpace(def.Guidance),
		})
	}
	if len(res.Tools) == 0 {
		// Metadata present but the tool list is empty or absent: the
		// authoritative set comes from export inspection.
		res.NeedsDiscovery = true
	}
	res.Tier = classifyTier(res.Tools, blob.Guidance)
	return res
}

func validateLegacy(raw json.RawMessage) Result {
	var blob legacyBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return invalid("malformed legacy metadata: %v", err)
	}
	name := strings.TrimSpace(blob.Name)
	if name == "" {
		return invalid("legacy metadata has no tool name")
	}

	res := Result{
		Valid:    true,
		Migrated: true,
		Category: strings.TrimSpace(blob.Category),
		EnvVars:  cleanList(blob.EnvVars),
		Tools: []ToolDef{{
			Name:        name,
			Description: strings.TrimSpace(blob.Description),
			Parameters:  compactRaw(blob.Parameters),
		}},
	}
	res.Tier = classifyTier(res.Tools, "")
	return res
}

// classifyTier derives documentation completeness. Rich requires every tool
// to carry a description and parameters plus package-level guidance; basic
// requires every tool to at least be described.
func classifyTier(tools []ToolDef, guidance string) catalog.Tier {
	if len(tools) == 0 {
		return catalog.TierMinimal
	}
	allDescribed := true
	allParameterized := true
	for _, def := range tools {
		if def.Description == "" {
			allDescribed = false
		}
		if len(def.Parameters) == 0 {
			allParameterized = false
		}
	}
	switch {
	case allDescribed && allParameterized && strings.TrimSpace(guidance) != "":
		return catalog.TierRich
	case allDescribed:
		return catalog.TierBasic
	default:
		return catalog.TierMinimal
	}
}

func cleanList(list []string) []string {
	var out []string
	for _, item := range list {
		if clean := strings.TrimSpace(item); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

// compactRaw treats JSON null and empty values as absent.
func compactRaw(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.RawMessage(trimmed)
}
