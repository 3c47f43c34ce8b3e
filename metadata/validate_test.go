package metadata

import (
	"encoding/json"
	"testing"

	"github.com/petal-labs/toolgarden/catalog"
)

func TestValidateModernMultiTool(t *testing.T) {
	raw := json.RawMessage(`{
		"category": "weather",
		"envVars": ["API_KEY", " ", "REGION"],
		"frameworks": ["openai"],
		"guidance": "Call get_forecast before get_alerts.",
		"tools": [
			{"name": "get_forecast", "description": "7-day forecast", "parameters": {"type":"object"}},
			{"name": "get_alerts", "description": "active alerts", "parameters": {"type":"object"}}
		]
	}`)

	res := Validate(raw)
	if !res.Valid {
		t.Fatalf("Validate() invalid: %s", res.Reason)
	}
	if res.Migrated || res.NeedsDiscovery {
		t.Fatalf("Migrated = %v, NeedsDiscovery = %v, want both false", res.Migrated, res.NeedsDiscovery)
	}
	if len(res.Tools) != 2 {
		t.Fatalf("Tools len = %d, want 2", len(res.Tools))
	}
	if res.Tools[0].Name != "get_forecast" || res.Tools[1].Name != "get_alerts" {
		t.Fatalf("tool names = %q, %q", res.Tools[0].Name, res.Tools[1].Name)
	}
	if res.Category != "weather" {
		t.Fatalf("Category = %q", res.Category)
	}
	if len(res.EnvVars) != 2 {
		t.Fatalf("EnvVars = %v, want blank entries dropped", res.EnvVars)
	}
	if res.Tier != catalog.TierRich {
		t.Fatalf("Tier = %s, want rich", res.Tier)
	}
}

func TestValidateLegacySingleToolIsMigrated(t *testing.T) {
	raw := json.RawMessage(`{
		"name": "translate",
		"description": "translates text",
		"parameters": {"type":"object"},
		"category": "language",
		"env": ["DEEPL_KEY"]
	}`)

	res := Validate(raw)
	if !res.Valid {
		t.Fatalf("Validate() invalid: %s", res.Reason)
	}
	if !res.Migrated {
		t.Fatal("Migrated = false, want true for legacy shape")
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "translate" {
		t.Fatalf("Tools = %+v", res.Tools)
	}
	// Legacy blobs carry no package guidance, so rich is unreachable.
	if res.Tier != catalog.TierBasic {
		t.Fatalf("Tier = %s, want basic", res.Tier)
	}
}

func TestValidateEmptyToolListNeedsDiscovery(t *testing.T) {
	res := Validate(json.RawMessage(`{"category": "misc", "tools": []}`))
	if !res.Valid {
		t.Fatalf("Validate() invalid: %s", res.Reason)
	}
	if !res.NeedsDiscovery {
		t.Fatal("NeedsDiscovery = false, want true for empty tool list")
	}
	if res.Tier != catalog.TierMinimal {
		t.Fatalf("Tier = %s, want minimal", res.Tier)
	}
}

func TestValidateTierClassification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want catalog.Tier
	}{
		{
			"described and parameterized without guidance is basic",
			`{"tools": [{"name": "a", "description": "d", "parameters": {"type":"object"}}]}`,
			catalog.TierBasic,
		},
		{
			"one undescribed tool drags the package to minimal",
			`{"guidance": "g", "tools": [
				{"name": "a", "description": "d", "parameters": {"type":"object"}},
				{"name": "b"}
			]}`,
			catalog.TierMinimal,
		},
		{
			"described without parameters is basic even with guidance",
			`{"guidance": "g", "tools": [{"name": "a", "description": "d"}]}`,
			catalog.TierBasic,
		},
		{
			"null parameters count as absent",
			`{"guidance": "g", "tools": [{"name": "a", "description": "d", "parameters": null}]}`,
			catalog.TierBasic,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(json.RawMessage(tt.raw))
			if !res.Valid {
				t.Fatalf("Validate() invalid: %s", res.Reason)
			}
			if res.Tier != tt.want {
				t.Fatalf("Tier = %s, want %s", res.Tier, tt.want)
			}
		})
	}
}

func TestValidateRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"null", "null"},
		{"not an object", `["a","b"]`},
		{"truncated", `{"tools": [`},
		{"modern tool without name", `{"tools": [{"description": "d"}]}`},
		{"legacy without name", `{"description": "d"}`},
		{"tools wrong type", `{"tools": "nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(json.RawMessage(tt.raw))
			if res.Valid {
				t.Fatalf("Validate(%q) = valid, want invalid", tt.raw)
			}
			if res.Reason == "" {
				t.Fatal("invalid result carries no reason")
			}
		})
	}
}
