package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestDiscoverConfigPathFromExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "registry:\n  url: https://example.com\n")

	got, found, err := DiscoverConfigPathFrom(path, dir, dir)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if !found || got != path {
		t.Fatalf("DiscoverConfigPathFrom() = %q, %v", got, found)
	}
}

func TestDiscoverConfigPathFromExplicitMissingIsError(t *testing.T) {
	dir := t.TempDir()
	_, _, err := DiscoverConfigPathFrom(filepath.Join(dir, "nope.yaml"), dir, dir)
	if err == nil {
		t.Fatal("DiscoverConfigPathFrom() with missing explicit path returned nil error")
	}
}

func TestDiscoverConfigPathFromProjectBeforeHome(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()
	projectPath := filepath.Join(cwd, "toolgarden.yaml")
	homePath := filepath.Join(home, ".toolgarden", "config.yaml")
	writeFile(t, projectPath, "")
	writeFile(t, homePath, "")

	got, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if !found || got != projectPath {
		t.Fatalf("DiscoverConfigPathFrom() = %q, want project file first", got)
	}
}

func TestDiscoverConfigPathFromFallsBackToHome(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()
	homePath := filepath.Join(home, ".toolgarden", "config.yaml")
	writeFile(t, homePath, "")

	got, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if !found || got != homePath {
		t.Fatalf("DiscoverConfigPathFrom() = %q, want home file", got)
	}
}

func TestDiscoverConfigPathFromNothingFound(t *testing.T) {
	_, found, err := DiscoverConfigPathFrom("", t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if found {
		t.Fatal("found = true with no config files present")
	}
}

func TestLoadConfigLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgarden.yaml")
	writeFile(t, path, strings.Join([]string{
		"registry:",
		"  url: https://registry.example.com",
		"  page_limit: 25",
		"sandbox:",
		"  url: https://sandbox.example.com",
		"  api_key: sk-test",
		"sync:",
		"  changes_cron: \"*/5 * * * *\"",
		"  discovery_keywords: [mcp, tools]",
		"executor:",
		"  allow_insecure: true",
	}, "\n"))

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Registry.URL != "https://registry.example.com" || cfg.Registry.PageLimit != 25 {
		t.Fatalf("Registry = %+v", cfg.Registry)
	}
	if cfg.Sync.ChangesCron != "*/5 * * * *" {
		t.Fatalf("ChangesCron = %q", cfg.Sync.ChangesCron)
	}
	// Fields the file omits keep their defaults.
	if cfg.Sync.DiscoveryCron != DefaultConfig().Sync.DiscoveryCron {
		t.Fatalf("DiscoveryCron = %q, want default", cfg.Sync.DiscoveryCron)
	}
	if cfg.Health.Concurrency != 4 || cfg.Registry.Timeout != 30*time.Second {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if !cfg.Executor.AllowInsecure {
		t.Fatal("AllowInsecure not read")
	}
	if len(cfg.Sync.DiscoveryKeywords) != 2 {
		t.Fatalf("DiscoveryKeywords = %v", cfg.Sync.DiscoveryKeywords)
	}
}

func TestLoadConfigEmptyPathIsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Sync.ChangesCron != DefaultConfig().Sync.ChangesCron {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadConfigRejectsBadCron(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgarden.yaml")
	writeFile(t, path, "sync:\n  changes_cron: \"not a cron\"\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() accepted a malformed cron expression")
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgarden.yaml")
	writeFile(t, path, "registry: [broken\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() accepted malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults error = %v", err)
	}

	bad := DefaultConfig()
	bad.Registry.PageLimit = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("Validate() accepted negative page_limit")
	}

	bad = DefaultConfig()
	bad.Health.Concurrency = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("Validate() accepted negative concurrency")
	}

	// Disabled cadences are fine.
	ok := DefaultConfig()
	ok.Sync.MetricsCron = ""
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() with disabled cadence error = %v", err)
	}
}
