package search

import (
	"path/filepath"
	"testing"

	"github.com/petal-labs/toolgarden/catalog"
)

func newMemoryIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemoryIndex()
	if err != nil {
		t.Fatalf("NewMemoryIndex() error = %v", err)
	}
	t.Cleanup(func() {
		_ = idx.Close()
	})
	return idx
}

func indexWeatherTools(t *testing.T, idx *Index) {
	t.Helper()
	pkg := catalog.Package{
		ID:       "pkg-1",
		Name:     "weather-tools",
		Category: "weather",
		Keywords: []string{"forecast", "meteorology"},
		Tier:     catalog.TierRich,
	}
	tools := []catalog.Tool{
		{ID: "tool-forecast", PackageID: pkg.ID, Name: "get_forecast", Description: "seven day weather forecast"},
		{ID: "tool-alerts", PackageID: pkg.ID, Name: "get_alerts", Description: "active severe weather alerts"},
	}
	if err := idx.IndexPackage(pkg, tools); err != nil {
		t.Fatalf("IndexPackage() error = %v", err)
	}
}

func TestIndexAndSearch(t *testing.T) {
	idx := newMemoryIndex(t)
	indexWeatherTools(t, idx)

	hits, err := idx.Search("forecast", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("Search() returned no hits")
	}
	if hits[0].ToolID != "tool-forecast" {
		t.Fatalf("top hit = %q, want tool-forecast", hits[0].ToolID)
	}
	if hits[0].Score <= 0 {
		t.Fatalf("Score = %v, want > 0", hits[0].Score)
	}
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	idx := newMemoryIndex(t)
	indexWeatherTools(t, idx)

	hits, err := idx.Search("   ", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("Search() on blank query = %v", hits)
	}
}

func TestRemoveToolsDropsFromResults(t *testing.T) {
	idx := newMemoryIndex(t)
	indexWeatherTools(t, idx)

	if err := idx.RemoveTools([]string{"tool-forecast"}); err != nil {
		t.Fatalf("RemoveTools() error = %v", err)
	}

	hits, err := idx.Search("forecast", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, hit := range hits {
		if hit.ToolID == "tool-forecast" {
			t.Fatal("removed tool still in results")
		}
	}
}

func TestReindexReplacesDocument(t *testing.T) {
	idx := newMemoryIndex(t)
	indexWeatherTools(t, idx)

	pkg := catalog.Package{ID: "pkg-1", Name: "weather-tools", Tier: catalog.TierBasic}
	tools := []catalog.Tool{
		{ID: "tool-forecast", PackageID: pkg.ID, Name: "get_forecast", Description: "tide tables"},
	}
	if err := idx.IndexPackage(pkg, tools); err != nil {
		t.Fatalf("IndexPackage() error = %v", err)
	}

	hits, err := idx.Search("tide", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	found := false
	for _, hit := range hits {
		if hit.ToolID == "tool-forecast" {
			found = true
		}
	}
	if !found {
		t.Fatal("reindexed document not found under new terms")
	}
}

func TestOpenIndexCreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.bleve")

	idx, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("OpenIndex() error = %v", err)
	}
	indexWeatherTools(t, idx)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("OpenIndex() reopen error = %v", err)
	}
	defer reopened.Close()

	hits, err := reopened.Search("alerts", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("reopened index lost its documents")
	}
}

func TestOpenIndexRequiresPath(t *testing.T) {
	if _, err := OpenIndex(" "); err == nil {
		t.Fatal("OpenIndex() with blank path returned nil error")
	}
}
