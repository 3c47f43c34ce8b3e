// Package search maintains the full-text index that makes the catalog
// searchable. Documents are tools, enriched with their package's metadata;
// the sync pipeline updates the index as part of reconciliation.
package search

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/petal-labs/toolgarden/catalog"
)

// Document is one indexed tool.
type Document struct {
	ToolID      string   `json:"tool_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Package     string   `json:"package"`
	Category    string   `json:"category"`
	Keywords    []string `json:"keywords"`
	Tier        string   `json:"tier"`
}

// Hit is one ranked search result.
type Hit struct {
	ToolID string  `json:"tool_id"`
	Score  float64 `json:"score"`
}

// Index is a bleve-backed tool index. Safe for concurrent use.
type Index struct {
	mu  sync.RWMutex
	idx bleve.Index
}

// NewMemoryIndex creates an in-memory index.
func NewMemoryIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("search: create memory index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// OpenIndex opens (or creates) a disk-backed index at path.
func OpenIndex(path string) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("search: index path is required")
	}
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("search: open index %s: %w", path, err)
	}
	return &Index{idx: idx}, nil
}

// IndexPackage (re)indexes every tool of one package.
func (x *Index) IndexPackage(pkg catalog.Package, tools []catalog.Tool) error {
	if x == nil || x.idx == nil {
		return errors.New("search: index is nil")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.idx.NewBatch()
	for _, tool := range tools {
		doc := Document{
			ToolID:      tool.ID,
			Name:        tool.Name,
			Description: tool.Description,
			Package:     pkg.Name,
			Category:    pkg.Category,
			Keywords:    pkg.Keywords,
			Tier:        string(pkg.Tier),
		}
		if err := batch.Index(tool.ID, doc); err != nil {
			return fmt.Errorf("search: index tool %s: %w", tool.ID, err)
		}
	}
	if err := x.idx.Batch(batch); err != nil {
		return fmt.Errorf("search: apply index batch for %s: %w", pkg.Name, err)
	}
	return nil
}

// RemoveTools drops tools from the index, e.g. after orphan cleanup.
func (x *Index) RemoveTools(ids []string) error {
	if x == nil || x.idx == nil {
		return errors.New("search: index is nil")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := x.idx.Batch(batch); err != nil {
		return fmt.Errorf("search: apply delete batch: %w", err)
	}
	return nil
}

// Search returns ranked tool ids matching the query string.
func (x *Index) Search(query string, limit int) ([]Hit, error) {
	if x == nil || x.idx == nil {
		return nil, errors.New("search: index is nil")
	}
	clean := strings.TrimSpace(query)
	if clean == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(clean), limit, 0, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: query %q: %w", clean, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, Hit{ToolID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Close releases index resources.
func (x *Index) Close() error {
	if x == nil || x.idx == nil {
		return nil
	}
	return x.idx.Close()
}
