// Package registry talks to the upstream public package registry: the
// incremental change feed, per-package metadata documents, and keyword
// search. The sync pipeline is its only internal consumer.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Change is one entry from the upstream change feed.
type Change struct {
	ID      string `json:"id"`
	Seq     string `json:"seq"`
	Deleted bool   `json:"deleted"`
}

// ChangePage is one bounded page of the change feed.
type ChangePage struct {
	Results []Change `json:"results"`
	LastSeq string   `json:"last_seq"`
	Pending int64    `json:"pending"`
}

// PackageMetadata is the registry's full document for one package.
type PackageMetadata struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Homepage    string          `json:"homepage"`
	License     string          `json:"license"`
	Repository  string          `json:"repository"`
	Keywords    []string        `json:"keywords"`
	Readme      string          `json:"readme"`
	Author      string          `json:"author"`
	Maintainers []string        `json:"maintainers"`
	Downloads   int64           `json:"downloads"`
	Stars       int64           `json:"stars"`
	// ToolMetadata is the package's declared tool-metadata blob, if any.
	ToolMetadata json.RawMessage `json:"toolMetadata"`
}

// Client is the read-only upstream registry boundary.
type Client interface {
	// FetchChanges returns a bounded page of change events after the given
	// cursor. An empty cursor starts from the beginning of the feed.
	FetchChanges(ctx context.Context, since string, limit int, includeDocs bool) (ChangePage, error)
	// FetchPackageMetadata returns the full document for one package, or
	// (nil, nil) when the package does not exist upstream.
	FetchPackageMetadata(ctx context.Context, name string) (*PackageMetadata, error)
	// SearchPackages returns package names matching a keyword, for the
	// periodic re-discovery cadence.
	SearchPackages(ctx context.Context, keyword string, limit int) ([]string, error)
}

const defaultRegistryTimeout = 30 * time.Second

// HTTPClientConfig configures the HTTP registry client.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// HTTPClient is the production registry client. Constructed once at process
// start and passed by reference; there is no lazy global instance.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a registry client for the given base URL.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("registry: base url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRegistryTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{baseURL: base, client: client}, nil
}

// FetchChanges returns one page of the upstream change feed.
func (c *HTTPClient) FetchChanges(ctx context.Context, since string, limit int, includeDocs bool) (ChangePage, error) {
	if c == nil || c.client == nil {
		return ChangePage{}, errors.New("registry: http client is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if since != "" {
		q.Set("since", since)
	}
	if includeDocs {
		q.Set("include_docs", "true")
	}

	var page ChangePage
	if err := c.getJSON(ctx, c.baseURL+"/_changes?"+q.Encode(), &page); err != nil {
		return ChangePage{}, fmt.Errorf("registry: fetch changes: %w", err)
	}
	return page, nil
}

// FetchPackageMetadata returns the registry document for one package.
// A 404 upstream is not an error; it returns (nil, nil).
func (c *HTTPClient) FetchPackageMetadata(ctx context.Context, name string) (*PackageMetadata, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("registry: http client is nil")
	}
	clean := strings.TrimSpace(name)
	if clean == "" {
		return nil, errors.New("registry: package name is required")
	}

	var meta PackageMetadata
	err := c.getJSON(ctx, c.baseURL+"/packages/"+url.PathEscape(clean), &meta)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: fetch package %s: %w", clean, err)
	}
	return &meta, nil
}

// SearchPackages returns package names matching a keyword.
func (c *HTTPClient) SearchPackages(ctx context.Context, keyword string, limit int) ([]string, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("registry: http client is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	q := url.Values{}
	q.Set("text", keyword)
	q.Set("size", strconv.Itoa(limit))

	var payload struct {
		Objects []struct {
			Package struct {
				Name string `json:"name"`
			} `json:"package"`
		} `json:"objects"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/-/v1/search?"+q.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("registry: search %q: %w", keyword, err)
	}

	names := make([]string, 0, len(payload.Objects))
	for _, obj := range payload.Objects {
		if obj.Package.Name != "" {
			names = append(names, obj.Package.Name)
		}
	}
	return names, nil
}

var errNotFound = errors.New("not found")

func (c *HTTPClient) getJSON(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, message)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
