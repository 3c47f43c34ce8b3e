// Package sandbox is the RPC boundary to the external untrusted-code
// execution service. Every call is bounded by an explicit timeout, and
// remote failures come back as values, never panics: exception detail from
// the far side of a sandbox boundary is not trustworthy.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Export is one exported symbol reported by the sandbox inspector.
type Export struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// IsValidTool reports whether the export is syntactically a tool
	// (callable, correct arity, serializable signature).
	IsValidTool bool `json:"isValidTool"`
}

// ListExportsResult is the outcome of a sandboxed export inspection.
type ListExportsResult struct {
	Success bool     `json:"success"`
	Tools   []Export `json:"tools,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ExtractSchemaResult is the outcome of a sandboxed schema extraction.
type ExtractSchemaResult struct {
	Success     bool            `json:"success"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Description string          `json:"description,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ExecuteRequest is one tool invocation for the built-in executor.
type ExecuteRequest struct {
	PackageName string            `json:"packageName"`
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	Params      map[string]any    `json:"params"`
	Env         map[string]string `json:"env,omitempty"`
}

// ExecuteResult is the outcome of one sandboxed tool invocation.
type ExecuteResult struct {
	Success         bool            `json:"success"`
	Output          json.RawMessage `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"executionTimeMs"`
}

// Client is the sandbox service boundary.
type Client interface {
	ListExports(ctx context.Context, pkg, version string) (ListExportsResult, error)
	ExtractSchema(ctx context.Context, pkg, tool, version string) (ExtractSchemaResult, error)
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

const (
	defaultListTimeout    = 30 * time.Second
	defaultExtractTimeout = 60 * time.Second
	defaultExecuteTimeout = 5 * time.Minute
)

// HTTPClientConfig configures the HTTP sandbox client.
type HTTPClientConfig struct {
	BaseURL        string
	APIKey         string
	ListTimeout    time.Duration
	ExtractTimeout time.Duration
	ExecuteTimeout time.Duration
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// HTTPClient is the production sandbox client. Constructed once at process
// start and injected into the sync pipeline and the dispatcher.
type HTTPClient struct {
	baseURL        string
	apiKey         string
	listTimeout    time.Duration
	extractTimeout time.Duration
	executeTimeout time.Duration
	client         *http.Client
}

// NewHTTPClient creates a sandbox client for the given base URL.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("sandbox: base url is required")
	}
	c := &HTTPClient{
		baseURL:        base,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		listTimeout:    cfg.ListTimeout,
		extractTimeout: cfg.ExtractTimeout,
		executeTimeout: cfg.ExecuteTimeout,
		client:         cfg.HTTPClient,
	}
	if c.listTimeout <= 0 {
		c.listTimeout = defaultListTimeout
	}
	if c.extractTimeout <= 0 {
		c.extractTimeout = defaultExtractTimeout
	}
	if c.executeTimeout <= 0 {
		c.executeTimeout = defaultExecuteTimeout
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	return c, nil
}

// ListExports asks the sandbox to import a package and report its exports.
func (c *HTTPClient) ListExports(ctx context.Context, pkg, version string) (ListExportsResult, error) {
	var result ListExportsResult
	err := c.post(ctx, c.listTimeout, "/list-exports", map[string]string{
		"packageName": pkg,
		"version":     version,
	}, &result)
	if err != nil {
		return ListExportsResult{Success: false, Error: err.Error()}, err
	}
	return result, nil
}

// ExtractSchema asks the sandbox to read one tool's input schema from its code.
func (c *HTTPClient) ExtractSchema(ctx context.Context, pkg, tool, version string) (ExtractSchemaResult, error) {
	var result ExtractSchemaResult
	err := c.post(ctx, c.extractTimeout, "/extract-schema", map[string]string{
		"packageName": pkg,
		"name":        tool,
		"version":     version,
	}, &result)
	if err != nil {
		return ExtractSchemaResult{Success: false, Error: err.Error()}, err
	}
	return result, nil
}

// Execute runs one tool invocation in the sandbox.
func (c *HTTPClient) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	start := time.Now()
	var result ExecuteResult
	err := c.post(ctx, c.executeTimeout, "/execute-tool", req, &result)
	if err != nil {
		return ExecuteResult{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		}, err
	}
	if result.ExecutionTimeMS == 0 {
		result.ExecutionTimeMS = time.Since(start).Milliseconds()
	}
	return result, nil
}

// ErrTimeout marks a sandbox call that hit its deadline.
var ErrTimeout = errors.New("sandbox: call timed out")

func (c *HTTPClient) post(ctx context.Context, timeout time.Duration, path string, payload, dst any) error {
	if c == nil || c.client == nil {
		return errors.New("sandbox: http client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sandbox: encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sandbox: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, path, timeout)
		}
		return fmt.Errorf("sandbox: %s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("sandbox: read %s response: %w", path, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := strings.TrimSpace(string(respBody))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("sandbox: %s returned status %d: %s", path, resp.StatusCode, message)
	}
	if err := json.Unmarshal(respBody, dst); err != nil {
		return fmt.Errorf("sandbox: decode %s response: %w", path, err)
	}
	return nil
}
