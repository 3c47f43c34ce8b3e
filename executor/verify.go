package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	healthTimeout = 10 * time.Second
	testTimeout   = 30 * time.Second
)

// HealthStatus is the decoded /health response of a custom executor.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Verification aggregates every failure found while vetting a custom
// executor target.
type Verification struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// VerifierConfig configures target verification.
type VerifierConfig struct {
	// AllowInsecure permits plain-HTTP targets, for development setups only.
	AllowInsecure bool
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Verifier vets operator-supplied custom executor targets before they are
// accepted into configuration.
type Verifier struct {
	allowInsecure bool
	client        *http.Client
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Verifier{allowInsecure: cfg.AllowInsecure, client: client}
}

// CheckHealth probes GET {base}/health with a 10 second bound. The target
// is healthy iff it reports status "ok" or "degraded".
func (v *Verifier) CheckHealth(ctx context.Context, base, apiKey string) HealthStatus {
	if v == nil || v.client == nil {
		return HealthStatus{Healthy: false, Error: "verifier is nil"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	endpoint := strings.TrimRight(base, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return HealthStatus{Healthy: false, Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return HealthStatus{Healthy: false, Error: "health check timed out"}
		}
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return HealthStatus{Healthy: false, Error: fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)}
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err != nil {
		return HealthStatus{Healthy: false, Error: fmt.Sprintf("decode health response: %v", err)}
	}

	switch payload.Status {
	case "ok", "degraded":
		return HealthStatus{Healthy: true, Status: payload.Status}
	default:
		return HealthStatus{Healthy: false, Status: payload.Status,
			Error: fmt.Sprintf("unexpected health status %q", payload.Status)}
	}
}

// Test smoke-tests a custom target with one canned, low-risk invocation,
// bounded at 30 seconds.
func (v *Verifier) Test(ctx context.Context, base, apiKey string) Result {
	if v == nil || v.client == nil {
		return Result{Success: false, Error: "verifier is nil"}
	}

	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	d := &Dispatcher{
		sandbox:        nil, // custom path only
		executeTimeout: testTimeout,
		client:         v.client,
	}
	return d.dispatchCustom(ctx, Config{Type: TypeCustomURL, URL: base, APIKey: apiKey}, Request{
		PackageName: "@toolgarden/echo",
		Name:        "echo",
		Params:      map[string]any{"message": "verification ping"},
	})
}

// Verify composes URL-scheme validation, the health probe, and the smoke
// test, collecting every failure reason rather than stopping at the first.
// A scheme failure skips the network probes entirely.
func (v *Verifier) Verify(ctx context.Context, base, apiKey string) Verification {
	var failures []string

	if err := v.validateURL(base); err != nil {
		// Without a trustworthy URL there is nothing safe to probe.
		return Verification{Valid: false, Errors: []string{err.Error()}}
	}

	health := v.CheckHealth(ctx, base, apiKey)
	if !health.Healthy {
		failures = append(failures, fmt.Sprintf("health check failed: %s", health.Error))
	}

	if health.Healthy {
		if test := v.Test(ctx, base, apiKey); !test.Success {
			failures = append(failures, fmt.Sprintf("test invocation failed: %s", test.Error))
		}
	}

	return Verification{Valid: len(failures) == 0, Errors: failures}
}

func (v *Verifier) validateURL(base string) error {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return fmt.Errorf("invalid executor url: %v", err)
	}
	if parsed.Host == "" {
		return errors.New("invalid executor url: missing host")
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if v != nil && v.allowInsecure {
			return nil
		}
		return errors.New("executor url must use HTTPS outside development")
	default:
		return fmt.Errorf("executor url scheme %q is not supported", parsed.Scheme)
	}
}
