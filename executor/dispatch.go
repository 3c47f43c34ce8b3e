package executor

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

	"github.com/petal-labs/toolgarden/sandbox"
)

const (
	// DefaultExecuteTimeout bounds one remote execution.
	DefaultExecuteTimeout = 5 * time.Minute

	timeoutErrorText = "Execution timeout"
)

// Request is one tool invocation to dispatch.
type Request struct {
	PackageName string            `json:"packageName"`
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	Params      map[string]any    `json:"params"`
	Env         map[string]string `json:"env,omitempty"`
}

// Result is the outcome of one dispatch. Failures are values; nothing
// crossing the executor boundary is allowed to panic through it.
type Result struct {
	Success         bool            `json:"success"`
	Output          json.RawMessage `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"executionTimeMs"`
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Sandbox serves the default execution path.
	Sandbox sandbox.Client
	// ExecuteTimeout bounds custom-endpoint executions. Defaults to 5 minutes.
	ExecuteTimeout time.Duration
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Dispatcher issues execution calls against a resolved executor target.
type Dispatcher struct {
	sandbox        sandbox.Client
	executeTimeout time.Duration
	client         *http.Client
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Sandbox == nil {
		return nil, errors.New("executor: dispatcher sandbox client is nil")
	}
	timeout := cfg.ExecuteTimeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		sandbox:        cfg.Sandbox,
		executeTimeout: timeout,
		client:         client,
	}, nil
}

// Dispatch executes one invocation against the resolved target. All failure
// modes come back as {Success:false, Error}; the returned error is reserved
// for a nil dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg Config, req Request) (Result, error) {
	if d == nil {
		return Result{}, errors.New("executor: dispatcher is nil")
	}

	if cfg.IsCustom() {
		return d.dispatchCustom(ctx, cfg, req), nil
	}
	return d.dispatchDefault(ctx, req), nil
}

func (d *Dispatcher) dispatchDefault(ctx context.Context, req Request) Result {
	res, err := d.sandbox.Execute(ctx, sandbox.ExecuteRequest{
		PackageName: req.PackageName,
		Name:        req.Name,
		Version:     req.Version,
		Params:      req.Params,
		Env:         req.Env,
	})
	if err != nil {
		message := res.Error
		if errors.Is(err, sandbox.ErrTimeout) {
			message = timeoutErrorText
		}
		return Result{
			Success:         false,
			Error:           message,
			ExecutionTimeMS: res.ExecutionTimeMS,
		}
	}
	return Result{
		Success:         res.Success,
		Output:          res.Output,
		Error:           res.Error,
		ExecutionTimeMS: res.ExecutionTimeMS,
	}
}

func (d *Dispatcher) dispatchCustom(ctx context.Context, cfg Config, req Request) Result {
	start := time.Now()
	fail := func(message string) Result {
		return Result{
			Success:         false,
			Error:           message,
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Sprintf("encode request: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.executeTimeout)
	defer cancel()

	endpoint := strings.TrimRight(cfg.URL, "/") + "/execute-tool"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fail(timeoutErrorText)
		}
		return fail(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fail(fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := remoteErrorText(respBody)
		if message == "" {
			message = fmt.Sprintf("executor returned status %d", resp.StatusCode)
		}
		return fail(message)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fail(fmt.Sprintf("decode response: %v", err))
	}
	if result.ExecutionTimeMS == 0 {
		result.ExecutionTimeMS = time.Since(start).Milliseconds()
	}
	return result
}

// remoteErrorText pulls the error field out of a structured failure body.
func remoteErrorText(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	return strings.TrimSpace(payload.Error)
}
