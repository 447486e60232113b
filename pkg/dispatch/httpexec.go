package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/txn2/mcp-tool-bridge/pkg/gate"
)

// defaultExecutorTimeout bounds backend calls.
const defaultExecutorTimeout = 30 * time.Second

// HTTPExecutorConfig configures the HTTP backend executor.
type HTTPExecutorConfig struct {
	// BaseURL is the backend root; operations are invoked at
	// {base}/operations/{name}.
	BaseURL string

	// Timeout bounds each backend call. Defaults to 30s.
	Timeout time.Duration
}

// HTTPExecutor invokes backend operations over HTTP. The caller's own
// credential is forwarded as the bearer token; the executor holds no
// credential of its own.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates an executor for the given backend.
func NewHTTPExecutor(cfg HTTPExecutorConfig) (*HTTPExecutor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultExecutorTimeout
	}
	return &HTTPExecutor{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Execute POSTs the operation arguments to the backend and returns the
// decoded JSON response.
func (e *HTTPExecutor) Execute(ctx context.Context, operation string, args map[string]any, credential *gate.Credential) (any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}

	url := e.baseURL + "/operations/" + operation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != nil && credential.Token != "" {
		req.Header.Set("Authorization", "Bearer "+credential.Token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling backend operation %q: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend operation %q returned %d: %s", operation, resp.StatusCode, truncate(string(data), 256))
	}

	if len(data) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		// Non-JSON bodies pass through as text.
		return string(data), nil
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
