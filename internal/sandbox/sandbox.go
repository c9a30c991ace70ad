// Package sandbox talks to the isolated code-execution service. Every run
// gets a fresh, stateless environment that is torn down immediately after
// producing its result; nothing persists between runs.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is an HTTP client for the execution-environment service.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewClient returns a client for the given service base URL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// RunError describes a runtime failure raised by the executed code itself.
// It is data, not a Go error: the run completed, the code did not.
type RunError struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.Name != "" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// Artifact is one binary output emitted by the executed code. Order of
// emission is preserved; it drives chart indexing downstream.
type Artifact struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
	Data []byte `json:"data"`
}

// ExecutionResult captures everything one sandbox invocation produced.
type ExecutionResult struct {
	Stdout    []string   `json:"stdout"`
	Stderr    []string   `json:"stderr"`
	Err       *RunError  `json:"error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// TransportError indicates the service itself could not be reached or
// refused an operation, as distinct from runtime errors inside executed code,
// which come back as ExecutionResult.Err.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Env is a handle to one live execution environment.
type Env struct {
	ID string

	c        *Client
	tornDown bool
}

// Create acquires a fresh environment.
func (c *Client) Create(ctx context.Context) (*Env, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/envs", map[string]any{}, &out); err != nil {
		return nil, &TransportError{Op: "create", Err: err}
	}
	if out.ID == "" {
		return nil, &TransportError{Op: "create", Err: errors.New("service returned no environment id")}
	}
	return &Env{ID: out.ID, c: c}, nil
}

// WriteFile uploads a file into the environment and returns its remote path.
func (e *Env) WriteFile(ctx context.Context, name string, data []byte) (string, error) {
	var out struct {
		Path string `json:"path"`
	}
	body := map[string]any{"name": name, "content": data}
	if err := e.c.do(ctx, http.MethodPost, "/v1/envs/"+e.ID+"/files", body, &out); err != nil {
		return "", &TransportError{Op: "write file", Err: err}
	}
	return out.Path, nil
}

// RunCode executes source in the environment and returns the captured result.
// A non-nil ExecutionResult.Err means the code itself failed at runtime; a
// returned error means the service transport failed.
func (e *Env) RunCode(ctx context.Context, source string) (*ExecutionResult, error) {
	var out ExecutionResult
	if err := e.c.do(ctx, http.MethodPost, "/v1/envs/"+e.ID+"/exec", map[string]any{"code": source}, &out); err != nil {
		return nil, &TransportError{Op: "exec", Err: err}
	}
	return &out, nil
}

// Teardown releases the environment. Safe to call more than once; only the
// first call reaches the service. Callers defer this immediately after Create
// so every exit path releases exactly once.
func (e *Env) Teardown(ctx context.Context) error {
	if e.tornDown {
		return nil
	}
	e.tornDown = true
	if err := e.c.do(ctx, http.MethodDelete, "/v1/envs/"+e.ID, nil, nil); err != nil {
		return &TransportError{Op: "teardown", Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
