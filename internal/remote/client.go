package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dohr-michael/taskscope/internal/taskfile"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Defaults of the task server connection.
const (
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 3001
	DefaultTimeout = 5 * time.Second
)

// maxResponseSize bounds the body read from the server.
const maxResponseSize = 16 << 20

// Client issues JSON-RPC requests to the task server.
type Client struct {
	endpoint string
	http     *http.Client
	parse    taskfile.ParseOptions
	nextID   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithParseOptions sets the options used to map returned task records.
func WithParseOptions(opts taskfile.ParseOptions) Option {
	return func(c *Client) { c.parse = opts }
}

// NewHTTPClient returns an HTTP client with the given request timeout, or
// DefaultTimeout when timeout is not positive.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// BaseURL builds the server base URL from host and port, applying defaults.
func BaseURL(host string, port int) string {
	if host == "" {
		host = DefaultHost
	}
	if port <= 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// NewClient creates a client for the server at baseURL with the fixed
// request timeout.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint: baseURL + Path,
		http:     NewHTTPClient(DefaultTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the full JSON-RPC URL.
func (c *Client) Endpoint() string { return c.endpoint }

// call sends one request and decodes result into out (when non-nil).
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)

	req := Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Method: method, Err: fmt.Errorf("read response: %w", err)}
	}
	slog.Debug("jsonrpc call", "method", method, "id", id, "status", resp.StatusCode, "duration", time.Since(start))

	var rpcResp Response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &TransportError{Method: method, Err: fmt.Errorf("http status %d", resp.StatusCode)}
		}
		return &TransportError{Method: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if rpcResp.Error != nil {
		return &ServerError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return &TransportError{Method: method, Err: errors.New("response has no result")}
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return &TransportError{Method: method, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// List fetches every task. The payload is double encoded: the first content
// entry is a JSON string holding {"tasks": [...]}.
func (c *Client) List(ctx context.Context) ([]tasks.Task, error) {
	var result ListResult
	if err := c.call(ctx, MethodList, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Content) == 0 {
		return nil, &TransportError{Method: MethodList, Err: errors.New("empty content")}
	}

	var inner struct {
		Tasks *[]any `json:"tasks"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(result.Content[0].Text)))
	dec.UseNumber()
	if err := dec.Decode(&inner); err != nil {
		return nil, &TransportError{Method: MethodList, Err: fmt.Errorf("decode task payload: %w", err)}
	}
	if inner.Tasks == nil {
		return nil, &TransportError{Method: MethodList, Err: errors.New("task payload has no tasks array")}
	}
	return taskfile.MapTasks(*inner.Tasks, "remote", c.parse), nil
}

// Get fetches one task. A null task yields (nil, nil).
func (c *Client) Get(ctx context.Context, id string) (*tasks.Task, error) {
	var result GetResult
	if err := c.call(ctx, MethodGet, IDParams{ID: id}, &result); err != nil {
		return nil, err
	}
	if len(result.Task) == 0 || string(result.Task) == "null" {
		return nil, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(result.Task))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &TransportError{Method: MethodGet, Err: fmt.Errorf("decode task: %w", err)}
	}
	t, ok := taskfile.MapTask(raw, "remote", c.parse)
	if !ok {
		return nil, &TransportError{Method: MethodGet, Err: errors.New("task record has no id")}
	}
	return &t, nil
}

// UpdateStatus asks the server to change the status of a task.
func (c *Client) UpdateStatus(ctx context.Context, id string, status tasks.TaskStatus) (bool, error) {
	var result SuccessResult
	params := UpdateStatusParams{ID: id, NewStatus: string(status)}
	if err := c.call(ctx, MethodUpdateStatus, params, &result); err != nil {
		return false, err
	}
	return result.Success, nil
}

// Refresh asks the server to reload its task source.
func (c *Client) Refresh(ctx context.Context) error {
	return c.call(ctx, MethodRefresh, nil, nil)
}
