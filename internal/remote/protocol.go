// Package remote talks to the local task server over JSON-RPC 2.0 on HTTP.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC methods served by the task server.
const (
	MethodList         = "tasks/list"
	MethodGet          = "tasks/get"
	MethodUpdateStatus = "tasks/update-status"
	MethodRefresh      = "tasks/refresh"
)

// Standard JSON-RPC error codes, plus -32000 for backend failures.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Path is the HTTP path of the JSON-RPC endpoint.
const Path = "/jsonrpc"

// Request is the JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// IDParams is the params object of tasks/get.
type IDParams struct {
	ID string `json:"id"`
}

// UpdateStatusParams is the params object of tasks/update-status.
type UpdateStatusParams struct {
	ID        string `json:"id"`
	NewStatus string `json:"newStatus"`
}

// TextContent is one entry of the tasks/list content array.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ListResult is the result of tasks/list. The first content entry holds a
// JSON string encoding {"tasks": [...]}.
type ListResult struct {
	Content []TextContent `json:"content"`
}

// GetResult is the result of tasks/get. Task is null when unknown.
type GetResult struct {
	Task json.RawMessage `json:"task"`
}

// SuccessResult is the result of tasks/update-status and tasks/refresh.
type SuccessResult struct {
	Success bool `json:"success"`
}

// ServerError is an error explicitly reported by the task server. It is
// authoritative and never triggers a fallback to another source.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return "MCP server error: " + e.Message
}

// IsServerError reports whether err carries a *ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// TransportError wraps network, timeout and decoding failures. These are
// eligible for fallback.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
