package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dohr-michael/taskscope/internal/remote"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

const maxRequestSize = 1 << 20

var nullID = json.RawMessage("null")

// rpcHandler serves the task methods over JSON-RPC 2.0.
type rpcHandler struct {
	backend Backend
}

func (h *rpcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		writeRPC(w, nullID, nil, &remote.RPCError{Code: remote.CodeParseError, Message: "read request: " + err.Error()})
		return
	}

	var req remote.Request
	if err := json.Unmarshal(data, &req); err != nil {
		writeRPC(w, nullID, nil, &remote.RPCError{Code: remote.CodeParseError, Message: "Parse error"})
		return
	}
	id := req.ID
	if len(id) == 0 {
		id = nullID
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(w, id, nil, &remote.RPCError{Code: remote.CodeInvalidRequest, Message: "Invalid Request"})
		return
	}

	result, rpcErr := h.dispatch(r, req)
	if rpcErr != nil {
		slog.Debug("jsonrpc error", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
	}
	writeRPC(w, id, result, rpcErr)
}

func (h *rpcHandler) dispatch(r *http.Request, req remote.Request) (any, *remote.RPCError) {
	ctx := r.Context()

	switch req.Method {
	case remote.MethodList:
		list, err := h.backend.List(ctx)
		if err != nil {
			return nil, backendError(err)
		}
		if list == nil {
			list = []tasks.Task{}
		}
		inner, err := json.Marshal(map[string]any{"tasks": list})
		if err != nil {
			return nil, &remote.RPCError{Code: remote.CodeInternalError, Message: err.Error()}
		}
		return remote.ListResult{Content: []remote.TextContent{{Type: "text", Text: string(inner)}}}, nil

	case remote.MethodGet:
		var params remote.IDParams
		if err := decodeParams(req.Params, &params); err != nil || params.ID == "" {
			return nil, invalidParams("id is required")
		}
		t, err := h.backend.Get(ctx, params.ID)
		if err != nil {
			return nil, backendError(err)
		}
		if t == nil {
			return map[string]any{"task": nil}, nil
		}
		return map[string]any{"task": t}, nil

	case remote.MethodUpdateStatus:
		var params remote.UpdateStatusParams
		if err := decodeParams(req.Params, &params); err != nil || params.ID == "" {
			return nil, invalidParams("id and newStatus are required")
		}
		status, ok := tasks.LookupStatus(params.NewStatus)
		if !ok {
			return nil, invalidParams(fmt.Sprintf("unknown status %q", params.NewStatus))
		}
		if err := h.backend.UpdateStatus(ctx, params.ID, status); err != nil {
			return nil, backendError(err)
		}
		return remote.SuccessResult{Success: true}, nil

	case remote.MethodRefresh:
		if err := h.backend.Refresh(ctx); err != nil {
			return nil, backendError(err)
		}
		return remote.SuccessResult{Success: true}, nil
	}

	return nil, &remote.RPCError{Code: remote.CodeMethodNotFound, Message: "Method not found: " + req.Method}
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("missing params")
	}
	return json.Unmarshal(raw, out)
}

func invalidParams(msg string) *remote.RPCError {
	return &remote.RPCError{Code: remote.CodeInvalidParams, Message: "Invalid params: " + msg}
}

func backendError(err error) *remote.RPCError {
	return &remote.RPCError{Code: remote.CodeServerError, Message: err.Error()}
}

func writeRPC(w http.ResponseWriter, id json.RawMessage, result any, rpcErr *remote.RPCError) {
	resp := remote.Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			resp.Error = &remote.RPCError{Code: remote.CodeInternalError, Message: err.Error()}
		} else {
			resp.Result = data
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("write jsonrpc response", "error", err)
	}
}
