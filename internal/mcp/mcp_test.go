package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/taskscope/internal/remote"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

type fakeService struct {
	list    []tasks.Task
	getErr  error
	updated map[string]tasks.TaskStatus
	refresh int
}

func (f *fakeService) GetTasks(context.Context) []tasks.Task { return f.list }

func (f *fakeService) GetTaskByID(_ context.Context, id string) (*tasks.Task, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return tasks.Find(f.list, id), nil
}

func (f *fakeService) UpdateTaskStatus(_ context.Context, id string, status tasks.TaskStatus) (bool, error) {
	if f.updated == nil {
		f.updated = make(map[string]tasks.TaskStatus)
	}
	f.updated[id] = status
	return true, nil
}

func (f *fakeService) RefreshTasks(context.Context) ([]tasks.Task, error) {
	f.refresh++
	return f.list, nil
}

func newFake() *fakeService {
	return &fakeService{list: []tasks.Task{
		{ID: "1.1", Title: "Tokenizer", Status: tasks.StatusCompleted},
		{ID: "1.2", Title: "Grammar", Status: tasks.StatusInProgress},
	}}
}

// connect wires a client session to the server over in-memory transports.
func connect(t *testing.T, server *mcpsdk.Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()

	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected one content entry, got %d", len(res.Content))
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestToolSpecToMCPTool(t *testing.T) {
	spec := toolSpec{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: map[string]param{
			"name":  {Type: "string", Description: "The name", Required: true},
			"count": {Type: "integer", Description: "A count"},
			"mode":  {Type: "string", Description: "The mode", Required: true, Enum: []string{"fast", "slow"}},
		},
	}

	mcpTool := spec.toMCPTool()
	if mcpTool.Name != "test_tool" || mcpTool.Description != "A test tool" {
		t.Errorf("unexpected tool header: %q %q", mcpTool.Name, mcpTool.Description)
	}

	schemaBytes, err := json.Marshal(mcpTool.InputSchema)
	if err != nil {
		t.Fatalf("marshal InputSchema: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		t.Fatalf("unmarshal InputSchema: %v", err)
	}

	if schema["type"] != "object" {
		t.Errorf("schema type = %v, want %q", schema["type"], "object")
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) != 3 {
		t.Fatalf("unexpected properties: %v", schema["properties"])
	}
	req, ok := schema["required"].([]any)
	if !ok || len(req) != 2 || req[0] != "mode" || req[1] != "name" {
		t.Errorf("schema required = %v, want [mode, name]", schema["required"])
	}
}

func TestToolSpecToMCPTool_NoParams(t *testing.T) {
	mcpTool := toolSpec{Name: "simple", Parameters: map[string]param{}}.toMCPTool()

	schemaBytes, _ := json.Marshal(mcpTool.InputSchema)
	var schema map[string]any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		t.Fatalf("unmarshal InputSchema: %v", err)
	}
	if _, ok := schema["required"]; ok {
		t.Error("schema should not have required field when no params are required")
	}
}

func TestNewMCPServer_ListsTools(t *testing.T) {
	cs := connect(t, NewMCPServer(newFake(), "test", ""))

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{ToolList, ToolGet, ToolUpdateStatus, ToolRefresh} {
		if !names[want] {
			t.Errorf("missing tool %q", want)
		}
	}
}

func TestNewMCPServer_WithFilter(t *testing.T) {
	cs := connect(t, NewMCPServer(newFake(), "test", "tasks_list, tasks_get"))

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(res.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(res.Tools))
	}
}

func TestTool_List(t *testing.T) {
	cs := connect(t, NewMCPServer(newFake(), "test", ""))

	text, isErr := call(t, cs, ToolList, map[string]any{"status": "in_progress"})
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}
	var out struct {
		Count int          `json:"count"`
		Tasks []tasks.Task `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if out.Count != 1 || out.Tasks[0].ID != "1.2" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestTool_Get(t *testing.T) {
	svc := newFake()
	cs := connect(t, NewMCPServer(svc, "test", ""))

	text, isErr := call(t, cs, ToolGet, map[string]any{"id": "1.1"})
	if isErr || !strings.Contains(text, "Tokenizer") {
		t.Fatalf("unexpected result: %s", text)
	}

	text, isErr = call(t, cs, ToolGet, map[string]any{"id": "7"})
	if !isErr || !strings.Contains(text, "task not found") {
		t.Fatalf("expected not found, got %s", text)
	}

	svc.getErr = &remote.ServerError{Message: "boom"}
	text, isErr = call(t, cs, ToolGet, map[string]any{"id": "1.1"})
	if !isErr || text != "MCP server error: boom" {
		t.Fatalf("expected the server error, got %s", text)
	}

	_, isErr = call(t, cs, ToolGet, map[string]any{})
	if !isErr {
		t.Fatal("expected an error without id")
	}
}

func TestTool_UpdateStatusAndRefresh(t *testing.T) {
	svc := newFake()
	cs := connect(t, NewMCPServer(svc, "test", ""))

	text, isErr := call(t, cs, ToolUpdateStatus, map[string]any{"id": "1.2", "status": "completed"})
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}
	if svc.updated["1.2"] != tasks.StatusCompleted {
		t.Fatalf("status not forwarded: %v", svc.updated)
	}

	text, isErr = call(t, cs, ToolRefresh, nil)
	if isErr || svc.refresh != 1 {
		t.Fatalf("refresh: %s (calls %d)", text, svc.refresh)
	}
}

func TestMatchesFilter(t *testing.T) {
	if !matchesFilter("tasks_get", "tasks_list,tasks_get") {
		t.Error("matchesFilter should accept a listed tool")
	}
	if matchesFilter("tasks_get", "tasks_list") {
		t.Error("matchesFilter should reject an unlisted tool")
	}
}
