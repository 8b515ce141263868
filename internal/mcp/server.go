package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Tool names.
const (
	ToolList         = "tasks_list"
	ToolGet          = "tasks_get"
	ToolUpdateStatus = "tasks_update_status"
	ToolRefresh      = "tasks_refresh"
)

// TaskService is the part of the resolver the tools call into.
type TaskService interface {
	GetTasks(ctx context.Context) []tasks.Task
	GetTaskByID(ctx context.Context, id string) (*tasks.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status tasks.TaskStatus) (bool, error)
	RefreshTasks(ctx context.Context) ([]tasks.Task, error)
}

type toolFunc func(ctx context.Context, args map[string]any) (any, error)

type tool struct {
	spec toolSpec
	run  toolFunc
}

func statusNames() []string {
	names := make([]string, len(tasks.Statuses))
	for i, s := range tasks.Statuses {
		names[i] = string(s)
	}
	return names
}

func taskTools(svc TaskService) []tool {
	return []tool{
		{
			spec: toolSpec{
				Name:        ToolList,
				Description: "List every task from the first available source. Optionally filter by status.",
				Parameters: map[string]param{
					"status": {Type: "string", Description: "Only return tasks with this status", Enum: statusNames()},
				},
			},
			run: func(ctx context.Context, args map[string]any) (any, error) {
				list := svc.GetTasks(ctx)
				if s, _ := args["status"].(string); s != "" {
					want, ok := tasks.LookupStatus(s)
					if !ok {
						return nil, fmt.Errorf("unknown status %q", s)
					}
					filtered := make([]tasks.Task, 0, len(list))
					for _, t := range list {
						if t.Status == want {
							filtered = append(filtered, t)
						}
					}
					list = filtered
				}
				return map[string]any{"count": len(list), "tasks": list}, nil
			},
		},
		{
			spec: toolSpec{
				Name:        ToolGet,
				Description: "Get one task by id.",
				Parameters: map[string]param{
					"id": {Type: "string", Description: "Task id, e.g. 1.2", Required: true},
				},
			},
			run: func(ctx context.Context, args map[string]any) (any, error) {
				id, err := requireString(args, "id")
				if err != nil {
					return nil, err
				}
				t, err := svc.GetTaskByID(ctx, id)
				if err != nil {
					return nil, err
				}
				if t == nil {
					return nil, fmt.Errorf("task not found: %s", id)
				}
				return t, nil
			},
		},
		{
			spec: toolSpec{
				Name:        ToolUpdateStatus,
				Description: "Change the status of a task and refresh the task list.",
				Parameters: map[string]param{
					"id":     {Type: "string", Description: "Task id", Required: true},
					"status": {Type: "string", Description: "New status", Required: true, Enum: statusNames()},
				},
			},
			run: func(ctx context.Context, args map[string]any) (any, error) {
				id, err := requireString(args, "id")
				if err != nil {
					return nil, err
				}
				raw, err := requireString(args, "status")
				if err != nil {
					return nil, err
				}
				status, ok := tasks.LookupStatus(raw)
				if !ok {
					return nil, fmt.Errorf("unknown status %q", raw)
				}
				ok, err = svc.UpdateTaskStatus(ctx, id, status)
				if err != nil {
					return nil, err
				}
				return map[string]any{"success": ok, "id": id, "status": status}, nil
			},
		},
		{
			spec: toolSpec{
				Name:        ToolRefresh,
				Description: "Ask the task server to reload and re-resolve the task list.",
				Parameters:  map[string]param{},
			},
			run: func(ctx context.Context, _ map[string]any) (any, error) {
				list, err := svc.RefreshTasks(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"count": len(list)}, nil
			},
		},
	}
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := tasks.CoerceString(args[key])
	if !ok || v == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return v, nil
}

// NewMCPServer creates an MCP server exposing the task tools.
// If filter is non-empty, only the comma separated tool names it lists are
// exposed.
func NewMCPServer(svc TaskService, version, filter string) *mcpsdk.Server {
	if version == "" {
		version = "dev"
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "taskscope",
		Version: version,
	}, nil)

	for _, t := range taskTools(svc) {
		if filter != "" && !matchesFilter(t.spec.Name, filter) {
			continue
		}

		run := t.run
		toolName := t.spec.Name

		server.AddTool(t.spec.toMCPTool(), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			args := map[string]any{}
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return errorResult(fmt.Errorf("invalid arguments: %w", err)), nil
				}
			}
			result, err := run(ctx, args)
			if err != nil {
				slog.Debug("mcp tool error", "tool", toolName, "error", err)
				return errorResult(err), nil
			}
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return errorResult(err), nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
			}, nil
		})

		slog.Debug("mcp tool registered", "tool", toolName)
	}

	return server
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}

// matchesFilter checks if a tool name is listed in the filter.
func matchesFilter(toolName, filter string) bool {
	for _, name := range strings.Split(filter, ",") {
		if strings.TrimSpace(name) == toolName {
			return true
		}
	}
	return false
}
