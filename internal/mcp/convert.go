// Package mcp exposes the task pipeline as MCP tools.
package mcp

import (
	"sort"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// param describes one tool argument.
type param struct {
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// toolSpec is the declarative form of a tool before it is handed to the SDK.
type toolSpec struct {
	Name        string
	Description string
	Parameters  map[string]param
}

// toMCPTool converts a toolSpec to an mcp.Tool with JSON Schema.
func (spec toolSpec) toMCPTool() *mcpsdk.Tool {
	props := make(map[string]any, len(spec.Parameters))
	var required []string

	for name, p := range spec.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop

		if p.Required {
			required = append(required, name)
		}
	}

	// Sort required for deterministic output
	sort.Strings(required)

	inputSchema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	return &mcpsdk.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		InputSchema: inputSchema,
	}
}
