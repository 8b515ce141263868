package taskfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// decodeJSONDocument decodes a task document keeping numbers as json.Number.
func decodeJSONDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ParseError{Format: FormatJSON, Err: err}
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{Issues: []Issue{{Index: -1, Message: "top level must be an object of contexts"}}}
	}
	return doc, nil
}

// ParseJSON parses a nested-context JSON document into tasks, flattening all
// contexts in sorted order.
func ParseJSON(data []byte, opts ParseOptions) ([]tasks.Task, error) {
	doc, err := decodeJSONDocument(data)
	if err != nil {
		return nil, err
	}
	return parseDocument(doc, opts)
}

func parseDocument(doc map[string]any, opts ParseOptions) ([]tasks.Task, error) {
	raws, found := flattenContexts(doc)
	if !found {
		return nil, &ValidationError{Issues: []Issue{{Index: -1, Message: "no context contains a tasks array"}}}
	}
	out := make([]tasks.Task, 0, len(raws))
	for _, r := range raws {
		if t, ok := MapTask(r.fields, r.context, opts); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// ValidateDocument reports structural problems of a JSON task document:
// contexts without a tasks array and tasks missing id, title or status.
func ValidateDocument(data []byte) []Issue {
	doc, err := decodeJSONDocument(data)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return verr.Issues
		}
		return []Issue{{Index: -1, Message: err.Error()}}
	}
	return validateDocument(doc)
}

func validateDocument(doc map[string]any) []Issue {
	var issues []Issue

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]string)
	sawTasks := false
	for _, name := range names {
		var list []any
		switch v := doc[name].(type) {
		case map[string]any:
			l, ok := v["tasks"].([]any)
			if !ok {
				issues = append(issues, Issue{Context: name, Index: -1, Field: "tasks", Message: "missing tasks array"})
				continue
			}
			list = l
		case []any:
			if name != "tasks" {
				issues = append(issues, Issue{Context: name, Index: -1, Message: "context must be an object"})
				continue
			}
			list = v
		default:
			issues = append(issues, Issue{Context: name, Index: -1, Message: "context must be an object"})
			continue
		}
		sawTasks = true

		for i, item := range list {
			fields, ok := item.(map[string]any)
			if !ok {
				issues = append(issues, Issue{Context: name, Index: i, Message: "task must be an object"})
				continue
			}
			for _, field := range []string{"id", "title", "status"} {
				if s, ok := tasks.CoerceString(fields[field]); !ok || s == "" {
					issues = append(issues, Issue{Context: name, Index: i, Field: field, Message: "missing " + field})
				}
			}
			if status, ok := fields["status"].(string); ok {
				if _, known := tasks.LookupStatus(status); !known {
					issues = append(issues, Issue{Context: name, Index: i, Field: "status", Message: fmt.Sprintf("unknown status %q (read as not_started)", status)})
				}
			}
			if id, ok := tasks.CoerceString(fields["id"]); ok && id != "" {
				if prev, dup := seen[id]; dup {
					issues = append(issues, Issue{Context: name, Index: i, Field: "id", Message: fmt.Sprintf("duplicate id %q (first seen in %s)", id, prev)})
				} else {
					seen[id] = name
				}
			}
		}
	}
	if !sawTasks && len(issues) == 0 {
		issues = append(issues, Issue{Index: -1, Message: "no context contains a tasks array"})
	}
	return issues
}

// UpdateJSONStatus sets the status field of the task with the given id,
// leaving the rest of the document untouched. Keys are re-emitted in sorted
// order.
func UpdateJSONStatus(data []byte, id string, status tasks.TaskStatus) ([]byte, error) {
	doc, err := decodeJSONDocument(data)
	if err != nil {
		return nil, err
	}
	raws, _ := flattenContexts(doc)
	updated := false
	for _, r := range raws {
		if rid, ok := tasks.CoerceString(r.fields["id"]); ok && rid == id {
			r.fields["status"] = string(status)
			updated = true
			break
		}
	}
	if !updated {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal task document: %w", err)
	}
	return append(out, '\n'), nil
}
