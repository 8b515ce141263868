package taskfile

import (
	"log/slog"
	"sort"
	"time"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// ParseOptions tunes parsing. The zero value is ready to use.
type ParseOptions struct {
	// Now stamps tasks that carry no dates. Defaults to time.Now in UTC.
	Now func() time.Time
}

func (o ParseOptions) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// rawTask is a decoded task record with the context it came from.
type rawTask struct {
	context string
	fields  map[string]any
}

// flattenContexts walks a {<context>: {"tasks": [...]}} document in sorted
// context order. A top-level "tasks" array is read as the "default" context.
// found reports whether any tasks array was seen at all.
func flattenContexts(doc map[string]any) (raws []rawTask, found bool) {
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var list []any
		switch v := doc[name].(type) {
		case map[string]any:
			l, ok := v["tasks"].([]any)
			if !ok {
				continue
			}
			list = l
		case []any:
			if name != "tasks" {
				continue
			}
			list = v
			name = "default"
		default:
			continue
		}
		found = true
		for _, item := range list {
			fields, ok := item.(map[string]any)
			if !ok {
				slog.Debug("skipping non-object task entry", "context", name)
				continue
			}
			raws = append(raws, rawTask{context: name, fields: fields})
		}
	}
	return raws, found
}

// MapTasks maps a list of decoded task records. Records without an id are
// dropped.
func MapTasks(list []any, context string, opts ParseOptions) []tasks.Task {
	out := make([]tasks.Task, 0, len(list))
	for _, item := range list {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := MapTask(fields, context, opts); ok {
			out = append(out, t)
		}
	}
	return out
}

// MapTask converts one decoded record into a Task, coercing every field.
// It fails only when the record has no usable id.
func MapTask(raw map[string]any, context string, opts ParseOptions) (tasks.Task, bool) {
	id, ok := tasks.CoerceString(raw["id"])
	if !ok || id == "" {
		slog.Debug("dropping task without id", "context", context)
		return tasks.Task{}, false
	}
	now := opts.now()

	t := tasks.Task{
		ID:                id,
		Title:             str(raw, "title"),
		Description:       str(raw, "description"),
		Details:           str(raw, "details"),
		TestStrategy:      str(raw, "testStrategy", "test_strategy"),
		Notes:             str(raw, "notes"),
		Status:            tasks.ParseStatus(str(raw, "status")),
		Priority:          tasks.ParsePriority(str(raw, "priority")),
		ParentTaskID:      str(raw, "parentTaskId", "parent_task_id", "parentId"),
		EstimatedDuration: str(raw, "estimatedDuration", "estimated_duration"),
		Assignee:          str(raw, "assignee"),
	}
	if t.Title == "" {
		t.Title = tasks.DefaultTitle
	}
	if t.EstimatedDuration == "" {
		t.EstimatedDuration = tasks.DefaultEstimatedDuration
	}
	if t.Assignee == "" {
		t.Assignee = tasks.DefaultAssignee
	}

	switch {
	case raw["complexity"] != nil:
		t.Complexity = tasks.ParseComplexity(str(raw, "complexity"))
	case raw["priority"] != nil:
		t.Complexity = t.Priority.Complexity()
	default:
		t.Complexity = tasks.ComplexityLow
	}

	t.Dependencies = strs(raw, "dependencies")
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	t.Requirements = strs(raw, "requirements")
	if len(t.Requirements) == 0 {
		t.Requirements = []string{id}
	}
	t.Tags = strs(raw, "tags")
	if len(t.Tags) == 0 {
		t.Tags = []string{tasks.DefaultTag}
	}
	t.SubTaskIDs = strs(raw, "subTasks")
	t.Subtasks = mapSubtasks(raw["subtasks"])

	t.EstimatedHours = tasks.DefaultEstimatedHours
	if h, ok := tasks.CoerceNumber(raw["estimatedHours"]); ok {
		t.EstimatedHours = h
	}

	t.CreatedDate = now
	if c, ok := firstTime(raw, "createdDate", "created_at", "createdAt"); ok {
		t.CreatedDate = c
	}
	t.LastModified = now
	if m, ok := firstTime(raw, "lastModified", "updated_at", "updatedAt"); ok {
		t.LastModified = m
	}

	t.IsExecutable = tasks.CoerceBool(raw["isExecutable"], t.Status == tasks.StatusNotStarted)

	if ts, ok := raw["testStatus"].(map[string]any); ok {
		t.TestStatus = mapTestStatus(ts)
	}
	if impl, ok := raw["implementation"].(map[string]any); ok {
		t.Implementation = mapImplementation(impl)
	}

	t.Normalize()
	return t, true
}

func mapSubtasks(v any) []tasks.Subtask {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]tasks.Subtask, 0, len(list))
	for _, item := range list {
		switch x := item.(type) {
		case map[string]any:
			id, ok := tasks.CoerceString(x["id"])
			if !ok {
				continue
			}
			out = append(out, tasks.Subtask{
				ID:          id,
				Title:       str(x, "title"),
				Description: str(x, "description"),
				Status:      tasks.ParseStatus(str(x, "status")),
			})
		default:
			if id, ok := tasks.CoerceString(x); ok {
				out = append(out, tasks.Subtask{ID: id, Status: tasks.StatusNotStarted})
			}
		}
	}
	return out
}

func mapTestStatus(raw map[string]any) *tasks.TestStatus {
	ts := &tasks.TestStatus{
		Status: tasks.ParseTestRunStatus(str(raw, "status")),
	}
	if d, ok := tasks.CoerceTime(raw["lastRunDate"]); ok {
		ts.LastRunDate = d
	}
	ts.TotalTests, _ = tasks.CoerceInt(raw["totalTests"])
	ts.PassedTests, _ = tasks.CoerceInt(raw["passedTests"])
	ts.FailedTests, _ = tasks.CoerceInt(raw["failedTests"])
	ts.Coverage, _ = tasks.CoerceNumber(raw["coverage"])

	if list, ok := raw["failingTestsList"].([]any); ok {
		for _, item := range list {
			f, ok := item.(map[string]any)
			if !ok {
				continue
			}
			ft := tasks.FailingTest{
				Name:          str(f, "name"),
				Message:       str(f, "message"),
				Category:      tasks.ParseFailureCategory(str(f, "category")),
				StackTrace:    str(f, "stackTrace"),
				TestFile:      str(f, "testFile"),
				ExpectedValue: str(f, "expectedValue"),
				ActualValue:   str(f, "actualValue"),
			}
			ft.LineNumber, _ = tasks.CoerceInt(f["lineNumber"])
			ts.FailingTestsList = append(ts.FailingTestsList, ft)
		}
	}
	return ts
}

func mapImplementation(raw map[string]any) *tasks.Implementation {
	impl := &tasks.Implementation{
		Summary:       str(raw, "summary"),
		FilesChanged:  strs(raw, "filesChanged"),
		CommitHash:    str(raw, "commitHash"),
		DiffAvailable: tasks.CoerceBool(raw["diffAvailable"], false),
	}
	if d, ok := tasks.CoerceTime(raw["completedDate"]); ok {
		impl.CompletedDate = &d
	}
	return impl
}

// str returns the first key that coerces to a string.
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := tasks.CoerceString(raw[k]); ok {
			return s
		}
	}
	return ""
}

func strs(raw map[string]any, key string) []string {
	v, ok := tasks.CoerceStrings(raw[key])
	if !ok {
		return nil
	}
	return v
}

func firstTime(raw map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if t, ok := tasks.CoerceTime(raw[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}
