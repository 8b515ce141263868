package taskfile

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

func TestParseJSON_MasterExample(t *testing.T) {
	data := []byte(`{"master":{"tasks":[{"id":1,"title":"T","status":"done"}]}}`)

	got, err := ParseJSON(data, fixedOpts())
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 task, got %d", len(got))
	}
	task := got[0]
	if task.ID != "1" {
		t.Errorf("ID: got %q, want %q", task.ID, "1")
	}
	if task.Title != "T" {
		t.Errorf("Title: got %q, want %q", task.Title, "T")
	}
	if task.Status != tasks.StatusCompleted {
		t.Errorf("Status: got %q, want %q", task.Status, tasks.StatusCompleted)
	}
	if task.Complexity != tasks.ComplexityLow {
		t.Errorf("Complexity: got %q, want %q", task.Complexity, tasks.ComplexityLow)
	}
	if !reflect.DeepEqual(task.Requirements, []string{"1"}) {
		t.Errorf("Requirements: got %v, want [1]", task.Requirements)
	}
	if task.IsExecutable {
		t.Error("IsExecutable: want false for completed task")
	}
	if task.Priority != tasks.PriorityMedium {
		t.Errorf("Priority: got %q, want %q", task.Priority, tasks.PriorityMedium)
	}
}

func TestParseJSON_Idempotent(t *testing.T) {
	data := []byte(`{
		"master": {"tasks": [
			{"id": "1.1", "title": "A", "status": "in_progress", "priority": "high", "dependencies": [1, "2"]},
			{"id": "1.2", "title": "B", "status": "ready-for-review", "createdDate": "2025-01-01T00:00:00Z"}
		]},
		"feature": {"tasks": [{"id": 7, "status": "blocked"}]}
	}`)

	first, err := ParseJSON(data, fixedOpts())
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	second, err := ParseJSON(data, fixedOpts())
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("parsing twice differs:\n%+v\n%+v", first, second)
	}

	// Contexts flatten in sorted order: feature before master.
	ids := []string{first[0].ID, first[1].ID, first[2].ID}
	if !reflect.DeepEqual(ids, []string{"7", "1.1", "1.2"}) {
		t.Errorf("order: got %v", ids)
	}
	if first[1].Complexity != tasks.ComplexityHigh {
		t.Errorf("complexity from priority: got %q, want high", first[1].Complexity)
	}
	if !reflect.DeepEqual(first[1].Dependencies, []string{"1", "2"}) {
		t.Errorf("Dependencies: got %v", first[1].Dependencies)
	}
	if first[2].Status != tasks.StatusReview {
		t.Errorf("Status: got %q, want review", first[2].Status)
	}
}

func TestParseJSON_Lenient(t *testing.T) {
	data := []byte(`{"ctx":{"tasks":[
		{"title": "no id"},
		"not an object",
		{"id": "x", "estimatedHours": "lots", "isExecutable": "nope", "createdDate": "garbage",
		 "complexity": "medium", "priority": "critical", "tags": "a,b",
		 "subtasks": [{"id": 1, "description": "child", "status": "done"}, "2"],
		 "testStatus": {"totalTests": "10", "passedTests": 8, "failedTests": 2, "status": "failing",
		   "failingTestsList": [{"name": "t1", "message": "boom", "category": "network", "lineNumber": "12"}]},
		 "implementation": {"summary": "done", "filesChanged": ["a.go"], "diffAvailable": true}}
	]}}`)

	got, err := ParseJSON(data, fixedOpts())
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the record with an id, got %d", len(got))
	}
	task := got[0]
	if task.Title != tasks.DefaultTitle {
		t.Errorf("Title: got %q", task.Title)
	}
	if task.EstimatedHours != 1 {
		t.Errorf("EstimatedHours: got %v, want default 1", task.EstimatedHours)
	}
	if !task.IsExecutable {
		t.Error("IsExecutable: malformed value should default to status rule")
	}
	if !task.CreatedDate.Equal(fixedNow) {
		t.Errorf("CreatedDate: got %v, want now", task.CreatedDate)
	}
	if task.Complexity != tasks.ComplexityMedium || task.Priority != tasks.PriorityCritical {
		t.Errorf("complexity/priority: got %q/%q", task.Complexity, task.Priority)
	}
	if !reflect.DeepEqual(task.Tags, []string{"a", "b"}) {
		t.Errorf("Tags: got %v", task.Tags)
	}
	if len(task.Subtasks) != 2 || task.Subtasks[0].Status != tasks.StatusCompleted || task.Subtasks[1].ID != "2" {
		t.Errorf("Subtasks: got %+v", task.Subtasks)
	}
	ts := task.TestStatus
	if ts == nil || ts.TotalTests != 10 || ts.FailedTests != 2 || ts.Status != tasks.TestFailing {
		t.Fatalf("TestStatus: got %+v", ts)
	}
	if len(ts.FailingTestsList) != 1 || ts.FailingTestsList[0].Category != tasks.FailureNetwork || ts.FailingTestsList[0].LineNumber != 12 {
		t.Errorf("FailingTestsList: got %+v", ts.FailingTestsList)
	}
	if task.Implementation == nil || !task.Implementation.DiffAvailable || task.Implementation.FilesChanged[0] != "a.go" {
		t.Errorf("Implementation: got %+v", task.Implementation)
	}
}

func TestParseJSON_TemporalInvariant(t *testing.T) {
	data := []byte(`{"m":{"tasks":[{"id":"1","createdDate":"2025-05-02T00:00:00Z","lastModified":"2025-05-01T00:00:00Z"}]}}`)
	got, err := ParseJSON(data, fixedOpts())
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	want := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	if !got[0].LastModified.Equal(want) {
		t.Errorf("LastModified: got %v, want shifted to %v", got[0].LastModified, want)
	}
}

func TestParseJSON_TopLevelTasks(t *testing.T) {
	got, err := ParseJSON([]byte(`{"tasks":[{"id":"a"},{"id":"b"}]}`), fixedOpts())
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(got))
	}
}

func TestParseJSON_Errors(t *testing.T) {
	_, err := ParseJSON([]byte(`{"master": {"tasks": [`), fixedOpts())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("truncated JSON: got %v, want *ParseError", err)
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) && !strings.Contains(err.Error(), "unexpected EOF") {
		t.Errorf("expected decoder error to be wrapped, got %v", err)
	}

	var verr *ValidationError
	if _, err := ParseJSON([]byte(`[1,2]`), fixedOpts()); !errors.As(err, &verr) {
		t.Errorf("array top level: got %v, want *ValidationError", err)
	}
	if _, err := ParseJSON([]byte(`{"master": {"items": []}}`), fixedOpts()); !errors.As(err, &verr) {
		t.Errorf("no tasks array: got %v, want *ValidationError", err)
	}
}

func TestValidateDocument(t *testing.T) {
	data := []byte(`{
		"a": {"tasks": [{"id": "1", "title": "ok", "status": "done"}, {"id": "1", "status": "weird"}]},
		"b": {"items": []}
	}`)
	issues := ValidateDocument(data)

	var msgs []string
	for _, i := range issues {
		msgs = append(msgs, i.String())
	}
	joined := strings.Join(msgs, "\n")

	for _, want := range []string{
		"a[1].title: missing title",
		`a[1].status: unknown status "weird"`,
		`a[1].id: duplicate id "1"`,
		"b.tasks: missing tasks array",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected issue %q in:\n%s", want, joined)
		}
	}

	if issues := ValidateDocument([]byte(`{"m":{"tasks":[{"id":"1","title":"t","status":"done"}]}}`)); len(issues) != 0 {
		t.Errorf("valid document: got issues %v", issues)
	}
}

func TestUpdateJSONStatus(t *testing.T) {
	data := []byte(`{"master":{"tasks":[{"id":1,"title":"T","status":"pending","extra":{"keep":true}}]}}`)

	out, err := UpdateJSONStatus(data, "1", tasks.StatusReview)
	if err != nil {
		t.Fatalf("UpdateJSONStatus: %v", err)
	}
	got, err := ParseJSON(out, fixedOpts())
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if got[0].Status != tasks.StatusReview {
		t.Errorf("Status: got %q, want review", got[0].Status)
	}
	if !strings.Contains(string(out), `"keep": true`) {
		t.Errorf("unrelated fields should be preserved: %s", out)
	}
	if !strings.Contains(string(out), `"id": 1`) {
		t.Errorf("numeric id should stay numeric: %s", out)
	}

	if _, err := UpdateJSONStatus(data, "2", tasks.StatusReview); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("missing id: got %v, want ErrTaskNotFound", err)
	}
}
