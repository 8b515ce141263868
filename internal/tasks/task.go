// Package tasks defines the task record shared by every source of the
// resolution pipeline: task files, the persisted snapshot and the remote
// task server.
package tasks

import (
	"time"
)

// Defaults applied to tasks that do not carry their own values.
const (
	DefaultTitle             = "Untitled Task"
	DefaultAssignee          = "dev-team"
	DefaultEstimatedHours    = 1
	DefaultEstimatedDuration = "15-20 min"
	DefaultTag               = "task"
)

// Subtask is a structured child entry of a task.
type Subtask struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
}

// FailingTest describes a single failing test of the last test run.
type FailingTest struct {
	Name          string          `json:"name"`
	Message       string          `json:"message"`
	Category      FailureCategory `json:"category"`
	StackTrace    string          `json:"stackTrace,omitempty"`
	TestFile      string          `json:"testFile,omitempty"`
	LineNumber    int             `json:"lineNumber,omitempty"`
	ExpectedValue string          `json:"expectedValue,omitempty"`
	ActualValue   string          `json:"actualValue,omitempty"`
}

// TestStatus summarises the last test run associated with a task.
type TestStatus struct {
	LastRunDate      time.Time     `json:"lastRunDate"`
	TotalTests       int           `json:"totalTests"`
	PassedTests      int           `json:"passedTests"`
	FailedTests      int           `json:"failedTests"`
	Coverage         float64       `json:"coverage,omitempty"`
	Status           TestRunStatus `json:"status"`
	FailingTestsList []FailingTest `json:"failingTestsList,omitempty"`
}

// Implementation records how a completed task was delivered.
type Implementation struct {
	Summary       string     `json:"summary,omitempty"`
	FilesChanged  []string   `json:"filesChanged,omitempty"`
	CompletedDate *time.Time `json:"completedDate,omitempty"`
	CommitHash    string     `json:"commitHash,omitempty"`
	DiffAvailable bool       `json:"diffAvailable,omitempty"`
}

// Task is a unit of work as seen by the editor-facing consumers.
// The JSON shape is the persisted and wire shape.
type Task struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Details           string          `json:"details,omitempty"`
	TestStrategy      string          `json:"testStrategy,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	Status            TaskStatus      `json:"status"`
	StatusDisplayName string          `json:"statusDisplayName"`
	Complexity        Complexity      `json:"complexity"`
	Priority          Priority        `json:"priority"`
	Dependencies      []string        `json:"dependencies"`
	Requirements      []string        `json:"requirements"`
	ParentTaskID      string          `json:"parentTaskId,omitempty"`
	SubTaskIDs        []string        `json:"subTasks,omitempty"`
	Subtasks          []Subtask       `json:"subtasks,omitempty"`
	CreatedDate       time.Time       `json:"createdDate"`
	LastModified      time.Time       `json:"lastModified"`
	IsExecutable      bool            `json:"isExecutable"`
	EstimatedDuration string          `json:"estimatedDuration,omitempty"`
	EstimatedHours    float64         `json:"estimatedHours,omitempty"`
	Assignee          string          `json:"assignee,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	TestStatus        *TestStatus     `json:"testStatus,omitempty"`
	Implementation    *Implementation `json:"implementation,omitempty"`
}

// Normalize enforces lastModified >= createdDate (by moving lastModified
// forward) and refreshes the derived display name.
func (t *Task) Normalize() {
	if t.LastModified.Before(t.CreatedDate) {
		t.LastModified = t.CreatedDate
	}
	t.StatusDisplayName = t.Status.DisplayName()
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if len(t.Requirements) == 0 && t.ID != "" {
		t.Requirements = []string{t.ID}
	}
}

// SetStatus changes the status and keeps the derived fields consistent.
func (t *Task) SetStatus(s TaskStatus, now time.Time) {
	t.Status = s
	t.StatusDisplayName = s.DisplayName()
	if now.After(t.LastModified) {
		t.LastModified = now
	}
}

// Find returns the task with the given id, or nil.
func Find(list []Task, id string) *Task {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}
