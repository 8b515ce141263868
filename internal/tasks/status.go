package tasks

import "strings"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusNotStarted TaskStatus = "not_started"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusCompleted  TaskStatus = "completed"
	StatusBlocked    TaskStatus = "blocked"
	StatusDeprecated TaskStatus = "deprecated"
)

// Statuses lists every canonical status in display order.
var Statuses = []TaskStatus{
	StatusNotStarted,
	StatusInProgress,
	StatusReview,
	StatusCompleted,
	StatusBlocked,
	StatusDeprecated,
}

var statusAliases = map[string]TaskStatus{
	"done":             StatusCompleted,
	"completed":        StatusCompleted,
	"complete":         StatusCompleted,
	"finished":         StatusCompleted,
	"in_progress":      StatusInProgress,
	"in-progress":      StatusInProgress,
	"inprogress":       StatusInProgress,
	"active":           StatusInProgress,
	"started":          StatusInProgress,
	"doing":            StatusInProgress,
	"wip":              StatusInProgress,
	"review":           StatusReview,
	"ready_for_review": StatusReview,
	"ready-for-review": StatusReview,
	"in_review":        StatusReview,
	"in-review":        StatusReview,
	"pending":          StatusNotStarted,
	"not_started":      StatusNotStarted,
	"not-started":      StatusNotStarted,
	"todo":             StatusNotStarted,
	"open":             StatusNotStarted,
	"new":              StatusNotStarted,
	"blocked":          StatusBlocked,
	"deprecated":       StatusDeprecated,
	"cancelled":        StatusDeprecated,
	"canceled":         StatusDeprecated,
	"obsolete":         StatusDeprecated,
}

// ParseStatus maps any known spelling to a canonical status.
// Unrecognized input yields StatusNotStarted.
func ParseStatus(s string) TaskStatus {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return StatusNotStarted
}

// LookupStatus is like ParseStatus but reports whether s was recognized.
func LookupStatus(s string) (TaskStatus, bool) {
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// DisplayName returns the human readable label of the status.
func (s TaskStatus) DisplayName() string {
	switch s {
	case StatusNotStarted:
		return "Not Started"
	case StatusInProgress:
		return "In Progress"
	case StatusReview:
		return "Review"
	case StatusCompleted:
		return "Completed"
	case StatusBlocked:
		return "Blocked"
	case StatusDeprecated:
		return "Deprecated"
	}
	return "Unknown"
}

// Complexity estimates how hard a task is.
type Complexity string

const (
	ComplexityLow     Complexity = "low"
	ComplexityMedium  Complexity = "medium"
	ComplexityHigh    Complexity = "high"
	ComplexityExtreme Complexity = "extreme"
)

// ParseComplexity maps a loose spelling to a complexity, defaulting to low.
func ParseComplexity(s string) Complexity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "medium", "moderate", "normal":
		return ComplexityMedium
	case "high", "hard", "complex":
		return ComplexityHigh
	case "extreme", "very_high", "very-high", "critical":
		return ComplexityExtreme
	}
	return ComplexityLow
}

// Priority ranks tasks against each other.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority maps a loose spelling to a priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "minor":
		return PriorityLow
	case "high", "major":
		return PriorityHigh
	case "critical", "urgent", "blocker":
		return PriorityCritical
	}
	return PriorityMedium
}

// Complexity derives a complexity from a priority. Task files that carry only
// a priority get their complexity this way.
func (p Priority) Complexity() Complexity {
	switch p {
	case PriorityMedium:
		return ComplexityMedium
	case PriorityHigh:
		return ComplexityHigh
	case PriorityCritical:
		return ComplexityExtreme
	}
	return ComplexityLow
}

// TestRunStatus is the aggregate outcome of a test run.
type TestRunStatus string

const (
	TestNotRun  TestRunStatus = "not_run"
	TestPassing TestRunStatus = "passing"
	TestFailing TestRunStatus = "failing"
	TestPartial TestRunStatus = "partial"
	TestError   TestRunStatus = "error"
)

// ParseTestRunStatus defaults to not_run for unknown input.
func ParseTestRunStatus(s string) TestRunStatus {
	switch st := TestRunStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TestPassing, TestFailing, TestPartial, TestError:
		return st
	}
	return TestNotRun
}

// FailureCategory classifies a failing test.
type FailureCategory string

const (
	FailureAssertion  FailureCategory = "assertion"
	FailureType       FailureCategory = "type"
	FailureFilesystem FailureCategory = "filesystem"
	FailureTimeout    FailureCategory = "timeout"
	FailureNetwork    FailureCategory = "network"
)

// FailureCategories lists every failing-test category.
var FailureCategories = []FailureCategory{
	FailureAssertion,
	FailureType,
	FailureFilesystem,
	FailureTimeout,
	FailureNetwork,
}

// ParseFailureCategory defaults to assertion for unknown input.
func ParseFailureCategory(s string) FailureCategory {
	switch c := FailureCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case FailureType, FailureFilesystem, FailureTimeout, FailureNetwork:
		return c
	}
	return FailureAssertion
}
