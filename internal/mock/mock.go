// Package mock generates the synthetic task set served when every real
// source of the resolution chain fails.
package mock

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Seed drives every generator so the catalogue is stable across runs.
const Seed uint64 = 0x7a5c09e

// NewRand returns the generator used by Tasks.
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(Seed, Seed>>1))
}

type entry struct {
	id          string
	title       string
	description string
	status      tasks.TaskStatus
	priority    tasks.Priority
	deps        []string
	hours       float64
	tags        []string
}

var catalogue = []entry{
	{"1.1", "Set up project structure", "Create the module layout, build scripts and CI skeleton.",
		tasks.StatusCompleted, tasks.PriorityHigh, nil, 2, []string{"setup", "infra"}},
	{"1.2", "Define the task data model", "Describe tasks, statuses and test results as typed records.",
		tasks.StatusCompleted, tasks.PriorityHigh, []string{"1.1"}, 3, []string{"model"}},
	{"1.3", "Parse Markdown checklists", "Read checkbox task lists and map them to tasks.",
		tasks.StatusReview, tasks.PriorityMedium, []string{"1.2"}, 4, []string{"parser"}},
	{"2.1", "Parse nested JSON task files", "Flatten context groups and map fields leniently.",
		tasks.StatusInProgress, tasks.PriorityHigh, []string{"1.2"}, 5, []string{"parser", "json"}},
	{"2.2", "Persist task snapshots", "Write the last known task list under the workspace data directory.",
		tasks.StatusInProgress, tasks.PriorityMedium, []string{"2.1"}, 3, []string{"storage"}},
	{"2.3", "Query the task server", "Call the JSON-RPC task server and decode its replies.",
		tasks.StatusBlocked, tasks.PriorityCritical, []string{"1.2"}, 6, []string{"remote"}},
	{"3.1", "Resolve tasks through the fallback chain", "Try snapshot, file, server and synthetic data in order.",
		tasks.StatusNotStarted, tasks.PriorityCritical, []string{"2.1", "2.2", "2.3"}, 8, []string{"core"}},
	{"3.2", "Publish update and error events", "Notify subscribers when tasks change or a source fails.",
		tasks.StatusNotStarted, tasks.PriorityMedium, []string{"3.1"}, 2, []string{"events"}},
	{"3.3", "Drop the legacy status manager", "Remove the superseded status bookkeeping path.",
		tasks.StatusDeprecated, tasks.PriorityLow, nil, 1, []string{"cleanup"}},
}

// Tasks returns the synthetic catalogue with generated timestamps and test
// results. The same now yields the same tasks.
func Tasks(now time.Time) []tasks.Task {
	now = now.UTC()
	rng := NewRand()

	out := make([]tasks.Task, 0, len(catalogue))
	for _, e := range catalogue {
		created, modified := Timestamps(rng, now)
		t := tasks.Task{
			ID:                e.id,
			Title:             e.title,
			Description:       e.description,
			Status:            e.status,
			Priority:          e.priority,
			Complexity:        e.priority.Complexity(),
			Dependencies:      append([]string{}, e.deps...),
			Requirements:      []string{e.id},
			CreatedDate:       created,
			LastModified:      modified,
			IsExecutable:      e.status == tasks.StatusNotStarted,
			EstimatedHours:    e.hours,
			EstimatedDuration: fmt.Sprintf("%gh", e.hours),
			Assignee:          tasks.DefaultAssignee,
			Tags:              append([]string{}, e.tags...),
		}
		switch e.status {
		case tasks.StatusInProgress, tasks.StatusReview, tasks.StatusCompleted, tasks.StatusBlocked:
			t.TestStatus = TestStatusFor(rng, t, now)
		}
		if e.status == tasks.StatusCompleted {
			done := modified
			t.Implementation = &tasks.Implementation{
				Summary:       "Implemented " + e.title,
				FilesChanged:  []string{fmt.Sprintf("internal/%s/%s.go", e.tags[0], e.tags[0])},
				CompletedDate: &done,
				CommitHash:    fmt.Sprintf("%07x", rng.Uint32()&0xfffffff),
				DiffAvailable: true,
			}
		}
		t.Normalize()
		out = append(out, t)
	}
	return out
}

// Timestamps returns created <= modified <= now, with created up to thirty
// days in the past.
func Timestamps(rng *rand.Rand, now time.Time) (created, modified time.Time) {
	age := time.Duration(rng.Int64N(int64(30*24*time.Hour))) + time.Hour
	created = now.Add(-age).Truncate(time.Second)
	modified = created.Add(time.Duration(rng.Int64N(int64(now.Sub(created)) + 1))).Truncate(time.Second)
	return created, modified
}

// TestStatusFor generates a test run placed between the task's last
// modification and now.
func TestStatusFor(rng *rand.Rand, t tasks.Task, now time.Time) *tasks.TestStatus {
	lastRun := now
	if t.LastModified.Before(now) {
		window := now.Sub(t.LastModified)
		lastRun = t.LastModified.Add(time.Duration(rng.Int64N(int64(window) + 1)))
	}

	total := 5 + rng.IntN(40)
	var failed int
	status := tasks.TestPassing
	switch t.Status {
	case tasks.StatusInProgress:
		failed = 1 + rng.IntN(total/2)
		status = tasks.TestPartial
	case tasks.StatusBlocked:
		failed = total/2 + rng.IntN(total/2+1)
		status = tasks.TestFailing
	case tasks.StatusReview:
		if rng.IntN(3) == 0 {
			failed = 1
			status = tasks.TestPartial
		}
	}
	if failed == total {
		status = tasks.TestFailing
	}

	ts := &tasks.TestStatus{
		LastRunDate: lastRun.Truncate(time.Millisecond),
		TotalTests:  total,
		PassedTests: total - failed,
		FailedTests: failed,
		Coverage:    float64(40+rng.IntN(60)) + float64(rng.IntN(10))/10,
		Status:      status,
	}
	if ts.LastRunDate.Before(t.LastModified) {
		ts.LastRunDate = t.LastModified
	}
	if failed > 0 {
		ts.FailingTestsList = FailingTests(rng, min(failed, 5))
	}
	return ts
}

var failureTemplates = map[tasks.FailureCategory]struct {
	message  string
	expected string
	actual   string
}{
	tasks.FailureAssertion:  {"expected values to be equal", "completed", "in_progress"},
	tasks.FailureType:       {"cannot read property of undefined", "object", "undefined"},
	tasks.FailureFilesystem: {"no such file or directory", "", ""},
	tasks.FailureTimeout:    {"test exceeded 5000ms", "", ""},
	tasks.FailureNetwork:    {"connection refused", "", ""},
}

// FailingTests generates n failing tests with categories drawn from the
// failing-test taxonomy.
func FailingTests(rng *rand.Rand, n int) []tasks.FailingTest {
	out := make([]tasks.FailingTest, 0, n)
	for i := 0; i < n; i++ {
		cat := tasks.FailureCategories[rng.IntN(len(tasks.FailureCategories))]
		tpl := failureTemplates[cat]
		file := fmt.Sprintf("internal/pkg%d/pkg%d_test.go", i+1, i+1)
		out = append(out, tasks.FailingTest{
			Name:          fmt.Sprintf("Test%s%sCase%d", strings.ToUpper(string(cat[:1])), cat[1:], i+1),
			Message:       tpl.message,
			Category:      cat,
			StackTrace:    fmt.Sprintf("%s:%d", file, 10+rng.IntN(200)),
			TestFile:      file,
			LineNumber:    10 + rng.IntN(200),
			ExpectedValue: tpl.expected,
			ActualValue:   tpl.actual,
		})
	}
	return out
}
