package events

import (
	"testing"
	"time"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

func TestTypedEvent_TasksUpdated(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := TasksUpdatedPayload{
		Source: "file",
		Count:  1,
		Tasks:  []tasks.Task{{ID: "1.1", Title: "T", Status: tasks.StatusReview, CreatedDate: created}},
	}
	evt := NewTypedEvent(SourceResolver, payload)

	if evt.Type != EventTasksUpdated {
		t.Fatalf("expected type %q, got %q", EventTasksUpdated, evt.Type)
	}
	got, ok := GetTasksUpdatedPayload(evt)
	if !ok {
		t.Fatal("GetTasksUpdatedPayload returned false")
	}
	if got.Source != "file" || got.Count != 1 || len(got.Tasks) != 1 {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Tasks[0].Status != tasks.StatusReview || !got.Tasks[0].CreatedDate.Equal(created) {
		t.Errorf("task did not survive the payload: %+v", got.Tasks[0])
	}
}

func TestTypedEvent_TaskError(t *testing.T) {
	payload := TaskErrorPayload{tasks.TaskErrorResponse{
		Operation:        tasks.OpStatusUpdate,
		Category:         tasks.ErrUnknown,
		TaskID:           "1.2",
		SuggestedAction:  tasks.ActionRetry,
		UserInstructions: "retry later",
		TechnicalDetails: "dial tcp: refused",
	}}
	evt := NewTypedEvent(SourceResolver, payload)

	// Embedded fields are flattened.
	if evt.Payload["operation"] != "status_update" || evt.Payload["taskId"] != "1.2" {
		t.Fatalf("unexpected payload map %v", evt.Payload)
	}
	got, ok := GetTaskErrorPayload(evt)
	if !ok {
		t.Fatal("GetTaskErrorPayload returned false")
	}
	if got.TaskErrorResponse != payload.TaskErrorResponse {
		t.Errorf("got %+v, want %+v", got, payload)
	}
}

func TestTypedEvent_Resolved(t *testing.T) {
	evt := NewTypedEvent(SourceResolver, TasksResolvedPayload{Source: "mock", Count: 3, Attempts: []string{"persistence", "file", "remote", "mock"}})
	got, ok := GetTasksResolvedPayload(evt)
	if !ok {
		t.Fatal("GetTasksResolvedPayload returned false")
	}
	if got.Source != "mock" || len(got.Attempts) != 4 {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestExtractPayload_WrongType(t *testing.T) {
	evt := NewTypedEvent(SourceResolver, TasksUpdatedPayload{Source: "file"})
	if _, ok := GetTaskErrorPayload(evt); ok {
		t.Error("expected extraction of a mismatched type to fail")
	}
}

func TestScheduleTriggerPayload(t *testing.T) {
	evt := NewTypedEvent(SourceScheduler, ScheduleTriggerPayload{EntryID: "refresh", Spec: "@every 1m"})
	if evt.Type != EventScheduleTrigger {
		t.Fatalf("expected %q, got %q", EventScheduleTrigger, evt.Type)
	}
	got, ok := ExtractPayload[ScheduleTriggerPayload](evt)
	if !ok || got.Spec != "@every 1m" {
		t.Errorf("got %+v, %v", got, ok)
	}
}
