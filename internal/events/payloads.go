package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// RESOLUTION EVENTS
// =============================================================================

// TasksUpdatedPayload carries a freshly resolved task list.
type TasksUpdatedPayload struct {
	Source string       `json:"source"`
	Count  int          `json:"count"`
	Tasks  []tasks.Task `json:"tasks"`
}

func (TasksUpdatedPayload) EventType() EventType { return EventTasksUpdated }

// TaskErrorPayload carries a classified pipeline error.
type TaskErrorPayload struct {
	tasks.TaskErrorResponse
}

func (TaskErrorPayload) EventType() EventType { return EventTasksError }

// TasksResolvedPayload records which source answered a resolution.
type TasksResolvedPayload struct {
	Source   string        `json:"source"`
	Count    int           `json:"count"`
	Attempts []string      `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (TasksResolvedPayload) EventType() EventType { return EventTasksResolved }

// =============================================================================
// WATCH / SCHEDULE EVENTS
// =============================================================================

type TaskFileChangedPayload struct {
	Path string `json:"path"`
}

func (TaskFileChangedPayload) EventType() EventType { return EventTaskFileChanged }

type ScheduleTriggerPayload struct {
	EntryID string `json:"entry_id"`
	Spec    string `json:"spec"`
	Trigger string `json:"trigger"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
}

func (ScheduleTriggerPayload) EventType() EventType { return EventScheduleTrigger }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetTasksUpdatedPayload(e Event) (TasksUpdatedPayload, bool) {
	return ExtractPayload[TasksUpdatedPayload](e)
}

func GetTaskErrorPayload(e Event) (TaskErrorPayload, bool) {
	return ExtractPayload[TaskErrorPayload](e)
}

func GetTasksResolvedPayload(e Event) (TasksResolvedPayload, bool) {
	return ExtractPayload[TasksResolvedPayload](e)
}
