package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinInterval is the shortest accepted interval between two refreshes.
const MinInterval = 5 * time.Second

// EventTrigger describes an event-based trigger for a schedule entry.
// Sources, when set, restricts it to events from these publishers. Filter
// values are compared with the payload, strings as doublestar globs.
type EventTrigger struct {
	Event   string            `json:"event"`
	Sources []string          `json:"sources,omitempty"`
	Filter  map[string]string `json:"filter,omitempty"`
}

// ScheduleEntry describes when the task list is refreshed. Exactly one of
// CronSpec, IntervalSec and OnEvent is expected; the first set one wins.
type ScheduleEntry struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	CronSpec    string        `json:"cron_spec,omitempty"`
	IntervalSec int           `json:"interval_sec,omitempty"`
	OnEvent     *EventTrigger `json:"on_event,omitempty"`
	CooldownSec int           `json:"cooldown_sec"`
	MaxRuns     int           `json:"max_runs,omitempty"`
	RunCount    int           `json:"run_count"`
	Enabled     bool          `json:"enabled"`
	CreatedAt   time.Time     `json:"created_at"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty"`
}

// Spec returns a human readable form of the trigger.
func (e *ScheduleEntry) Spec() string {
	switch {
	case e.CronSpec != "":
		return e.CronSpec
	case e.IntervalSec > 0:
		return (time.Duration(e.IntervalSec) * time.Second).String()
	case e.OnEvent != nil:
		return "on " + e.OnEvent.Event
	}
	return ""
}

// Validate checks that the entry has a usable trigger.
func (e *ScheduleEntry) Validate() error {
	if e.CronSpec == "" && e.IntervalSec == 0 && e.OnEvent == nil {
		return fmt.Errorf("schedule entry must have cron, interval, or on_event trigger")
	}
	if e.IntervalSec > 0 && time.Duration(e.IntervalSec)*time.Second < MinInterval {
		return fmt.Errorf("interval must be at least %s", MinInterval)
	}
	return nil
}

// EntryFromSpec builds an enabled entry from a configuration string: a Go
// duration ("10m") becomes an interval, anything else is parsed as cron.
func EntryFromSpec(id, spec string) (*ScheduleEntry, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule spec")
	}
	e := &ScheduleEntry{ID: id, Title: "refresh (" + spec + ")", Enabled: true}
	if d, err := time.ParseDuration(spec); err == nil {
		e.IntervalSec = int(d / time.Second)
	} else {
		if _, err := ParseCron(spec); err != nil {
			return nil, err
		}
		e.CronSpec = spec
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// GenerateScheduleID creates a unique schedule identifier with "sched_" prefix.
func GenerateScheduleID() string {
	u := uuid.New().String()
	return "sched_" + strings.ReplaceAll(u[:8], "-", "")
}
