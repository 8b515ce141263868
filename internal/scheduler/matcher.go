package scheduler

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dohr-michael/taskscope/internal/events"
)

// MatchEvent reports whether e fires trigger. Events published by the
// scheduler never match, so a refresh cannot schedule another one.
func MatchEvent(e events.Event, trigger *EventTrigger) bool {
	if trigger == nil || e.Source == events.SourceScheduler {
		return false
	}
	if string(e.Type) != trigger.Event {
		return false
	}
	if len(trigger.Sources) > 0 && !slices.Contains(trigger.Sources, string(e.Source)) {
		return false
	}
	for key, pattern := range trigger.Filter {
		val, ok := e.Payload[key]
		if !ok || !matchValue(pattern, val) {
			return false
		}
	}
	return true
}

// matchValue compares one payload value with its filter. String values are
// matched as doublestar globs, so a path filter may read "**/tasks.md".
func matchValue(pattern string, val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case string:
		if v == pattern {
			return true
		}
		ok, err := doublestar.Match(pattern, filepath.ToSlash(v))
		return err == nil && ok
	default:
		return fmt.Sprint(v) == pattern
	}
}
