package config

import (
	"time"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Keys understood by Config.Get.
const (
	KeyWorkspace        = "workspace"
	KeyTaskFile         = "tasks.file"
	KeyTaskPatterns     = "tasks.patterns"
	KeyLocalFallback    = "tasks.local_fallback"
	KeyRemoteHost       = "remote.host"
	KeyRemotePort       = "remote.port"
	KeyRemoteTimeout    = "remote.timeout"
	KeyRepoName         = "storage.repo_name"
	KeyGatewayHost      = "gateway.host"
	KeyGatewayPort      = "gateway.port"
	KeyEventsBuffer     = "events.buffer_size"
	KeySchedulerRefresh = "scheduler.refresh"
)

// Provider is a key/value settings source. Consumers read it through the
// typed helpers below rather than holding on to a concrete Config.
type Provider interface {
	Get(key string) (any, bool)
}

// MapProvider is a Provider backed by a plain map.
type MapProvider map[string]any

func (m MapProvider) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// String returns the string setting at key, or def.
func String(p Provider, key, def string) string {
	if v, ok := lookup(p, key); ok {
		if s, ok := tasks.CoerceString(v); ok && s != "" {
			return s
		}
	}
	return def
}

// Int returns the integer setting at key, or def.
func Int(p Provider, key string, def int) int {
	if v, ok := lookup(p, key); ok {
		if n, ok := tasks.CoerceInt(v); ok {
			return n
		}
	}
	return def
}

// Bool returns the boolean setting at key, or def.
func Bool(p Provider, key string, def bool) bool {
	if v, ok := lookup(p, key); ok {
		return tasks.CoerceBool(v, def)
	}
	return def
}

// Strings returns the list setting at key, or def.
func Strings(p Provider, key string, def []string) []string {
	if v, ok := lookup(p, key); ok {
		if l, ok := tasks.CoerceStrings(v); ok && len(l) > 0 {
			return l
		}
	}
	return def
}

// DurationValue returns the duration setting at key, or def. Strings are parsed
// with time.ParseDuration, numbers are milliseconds.
func DurationValue(p Provider, key string, def time.Duration) time.Duration {
	v, ok := lookup(p, key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	default:
		if n, ok := tasks.CoerceNumber(v); ok {
			return time.Duration(n * float64(time.Millisecond))
		}
	}
	return def
}

func lookup(p Provider, key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.Get(key)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
