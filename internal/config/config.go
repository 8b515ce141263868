package config

import "time"

// Config is the root configuration of a taskscope workspace.
type Config struct {
	Workspace string          `json:"workspace"`
	Tasks     TasksConfig     `json:"tasks"`
	Remote    RemoteConfig    `json:"remote"`
	Storage   StorageConfig   `json:"storage"`
	Gateway   GatewayConfig   `json:"gateway"`
	Events    EventsConfig    `json:"events"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// TasksConfig locates the task file.
type TasksConfig struct {
	File          string   `json:"file"`           // explicit task file, relative to the workspace
	Patterns      []string `json:"patterns"`       // discovery globs when file is empty
	LocalFallback bool     `json:"local_fallback"` // rewrite the task file when the server is unreachable
}

// RemoteConfig addresses the JSON-RPC task server.
type RemoteConfig struct {
	Host    string   `json:"host"`
	Port    int      `json:"port"`
	Timeout Duration `json:"timeout,omitempty"`
}

// StorageConfig configures the persisted snapshot.
type StorageConfig struct {
	RepoName string `json:"repo_name,omitempty"` // overrides git based detection
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// SchedulerConfig holds the periodic refresh schedule. An empty spec
// disables it.
type SchedulerConfig struct {
	Refresh string `json:"refresh,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// Get implements Provider over the dotted keys of the configuration.
func (c *Config) Get(key string) (any, bool) {
	switch key {
	case KeyWorkspace:
		return c.Workspace, c.Workspace != ""
	case KeyTaskFile:
		return c.Tasks.File, c.Tasks.File != ""
	case KeyTaskPatterns:
		return c.Tasks.Patterns, len(c.Tasks.Patterns) > 0
	case KeyLocalFallback:
		return c.Tasks.LocalFallback, true
	case KeyRemoteHost:
		return c.Remote.Host, c.Remote.Host != ""
	case KeyRemotePort:
		return c.Remote.Port, c.Remote.Port != 0
	case KeyRemoteTimeout:
		return c.Remote.Timeout.Duration(), c.Remote.Timeout != 0
	case KeyRepoName:
		return c.Storage.RepoName, c.Storage.RepoName != ""
	case KeyGatewayHost:
		return c.Gateway.Host, c.Gateway.Host != ""
	case KeyGatewayPort:
		return c.Gateway.Port, c.Gateway.Port != 0
	case KeyEventsBuffer:
		return c.Events.BufferSize, c.Events.BufferSize != 0
	case KeySchedulerRefresh:
		return c.Scheduler.Refresh, c.Scheduler.Refresh != ""
	}
	return nil, false
}
