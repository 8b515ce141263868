package config

import (
	"os"
	"path/filepath"
)

// DataDir is the per-workspace directory holding configuration and the
// persisted snapshot.
const DataDir = ".aidm"

// WorkspacePath returns the workspace root.
// It uses $TASKSCOPE_WORKSPACE if set, otherwise the working directory.
func WorkspacePath() string {
	if v := os.Getenv("TASKSCOPE_WORKSPACE"); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// ConfigPath returns the path to the config file of workspace.
func ConfigPath(workspace string) string {
	return filepath.Join(workspace, DataDir, "config.jsonc")
}

// DotenvPath returns the path to the .env file of workspace.
func DotenvPath(workspace string) string {
	return filepath.Join(workspace, DataDir, ".env")
}
