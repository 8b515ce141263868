// Package storage persists the last-known-good task list of a workspace.
//
// The snapshot lives at <workspace>/.aidm/.tasks/<repo>.json and is
// overwritten wholesale on every save. It is never merged.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Snapshot directory layout, relative to the workspace.
const (
	DataDir     = ".aidm"
	SnapshotDir = ".tasks"
)

// Store reads and writes task snapshots.
type Store struct {
	repoName func(workspace string) string
}

// Option configures a Store.
type Option func(*Store)

// WithRepoName pins the repository name instead of deriving it from git.
func WithRepoName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.repoName = func(string) string { return name }
		}
	}
}

// NewStore creates a Store. By default the repository name is the git
// toplevel directory name of the workspace.
func NewStore(opts ...Option) *Store {
	s := &Store{repoName: RepoName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file of workspace.
func (s *Store) Path(workspace string) string {
	name := SanitizeRepoName(s.repoName(workspace))
	return filepath.Join(workspace, DataDir, SnapshotDir, name+".json")
}

// LoadTasks returns the snapshot of workspace. It never fails: a missing
// workspace, a missing file or an unreadable snapshot all yield an empty list.
func (s *Store) LoadTasks(workspace string) []tasks.Task {
	if workspace == "" {
		return []tasks.Task{}
	}
	path := s.Path(workspace)

	lock := flock.New(path + ".lock")
	if _, err := os.Stat(filepath.Dir(path)); err == nil {
		if err := lock.RLock(); err == nil {
			defer lock.Unlock()
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("read task snapshot", "path", path, "error", err)
		}
		return []tasks.Task{}
	}

	var list []tasks.Task
	if err := json.Unmarshal(data, &list); err != nil {
		slog.Debug("decode task snapshot", "path", path, "error", err)
		return []tasks.Task{}
	}
	if list == nil {
		return []tasks.Task{}
	}
	return list
}

// SaveTasks overwrites the snapshot of workspace, creating its directory.
// Writers on the same snapshot are serialized with a lock file.
func (s *Store) SaveTasks(list []tasks.Task, workspace string) error {
	if workspace == "" {
		return fmt.Errorf("save task snapshot: no workspace")
	}
	path := s.Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	if list == nil {
		list = []tasks.Task{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task snapshot: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock task snapshot: %w", err)
	}
	defer lock.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Clear removes the snapshot of workspace. A missing snapshot is not an error.
func (s *Store) Clear(workspace string) error {
	if workspace == "" {
		return nil
	}
	path := s.Path(workspace)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove task snapshot: %w", err)
	}
	os.Remove(path + ".lock")
	return nil
}
