package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// ErrEntryNotFound is returned for unknown schedule ids.
var ErrEntryNotFound = errors.New("schedule entry not found")

// ScheduleStore persists schedule entries in a single JSON file guarded by
// an advisory file lock.
type ScheduleStore struct {
	path string
	lock *flock.Flock
}

// NewScheduleStore creates a ScheduleStore writing to path.
func NewScheduleStore(path string) *ScheduleStore {
	return &ScheduleStore{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the backing file.
func (s *ScheduleStore) Path() string { return s.path }

// Create persists a new schedule entry.
func (s *ScheduleStore) Create(entry *ScheduleEntry) error {
	if entry.ID == "" {
		entry.ID = GenerateScheduleID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return s.mutate(func(all map[string]*ScheduleEntry) error {
		all[entry.ID] = entry
		return nil
	})
}

// Get reads a schedule entry by ID.
func (s *ScheduleStore) Get(id string) (*ScheduleEntry, error) {
	all, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	e, ok := all[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return e, nil
}

// Update rewrites an existing schedule entry.
func (s *ScheduleStore) Update(entry *ScheduleEntry) error {
	return s.mutate(func(all map[string]*ScheduleEntry) error {
		prev, ok := all[entry.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, entry.ID)
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = prev.CreatedAt
		}
		all[entry.ID] = entry
		return nil
	})
}

// Delete removes a schedule entry.
func (s *ScheduleStore) Delete(id string) error {
	return s.mutate(func(all map[string]*ScheduleEntry) error {
		if _, ok := all[id]; !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		delete(all, id)
		return nil
	})
}

// List returns all schedule entries, sorted by CreatedAt descending.
func (s *ScheduleStore) List() ([]*ScheduleEntry, error) {
	all, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	entries := make([]*ScheduleEntry, 0, len(all))
	for _, e := range all {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *ScheduleStore) readLocked() (map[string]*ScheduleEntry, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return map[string]*ScheduleEntry{}, nil
	}
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock schedules: %w", err)
	}
	defer s.lock.Unlock()
	return s.read()
}

func (s *ScheduleStore) read() (map[string]*ScheduleEntry, error) {
	all := map[string]*ScheduleEntry{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return nil, fmt.Errorf("read schedules: %w", err)
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("unmarshal schedules: %w", err)
	}
	return all, nil
}

// mutate applies fn under an exclusive lock and writes the result back
// through a temp file + rename.
func (s *ScheduleStore) mutate(fn func(map[string]*ScheduleEntry) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create schedule dir: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock schedules: %w", err)
	}
	defer s.lock.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(all); err != nil {
		return err
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write schedules tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename schedules: %w", err)
	}
	return nil
}
