package gateway

import (
	"context"
	"slices"
	"sync"

	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/taskfile"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Backend is the task source served over JSON-RPC and WebSocket.
type Backend interface {
	List(ctx context.Context) ([]tasks.Task, error)
	// Get returns nil without error when id is unknown.
	Get(ctx context.Context, id string) (*tasks.Task, error)
	UpdateStatus(ctx context.Context, id string, status tasks.TaskStatus) error
	Refresh(ctx context.Context) error
}

// FileBackend serves the tasks of one task file. The parsed list is cached
// until a refresh or a status update.
type FileBackend struct {
	fsys taskfile.FileSystem
	path string
	opts taskfile.ParseOptions

	mu     sync.Mutex
	cache  []tasks.Task
	loaded bool
}

// NewFileBackend creates a backend reading path through fsys.
func NewFileBackend(fsys taskfile.FileSystem, path string, opts taskfile.ParseOptions) *FileBackend {
	if fsys == nil {
		fsys = taskfile.OSFileSystem{}
	}
	return &FileBackend{fsys: fsys, path: path, opts: opts}
}

// Path returns the served task file.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) List(_ context.Context) ([]tasks.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		if err := b.reload(); err != nil {
			return nil, err
		}
	}
	return slices.Clone(b.cache), nil
}

func (b *FileBackend) Get(ctx context.Context, id string) (*tasks.Task, error) {
	list, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	return tasks.Find(list, id), nil
}

func (b *FileBackend) UpdateStatus(_ context.Context, id string, status tasks.TaskStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := taskfile.UpdateStatus(b.fsys, b.path, id, status); err != nil {
		return err
	}
	return b.reload()
}

func (b *FileBackend) Refresh(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reload()
}

// reload must be called with mu held.
func (b *FileBackend) reload() error {
	list, err := taskfile.Load(b.fsys, b.path, b.opts)
	if err != nil {
		b.loaded = false
		return err
	}
	if list == nil {
		list = []tasks.Task{}
	}
	b.cache = list
	b.loaded = true
	return nil
}

// eventBackend publishes tasks.updated after every mutation of the wrapped
// backend.
type eventBackend struct {
	Backend
	bus *events.Bus
}

func withEvents(b Backend, bus *events.Bus) Backend {
	if bus == nil {
		return b
	}
	return &eventBackend{Backend: b, bus: bus}
}

func (b *eventBackend) UpdateStatus(ctx context.Context, id string, status tasks.TaskStatus) error {
	if err := b.Backend.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	b.publish(ctx)
	return nil
}

func (b *eventBackend) Refresh(ctx context.Context) error {
	if err := b.Backend.Refresh(ctx); err != nil {
		return err
	}
	b.publish(ctx)
	return nil
}

func (b *eventBackend) publish(ctx context.Context) {
	list, err := b.Backend.List(ctx)
	if err != nil {
		return
	}
	b.bus.Publish(events.NewTypedEvent(events.SourceGateway, events.TasksUpdatedPayload{
		Source: "gateway",
		Count:  len(list),
		Tasks:  list,
	}))
}
