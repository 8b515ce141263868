// Package resolver resolves the task list of a workspace through a fixed
// fallback chain: persisted snapshot, configured task file, remote task
// server and finally synthetic data.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dohr-michael/taskscope/internal/config"
	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/mock"
	"github.com/dohr-michael/taskscope/internal/remote"
	"github.com/dohr-michael/taskscope/internal/storage"
	"github.com/dohr-michael/taskscope/internal/taskfile"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Names of the chain sources.
const (
	SourcePersistence = "persistence"
	SourceFile        = "file"
	SourceRemote      = "remote"
	SourceMock        = "mock"
)

// ErrTaskNotFound is returned by GetTaskByID when no source knows the id.
var ErrTaskNotFound = taskfile.ErrTaskNotFound

// RemoteClient is the task server API used by the service.
type RemoteClient interface {
	List(ctx context.Context) ([]tasks.Task, error)
	Get(ctx context.Context, id string) (*tasks.Task, error)
	UpdateStatus(ctx context.Context, id string, status tasks.TaskStatus) (bool, error)
	Refresh(ctx context.Context) error
}

// RemoteFactory builds the remote client once the configuration is known.
type RemoteFactory func(baseURL string, timeout time.Duration, opts taskfile.ParseOptions) RemoteClient

// TaskStore persists task snapshots per workspace.
type TaskStore interface {
	LoadTasks(workspace string) []tasks.Task
	SaveTasks(list []tasks.Task, workspace string) error
}

// MockSource produces the last-resort task list.
type MockSource func(now time.Time) []tasks.Task

// Resolution is the outcome of one pass over the chain.
type Resolution struct {
	Tasks    []tasks.Task
	Source   string
	Attempts []string
}

// Service resolves tasks for one workspace. New is cheap; everything that
// depends on the workspace is read by Initialize.
type Service struct {
	provider  config.Provider
	bus       *events.Bus
	ownsBus   bool
	store     TaskStore
	fsys      taskfile.FileSystem
	newRemote RemoteFactory
	mock      MockSource
	now       func() time.Time

	mu            sync.RWMutex
	state         InitState
	initDone      chan struct{} // closed when the running Initialize returns
	disposed      bool
	workspace     string
	taskFile      string
	localFallback bool
	remote        RemoteClient
	unsubs        []func()
}

// Option configures a Service.
type Option func(*Service)

// WithBus publishes on bus instead of a private one.
func WithBus(bus *events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithStore replaces the snapshot store.
func WithStore(store TaskStore) Option {
	return func(s *Service) { s.store = store }
}

// WithFileSystem replaces the file system used to read task files.
func WithFileSystem(fsys taskfile.FileSystem) Option {
	return func(s *Service) { s.fsys = fsys }
}

// WithRemoteFactory replaces the remote client constructor.
func WithRemoteFactory(f RemoteFactory) Option {
	return func(s *Service) { s.newRemote = f }
}

// WithMock replaces the synthetic task source.
func WithMock(m MockSource) Option {
	return func(s *Service) { s.mock = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// DefaultRemoteFactory builds a JSON-RPC client.
func DefaultRemoteFactory(baseURL string, timeout time.Duration, opts taskfile.ParseOptions) RemoteClient {
	return remote.NewClient(baseURL,
		remote.WithHTTPClient(remote.NewHTTPClient(timeout)),
		remote.WithParseOptions(opts),
	)
}

// New creates a Service reading its settings from provider. It performs no
// I/O.
func New(provider config.Provider, opts ...Option) *Service {
	s := &Service{
		provider:  provider,
		fsys:      taskfile.OSFileSystem{},
		newRemote: DefaultRemoteFactory,
		mock:      mock.Tasks,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = events.NewBus(config.Int(provider, config.KeyEventsBuffer, events.DefaultBufferSize))
		s.ownsBus = true
	}
	return s
}

// Bus returns the bus the service publishes on.
func (s *Service) Bus() *events.Bus { return s.bus }

// State returns the initialization state.
func (s *Service) State() InitState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Workspace returns the workspace root read by Initialize.
func (s *Service) Workspace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspace
}

// TaskFile returns the resolved task file path, or "" when none was found.
func (s *Service) TaskFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskFile
}

// Initialize reads the workspace settings and builds the remote client.
// Calling it again once Ready is a no-op; a call made while another one is
// running waits for it.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	for s.state == Initializing {
		done := s.initDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.state == Ready {
		s.mu.Unlock()
		return nil
	}
	s.state = Initializing
	done := make(chan struct{})
	s.initDone = done
	s.mu.Unlock()
	defer close(done)

	ws := config.String(s.provider, config.KeyWorkspace, "")
	taskFile := s.locateTaskFile(ws)
	host := config.String(s.provider, config.KeyRemoteHost, remote.DefaultHost)
	port := config.Int(s.provider, config.KeyRemotePort, remote.DefaultPort)
	timeout := config.DurationValue(s.provider, config.KeyRemoteTimeout, remote.DefaultTimeout)
	localFallback := config.Bool(s.provider, config.KeyLocalFallback, false)

	store := s.store
	if store == nil {
		store = storage.NewStore(storage.WithRepoName(config.String(s.provider, config.KeyRepoName, "")))
	}
	client := s.newRemote(remote.BaseURL(host, port), timeout, s.parseOptions())

	if err := ctx.Err(); err != nil {
		s.mu.Lock()
		s.state = Uninitialized
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.workspace = ws
	s.taskFile = taskFile
	s.localFallback = localFallback
	s.store = store
	s.remote = client
	s.state = Ready
	s.mu.Unlock()

	slog.Debug("task service ready", "workspace", ws, "task_file", taskFile, "remote", remote.BaseURL(host, port))
	return nil
}

// Reinitialize drops the current settings and runs Initialize again.
func (s *Service) Reinitialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Ready {
		s.state = Uninitialized
		s.remote = nil
	}
	s.mu.Unlock()
	return s.Initialize(ctx)
}

// locateTaskFile resolves the configured task file against the workspace,
// discovering one when none is configured.
func (s *Service) locateTaskFile(ws string) string {
	file := config.String(s.provider, config.KeyTaskFile, "")
	if file == "" && ws != "" {
		patterns := config.Strings(s.provider, config.KeyTaskPatterns, nil)
		found, err := taskfile.Discover(ws, patterns)
		if err != nil {
			if !errors.Is(err, taskfile.ErrNoTaskFile) {
				slog.Warn("task file discovery failed", "workspace", ws, "error", err)
			}
			return filepath.Join(ws, "tasks.json")
		}
		file = filepath.FromSlash(found)
	}
	if file != "" && ws != "" && !filepath.IsAbs(file) {
		file = filepath.Join(ws, file)
	}
	return file
}

func (s *Service) parseOptions() taskfile.ParseOptions {
	return taskfile.ParseOptions{Now: s.now}
}

// remoteClient returns the remote client, or ErrNotInitialized.
func (s *Service) remoteClient() (RemoteClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Ready || s.remote == nil {
		return nil, ErrNotInitialized
	}
	return s.remote, nil
}

func (s *Service) settings() (workspace, taskFile string, store TaskStore) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspace, s.taskFile, s.store
}

// =============================================================================
// SOURCES
// =============================================================================

func (s *Service) persistenceSource() Source[[]tasks.Task] {
	return Source[[]tasks.Task]{
		Name: SourcePersistence,
		Fetch: func(context.Context) ([]tasks.Task, error) {
			ws, _, store := s.settings()
			if store == nil {
				return nil, nil
			}
			return store.LoadTasks(ws), nil
		},
		Accept: func(list []tasks.Task) bool { return len(list) > 0 },
	}
}

func (s *Service) fileSource() Source[[]tasks.Task] {
	return Source[[]tasks.Task]{
		Name: SourceFile,
		Fetch: func(context.Context) ([]tasks.Task, error) {
			_, path, _ := s.settings()
			if path == "" {
				return nil, &taskfile.FileError{Kind: taskfile.KindNotFound, Path: "tasks.json", Reason: "no task file configured"}
			}
			return taskfile.Load(s.fsys, path, s.parseOptions())
		},
	}
}

func (s *Service) remoteListSource() Source[[]tasks.Task] {
	return Source[[]tasks.Task]{
		Name: SourceRemote,
		Fetch: func(ctx context.Context) ([]tasks.Task, error) {
			rc, err := s.remoteClient()
			if err != nil {
				return nil, err
			}
			return rc.List(ctx)
		},
	}
}

func (s *Service) mockSource() Source[[]tasks.Task] {
	return Source[[]tasks.Task]{
		Name: SourceMock,
		Fetch: func(context.Context) (list []tasks.Task, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("generate mock tasks: %v", r)
				}
			}()
			return s.mock(s.now()), nil
		},
		FallThrough: func(error) bool { return false },
	}
}

// chainError returns the onError callback of a resolution pass.
func (s *Service) chainError(taskID string) func(string, error) {
	return func(source string, err error) {
		if errors.Is(err, ErrNotInitialized) {
			slog.Debug("remote source skipped", "reason", err)
			return
		}
		var resp tasks.TaskErrorResponse
		switch source {
		case SourceFile:
			_, path, _ := s.settings()
			resp = HandleFileLoadingError(err, path)
		case SourcePersistence:
			resp = NewErrorResponse(tasks.OpPersistenceLoad, err, taskID)
		case SourceRemote:
			resp = NewErrorResponse(tasks.OpRemoteList, err, taskID)
			if resp.Category == tasks.ErrUnknown {
				resp.SuggestedAction = tasks.ActionCheckServer
			}
		case SourceMock:
			resp = NewErrorResponse(tasks.OpMockFallback, err, taskID)
		default:
			resp = NewErrorResponse(tasks.OpTaskLookup, err, taskID)
		}
		resp.TaskID = taskID
		s.emitError(resp)
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Resolve runs the full chain and reports which source answered. It fails
// only when the synthetic source itself fails.
func (s *Service) Resolve(ctx context.Context) (Resolution, error) {
	return s.resolve(ctx, true)
}

func (s *Service) resolve(ctx context.Context, withPersistence bool) (Resolution, error) {
	start := time.Now()
	sources := make([]Source[[]tasks.Task], 0, 4)
	if withPersistence {
		sources = append(sources, s.persistenceSource())
	}
	sources = append(sources, s.fileSource(), s.remoteListSource(), s.mockSource())

	res, err := Run(ctx, sources, s.chainError(""))
	if err != nil {
		return Resolution{Attempts: res.AttemptNames()}, err
	}
	list := res.Value
	if list == nil {
		list = []tasks.Task{}
	}
	out := Resolution{Tasks: list, Source: res.Source, Attempts: res.AttemptNames()}

	s.publish(events.TasksResolvedPayload{
		Source:   out.Source,
		Count:    len(out.Tasks),
		Attempts: out.Attempts,
		Duration: time.Since(start),
	})
	slog.Debug("tasks resolved", "source", out.Source, "count", len(out.Tasks), "attempts", out.Attempts)
	return out, nil
}

// GetTasks returns the current task list. It never fails: stage errors are
// published on the error stream and the chain ends on synthetic data.
func (s *Service) GetTasks(ctx context.Context) []tasks.Task {
	res, err := s.Resolve(ctx)
	if err != nil {
		slog.Error("task resolution failed", "error", err)
		return []tasks.Task{}
	}
	return res.Tasks
}

// GetTaskByID asks the remote server first. Transport failures fall back to
// a lookup in GetTasks; server errors are returned unmodified.
func (s *Service) GetTaskByID(ctx context.Context, id string) (*tasks.Task, error) {
	sources := []Source[*tasks.Task]{
		{
			Name: SourceRemote,
			Fetch: func(ctx context.Context) (*tasks.Task, error) {
				rc, err := s.remoteClient()
				if err != nil {
					return nil, err
				}
				t, err := rc.Get(ctx, id)
				if err != nil {
					return nil, err
				}
				if t == nil {
					return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
				}
				return t, nil
			},
			FallThrough: func(err error) bool {
				return !remote.IsServerError(err) && !errors.Is(err, ErrTaskNotFound)
			},
		},
		{
			Name: "lookup",
			Fetch: func(ctx context.Context) (*tasks.Task, error) {
				t := tasks.Find(s.GetTasks(ctx), id)
				if t == nil {
					return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
				}
				return t, nil
			},
		},
	}

	res, err := Run(ctx, sources, func(source string, err error) {
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrNotInitialized) {
			return
		}
		if remote.IsServerError(err) {
			s.emitError(NewErrorResponse(tasks.OpTaskLookup, err, id))
			return
		}
		slog.Debug("remote task lookup failed, falling back", "id", id, "error", err)
	})
	if err != nil {
		if remote.IsServerError(err) {
			return nil, err
		}
		if errors.Is(err, ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return res.Value, nil
}

// UpdateTaskStatus asks the remote server to change a task status. On
// success a fresh list is published. A transport failure publishes a retry
// error and returns false; a server error is returned. When local fallback
// is enabled, the task file is rewritten instead of giving up.
func (s *Service) UpdateTaskStatus(ctx context.Context, id string, status tasks.TaskStatus) (bool, error) {
	rc, err := s.remoteClient()
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	localFallback := s.localFallback
	s.mu.RUnlock()

	sources := []Source[bool]{{
		Name: SourceRemote,
		Fetch: func(ctx context.Context) (bool, error) {
			return rc.UpdateStatus(ctx, id, status)
		},
		FallThrough: func(err error) bool { return !remote.IsServerError(err) },
	}}
	if localFallback {
		sources = append(sources, Source[bool]{
			Name: SourceFile,
			Fetch: func(context.Context) (bool, error) {
				_, path, _ := s.settings()
				if err := taskfile.UpdateStatus(s.fsys, path, id, status); err != nil {
					return false, err
				}
				return true, nil
			},
		})
	}

	res, err := Run(ctx, sources, func(source string, err error) {
		resp := NewErrorResponse(tasks.OpStatusUpdate, err, id)
		if source == SourceRemote && !remote.IsServerError(err) {
			resp.SuggestedAction = tasks.ActionRetry
		}
		s.emitError(resp)
	})
	if err != nil {
		if remote.IsServerError(err) {
			return false, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, nil
	}
	if !res.Value {
		return false, nil
	}

	slog.Info("task status updated", "id", id, "status", status, "via", res.Source)
	if _, err := s.RefreshTasks(ctx); err != nil {
		slog.Warn("refresh after status update failed", "id", id, "error", err)
	}
	return true, nil
}

// RefreshTasks asks the remote server to reload, re-resolves the list
// without the snapshot, saves it when it came from a real source and
// publishes it.
func (s *Service) RefreshTasks(ctx context.Context) ([]tasks.Task, error) {
	if rc, err := s.remoteClient(); err == nil {
		if err := rc.Refresh(ctx); err != nil {
			if remote.IsServerError(err) {
				s.emitError(NewErrorResponse(tasks.OpRefresh, err, ""))
				return nil, err
			}
			slog.Debug("remote refresh skipped", "error", err)
		}
	}

	res, err := s.resolve(ctx, false)
	if err != nil {
		return nil, err
	}

	if res.Source == SourceFile || res.Source == SourceRemote {
		ws, _, store := s.settings()
		if store != nil && ws != "" {
			if err := store.SaveTasks(res.Tasks, ws); err != nil {
				s.emitError(NewErrorResponse(tasks.OpPersistenceSave, err, ""))
			}
		}
	}

	s.publish(events.TasksUpdatedPayload{Source: res.Source, Count: len(res.Tasks), Tasks: res.Tasks})
	return res.Tasks, nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *Service) publish(payload events.EventPayload) {
	s.mu.RLock()
	disposed := s.disposed
	s.mu.RUnlock()
	if disposed {
		return
	}
	s.bus.Publish(events.NewTypedEvent(events.SourceResolver, payload))
}

func (s *Service) emitError(resp tasks.TaskErrorResponse) {
	slog.Warn("task pipeline error",
		"operation", resp.Operation,
		"category", resp.Category,
		"task_id", resp.TaskID,
		"error", resp.TechnicalDetails,
	)
	s.publish(events.TaskErrorPayload{TaskErrorResponse: resp})
}

// OnTasksUpdated registers fn for every published task list. The returned
// function unsubscribes.
func (s *Service) OnTasksUpdated(fn func(source string, list []tasks.Task)) func() {
	return s.track(s.bus.Subscribe(func(e events.Event) {
		if p, ok := events.GetTasksUpdatedPayload(e); ok {
			fn(p.Source, p.Tasks)
		}
	}, events.EventTasksUpdated))
}

// OnError registers fn for every published pipeline error. The returned
// function unsubscribes.
func (s *Service) OnError(fn func(tasks.TaskErrorResponse)) func() {
	return s.track(s.bus.Subscribe(func(e events.Event) {
		if p, ok := events.GetTaskErrorPayload(e); ok {
			fn(p.TaskErrorResponse)
		}
	}, events.EventTasksError))
}

func (s *Service) track(unsub func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs, unsub)
	return unsub
}

// Dispose drops every listener registered through the service. In-flight
// calls are not cancelled.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state = Uninitialized
	s.remote = nil
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if s.ownsBus {
		s.bus.Close()
	}
}
