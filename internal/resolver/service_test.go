package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/taskscope/internal/config"
	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/remote"
	"github.com/dohr-michael/taskscope/internal/taskfile"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var errNetwork = &remote.TransportError{Method: "test", Err: errors.New("connection refused")}

// fakeRemote is a scripted RemoteClient.
type fakeRemote struct {
	mu          sync.Mutex
	list        []tasks.Task
	listErr     error
	get         *tasks.Task
	getErr      error
	updateOK    bool
	updateErr   error
	refreshErr  error
	listCalls   int
	getCalls    int
	updateCalls int
}

func (f *fakeRemote) List(context.Context) ([]tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.list, f.listErr
}

func (f *fakeRemote) Get(_ context.Context, id string) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	return f.get, f.getErr
}

func (f *fakeRemote) UpdateStatus(context.Context, string, tasks.TaskStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	return f.updateOK, f.updateErr
}

func (f *fakeRemote) Refresh(context.Context) error { return f.refreshErr }

// memStore is an in-memory TaskStore.
type memStore struct {
	loaded []tasks.Task
	saved  []tasks.Task
	saves  int
	loads  int
}

func (m *memStore) LoadTasks(string) []tasks.Task {
	m.loads++
	return m.loaded
}

func (m *memStore) SaveTasks(list []tasks.Task, _ string) error {
	m.saves++
	m.saved = list
	return nil
}

type harness struct {
	svc       *Service
	remote    *fakeRemote
	store     *memStore
	mockCalls int
	errors    []tasks.TaskErrorResponse
	updates   [][]tasks.Task
	ws        string
}

func newHarness(t *testing.T, fr *fakeRemote, extra config.MapProvider) *harness {
	t.Helper()
	h := &harness{remote: fr, store: &memStore{}, ws: t.TempDir()}
	p := config.MapProvider{config.KeyWorkspace: h.ws}
	for k, v := range extra {
		p[k] = v
	}
	h.svc = New(p,
		WithStore(h.store),
		WithClock(func() time.Time { return fixedNow }),
		WithRemoteFactory(func(string, time.Duration, taskfile.ParseOptions) RemoteClient { return fr }),
		WithMock(func(now time.Time) []tasks.Task {
			h.mockCalls++
			return []tasks.Task{{ID: "m.1", Title: "Mock", Status: tasks.StatusNotStarted}}
		}),
	)
	h.svc.OnError(func(resp tasks.TaskErrorResponse) { h.errors = append(h.errors, resp) })
	h.svc.OnTasksUpdated(func(_ string, list []tasks.Task) { h.updates = append(h.updates, list) })
	if err := h.svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(h.svc.Dispose)
	return h
}

func (h *harness) writeTaskFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.ws, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (h *harness) hasError(op tasks.Operation, cat tasks.ErrorCategory) bool {
	for _, e := range h.errors {
		if e.Operation == op && e.Category == cat {
			return true
		}
	}
	return false
}

func TestGetTasks_PersistenceFirst(t *testing.T) {
	fr := &fakeRemote{list: []tasks.Task{{ID: "r.1"}}}
	h := newHarness(t, fr, nil)
	h.store.loaded = []tasks.Task{{ID: "p.1", Title: "Persisted"}}

	got := h.svc.GetTasks(context.Background())
	if len(got) != 1 || got[0].ID != "p.1" {
		t.Fatalf("got %+v, want the persisted snapshot", got)
	}
	if fr.listCalls != 0 || h.mockCalls != 0 {
		t.Errorf("later sources were tried: remote=%d mock=%d", fr.listCalls, h.mockCalls)
	}
}

func TestGetTasks_FallbackOrdering(t *testing.T) {
	fr := &fakeRemote{list: []tasks.Task{{ID: "r.1", Title: "Remote"}}}
	h := newHarness(t, fr, config.MapProvider{config.KeyTaskFile: "missing.json"})

	res, err := h.svc.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != SourceRemote || len(res.Tasks) != 1 || res.Tasks[0].ID != "r.1" {
		t.Fatalf("got %+v, want the remote result", res)
	}
	if want := []string{SourcePersistence, SourceFile, SourceRemote}; strings.Join(res.Attempts, ",") != strings.Join(want, ",") {
		t.Errorf("attempts: got %v, want %v", res.Attempts, want)
	}
	if h.mockCalls != 0 {
		t.Error("mock was touched")
	}
	if !h.hasError(tasks.OpFileLoad, tasks.ErrFileNotFound) {
		t.Errorf("expected a file_not_found error, got %+v", h.errors)
	}
	if h.store.saves != 0 {
		t.Error("GetTasks wrote the snapshot")
	}
}

func TestGetTasks_TerminalFallback(t *testing.T) {
	fr := &fakeRemote{listErr: errNetwork}
	h := newHarness(t, fr, nil)
	h.writeTaskFile(t, "tasks.json", `{broken`)
	// Discovery ran at Initialize before the file existed.
	if err := h.svc.Reinitialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := h.svc.GetTasks(context.Background())
	if len(got) != 1 || got[0].ID != "m.1" {
		t.Fatalf("got %+v, want mock data", got)
	}
	if !h.hasError(tasks.OpFileLoad, tasks.ErrJSONParse) {
		t.Errorf("expected a json_parse_error, got %+v", h.errors)
	}
	if !h.hasError(tasks.OpRemoteList, tasks.ErrUnknown) {
		t.Errorf("expected a remote_list error, got %+v", h.errors)
	}
}

func TestGetTasks_RemoteServerErrorFallsToMock(t *testing.T) {
	fr := &fakeRemote{listErr: &remote.ServerError{Code: -32000, Message: "down"}}
	h := newHarness(t, fr, nil)

	got := h.svc.GetTasks(context.Background())
	if len(got) != 1 || got[0].ID != "m.1" {
		t.Fatalf("got %+v, want mock data", got)
	}
	if !h.hasError(tasks.OpRemoteList, tasks.ErrMCPServer) {
		t.Errorf("expected an mcp_server_error, got %+v", h.errors)
	}
}

func TestGetTasks_FromFile(t *testing.T) {
	fr := &fakeRemote{}
	h := newHarness(t, fr, config.MapProvider{config.KeyTaskFile: "plan.md"})
	h.writeTaskFile(t, "plan.md", "# Plan\n- [x] 1.1 Done thing\n- [ ] 1.2 Open thing\n")

	res, err := h.svc.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceFile || len(res.Tasks) != 2 {
		t.Fatalf("got %+v, want two file tasks", res)
	}
	if res.Tasks[0].Status != tasks.StatusCompleted || !res.Tasks[0].CreatedDate.Equal(fixedNow) {
		t.Errorf("task 0: got %+v", res.Tasks[0])
	}
	if fr.listCalls != 0 {
		t.Error("remote was queried")
	}
}

func TestGetTasks_EmptyRemoteAccepted(t *testing.T) {
	fr := &fakeRemote{list: []tasks.Task{}}
	h := newHarness(t, fr, config.MapProvider{config.KeyTaskFile: "missing.md"})

	res, err := h.svc.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceRemote || len(res.Tasks) != 0 || h.mockCalls != 0 {
		t.Errorf("got %+v (mock calls %d), want an empty remote list", res, h.mockCalls)
	}
}

func TestGetTasks_MockFailure(t *testing.T) {
	fr := &fakeRemote{listErr: errNetwork}
	h := newHarness(t, fr, nil)
	h.svc.mock = func(time.Time) []tasks.Task { panic("no catalogue") }

	if _, err := h.svc.Resolve(context.Background()); err == nil {
		t.Fatal("Resolve: expected the mock failure")
	}
	got := h.svc.GetTasks(context.Background())
	if got == nil || len(got) != 0 {
		t.Errorf("GetTasks: got %#v, want an empty list", got)
	}
	if !h.hasError(tasks.OpMockFallback, tasks.ErrUnknown) {
		t.Errorf("expected a mock_fallback error, got %+v", h.errors)
	}
}

func TestGetTaskByID_ServerErrorShortCircuit(t *testing.T) {
	fr := &fakeRemote{getErr: &remote.ServerError{Code: -32000, Message: "X"}}
	h := newHarness(t, fr, nil)
	h.store.loaded = []tasks.Task{{ID: "1.1"}}

	_, err := h.svc.GetTaskByID(context.Background(), "1.1")
	if err == nil || err.Error() != "MCP server error: X" {
		t.Fatalf("got %v, want %q", err, "MCP server error: X")
	}
	if h.store.loads != 0 || fr.listCalls != 0 || h.mockCalls != 0 {
		t.Errorf("fallback attempted: loads=%d list=%d mock=%d", h.store.loads, fr.listCalls, h.mockCalls)
	}
}

func TestGetTaskByID_Remote(t *testing.T) {
	fr := &fakeRemote{get: &tasks.Task{ID: "1.1", Title: "From server"}}
	h := newHarness(t, fr, nil)

	got, err := h.svc.GetTaskByID(context.Background(), "1.1")
	if err != nil || got.Title != "From server" {
		t.Fatalf("got %+v, %v", got, err)
	}

	fr.get = nil
	if _, err := h.svc.GetTaskByID(context.Background(), "9.9"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("null task: got %v, want ErrTaskNotFound", err)
	}
	if h.store.loads != 0 {
		t.Error("a null server answer fell back to local lookup")
	}
}

func TestGetTaskByID_NetworkFallback(t *testing.T) {
	fr := &fakeRemote{getErr: errNetwork, listErr: errNetwork}
	h := newHarness(t, fr, nil)
	h.store.loaded = []tasks.Task{{ID: "1.1", Title: "Snapshot"}, {ID: "1.2"}}

	got, err := h.svc.GetTaskByID(context.Background(), "1.1")
	if err != nil || got.Title != "Snapshot" {
		t.Fatalf("got %+v, %v", got, err)
	}

	if _, err := h.svc.GetTaskByID(context.Background(), "7.7"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown id: got %v, want ErrTaskNotFound", err)
	}
}

func TestGetTaskByID_BeforeInitialize(t *testing.T) {
	svc := New(config.MapProvider{}, WithMock(func(time.Time) []tasks.Task {
		return []tasks.Task{{ID: "1.1", Title: "Mock"}}
	}))
	defer svc.Dispose()

	got, err := svc.GetTaskByID(context.Background(), "1.1")
	if err != nil || got.Title != "Mock" {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestUpdateTaskStatus_Success(t *testing.T) {
	fr := &fakeRemote{updateOK: true, list: []tasks.Task{{ID: "1.1", Status: tasks.StatusReview}}}
	h := newHarness(t, fr, config.MapProvider{config.KeyTaskFile: "missing.json"})

	ok, err := h.svc.UpdateTaskStatus(context.Background(), "1.1", tasks.StatusReview)
	if err != nil || !ok {
		t.Fatalf("got %v, %v", ok, err)
	}
	if len(h.updates) != 1 || h.updates[0][0].Status != tasks.StatusReview {
		t.Errorf("tasks updated: got %+v", h.updates)
	}
	if h.store.saves != 1 {
		t.Errorf("snapshot saves: got %d, want 1", h.store.saves)
	}
}

func TestUpdateTaskStatus_NetworkFailure(t *testing.T) {
	fr := &fakeRemote{updateErr: errNetwork}
	h := newHarness(t, fr, nil)

	ok, err := h.svc.UpdateTaskStatus(context.Background(), "1.1", tasks.StatusCompleted)
	if err != nil || ok {
		t.Fatalf("got %v, %v; want false, nil", ok, err)
	}
	if len(h.errors) != 1 {
		t.Fatalf("errors: got %+v", h.errors)
	}
	e := h.errors[0]
	if e.Operation != tasks.OpStatusUpdate || e.SuggestedAction != tasks.ActionRetry || e.TaskID != "1.1" {
		t.Errorf("error: got %+v", e)
	}
	if len(h.updates) != 0 {
		t.Error("tasks updated after a failure")
	}
}

func TestUpdateTaskStatus_ServerError(t *testing.T) {
	fr := &fakeRemote{updateErr: &remote.ServerError{Message: "unknown task"}}
	h := newHarness(t, fr, config.MapProvider{config.KeyLocalFallback: true})

	ok, err := h.svc.UpdateTaskStatus(context.Background(), "1.1", tasks.StatusCompleted)
	if ok || !remote.IsServerError(err) {
		t.Fatalf("got %v, %v; want false and the server error", ok, err)
	}
}

func TestUpdateTaskStatus_LocalFallback(t *testing.T) {
	fr := &fakeRemote{updateErr: errNetwork, listErr: errNetwork}
	h := newHarness(t, fr, config.MapProvider{config.KeyTaskFile: "tasks.md", config.KeyLocalFallback: "true"})
	path := h.writeTaskFile(t, "tasks.md", "- [ ] 1.1 Write docs\n- [ ] 1.2 Ship\n")

	ok, err := h.svc.UpdateTaskStatus(context.Background(), "1.1", tasks.StatusCompleted)
	if err != nil || !ok {
		t.Fatalf("got %v, %v", ok, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "- [x] 1.1 Write docs") {
		t.Errorf("file not rewritten:\n%s", data)
	}
	if len(h.updates) != 1 || h.updates[0][0].Status != tasks.StatusCompleted {
		t.Errorf("tasks updated: got %+v", h.updates)
	}
	if h.store.saves != 1 {
		t.Errorf("snapshot saves: got %d, want 1", h.store.saves)
	}
}

func TestUpdateTaskStatus_NotInitialized(t *testing.T) {
	svc := New(config.MapProvider{})
	defer svc.Dispose()
	if _, err := svc.UpdateTaskStatus(context.Background(), "1.1", tasks.StatusCompleted); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
}

func TestRefreshTasks(t *testing.T) {
	fr := &fakeRemote{refreshErr: errNetwork, listErr: errNetwork}
	h := newHarness(t, fr, config.MapProvider{config.KeyTaskFile: "tasks.json"})
	h.store.loaded = []tasks.Task{{ID: "stale"}}
	h.writeTaskFile(t, "tasks.json", `{"master":{"tasks":[{"id":1,"title":"T","status":"done"}]}}`)

	got, err := h.svc.RefreshTasks(context.Background())
	if err != nil {
		t.Fatalf("RefreshTasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("got %+v, want the file tasks (snapshot bypassed)", got)
	}
	if h.store.saves != 1 || h.store.saved[0].ID != "1" {
		t.Errorf("snapshot: %d saves, %+v", h.store.saves, h.store.saved)
	}
	if len(h.updates) != 1 {
		t.Errorf("tasks updated events: got %d, want 1", len(h.updates))
	}

	// Mock results are never persisted.
	os.Remove(filepath.Join(h.ws, "tasks.json"))
	if _, err := h.svc.RefreshTasks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.store.saves != 1 {
		t.Errorf("mock result was saved")
	}
}

func TestRefreshTasks_ServerError(t *testing.T) {
	fr := &fakeRemote{refreshErr: &remote.ServerError{Message: "busy"}}
	h := newHarness(t, fr, nil)

	if _, err := h.svc.RefreshTasks(context.Background()); !remote.IsServerError(err) {
		t.Errorf("got %v, want the server error", err)
	}
	if !h.hasError(tasks.OpRefresh, tasks.ErrMCPServer) {
		t.Errorf("expected a refresh error, got %+v", h.errors)
	}
}

func TestInitialize(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "docs", "tasks.md"), []byte("- [ ] 1.1 A\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var gotURL string
	var gotTimeout time.Duration
	svc := New(config.MapProvider{
		config.KeyWorkspace:     ws,
		config.KeyRemoteHost:    "localhost",
		config.KeyRemotePort:    4100,
		config.KeyRemoteTimeout: "2s",
	}, WithStore(&memStore{}), WithRemoteFactory(func(url string, timeout time.Duration, _ taskfile.ParseOptions) RemoteClient {
		gotURL, gotTimeout = url, timeout
		return &fakeRemote{}
	}))

	if svc.State() != Uninitialized {
		t.Fatalf("state: got %s", svc.State())
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if svc.State() != Ready {
		t.Fatalf("state: got %s, want ready", svc.State())
	}
	if gotURL != "http://localhost:4100" || gotTimeout != 2*time.Second {
		t.Errorf("remote: got %q / %s", gotURL, gotTimeout)
	}
	if want := filepath.Join(ws, "docs", "tasks.md"); svc.TaskFile() != want {
		t.Errorf("task file: got %q, want %q", svc.TaskFile(), want)
	}

	// Idempotent.
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	svc.Dispose()
	if err := svc.Initialize(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("after Dispose: got %v, want ErrDisposed", err)
	}
}

func TestDispose_DropsListeners(t *testing.T) {
	bus := events.NewBus(16)
	svc := New(config.MapProvider{}, WithBus(bus))
	svc.OnError(func(tasks.TaskErrorResponse) {})
	unsub := svc.OnTasksUpdated(func(string, []tasks.Task) {})
	unsub()
	if n := bus.SubscriberCount(); n != 1 {
		t.Fatalf("subscribers: got %d, want 1", n)
	}

	svc.Dispose()
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("subscribers after Dispose: got %d", n)
	}
	// A shared bus stays usable.
	bus.Publish(events.NewEvent(events.EventTasksUpdated, events.SourceCLI, nil))
	if len(bus.History(1)) != 1 {
		t.Error("shared bus was closed")
	}
}

// gatedProvider blocks the first workspace lookup until release is closed.
type gatedProvider struct {
	config.MapProvider
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Get(key string) (any, bool) {
	if key == config.KeyWorkspace {
		p.once.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	return p.MapProvider.Get(key)
}

func TestInitialize_ConcurrentCallWaits(t *testing.T) {
	p := &gatedProvider{
		MapProvider: config.MapProvider{config.KeyWorkspace: t.TempDir()},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	fr := &fakeRemote{updateOK: true}
	svc := New(p, WithStore(&memStore{}), WithRemoteFactory(func(string, time.Duration, taskfile.ParseOptions) RemoteClient { return fr }))
	t.Cleanup(svc.Dispose)

	first := make(chan error, 1)
	go func() { first <- svc.Initialize(context.Background()) }()
	<-p.entered
	if svc.State() != Initializing {
		t.Fatalf("state: got %s, want initializing", svc.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Initialize(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiting call with expired context: got %v", err)
	}

	second := make(chan error, 1)
	go func() { second <- svc.Initialize(context.Background()) }()
	select {
	case err := <-second:
		t.Fatalf("second Initialize returned %v before the first finished", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(p.release)
	if err := <-first; err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if svc.State() != Ready {
		t.Fatalf("state: got %s, want ready", svc.State())
	}
	if _, err := svc.UpdateTaskStatus(context.Background(), "1.1", tasks.StatusCompleted); err != nil {
		t.Fatalf("UpdateTaskStatus after concurrent Initialize: %v", err)
	}
}

func TestInitialize_DefaultRemoteTimeout(t *testing.T) {
	var gotTimeout time.Duration
	svc := New(config.MapProvider{config.KeyWorkspace: t.TempDir()}, WithStore(&memStore{}),
		WithRemoteFactory(func(_ string, timeout time.Duration, _ taskfile.ParseOptions) RemoteClient {
			gotTimeout = timeout
			return &fakeRemote{}
		}))
	t.Cleanup(svc.Dispose)
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotTimeout != 5*time.Second {
		t.Errorf("default remote timeout: got %s, want 5s", gotTimeout)
	}
}

func TestGetTasks_MalformedRemotePayloadFallsToMock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{\"unexpected\":true}"}]}}`))
	}))
	defer srv.Close()

	mockCalls := 0
	svc := New(config.MapProvider{config.KeyWorkspace: t.TempDir(), config.KeyTaskFile: "missing.json"},
		WithStore(&memStore{}),
		WithRemoteFactory(func(_ string, _ time.Duration, opts taskfile.ParseOptions) RemoteClient {
			return remote.NewClient(srv.URL, remote.WithParseOptions(opts))
		}),
		WithMock(func(time.Time) []tasks.Task {
			mockCalls++
			return []tasks.Task{{ID: "m.1", Title: "Mock"}}
		}),
	)
	t.Cleanup(svc.Dispose)
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceMock || mockCalls != 1 {
		t.Fatalf("got source %q (mock calls %d), want mock", res.Source, mockCalls)
	}
}
