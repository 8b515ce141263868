package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/gateway/ws"
	"github.com/dohr-michael/taskscope/internal/remote"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Server is the taskscope task server: JSON-RPC for clients, plus a small
// HTTP and WebSocket API for dashboards.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	backend    Backend
	host       string
	port       int
}

// NewServer creates a new gateway server serving backend.
func NewServer(bus *events.Bus, backend Backend, host string, port int) *Server {
	hub := ws.NewHub(bus)
	backend = withEvents(backend, bus)
	hub.SetTaskHandler(backend)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:     hub,
		bus:     bus,
		backend: backend,
		host:    host,
		port:    port,
	}

	// Routes
	r.Post(remote.Path, (&rpcHandler{backend: backend}).ServeHTTP)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/tasks", s.handleTasks)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It blocks until the server is stopped.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("taskscope gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	history := s.bus.History(limit)

	w.Header().Set("Content-Type", "application/json")

	type eventJSON struct {
		ID        string             `json:"id"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.backend.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		want := tasks.ParseStatus(status)
		filtered := list[:0]
		for _, t := range list {
			if t.Status == want {
				filtered = append(filtered, t)
			}
		}
		list = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// RefreshTasks reloads the served task file and returns the new list.
// Subscribers are notified through the bus.
func (s *Server) RefreshTasks(ctx context.Context) ([]tasks.Task, error) {
	if err := s.backend.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.backend.List(ctx)
}
