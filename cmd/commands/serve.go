package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskscope/internal/config"
	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/gateway"
	"github.com/dohr-michael/taskscope/internal/heartbeat"
	"github.com/dohr-michael/taskscope/internal/scheduler"
	"github.com/dohr-michael/taskscope/internal/storage"
	"github.com/dohr-michael/taskscope/internal/taskfile"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the workspace task file over JSON-RPC, HTTP and WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "Task file to serve (defaults to the configured or discovered one)",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Do not reload the task file when it changes",
			},
			&cli.BoolFlag{
				Name:  "no-scheduler",
				Usage: "Disable scheduled refreshes",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd, os.Stderr, slog.LevelInfo)

	svc, cfg, err := newService(ctx, cmd)
	if err != nil {
		return err
	}
	path := svc.TaskFile()
	svc.Dispose()

	if cmd.IsSet("file") {
		path, err = filepath.Abs(cmd.String("file"))
		if err != nil {
			return err
		}
	}
	if path == "" {
		return errors.New("no task file to serve")
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	dir := filepath.Join(cfg.Workspace, config.DataDir)

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	journal := storage.NewEventLogger(filepath.Join(dir, "logs"), bus)
	defer journal.Close()

	backend := gateway.NewFileBackend(taskfile.OSFileSystem{}, path, taskfile.ParseOptions{})
	server := gateway.NewServer(bus, backend, cfg.Gateway.Host, cfg.Gateway.Port)

	// Warm the cache so a broken file is reported at startup.
	if list, err := backend.List(ctx); err != nil {
		slog.Warn("task file not loadable yet", "path", path, "error", err)
	} else {
		slog.Info("serving tasks", "path", path, "count", len(list))
	}

	if !cmd.Bool("no-scheduler") {
		sched, err := newScheduler(cfg, dir, bus, server)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if !cmd.Bool("no-watch") {
		go watchServed(ctx, path, bus, server)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	hb := heartbeat.NewWriter(heartbeat.Path(dir), heartbeat.Info{
		Addr:     "http://" + ln.Addr().String(),
		TaskFile: path,
		Version:  Version,
	})
	if err := hb.Start(); err != nil {
		slog.Warn("heartbeat disabled", "error", err)
	} else {
		defer hb.Stop()
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newScheduler builds the refresh scheduler from the configured spec and
// the entries persisted in the workspace.
func newScheduler(cfg *config.Config, dir string, bus *events.Bus, refresher scheduler.Refresher) (*scheduler.Scheduler, error) {
	var static []*scheduler.ScheduleEntry
	if spec := cfg.Scheduler.Refresh; spec != "" {
		entry, err := scheduler.EntryFromSpec("refresh", spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler.refresh: %w", err)
		}
		static = append(static, entry)
	}
	return scheduler.New(scheduler.Config{
		Refresher: refresher,
		Bus:       bus,
		Entries:   static,
		Store:     scheduler.NewScheduleStore(schedulesPath(dir)),
	}), nil
}

// watchServed reloads the served file whenever it changes on disk.
func watchServed(ctx context.Context, path string, bus *events.Bus, server *gateway.Server) {
	err := taskfile.Watch(ctx, path, 300*time.Millisecond, func() {
		bus.Publish(events.NewTypedEvent(events.SourceWatcher, events.TaskFileChangedPayload{Path: path}))
		if _, err := server.RefreshTasks(ctx); err != nil {
			slog.Warn("reload task file", "path", path, "error", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("task file watcher stopped", "error", err)
	}
}

func schedulesPath(dir string) string {
	return filepath.Join(dir, "schedules.json")
}
