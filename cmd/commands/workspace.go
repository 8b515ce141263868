package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskscope/internal/config"
	"github.com/dohr-michael/taskscope/internal/resolver"
	"github.com/dohr-michael/taskscope/internal/taskfile"
)

// workspaceDir returns the absolute workspace root selected by --workspace.
func workspaceDir(cmd *cli.Command) (string, error) {
	ws := cmd.String("workspace")
	if ws == "" {
		ws = config.WorkspacePath()
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

// dataDir returns the .aidm directory of the workspace.
func dataDir(cmd *cli.Command) (string, error) {
	ws, err := workspaceDir(cmd)
	if err != nil {
		return "", err
	}
	return filepath.Join(ws, config.DataDir), nil
}

// configFile returns the config file selected by --config.
func configFile(cmd *cli.Command) (string, error) {
	if path := cmd.String("config"); path != "" {
		return filepath.Abs(path)
	}
	ws, err := workspaceDir(cmd)
	if err != nil {
		return "", err
	}
	return config.ConfigPath(ws), nil
}

// loadConfig reads the workspace configuration, honoring --config.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	ws, err := workspaceDir(cmd)
	if err != nil {
		return nil, err
	}

	path := cmd.String("config")
	if path == "" {
		return config.LoadWorkspace(ws)
	}

	if err := config.LoadDotenv(config.DotenvPath(ws)); err != nil {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Workspace == "" {
		cfg.Workspace = ws
	}
	return cfg, nil
}

// newService loads the configuration and returns an initialized resolver.
// Callers must Dispose it.
func newService(ctx context.Context, cmd *cli.Command, opts ...resolver.Option) (*resolver.Service, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	svc := resolver.New(cfg, opts...)
	if err := svc.Initialize(ctx); err != nil {
		svc.Dispose()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return svc, cfg, nil
}

// newLiveService is newService for long running commands: the service reads
// its settings through a Reloader and is reinitialized whenever the config
// file changes, until ctx is done.
func newLiveService(ctx context.Context, cmd *cli.Command, opts ...resolver.Option) (*resolver.Service, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	path, err := configFile(cmd)
	if err != nil {
		return nil, err
	}

	reloader := config.NewReloader(path, config.DotenvPath(cfg.Workspace), cfg)
	svc := resolver.New(reloader, opts...)
	if err := svc.Initialize(ctx); err != nil {
		svc.Dispose()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		reloader.OnReload(func(*config.Config) {
			if err := svc.Reinitialize(ctx); err != nil {
				slog.Warn("reinitialize after config change", "error", err)
			}
		})
		go watchConfig(ctx, reloader, path)
	}
	return svc, nil
}

func watchConfig(ctx context.Context, reloader *config.Reloader, path string) {
	err := taskfile.Watch(ctx, path, 500*time.Millisecond, func() {
		if err := reloader.Reload(); err != nil {
			slog.Warn("config reload failed", "path", path, "error", err)
		}
	})
	if err != nil {
		slog.Warn("config watcher stopped", "path", path, "error", err)
	}
}
