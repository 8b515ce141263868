package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is stamped at build time.
var Version = "dev"

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "taskscope",
		Usage:   "Resolve, inspect and serve the task list of a workspace",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace root (defaults to $TASKSCOPE_WORKSPACE or the working directory)",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (defaults to <workspace>/.aidm/config.jsonc)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLogging(cmd, os.Stderr, slog.LevelWarn)
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewInitCommand(),
			NewListCommand(),
			NewShowCommand(),
			NewSetStatusCommand(),
			NewRefreshCommand(),
			NewValidateCommand(),
			NewWatchCommand(),
			NewServeCommand(),
			NewMCPServeCommand(),
			NewScheduleCommand(),
			NewStatusCommand(),
		},
	}
}

// setupLogging installs the default logger. --debug always wins over level.
func setupLogging(cmd *cli.Command, w io.Writer, level slog.Level) {
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
