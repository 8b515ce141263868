package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskscope/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the task server status of the workspace",
		Action: func(_ context.Context, cmd *cli.Command) error {
			dir, err := dataDir(cmd)
			if err != nil {
				return err
			}
			status, hb, err := heartbeat.Check(heartbeat.Path(dir), 4*heartbeat.DefaultInterval)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			p := newPrinter(os.Stdout)
			switch status {
			case heartbeat.StatusAlive:
				p.printf("Server: %s (PID %d, uptime %s)\n", p.style(successStyle, "ALIVE"), hb.PID, hb.Uptime)
				p.printf("  Address:   %s\n", hb.Addr)
				if hb.TaskFile != "" {
					p.printf("  Task file: %s\n", hb.TaskFile)
				}
			case heartbeat.StatusStale:
				p.printf("Server: %s (PID %d, last heartbeat %s ago)\n",
					p.style(errorStyle, "STALE"), hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				p.println("Server:", p.style(mutedStyle, "NOT RUNNING"))
			}

			return nil
		},
	}
}
