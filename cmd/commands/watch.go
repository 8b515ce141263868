package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/taskscope/clients/ws"
	"github.com/dohr-michael/taskscope/internal/events"
	wsprotocol "github.com/dohr-michael/taskscope/internal/gateway/ws"
	"github.com/dohr-michael/taskscope/internal/remote"
	"github.com/dohr-michael/taskscope/internal/taskfile"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow task changes, from the task file or from a running server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Follow the events of the task server instead of the local file",
			},
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Task server base URL (defaults to the configured remote)",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Delay before reacting to a file change",
				Value: 300 * time.Millisecond,
			},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("remote") {
		return watchRemote(ctx, cmd)
	}
	return watchLocal(ctx, cmd)
}

func watchLocal(ctx context.Context, cmd *cli.Command) error {
	svc, err := newLiveService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Dispose()
	defer reportStageErrors(cmd, svc)()

	path := svc.TaskFile()
	if path == "" {
		return errors.New("no task file to watch")
	}

	p := newPrinter(os.Stdout)
	p.println(p.style(headerStyle, "Watching"), path)
	p.println(stamp(p), statusSummary(svc.GetTasks(ctx)))

	unsub := svc.OnTasksUpdated(func(source string, list []tasks.Task) {
		p.println(stamp(p), statusSummary(list), p.style(mutedStyle, "("+source+")"))
	})
	defer unsub()

	err = taskfile.Watch(ctx, path, cmd.Duration("debounce"), func() {
		svc.Bus().Publish(events.NewTypedEvent(events.SourceWatcher, events.TaskFileChangedPayload{Path: path}))
		if _, err := svc.RefreshTasks(ctx); err != nil {
			p.println(stamp(p), p.style(errorStyle, "refresh failed:"), err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func watchRemote(ctx context.Context, cmd *cli.Command) error {
	base := cmd.String("gateway")
	if base == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		base = remote.BaseURL(cfg.Remote.Host, cfg.Remote.Port)
	}

	client, err := wsclient.Dial(ctx, wsclient.URL(base))
	if err != nil {
		return fmt.Errorf("connect to task server: %w", err)
	}
	defer client.Close()

	p := newPrinter(os.Stdout)
	list, err := client.ListTasks()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	p.println(p.style(headerStyle, "Following"), base)
	p.println(stamp(p), statusSummary(list))

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if frame.Type != wsprotocol.FrameTypeEvent {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			continue
		}
		if line := describeEvent(e); line != "" {
			p.println(stamp(p), line)
		}
	}
}

// describeEvent renders the events worth showing to a human.
func describeEvent(e events.Event) string {
	switch e.Type {
	case events.EventTasksUpdated:
		if p, ok := events.GetTasksUpdatedPayload(e); ok {
			return fmt.Sprintf("%s (%s)", statusSummary(p.Tasks), p.Source)
		}
	case events.EventTaskFileChanged:
		if p, ok := events.ExtractPayload[events.TaskFileChangedPayload](e); ok {
			return "changed " + p.Path
		}
	case events.EventScheduleTrigger:
		if p, ok := events.ExtractPayload[events.ScheduleTriggerPayload](e); ok {
			if p.Error != "" {
				return fmt.Sprintf("schedule %s failed: %s", p.EntryID, p.Error)
			}
			return fmt.Sprintf("schedule %s refreshed %d tasks (%s)", p.EntryID, p.Count, p.Trigger)
		}
	}
	return ""
}

func stamp(p *printer) string {
	return p.style(mutedStyle, time.Now().Format("15:04:05"))
}
