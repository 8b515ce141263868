package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/scheduler"
)

// NewScheduleCommand returns the schedule subcommand.
func NewScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage scheduled refreshes of the task server",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List configured and persisted schedules",
				Action: runScheduleList,
			},
			{
				Name:      "add",
				Usage:     "Persist a schedule (picked up by the next serve)",
				ArgsUsage: "[cron expression | duration]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Human readable title"},
					&cli.StringFlag{Name: "on-event", Usage: "Trigger on a bus event instead, e.g. taskfile.changed"},
					&cli.StringSliceFlag{Name: "source", Usage: "Only events from this publisher (watcher, gateway, cli, ...)"},
					&cli.StringSliceFlag{Name: "filter", Usage: "Payload condition key=value, values may be globs"},
					&cli.DurationFlag{Name: "cooldown", Usage: "Minimum delay between two event triggers"},
					&cli.IntFlag{Name: "max-runs", Usage: "Disable the schedule after this many runs"},
				},
				Action: runScheduleAdd,
			},
			{
				Name:      "remove",
				Usage:     "Delete a persisted schedule",
				ArgsUsage: "<schedule_id>",
				Action:    runScheduleRemove,
			},
			{
				Name:   "history",
				Usage:  "Show recent schedule trigger events",
				Action: runScheduleHistory,
			},
		},
		DefaultCommand: "list",
	}
}

func scheduleStore(cmd *cli.Command) (*scheduler.ScheduleStore, error) {
	dir, err := dataDir(cmd)
	if err != nil {
		return nil, err
	}
	return scheduler.NewScheduleStore(schedulesPath(dir)), nil
}

func runScheduleList(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := scheduleStore(cmd)
	if err != nil {
		return err
	}
	persisted, err := store.List()
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	var entries []*scheduler.ScheduleEntry
	if cfg.Scheduler.Refresh != "" {
		entry, err := scheduler.EntryFromSpec("refresh", cfg.Scheduler.Refresh)
		if err != nil {
			return fmt.Errorf("scheduler.refresh: %w", err)
		}
		entry.Title = "config"
		entries = append(entries, entry)
	}
	entries = append(entries, persisted...)

	if len(entries) == 0 {
		fmt.Println("No schedules found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTRIGGER\tENABLED\tRUNS\tLAST RUN\tTITLE")
	for _, e := range entries {
		runs := fmt.Sprintf("%d", e.RunCount)
		if e.MaxRuns > 0 {
			runs = fmt.Sprintf("%d/%d", e.RunCount, e.MaxRuns)
		}
		lastRun := "-"
		if e.LastRunAt != nil {
			lastRun = e.LastRunAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n", e.ID, e.Spec(), e.Enabled, runs, lastRun, e.Title)
	}
	return w.Flush()
}

func runScheduleAdd(_ context.Context, cmd *cli.Command) error {
	spec := cmd.Args().First()
	event := cmd.String("on-event")

	var entry *scheduler.ScheduleEntry
	switch {
	case spec != "" && event != "":
		return fmt.Errorf("give either a schedule or --on-event, not both")
	case spec != "":
		e, err := scheduler.EntryFromSpec("", spec)
		if err != nil {
			return err
		}
		entry = e
	case event != "":
		trigger := &scheduler.EventTrigger{Event: event, Sources: cmd.StringSlice("source")}
		for _, kv := range cmd.StringSlice("filter") {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid filter %q (expected key=value)", kv)
			}
			if trigger.Filter == nil {
				trigger.Filter = make(map[string]string)
			}
			trigger.Filter[key] = value
		}
		entry = &scheduler.ScheduleEntry{
			Title:   "on " + event,
			OnEvent: trigger,
			Enabled: true,
		}
	default:
		return fmt.Errorf("usage: taskscope schedule add <cron | duration> or --on-event <type>")
	}

	if title := cmd.String("title"); title != "" {
		entry.Title = title
	}
	entry.CooldownSec = int(cmd.Duration("cooldown") / time.Second)
	entry.MaxRuns = cmd.Int("max-runs")
	if err := entry.Validate(); err != nil {
		return err
	}

	store, err := scheduleStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Create(entry); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	fmt.Printf("Schedule %s added (%s).\n", entry.ID, entry.Spec())
	return nil
}

func runScheduleRemove(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: taskscope schedule remove <schedule_id>")
	}
	store, err := scheduleStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Delete(id); err != nil {
		return err
	}
	fmt.Printf("Schedule %s removed.\n", id)
	return nil
}

func runScheduleHistory(_ context.Context, cmd *cli.Command) error {
	dir, err := dataDir(cmd)
	if err != nil {
		return err
	}
	logFile := filepath.Join(dir, "logs", "schedule.jsonl")

	f, err := os.Open(logFile)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No trigger history found.")
			return nil
		}
		return fmt.Errorf("read history: %w", err)
	}
	defer f.Close()

	// Collect schedule trigger events (keep last 20)
	var triggers []events.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e events.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Type != events.EventScheduleTrigger {
			continue
		}
		triggers = append(triggers, e)
		if len(triggers) > 20 {
			triggers = triggers[1:]
		}
	}

	if len(triggers) == 0 {
		fmt.Println("No trigger history found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSCHEDULE\tTRIGGER\tTASKS\tERROR")
	for _, e := range triggers {
		p, _ := events.ExtractPayload[events.ScheduleTriggerPayload](e)
		errMsg := p.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			p.EntryID, p.Trigger, p.Count, errMsg)
	}
	return w.Flush()
}
