package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskscope/internal/resolver"
	"github.com/dohr-michael/taskscope/internal/taskfile"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// NewListCommand returns the list subcommand.
func NewListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the tasks of the workspace",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Only show tasks with this status",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the tasks as JSON",
			},
		},
		Action: runList,
	}
}

func runList(ctx context.Context, cmd *cli.Command) error {
	var filter tasks.TaskStatus
	if raw := cmd.String("status"); raw != "" {
		st, err := parseStatusArg(raw)
		if err != nil {
			return err
		}
		filter = st
	}

	svc, _, err := newService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Dispose()
	defer reportStageErrors(cmd, svc)()

	res, err := svc.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve tasks: %w", err)
	}
	list := res.Tasks
	if filter != "" {
		list = filterStatus(list, filter)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	p := newPrinter(os.Stdout)
	if err := p.taskTable(list); err != nil {
		return err
	}
	p.println()
	p.println(p.style(mutedStyle, fmt.Sprintf("%s (source: %s)", statusSummary(list), res.Source)))
	return nil
}

// NewShowCommand returns the show subcommand.
func NewShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show task details",
		ArgsUsage: "<task_id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the task as JSON",
			},
		},
		Action: runShow,
	}
}

func runShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: taskscope show <task_id>")
	}

	svc, _, err := newService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Dispose()
	defer reportStageErrors(cmd, svc)()

	t, err := svc.GetTaskByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if t == nil {
		return fmt.Errorf("task not found: %s", taskID)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}
	return newPrinter(os.Stdout).markdown(taskMarkdown(t))
}

// NewSetStatusCommand returns the set-status subcommand.
func NewSetStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-status",
		Usage:     "Change the status of a task",
		ArgsUsage: "<task_id> <status>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "local",
				Usage: "Rewrite the task file directly instead of asking the task server",
			},
		},
		Action: runSetStatus,
	}
}

func runSetStatus(ctx context.Context, cmd *cli.Command) error {
	taskID, raw := cmd.Args().Get(0), cmd.Args().Get(1)
	if taskID == "" || raw == "" {
		return fmt.Errorf("usage: taskscope set-status <task_id> <status>")
	}
	status, err := parseStatusArg(raw)
	if err != nil {
		return err
	}

	svc, _, err := newService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Dispose()
	defer reportStageErrors(cmd, svc)()

	if cmd.Bool("local") {
		if err := taskfile.UpdateStatus(taskfile.OSFileSystem{}, svc.TaskFile(), taskID, status); err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		if _, err := svc.RefreshTasks(ctx); err != nil {
			slog.Warn("refresh after local update failed", "error", err)
		}
	} else {
		ok, err := svc.UpdateTaskStatus(ctx, taskID, status)
		if err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		if !ok {
			return fmt.Errorf("update task %s: task server unreachable (use --local, enable tasks.local_fallback or run taskscope serve)", taskID)
		}
	}

	p := newPrinter(os.Stdout)
	p.printf("Task %s is now %s.\n", taskID, p.statusLabel(status))
	return nil
}

// NewRefreshCommand returns the refresh subcommand.
func NewRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:   "refresh",
		Usage:  "Re-read the task sources and update the persisted snapshot",
		Action: runRefresh,
	}
}

func runRefresh(ctx context.Context, cmd *cli.Command) error {
	svc, _, err := newService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Dispose()
	defer reportStageErrors(cmd, svc)()

	list, err := svc.RefreshTasks(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	p := newPrinter(os.Stdout)
	p.println(p.style(successStyle, "Refreshed"), statusSummary(list))
	return nil
}

// NewValidateCommand returns the validate subcommand.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check the structure of a task file",
		ArgsUsage: "[path]",
		Action:    runValidate,
	}
}

func runValidate(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		svc, _, err := newService(ctx, cmd)
		if err != nil {
			return err
		}
		path = svc.TaskFile()
		svc.Dispose()
	}

	p := newPrinter(os.Stdout)
	issues, err := taskfile.Validate(taskfile.OSFileSystem{}, path)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	if len(issues) == 0 {
		list, err := taskfile.Load(taskfile.OSFileSystem{}, path, taskfile.ParseOptions{})
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		p.println(p.style(successStyle, "OK"), path, "-", statusSummary(list))
		return nil
	}

	p.println(p.style(errorStyle, "INVALID"), path)
	for _, issue := range issues {
		p.println("  -", issue.String())
	}
	return fmt.Errorf("%s has %d issue(s)", path, len(issues))
}

// parseStatusArg accepts any known status spelling.
func parseStatusArg(raw string) (tasks.TaskStatus, error) {
	st, ok := tasks.LookupStatus(raw)
	if !ok {
		names := make([]string, len(tasks.Statuses))
		for i, s := range tasks.Statuses {
			names[i] = string(s)
		}
		return "", fmt.Errorf("invalid status %q (expected one of %s)", raw, strings.Join(names, ", "))
	}
	return st, nil
}

func filterStatus(list []tasks.Task, status tasks.TaskStatus) []tasks.Task {
	out := make([]tasks.Task, 0, len(list))
	for _, t := range list {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// reportStageErrors prints the fix-it text of every failed task source to
// the command's error writer while a command runs. Each operation and
// category is reported once. The returned function unsubscribes.
func reportStageErrors(cmd *cli.Command, svc *resolver.Service) func() {
	w := errWriter(cmd)
	var mu sync.Mutex
	seen := make(map[string]bool)
	return svc.OnError(func(resp tasks.TaskErrorResponse) {
		slog.Debug("task source failed",
			"operation", resp.Operation,
			"category", resp.Category,
			"details", resp.TechnicalDetails,
		)
		key := string(resp.Operation) + "/" + string(resp.Category)
		mu.Lock()
		defer mu.Unlock()
		if seen[key] {
			return
		}
		seen[key] = true
		fmt.Fprintf(w, "warning: %s (%s)\n", resp.Category, resp.Operation)
		for _, line := range strings.Split(resp.UserInstructions, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	})
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
