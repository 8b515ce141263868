// Command task_flow exercises a running taskscope gateway end to end.
//
// It lists tasks over JSON-RPC, changes the status of one task, checks that
// the change is broadcast on the WebSocket and reads it back over JSON-RPC.
//
// Usage: task_flow -gateway http://127.0.0.1:3001 -task 1.1 -status in_progress
//
// Exit codes:
//
//	0 = all checks passed
//	1 = a check failed
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	wsclient "github.com/dohr-michael/taskscope/clients/ws"
	"github.com/dohr-michael/taskscope/internal/events"
	"github.com/dohr-michael/taskscope/internal/remote"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

func main() {
	gatewayURL := flag.String("gateway", "http://127.0.0.1:3001", "Gateway base URL")
	taskID := flag.String("task", "", "Task to update (defaults to the first task)")
	status := flag.String("status", "in_progress", "Status to apply")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *gatewayURL, *taskID, *status); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, gatewayURL, taskID, rawStatus string) error {
	want, ok := tasks.LookupStatus(rawStatus)
	if !ok {
		return fmt.Errorf("unknown status %q", rawStatus)
	}

	rpc := remote.NewClient(gatewayURL)

	// Step 1: list over JSON-RPC
	list, err := rpc.List(ctx)
	if err != nil {
		return fmt.Errorf("tasks/list: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("tasks/list returned no tasks")
	}
	fmt.Printf("CHECK tasks/list returned %d tasks\n", len(list))
	if taskID == "" {
		taskID = list[0].ID
	}

	// Step 2: subscribe on the WebSocket before mutating
	ws, err := wsclient.Dial(ctx, wsclient.URL(gatewayURL))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()
	fmt.Println("CHECK websocket connected")

	// Step 3: update the status
	updated, err := rpc.UpdateStatus(ctx, taskID, want)
	if err != nil {
		return fmt.Errorf("tasks/update-status: %w", err)
	}
	if !updated {
		return fmt.Errorf("tasks/update-status reported no change for %s", taskID)
	}
	fmt.Printf("CHECK %s set to %s\n", taskID, want)

	// Step 4: wait for the broadcast
	for {
		frame, err := ws.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("timeout waiting for %s", events.EventTasksUpdated)
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Event == string(events.EventTasksUpdated) {
			break
		}
	}
	fmt.Println("CHECK tasks.updated broadcast received")

	// Step 5: read back
	task, err := rpc.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("tasks/get: %w", err)
	}
	if task == nil {
		return fmt.Errorf("tasks/get: %s disappeared", taskID)
	}
	if task.Status != want {
		return fmt.Errorf("tasks/get: status %s, want %s", task.Status, want)
	}
	fmt.Printf("CHECK tasks/get confirms %s\n", want)

	fmt.Println("PASS")
	return nil
}
