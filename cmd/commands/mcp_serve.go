package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	taskmcp "github.com/dohr-michael/taskscope/internal/mcp"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose the task tools as an MCP server (stdio)",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "filter",
				UsageText: "Comma separated tool names to expose (empty = all)",
			},
		},
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the MCP stdio transport
	setupLogging(cmd, os.Stderr, slog.LevelWarn)

	svc, err := newLiveService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Dispose()
	defer reportStageErrors(cmd, svc)()

	filter := cmd.StringArg("filter")
	slog.Debug("starting MCP server", "filter", filter, "task_file", svc.TaskFile())

	server := taskmcp.NewMCPServer(svc, Version, filter)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
