package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/taskscope/internal/config"
)

// NewInitCommand returns the workspace setup subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Create the .aidm directory of the workspace",
		Action: runInit,
	}
}

func runInit(_ context.Context, cmd *cli.Command) error {
	ws, err := workspaceDir(cmd)
	if err != nil {
		return err
	}
	root := filepath.Join(ws, config.DataDir)
	created := false

	// Ensure directories exist.
	for _, d := range []string{root, filepath.Join(root, "logs")} {
		if _, err := os.Stat(d); err != nil {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", d, err)
			}
			fmt.Printf("  Created %s\n", d)
			created = true
		}
	}

	// Write default config if missing.
	configPath := config.ConfigPath(ws)
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	// Write default .env if missing.
	dotenvPath := config.DotenvPath(ws)
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	if !created {
		fmt.Printf("%s is already set up. Nothing to do.\n", root)
		return nil
	}

	fmt.Println(initMessage(root))
	return nil
}

const defaultConfig = `{
	// taskscope configuration

	"tasks": {
		// Explicit task file, relative to the workspace. When empty the
		// workspace is searched with the patterns below.
		"file": "",
		"patterns": ["tasks.json", "tasks.md", "**/tasks.{json,yaml,yml,md}"],

		// Rewrite the task file when the task server is unreachable.
		"local_fallback": false
	},

	"remote": {
		"host": "${{ .Env.TASKSCOPE_REMOTE_HOST }}",
		"port": 3001,
		"timeout": "5s"
	},

	"gateway": {
		"host": "127.0.0.1",
		"port": 3001
	},

	"scheduler": {
		// Cron expression or duration, e.g. "*/15 * * * *" or "10m".
		"refresh": ""
	},

	"events": {
		"buffer_size": 256
	}
}
`

const defaultDotenv = `# taskscope environment variables
# This file is loaded automatically. Existing env vars are never overridden.

# TASKSCOPE_REMOTE_HOST=127.0.0.1
`

func initMessage(root string) string {
	return fmt.Sprintf(`
  Workspace ready at %s

  Next steps:
    1. Point tasks.file at your task list in %s/config.jsonc
    2. Run: taskscope list
    3. Run: taskscope serve
`, root, root)
}
