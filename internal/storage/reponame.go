package storage

import (
	"context"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeRepoChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeRepoName replaces every character outside [A-Za-z0-9-_] with "-".
func SanitizeRepoName(name string) string {
	name = unsafeRepoChars.ReplaceAllString(name, "-")
	if name == "" {
		return "workspace"
	}
	return name
}

// RepoName is the base name of the git toplevel of workspace, falling back to
// the workspace base name when git is unavailable.
func RepoName(workspace string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = workspace
	out, err := cmd.Output()
	if err == nil {
		if top := strings.TrimSpace(string(out)); top != "" {
			return filepath.Base(top)
		}
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return filepath.Base(workspace)
	}
	return filepath.Base(abs)
}
