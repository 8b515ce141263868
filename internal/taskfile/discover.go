package taskfile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoTaskFile is returned by Discover when no pattern matches.
var ErrNoTaskFile = errors.New("no task file found")

// DefaultPatterns are tried in order when no task file is configured.
var DefaultPatterns = []string{
	"tasks.json",
	"tasks.md",
	"tasks.yaml",
	"tasks.yml",
	".taskmaster/tasks/tasks.json",
	"**/tasks.{json,md,yaml,yml}",
}

// skipDirs are never descended into by recursive patterns.
var skipDirs = []string{"node_modules/", ".git/", "vendor/", ".aidm/"}

// Discover returns the first file under root (relative, slash separated)
// matching patterns, tried in order. Matches of a single pattern are sorted
// by depth then name so the shallowest file wins.
func Discover(root string, patterns []string) (string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	fsys := os.DirFS(root)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return "", fmt.Errorf("match %q: %w", pattern, err)
		}
		matches = filterSkipped(matches)
		if len(matches) == 0 {
			continue
		}
		sort.Slice(matches, func(i, j int) bool {
			di, dj := strings.Count(matches[i], "/"), strings.Count(matches[j], "/")
			if di != dj {
				return di < dj
			}
			return matches[i] < matches[j]
		})
		return matches[0], nil
	}
	return "", fmt.Errorf("%w under %s", ErrNoTaskFile, root)
}

func filterSkipped(matches []string) []string {
	out := matches[:0]
outer:
	for _, m := range matches {
		for _, skip := range skipDirs {
			if strings.HasPrefix(m, skip) || strings.Contains(m, "/"+skip) {
				continue outer
			}
		}
		out = append(out, m)
	}
	return out
}
