package taskfile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// statusGlyphs are appended to a rewritten Markdown line to carry the states
// a bare checkbox cannot express.
var statusGlyphs = map[tasks.TaskStatus]string{
	tasks.StatusCompleted:  "✅",
	tasks.StatusInProgress: "🔄",
	tasks.StatusReview:     "👀",
	tasks.StatusBlocked:    "⛔",
	tasks.StatusDeprecated: "\U0001F5D1\uFE0F",
}

// glyphOrder keeps suffix matching deterministic.
var glyphOrder = []tasks.TaskStatus{
	tasks.StatusCompleted,
	tasks.StatusInProgress,
	tasks.StatusReview,
	tasks.StatusBlocked,
	tasks.StatusDeprecated,
}

// numericIDRe is the only id shape the Markdown rewrite can address.
var numericIDRe = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?$`)

// ParseMarkdown extracts every checkbox task of content. Lines that are not
// valid checkbox tasks are dropped silently.
func ParseMarkdown(content string, opts ParseOptions) []tasks.Task {
	var out []tasks.Task
	for _, line := range strings.Split(content, "\n") {
		if t, ok := ParseMarkdownLine(line, opts); ok {
			out = append(out, t)
		}
	}
	return out
}

// ParseMarkdownLine parses "- [x] <id> <title>" or "- [ ] <id> <title>".
func ParseMarkdownLine(line string, opts ParseOptions) (tasks.Task, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "- [") || len(trimmed) < 5 || trimmed[4] != ']' {
		return tasks.Task{}, false
	}

	var status tasks.TaskStatus
	switch trimmed[3] {
	case 'x':
		status = tasks.StatusCompleted
	case ' ':
		status = tasks.StatusNotStarted
	default:
		return tasks.Task{}, false
	}

	rest := strings.TrimSpace(trimmed[5:])
	if rest == "" {
		return tasks.Task{}, false
	}

	id, title, found := strings.Cut(rest, " ")
	title = strings.TrimSpace(title)

	title, glyphStatus, hasGlyph := stripGlyph(title)
	// An unchecked box is never completed, whatever its glyph says.
	if hasGlyph && status == tasks.StatusNotStarted && glyphStatus != tasks.StatusCompleted {
		status = glyphStatus
	}
	if !found || title == "" {
		title = tasks.DefaultTitle
	}

	now := opts.now()
	t := tasks.Task{
		ID:                id,
		Title:             title,
		Status:            status,
		Complexity:        tasks.ComplexityLow,
		Priority:          tasks.PriorityMedium,
		Dependencies:      []string{},
		Requirements:      []string{id},
		CreatedDate:       now,
		LastModified:      now,
		Assignee:          tasks.DefaultAssignee,
		EstimatedHours:    tasks.DefaultEstimatedHours,
		EstimatedDuration: tasks.DefaultEstimatedDuration,
		IsExecutable:      status == tasks.StatusNotStarted,
		Tags:              []string{tasks.DefaultTag},
	}
	t.Normalize()
	return t, true
}

// stripGlyph removes a trailing status glyph from title.
func stripGlyph(title string) (string, tasks.TaskStatus, bool) {
	for _, st := range glyphOrder {
		g := statusGlyphs[st]
		if strings.HasSuffix(title, g) {
			return strings.TrimSpace(strings.TrimSuffix(title, g)), st, true
		}
		// Some editors drop the variation selector of 🗑️.
		if bare := strings.TrimSuffix(g, "\uFE0F"); bare != g && strings.HasSuffix(title, bare) {
			return strings.TrimSpace(strings.TrimSuffix(title, bare)), st, true
		}
	}
	return title, "", false
}

// UpdateMarkdownStatus rewrites the checkbox and trailing glyph of the first
// line carrying id. Only dotted numeric ids are addressable.
func UpdateMarkdownStatus(content, id string, status tasks.TaskStatus) (string, error) {
	if !numericIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedID, id)
	}
	lineRe := regexp.MustCompile(`^(\s*- \[)[ x](\] ` + regexp.QuoteMeta(id) + `)(?:\s+(.*))?$`)

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		body, cr := strings.CutSuffix(line, "\r")
		m := lineRe.FindStringSubmatch(body)
		if m == nil {
			continue
		}

		box := " "
		if status == tasks.StatusCompleted {
			box = "x"
		}
		title, _, _ := stripGlyph(strings.TrimSpace(m[3]))

		var b strings.Builder
		b.WriteString(m[1])
		b.WriteString(box)
		b.WriteString(m[2])
		if title != "" {
			b.WriteString(" ")
			b.WriteString(title)
		}
		if g := statusGlyphs[status]; g != "" {
			b.WriteString(" ")
			b.WriteString(g)
		}
		if cr {
			b.WriteString("\r")
		}
		lines[i] = b.String()
		return strings.Join(lines, "\n"), nil
	}
	return "", fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// UpdateTaskInFile applies UpdateMarkdownStatus to the Markdown file at path.
func UpdateTaskInFile(fsys FileSystem, path, id string, status tasks.TaskStatus) error {
	data, err := readTaskFile(fsys, path)
	if err != nil {
		return err
	}
	updated, err := UpdateMarkdownStatus(string(data), id, status)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, []byte(updated)); err != nil {
		return newFileError(path, err)
	}
	return nil
}
