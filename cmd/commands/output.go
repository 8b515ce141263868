package commands

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Palette
var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#10B981")
	colorAccent  = lipgloss.Color("#60A5FA")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
)

var statusColors = map[tasks.TaskStatus]color.Color{
	tasks.StatusNotStarted: colorMuted,
	tasks.StatusInProgress: colorAccent,
	tasks.StatusReview:     colorWarning,
	tasks.StatusCompleted:  colorSuccess,
	tasks.StatusBlocked:    colorError,
	tasks.StatusDeprecated: colorMuted,
}

// printer writes command output, styled only when it goes to a terminal.
type printer struct {
	w     io.Writer
	color bool
	width int
}

func newPrinter(f *os.File) *printer {
	p := &printer{w: f, width: 80}
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		p.color = os.Getenv("NO_COLOR") == ""
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) printf(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}

// statusWidth is the widest status display name.
var statusWidth = func() int {
	n := 0
	for _, s := range tasks.Statuses {
		n = max(n, len(s.DisplayName()))
	}
	return n
}()

// statusLabel pads before styling so escape codes never break alignment.
func (p *printer) statusLabel(s tasks.TaskStatus) string {
	label := fmt.Sprintf("%-*s", statusWidth, s.DisplayName())
	c, ok := statusColors[s]
	if !ok {
		return label
	}
	return p.style(lipgloss.NewStyle().Foreground(c), label)
}

// taskTable prints one line per task.
func (p *printer) taskTable(list []tasks.Task) error {
	if len(list) == 0 {
		p.println("No tasks found.")
		return nil
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\n",
		p.style(headerStyle, "ID"),
		p.style(headerStyle, "PRIORITY"),
		p.style(headerStyle, fmt.Sprintf("%-*s  TITLE", statusWidth, "STATUS")),
	)
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s  %s\n", t.ID, t.Priority, p.statusLabel(t.Status), t.Title)
	}
	return tw.Flush()
}

// statusSummary renders "3 tasks: 1 Completed, 2 In Progress".
func statusSummary(list []tasks.Task) string {
	counts := make(map[tasks.TaskStatus]int)
	for _, t := range list {
		counts[t.Status]++
	}
	var parts []string
	for _, s := range tasks.Statuses {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s.DisplayName()))
		}
	}
	noun := "tasks"
	if len(list) == 1 {
		noun = "task"
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d %s", len(list), noun)
	}
	return fmt.Sprintf("%d %s: %s", len(list), noun, strings.Join(parts, ", "))
}

// taskMarkdown renders the detail view of a task as Markdown.
func taskMarkdown(t *tasks.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n\n", t.ID, t.Title)
	fmt.Fprintf(&b, "| Status | Priority | Complexity | Estimate |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %s | %s |\n\n", t.Status.DisplayName(), t.Priority, t.Complexity, t.EstimatedDuration)

	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", t.Description)
	}
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(&b, "**Depends on:** %s\n\n", strings.Join(t.Dependencies, ", "))
	}
	if t.Details != "" {
		fmt.Fprintf(&b, "## Details\n\n%s\n\n", t.Details)
	}
	if t.TestStrategy != "" {
		fmt.Fprintf(&b, "## Test strategy\n\n%s\n\n", t.TestStrategy)
	}
	if len(t.Subtasks) > 0 {
		b.WriteString("## Subtasks\n\n")
		for _, st := range t.Subtasks {
			mark := " "
			if st.Status == tasks.StatusCompleted {
				mark = "x"
			}
			title := st.Title
			if title == "" {
				title = st.Description
			}
			fmt.Fprintf(&b, "- [%s] %s %s\n", mark, st.ID, title)
		}
		b.WriteString("\n")
	}
	if ts := t.TestStatus; ts != nil {
		fmt.Fprintf(&b, "## Tests\n\n%d/%d passing (%s)\n\n", ts.PassedTests, ts.TotalTests, ts.Status)
		for _, ft := range ts.FailingTestsList {
			fmt.Fprintf(&b, "- `%s`: %s\n", ft.Name, ft.Message)
		}
		if len(ts.FailingTestsList) > 0 {
			b.WriteString("\n")
		}
	}
	if t.Notes != "" {
		fmt.Fprintf(&b, "## Notes\n\n%s\n\n", t.Notes)
	}
	fmt.Fprintf(&b, "_Created %s, modified %s_\n",
		t.CreatedDate.Format("2006-01-02 15:04"), t.LastModified.Format("2006-01-02 15:04"))
	return b.String()
}

// markdown prints md, rendered through glamour on a terminal.
func (p *printer) markdown(md string) error {
	if !p.color {
		_, err := io.WriteString(p.w, md)
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(p.width),
		glamour.WithEmoji(),
	)
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	_, err = io.WriteString(p.w, out)
	return err
}
