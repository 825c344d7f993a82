// Package ui holds the terminal styles and render helpers shared by the
// planrunner commands.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/util"
)

var (
	// Colors meet WCAG AA contrast on dark backgrounds
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple
	GreenColor   = lipgloss.Color("#10B981")
	AmberColor   = lipgloss.Color("#F59E0B")
	RedColor     = lipgloss.Color("#F87171")
	BlueColor    = lipgloss.Color("#60A5FA")
	MutedColor   = lipgloss.Color("#9CA3AF")

	Title   = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Success = lipgloss.NewStyle().Foreground(GreenColor)
	Warning = lipgloss.NewStyle().Foreground(AmberColor)
	Error   = lipgloss.NewStyle().Foreground(RedColor)
	Label   = lipgloss.NewStyle().Bold(true)
)

// statusColors maps task and instance statuses to their display color.
var statusColors = map[string]lipgloss.Color{
	"CREATED":   MutedColor,
	"READY":     BlueColor,
	"RUNNING":   AmberColor,
	"COMPLETED": GreenColor,
	"FAILED":    RedColor,
	"CANCELLED": MutedColor,
	"DRAFT":     MutedColor,
	"ACTIVE":    GreenColor,
	"ARCHIVED":  MutedColor,
}

// statusIcons prefix task lines in status output.
var statusIcons = map[plan.TaskStatus]string{
	plan.TaskCreated:   "○",
	plan.TaskReady:     "◌",
	plan.TaskRunning:   "●",
	plan.TaskCompleted: "✓",
	plan.TaskFailed:    "✗",
	plan.TaskCancelled: "−",
}

// Status renders a status name in its color.
func Status(s string) string {
	c, ok := statusColors[s]
	if !ok {
		return s
	}
	return lipgloss.NewStyle().Foreground(c).Render(s)
}

// TaskIcon returns the colored icon for a task status.
func TaskIcon(s plan.TaskStatus) string {
	icon, ok := statusIcons[s]
	if !ok {
		icon = "?"
	}
	c, ok := statusColors[string(s)]
	if !ok {
		return icon
	}
	return lipgloss.NewStyle().Foreground(c).Render(icon)
}

// Table writes rows as aligned columns. Cells may contain ANSI styling;
// widths are measured on the visible text and cells wider than maxCell
// are truncated.
type Table struct {
	Header  []string
	Rows    [][]string
	MaxCell int
}

// Render writes the table to w.
func (t *Table) Render(w io.Writer) {
	maxCell := t.MaxCell
	if maxCell <= 0 {
		maxCell = 48
	}
	widths := make([]int, len(t.Header))
	cells := make([][]string, 0, len(t.Rows)+1)
	for _, row := range append([][]string{t.Header}, t.Rows...) {
		out := make([]string, len(t.Header))
		for i := range out {
			if i < len(row) {
				out[i] = util.TruncateANSI(row[i], maxCell)
			}
			widths[i] = max(widths[i], lipgloss.Width(out[i]))
		}
		cells = append(cells, out)
	}

	for n, row := range cells {
		var b strings.Builder
		for i, cell := range row {
			if n == 0 {
				cell = Label.Render(cell)
			}
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(util.PadRight(cell, widths[i]))
			b.WriteString("  ")
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
}

// Counts formats status counts as a one-line summary.
func Counts(c plan.StatusCounts) string {
	return fmt.Sprintf("%d/%d completed, %d running, %d failed, %d cancelled",
		c.Completed, c.Total, c.Running, c.Failed, c.Cancelled)
}

// WriteJSON writes v to w as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
