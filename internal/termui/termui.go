// Package termui renders pipeline state for the terminal.
package termui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"tracelayer/internal/conflicts"
	"tracelayer/internal/diagnostics"
	"tracelayer/internal/domain"
	"tracelayer/internal/pipeline"
)

// Palette
var (
	ColorCompleted = lipgloss.Color("#10B981") // emerald
	ColorFailed    = lipgloss.Color("#EF4444") // red
	ColorCancelled = lipgloss.Color("#F59E0B") // amber
	ColorActive    = lipgloss.Color("#5FAFFF")
	ColorMuted     = lipgloss.Color("#888888")
)

var (
	StyleTitle = lipgloss.NewStyle().Foreground(ColorActive).Bold(true)
	StyleMuted = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleWarn  = lipgloss.NewStyle().Foreground(ColorCancelled).Bold(true)
)

// StatusColor returns the history colour for a run status.
func StatusColor(s domain.RunStatus) lipgloss.Color {
	switch s {
	case domain.StatusCompleted:
		return ColorCompleted
	case domain.StatusFailed:
		return ColorFailed
	case domain.StatusCancelled:
		return ColorCancelled
	default:
		return ColorActive
	}
}

// HistoryEntry is one rendered line of run history.
type HistoryEntry struct {
	RunID  string
	Status domain.RunStatus
	Color  lipgloss.Color
	Text   string
}

// History projects runs, newest first, onto history entries. Only completed runs
// mention their requirement count.
func History(runs []domain.ExtractionRun) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(runs))
	for _, run := range runs {
		text := fmt.Sprintf("%s  %s", shortTime(run.StartedAt), run.Status)
		if run.Status == domain.StatusCompleted {
			text += fmt.Sprintf(" (%d reqs)", run.Counts.Requirements)
		}
		out = append(out, HistoryEntry{
			RunID:  run.ID,
			Status: run.Status,
			Color:  StatusColor(run.Status),
			Text:   text,
		})
	}
	return out
}

func shortTime(ts string) string {
	if len(ts) >= 16 {
		return strings.Replace(ts[:16], "T", " ", 1)
	}
	return ts
}

// RenderHistory writes one coloured line per run.
func RenderHistory(w io.Writer, runs []domain.ExtractionRun) error {
	entries := History(runs)
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, StyleMuted.Render("No runs yet."))
		return err
	}
	for _, e := range entries {
		dot := lipgloss.NewStyle().Foreground(e.Color).Render("●")
		line := lipgloss.NewStyle().Foreground(e.Color).Render(e.Text)
		if _, err := fmt.Fprintf(w, "%s %s  %s\n", dot, line, StyleMuted.Render(e.RunID)); err != nil {
			return err
		}
	}
	return nil
}

var stageMarks = map[pipeline.StageState]string{
	pipeline.StateDone:      "✓",
	pipeline.StateCurrent:   "▶",
	pipeline.StatePending:   "○",
	pipeline.StateFailed:    "✗",
	pipeline.StateCancelled: "■",
}

func stageColor(s pipeline.StageState) lipgloss.Color {
	switch s {
	case pipeline.StateDone:
		return ColorCompleted
	case pipeline.StateCurrent:
		return ColorActive
	case pipeline.StateFailed:
		return ColorFailed
	case pipeline.StateCancelled:
		return ColorCancelled
	default:
		return ColorMuted
	}
}

// Stages renders the stage indicator, one stage per line.
func Stages(views []pipeline.StageView) string {
	var b strings.Builder
	for _, v := range views {
		style := lipgloss.NewStyle().Foreground(stageColor(v.State))
		fmt.Fprintf(&b, "%s %s\n", style.Render(stageMarks[v.State]), style.Render(v.Label))
	}
	return b.String()
}

// RunStatus renders a run headline followed by its stage indicator.
func RunStatus(w io.Writer, run domain.ExtractionRun) error {
	head := lipgloss.NewStyle().Foreground(StatusColor(run.Status)).Bold(true).Render(string(run.Status))
	if _, err := fmt.Fprintf(w, "%s %s  %s\n", StyleTitle.Render("Run"), run.ID, head); err != nil {
		return err
	}
	if run.Error != "" {
		if _, err := fmt.Fprintf(w, "%s\n", lipgloss.NewStyle().Foreground(ColorFailed).Render(run.Error)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, Stages(pipeline.RunIndicator(run)))
	return err
}

// RunsTable writes runs as a table.
func RunsTable(w io.Writer, runs []domain.ExtractionRun) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Status", "Stage", "Provider", "Started", "Reqs"})
	for _, r := range runs {
		reqs := "-"
		if r.Status == domain.StatusCompleted {
			reqs = fmt.Sprint(r.Counts.Requirements)
		}
		tw.AppendRow(table.Row{r.ID, r.Status, pipeline.Label(r.Stage), r.Provider, r.StartedAt, reqs})
	}
	tw.Render()
}

// LogsTable writes run log entries in order.
func LogsTable(w io.Writer, logs []domain.LogEntry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Time", "Agent", "Level", "Message"})
	for _, l := range logs {
		tw.AppendRow(table.Row{l.ID, l.TS, l.Agent, l.Level, l.Message})
	}
	tw.Render()
}

// ConflictsTable writes conflicts in their display order followed by the summary.
func ConflictsTable(w io.Writer, items []domain.Conflict, sum conflicts.Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Severity", "Status", "Title"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.Severity, c.Status, c.Title})
	}
	tw.AppendFooter(table.Row{"", "", "Accuracy", fmt.Sprintf("%d%% (%d/%d settled)", sum.Accuracy, sum.Resolved+sum.Accepted, sum.Total)})
	tw.Render()
}

// DiagnosticsTable writes the diagnostics snapshot as key/value rows.
func DiagnosticsTable(w io.Writer, s diagnostics.Snapshot) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"Runs", s.Runs.Total},
		{"Success rate", fmt.Sprintf("%d%%", s.SuccessRate)},
		{"Avg duration", fmt.Sprintf("%.1fs", s.AvgDurationSeconds)},
		{"Errors", s.ErrorCount},
		{"Requirements", s.Entities.Requirements},
		{"Stakeholders", s.Entities.Stakeholders},
		{"Decisions", s.Entities.Decisions},
		{"Conflicts", s.Entities.Conflicts},
	})
	tw.Render()
}

// Warnings writes preflight warnings, one per line.
func Warnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(w, "%s %s\n", StyleWarn.Render("!"), msg)
	}
}
