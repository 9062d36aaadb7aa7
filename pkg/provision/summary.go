// pkg/provision/summary.go

package provision

import (
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/kiln/pkg/stage"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorSuccess = lipgloss.Color("#00ff00")
	colorWarning = lipgloss.Color("#ffaa00")
	colorError   = lipgloss.Color("#ff0000")
	colorMuted   = lipgloss.Color("#666666")
	colorBorder  = lipgloss.Color("#3d5a80")

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// maxDetail keeps the table readable on an 80 column terminal.
const maxDetail = 48

func statusStyle(r stage.Result) lipgloss.Style {
	switch {
	case r.Status == stage.Succeeded:
		return cellStyle.Foreground(colorSuccess)
	case r.Status == stage.Failed && !r.Blocking():
		return cellStyle.Foreground(colorWarning)
	case r.Status == stage.Failed:
		return cellStyle.Foreground(colorError)
	default:
		return cellStyle.Foreground(colorMuted)
	}
}

func detail(r stage.Result) string {
	s := r.Reason
	if r.Err != nil {
		s = r.Err.Error()
	}
	if runes := []rune(s); len(runes) > maxDetail {
		s = string(runes[:maxDetail-3]) + "..."
	}
	return s
}

func statusLabel(r stage.Result) string {
	switch {
	case r.Status != stage.Failed || r.Blocking():
		return r.Status.String()
	case r.Optional:
		return r.Status.String() + " (optional)"
	default:
		return r.Status.String() + " (advisory)"
	}
}

// RenderSummary builds the end-of-run table.
func RenderSummary(report *stage.Report) string {
	rows := make([][]string, 0, len(report.Results))
	for _, r := range report.Results {
		rows = append(rows, []string{
			r.Stage,
			r.Group.String(),
			statusLabel(r),
			r.Duration.Round(time.Millisecond).String(),
			detail(r),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers("STAGE", "GROUP", "STATUS", "DURATION", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(report.Results) {
				return statusStyle(report.Results[row])
			}
			return cellStyle
		})

	title := titleStyle.Render(fmt.Sprintf("kiln run %s", report.RunID))
	totals := fmt.Sprintf("%d succeeded, %d skipped, %d failed in %s",
		report.Count(stage.Succeeded), report.Count(stage.Skipped), report.Count(stage.Failed),
		report.Duration.Round(time.Second))

	return lipgloss.JoinVertical(lipgloss.Left, title, t.String(), totals)
}

func (c *Controller) printSummary(report *stage.Report) {
	fmt.Fprintln(c.out, RenderSummary(report))
	if failed := report.RequiredFailures(); len(failed) > 0 {
		fmt.Fprintf(c.out, "%d required stage(s) failed; see %s\n", len(failed), c.logHint())
	}
}

func (c *Controller) logHint() string {
	if c.cfg.LogFile != "" {
		return c.cfg.LogFile
	}
	return "the run log"
}
