// Package fleetview renders the dispatcher's fleet + queue-depth
// snapshot as a static lipgloss table for flowctl fleet, the operator
// CLI's read-only view of the wire.FleetView the admin endpoint serves.
package fleetview

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/flowstate/flowstate/internal/wire"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	drainedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// staleAfter is how long since last_seen before a runner row is
// rendered as stale, independent of the dispatcher's own watchdog
// cutoff (which reclaims runs, not fleet rows).
const staleAfter = 3 * time.Minute

// Render draws the fleet table plus a queue-depth summary line.
func Render(view wire.FleetView, now time.Time) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf(" flowstate fleet │ %d runner(s) │ pod: %s ", len(view.Runners), view.PodStatus)))
	b.WriteString("\n\n")

	b.WriteString(renderRunnerTable(view.Runners, now))
	b.WriteString("\n")
	b.WriteString(renderQueueDepth(view.QueueDepth))

	return b.String()
}

func renderRunnerTable(runners []wire.RunnerSummary, now time.Time) string {
	if len(runners) == 0 {
		return dimmedStyle.Render("no runners registered")
	}

	sorted := make([]wire.RunnerSummary, len(runners))
	copy(sorted, runners)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	cols := []string{"RUNNER", "CAP", "STATUS", "SLOTS", "BUILDS", "LAST SEEN"}
	rows := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, []string{
			r.ID,
			r.Capability,
			statusCell(r, now),
			fmt.Sprintf("%d/%d", r.ActiveCount, r.MaxConcurrent),
			fmt.Sprintf("%d/%d", r.ActiveBuilds, r.MaxBuilds),
			lastSeenCell(r.LastSeen, now),
		})
	}

	widths := columnWidths(cols, rows)
	var b strings.Builder
	b.WriteString(formatRow(cols, widths))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(formatRow(row, widths))
		b.WriteString("\n")
	}
	return sectionStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func statusCell(r wire.RunnerSummary, now time.Time) string {
	if now.Sub(r.LastSeen) > staleAfter {
		return staleStyle.Render("stale")
	}
	if r.Status == "drained" {
		return drainedStyle.Render(r.Status)
	}
	return activeStyle.Render(r.Status)
}

func lastSeenCell(t time.Time, now time.Time) string {
	if t.IsZero() {
		return dimmedStyle.Render("never")
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func renderQueueDepth(depth map[string]int) string {
	if len(depth) == 0 {
		return ""
	}
	keys := make([]string, 0, len(depth))
	for k := range depth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, depth[k]))
	}
	return dimmedStyle.Render("queued  " + strings.Join(parts, "  "))
}

func columnWidths(header []string, rows [][]string) []int {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := lipgloss.Width(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	return widths
}

func formatRow(cells []string, widths []int) string {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		pad := widths[i] - lipgloss.Width(cell)
		if pad < 0 {
			pad = 0
		}
		padded[i] = cell + strings.Repeat(" ", pad)
	}
	return strings.Join(padded, "  ")
}
