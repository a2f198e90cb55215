package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aicouncil/council-orchestrator/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	pendingStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	succeededStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	cancelledStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("238"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" AI Council │ Active: %d/%d │ Runs: %d ",
		m.activeCount(), m.maxParallel, len(m.runs))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case tabRuns:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRuns()))
	case tabDetail:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderDetail()))
	}
	b.WriteString("\n")

	statusLine := " q: quit │ j/k: navigate │ enter: open run │ tab: switch │ r: refresh "
	if m.statusMsg != "" {
		statusLine = " " + m.statusMsg + " "
		b.WriteString(warningStyle.Width(m.width).Render(statusLine))
	} else {
		b.WriteString(statusBarStyle.Width(m.width).Render(statusLine))
	}

	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Runs", "Detail"}
	var tabs []string
	for i, name := range names {
		if i == m.activeTab {
			tabs = append(tabs, tabActiveStyle.Render(" "+name+" "))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(" "+name+" "))
		}
	}
	return strings.Join(tabs, "│")
}

// visibleRows returns how many run rows fit in the list section
func (m Model) visibleRows() int {
	rows := m.height - 8
	if rows < 3 {
		rows = 3
	}
	return rows
}

func (m Model) renderRuns() string {
	if len(m.runs) == 0 {
		return dimmedStyle.Render("No runs yet. Trigger one with `council-orch trigger`.")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-10s %-9s %-18s %-22s %-14s %s\n",
		"RUN", "STATUS", "STAGE", "LANGUAGES", "CREATED", "FEATURE"))

	maxVisible := m.visibleRows()
	end := m.scroll + maxVisible
	if end > len(m.runs) {
		end = len(m.runs)
	}

	for i := m.scroll; i < end; i++ {
		r := m.runs[i]
		feature := r.Feature
		if maxLen := m.width - 82; maxLen > 8 && len(feature) > maxLen {
			feature = feature[:maxLen-3] + "..."
		}
		line := fmt.Sprintf("%-10s %-9s %-18s %-22s %-14s %s",
			r.ID[:8],
			statusStyle(r.Status).Render(string(r.Status)),
			r.Stage,
			strings.Join(r.Languages, ","),
			humanize.Time(r.CreatedAt),
			feature)
		if i == m.selectedRow {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if end < len(m.runs) {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("  ... %d more", len(m.runs)-end)))
	}
	return b.String()
}

func (m Model) renderDetail() string {
	if m.detail == nil {
		return dimmedStyle.Render("Select a run and press enter.")
	}
	d := m.detail
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Run %s  %s\n", d.run.ID, statusStyle(d.run.Status).Render(string(d.run.Status))))
	b.WriteString(fmt.Sprintf("Feature: %s\n", d.run.Feature))
	b.WriteString(fmt.Sprintf("Languages: %s", strings.Join(d.run.Languages, ", ")))
	if d.run.Branch != "" {
		b.WriteString(fmt.Sprintf("  Branch: %s", d.run.Branch))
	}
	b.WriteString("\n")
	if d.run.Status == domain.RunFailed {
		detail := d.run.FailureDetail
		b.WriteString(failedStyle.Render(fmt.Sprintf("Failed in %s (%s): %s",
			d.run.FailureStage, d.run.FailureLanguage, detail)))
		b.WriteString("\n")
	}

	if len(d.results) > 0 {
		b.WriteString("\nTest executions:\n")
		for _, r := range d.results {
			style := failedStyle
			if r.Outcome == domain.OutcomePassed {
				style = succeededStyle
			}
			b.WriteString(fmt.Sprintf("  %-12s attempt %d  %s  %s",
				r.Language, r.Attempt, style.Render(string(r.Outcome)),
				r.Duration.Round(time.Millisecond)))
			if len(r.Failures) > 0 {
				b.WriteString(fmt.Sprintf("  (%d failing)", len(r.Failures)))
			}
			b.WriteString("\n")
		}
	}

	if len(d.artifacts) > 0 {
		b.WriteString("\nArtifacts:\n")
		for _, a := range d.artifacts {
			b.WriteString(fmt.Sprintf("  %s (%s, v%d)\n", a.Path, a.Language, a.Version))
		}
	}

	if d.review != nil && len(d.review.Findings) > 0 {
		b.WriteString("\nReview findings:\n")
		for _, f := range d.review.Findings {
			b.WriteString(fmt.Sprintf("  [%s] %s: %s\n", f.Severity, f.File, f.Message))
		}
	}

	if d.changeset != nil {
		b.WriteString(fmt.Sprintf("\nPublished: %s (%s, %s)\n",
			d.changeset.Ref, d.changeset.ReviewState, humanize.Time(d.changeset.PublishedAt)))
	}

	return b.String()
}

func statusStyle(status domain.RunStatus) lipgloss.Style {
	switch status {
	case domain.RunRunning:
		return runningStyle
	case domain.RunPending:
		return pendingStyle
	case domain.RunSucceeded:
		return succeededStyle
	case domain.RunFailed:
		return failedStyle
	case domain.RunCancelled:
		return cancelledStyle
	}
	return pendingStyle
}
