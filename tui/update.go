package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

// RunsLoadedMsg carries a refreshed run list
type RunsLoadedMsg struct {
	Runs []*domain.Run
	Err  error
}

// DetailLoadedMsg carries everything for the detail tab
type DetailLoadedMsg struct {
	Detail *runDetail
	Err    error
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.loadRunsCmd()
		case "j", "down":
			if m.selectedRow < len(m.runs)-1 {
				m.selectedRow++
			}
			maxVisible := m.visibleRows()
			if m.selectedRow >= m.scroll+maxVisible {
				m.scroll = m.selectedRow - maxVisible + 1
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			if m.selectedRow < m.scroll {
				m.scroll = m.selectedRow
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			if m.activeTab == tabDetail {
				if run := m.selectedRun(); run != nil {
					return m, m.loadDetailCmd(run.ID)
				}
			}
		case "enter":
			if run := m.selectedRun(); run != nil {
				m.activeTab = tabDetail
				return m, m.loadDetailCmd(run.ID)
			}
		case "esc":
			m.activeTab = tabRuns
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		cmds := []tea.Cmd{m.loadRunsCmd(), tickCmd()}
		if m.activeTab == tabDetail && m.detailFor != "" {
			cmds = append(cmds, m.loadDetailCmd(m.detailFor))
		}
		return m, tea.Batch(cmds...)

	case RunsLoadedMsg:
		if msg.Err != nil {
			m.statusMsg = "refresh failed: " + msg.Err.Error()
			return m, nil
		}
		m.runs = msg.Runs
		m.statusMsg = ""
		if m.selectedRow >= len(m.runs) && len(m.runs) > 0 {
			m.selectedRow = len(m.runs) - 1
		}

	case DetailLoadedMsg:
		if msg.Err != nil {
			m.statusMsg = "loading run failed: " + msg.Err.Error()
			return m, nil
		}
		m.detail = msg.Detail
		m.detailFor = msg.Detail.run.ID
	}

	return m, nil
}

func (m Model) loadRunsCmd() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		if store == nil {
			return RunsLoadedMsg{}
		}
		runs, err := store.ListRuns(runstore.ListOptions{Limit: 200})
		return RunsLoadedMsg{Runs: runs, Err: err}
	}
}

func (m Model) loadDetailCmd(runID string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		if store == nil {
			return DetailLoadedMsg{Err: nil, Detail: &runDetail{run: &domain.Run{ID: runID}}}
		}
		run, err := store.GetRun(runID)
		if err != nil {
			return DetailLoadedMsg{Err: err}
		}
		d := &runDetail{run: run}
		if d.results, err = store.ListResults(runID); err != nil {
			return DetailLoadedMsg{Err: err}
		}
		if d.artifacts, err = store.LatestArtifacts(runID, ""); err != nil {
			return DetailLoadedMsg{Err: err}
		}
		d.review, _ = store.GetReviewReport(runID)
		d.changeset, _ = store.GetChangeSet(runID)
		return DetailLoadedMsg{Detail: d}
	}
}

// SetRuns replaces the run list, for embedding without a store
func (m *Model) SetRuns(runs []*domain.Run) {
	m.runs = runs
}
