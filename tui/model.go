package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

// Tab indices
const (
	tabRuns = iota
	tabDetail
	tabCount
)

// Model is the TUI application model
type Model struct {
	store *runstore.Store

	// Data
	runs      []*domain.Run
	detail    *runDetail
	detailFor string

	// Stats
	maxParallel int

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	scroll      int
	statusMsg   string

	lastRefresh time.Time
}

// runDetail holds everything shown on the detail tab for one run
type runDetail struct {
	run       *domain.Run
	results   []*domain.TestResult
	artifacts []*domain.Artifact
	review    *domain.ReviewReport
	changeset *domain.ChangeSet
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	Store       *runstore.Store
	MaxParallel int
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	return Model{
		store:       cfg.Store,
		maxParallel: cfg.MaxParallel,
		activeTab:   tabRuns,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadRunsCmd(),
		tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// selectedRun returns the run under the cursor, or nil
func (m Model) selectedRun() *domain.Run {
	if m.selectedRow < 0 || m.selectedRow >= len(m.runs) {
		return nil
	}
	return m.runs[m.selectedRow]
}

func (m Model) activeCount() int {
	n := 0
	for _, r := range m.runs {
		if r.Status == domain.RunRunning {
			n++
		}
	}
	return n
}
