package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aicouncil/council-orchestrator/internal/domain"
)

func sampleRuns() []*domain.Run {
	return []*domain.Run{
		{
			ID:        "aaaaaaaa-1111-2222-3333-444444444444",
			Feature:   "add profile editing",
			Languages: []string{"python"},
			Status:    domain.RunRunning,
			Stage:     domain.StageRunningTests,
			CreatedAt: time.Now().Add(-5 * time.Minute),
		},
		{
			ID:        "bbbbbbbb-1111-2222-3333-444444444444",
			Feature:   "export report as CSV",
			Languages: []string{"python", "typescript"},
			Status:    domain.RunSucceeded,
			Stage:     domain.StagePublishing,
			CreatedAt: time.Now().Add(-2 * time.Hour),
		},
	}
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNavigationMovesSelection(t *testing.T) {
	m := NewModel(ModelConfig{MaxParallel: 2})
	m.SetRuns(sampleRuns())
	m.height = 30

	next, _ := m.Update(keyMsg("j"))
	m = next.(Model)
	if m.selectedRow != 1 {
		t.Errorf("selectedRow = %d after j, want 1", m.selectedRow)
	}

	// Selection is clamped at the end of the list
	next, _ = m.Update(keyMsg("j"))
	m = next.(Model)
	if m.selectedRow != 1 {
		t.Errorf("selectedRow = %d after second j, want 1", m.selectedRow)
	}

	next, _ = m.Update(keyMsg("k"))
	m = next.(Model)
	if m.selectedRow != 0 {
		t.Errorf("selectedRow = %d after k, want 0", m.selectedRow)
	}
	next, _ = m.Update(keyMsg("k"))
	m = next.(Model)
	if m.selectedRow != 0 {
		t.Errorf("selectedRow = %d after k at top, want 0", m.selectedRow)
	}
}

func TestTabSwitching(t *testing.T) {
	m := NewModel(ModelConfig{})
	m.SetRuns(sampleRuns())

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.activeTab != tabDetail {
		t.Errorf("activeTab = %d after tab, want %d", m.activeTab, tabDetail)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if m.activeTab != tabRuns {
		t.Errorf("activeTab = %d after esc, want %d", m.activeTab, tabRuns)
	}
}

func TestQuitKey(t *testing.T) {
	m := NewModel(ModelConfig{})
	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if msg := cmd(); msg == nil {
		t.Error("quit command produced no message")
	}
}

func TestRunsLoadedUpdatesList(t *testing.T) {
	m := NewModel(ModelConfig{})
	m.selectedRow = 5

	next, _ := m.Update(RunsLoadedMsg{Runs: sampleRuns()})
	m = next.(Model)
	if len(m.runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(m.runs))
	}
	// Cursor is pulled back into range after a shrink
	if m.selectedRow != 1 {
		t.Errorf("selectedRow = %d, want 1", m.selectedRow)
	}
}

func TestViewShowsRuns(t *testing.T) {
	m := NewModel(ModelConfig{MaxParallel: 2})
	m.SetRuns(sampleRuns())
	m.width = 120
	m.height = 30

	out := m.View()
	if !strings.Contains(out, "aaaaaaaa") {
		t.Error("view missing run ID prefix")
	}
	if !strings.Contains(out, "add profile editing") {
		t.Error("view missing feature text")
	}
	if !strings.Contains(out, "running_tests") {
		t.Error("view missing stage")
	}
	if !strings.Contains(out, "Active: 1/2") {
		t.Error("view missing active count in header")
	}
}

func TestViewEmptyState(t *testing.T) {
	m := NewModel(ModelConfig{})
	m.width = 80
	m.height = 24

	out := m.View()
	if !strings.Contains(out, "No runs yet") {
		t.Error("expected empty-state hint")
	}
}

func TestDetailViewRendersResults(t *testing.T) {
	runs := sampleRuns()
	m := NewModel(ModelConfig{})
	m.width = 120
	m.height = 30
	m.activeTab = tabDetail
	m.detail = &runDetail{
		run: runs[1],
		results: []*domain.TestResult{
			{Language: "python", Attempt: 1, Outcome: domain.OutcomePassed, Duration: 3 * time.Second},
			{Language: "typescript", Attempt: 2, Outcome: domain.OutcomePassed, Duration: 8 * time.Second},
		},
		artifacts: []*domain.Artifact{
			{Path: "src/report.py", Language: "python", Version: 2},
		},
		changeset: &domain.ChangeSet{
			Ref:         "council/run-bbbbbbbb",
			ReviewState: domain.ReviewUnreviewed,
			PublishedAt: time.Now(),
		},
	}

	out := m.View()
	if !strings.Contains(out, "export report as CSV") {
		t.Error("detail missing feature text")
	}
	if !strings.Contains(out, "attempt 2") {
		t.Error("detail missing attempt count")
	}
	if !strings.Contains(out, "src/report.py") {
		t.Error("detail missing artifact path")
	}
	if !strings.Contains(out, "council/run-bbbbbbbb") {
		t.Error("detail missing changeset ref")
	}
}

func TestDetailViewFailure(t *testing.T) {
	m := NewModel(ModelConfig{})
	m.width = 120
	m.height = 30
	m.activeTab = tabDetail
	m.detail = &runDetail{
		run: &domain.Run{
			ID:              "cccccccc-1111-2222-3333-444444444444",
			Feature:         "broken feature",
			Languages:       []string{"python"},
			Status:          domain.RunFailed,
			FailureStage:    domain.StageRunningTests,
			FailureLanguage: "python",
			FailureDetail:   "2 tests failing after 3 attempts",
		},
	}

	out := m.View()
	if !strings.Contains(out, "2 tests failing after 3 attempts") {
		t.Error("detail missing failure detail")
	}
}
