package publisher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %s: %v", args, out, err)
		}
	}
	run("init")
	run("config", "user.email", "council@example.com")
	run("config", "user.name", "council")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func publishedRun(t *testing.T, store *runstore.Store) *domain.Run {
	t.Helper()
	run := &domain.Run{
		ID:        "11111111-2222-3333-4444-555555555555",
		Feature:   "add a url shortener",
		Languages: []string{"python"},
		Status:    domain.RunRunning,
		CreatedAt: time.Now(),
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	artifacts := []*domain.Artifact{
		{RunID: run.ID, Path: "tests/test_shorten.py", Language: "python", Stage: domain.StageTests, Content: "def test(): ..."},
		{RunID: run.ID, Path: "shorten.py", Language: "python", Stage: domain.StageCode, Content: "def shorten(u): ..."},
	}
	for _, a := range artifacts {
		if err := store.AppendArtifact(a); err != nil {
			t.Fatalf("AppendArtifact() error = %v", err)
		}
	}
	return run
}

func TestPublishCommitsArtifacts(t *testing.T) {
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	repo := initRepo(t)

	run := publishedRun(t, store)
	report := &domain.ReviewReport{
		RunID:    run.ID,
		Findings: []domain.Finding{{Severity: "warning", File: "shorten.py", Message: "no validation"}},
	}

	p := New(store, config.PublishConfig{RepoDir: repo})
	cs, err := p.Publish(context.Background(), run, report)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if cs.Ref != "council/run-11111111" {
		t.Errorf("Ref = %q, want council/run-11111111", cs.Ref)
	}
	if cs.ReviewState != domain.ReviewUnreviewed {
		t.Errorf("ReviewState = %q, want unreviewed", cs.ReviewState)
	}

	if _, err := os.Stat(filepath.Join(repo, "shorten.py")); err != nil {
		t.Errorf("code artifact not written: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(repo, ".council", "review.md"))
	if err != nil {
		t.Fatalf("review report not written: %v", err)
	}
	if !strings.Contains(string(data), "no validation") {
		t.Errorf("review report = %q, want finding text", data)
	}

	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = repo
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(out)); got != "council/run-11111111" {
		t.Errorf("HEAD branch = %q, want council/run-11111111", got)
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	repo := initRepo(t)

	run := publishedRun(t, store)
	p := New(store, config.PublishConfig{RepoDir: repo})

	first, err := p.Publish(context.Background(), run, nil)
	if err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}

	countCommits := func() string {
		cmd := exec.Command("git", "rev-list", "--count", "HEAD")
		cmd.Dir = repo
		out, err := cmd.Output()
		if err != nil {
			t.Fatal(err)
		}
		return strings.TrimSpace(string(out))
	}
	before := countCommits()

	second, err := p.Publish(context.Background(), run, nil)
	if err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if second.Ref != first.Ref {
		t.Errorf("second Ref = %q, want %q", second.Ref, first.Ref)
	}
	if after := countCommits(); after != before {
		t.Errorf("commit count changed %s -> %s on re-publish", before, after)
	}
}

func TestPublishUsesRequestedBranch(t *testing.T) {
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	repo := initRepo(t)

	run := publishedRun(t, store)
	run.Branch = "feat/shortener"

	p := New(store, config.PublishConfig{RepoDir: repo})
	cs, err := p.Publish(context.Background(), run, nil)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if cs.Ref != "feat/shortener" {
		t.Errorf("Ref = %q, want feat/shortener", cs.Ref)
	}
}

func TestApprove(t *testing.T) {
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	repo := initRepo(t)

	run := publishedRun(t, store)
	p := New(store, config.PublishConfig{RepoDir: repo})

	// Approving before publication is an error.
	if err := p.Approve(run.ID); err == nil {
		t.Error("Approve() before publish succeeded, want error")
	}

	if _, err := p.Publish(context.Background(), run, nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Approve(run.ID); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	cs, err := store.GetChangeSet(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cs.ReviewState != domain.ReviewApproved {
		t.Errorf("ReviewState = %q, want approved", cs.ReviewState)
	}
}

func TestBuildReviewReportEmpty(t *testing.T) {
	run := &domain.Run{ID: "r1", Feature: "f", Languages: []string{"python"}}
	body := BuildReviewReport(run, nil)
	if !strings.Contains(body, "No findings.") {
		t.Errorf("report = %q, want no-findings marker", body)
	}
}
