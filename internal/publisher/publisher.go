// Package publisher turns a succeeded run into a reviewable git changeset:
// a branch in the publish repo carrying the final artifacts and the review
// report, optionally opened as a PR via the gh CLI.
package publisher

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

const reportPath = ".council/review.md"

// Publisher writes changesets to a git repository
type Publisher struct {
	store    *runstore.Store
	repoDir  string
	remote   string
	createPR bool
}

// New creates a publisher for the configured publish repo
func New(store *runstore.Store, cfg config.PublishConfig) *Publisher {
	return &Publisher{
		store:    store,
		repoDir:  cfg.RepoDir,
		remote:   cfg.Remote,
		createPR: cfg.CreatePR,
	}
}

// Publish commits the run's final artifacts and review report to a branch.
// Publishing is idempotent per run: a second call returns the recorded
// changeset without touching the repository again.
func (p *Publisher) Publish(ctx context.Context, run *domain.Run, report *domain.ReviewReport) (*domain.ChangeSet, error) {
	if existing, err := p.store.GetChangeSet(run.ID); err != nil {
		return nil, err
	} else if existing != nil {
		log.Printf("[publisher] run %s already published as %s", run.ID, existing.Ref)
		return existing, nil
	}

	if p.repoDir == "" {
		return nil, fmt.Errorf("publish repo_dir is not configured")
	}

	branch := run.Branch
	if branch == "" {
		branch = "council/run-" + shortID(run.ID)
	}

	artifacts, err := p.store.LatestArtifacts(run.ID, "")
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("run %s has no artifacts to publish", run.ID)
	}

	if err := p.git(ctx, "checkout", "-B", branch); err != nil {
		return nil, err
	}

	for _, a := range artifacts {
		if err := p.writeFile(a.Path, a.Content); err != nil {
			return nil, err
		}
	}
	if err := p.writeFile(reportPath, BuildReviewReport(run, report)); err != nil {
		return nil, err
	}

	if err := p.git(ctx, "add", "-A"); err != nil {
		return nil, err
	}
	if err := p.git(ctx, "commit", "-m", commitMessage(run), "--no-verify"); err != nil {
		return nil, err
	}

	ref := branch
	if p.createPR {
		url, err := p.openPR(ctx, run, report, branch)
		if err != nil {
			return nil, err
		}
		ref = url
	}

	cs := &domain.ChangeSet{
		RunID:       run.ID,
		Ref:         ref,
		ReviewState: domain.ReviewUnreviewed,
	}
	if err := p.store.SaveChangeSet(cs); err != nil {
		return nil, fmt.Errorf("recording changeset: %w", err)
	}
	// A concurrent publish may have won the insert; the stored row is the
	// authoritative one either way.
	stored, err := p.store.GetChangeSet(run.ID)
	if err != nil {
		return nil, err
	}
	log.Printf("[publisher] run %s published as %s", run.ID, stored.Ref)
	return stored, nil
}

// Approve flips a published changeset to approved. Changesets are never
// merged automatically; this is the explicit human signal.
func (p *Publisher) Approve(runID string) error {
	return p.store.ApproveChangeSet(runID)
}

func (p *Publisher) openPR(ctx context.Context, run *domain.Run, report *domain.ReviewReport, branch string) (string, error) {
	remote := p.remote
	if remote == "" {
		remote = "origin"
	}
	if err := p.git(ctx, "push", "-u", remote, branch); err != nil {
		return "", err
	}

	title := "feat: " + truncate(run.Feature, 60)
	cmd := exec.CommandContext(ctx, "gh", "pr", "create",
		"--title", title,
		"--body", BuildReviewReport(run, report),
		"--head", branch,
	)
	cmd.Dir = p.repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("gh pr create: %s: %w", out, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *Publisher) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %s: %s: %w", args[0], out, err)
	}
	return nil
}

func (p *Publisher) writeFile(path, content string) error {
	if !domain.ValidPath(path) {
		return fmt.Errorf("artifact path %q escapes publish repo", path)
	}
	dest := filepath.Join(p.repoDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(content), 0644)
}

// BuildReviewReport renders the review findings as the markdown document
// committed alongside the artifacts and used as the PR body.
func BuildReviewReport(run *domain.Run, report *domain.ReviewReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Council review for run %s\n\n", run.ID)
	fmt.Fprintf(&b, "Feature: %s\n\n", run.Feature)
	fmt.Fprintf(&b, "Languages: %s\n\n", strings.Join(run.Languages, ", "))

	if report == nil || len(report.Findings) == 0 {
		b.WriteString("No findings.\n")
		return b.String()
	}

	b.WriteString("## Findings\n\n")
	for _, f := range report.Findings {
		fmt.Fprintf(&b, "- **%s**", f.Severity)
		if f.File != "" {
			fmt.Fprintf(&b, " `%s`", f.File)
		}
		fmt.Fprintf(&b, ": %s\n", f.Message)
	}
	return b.String()
}

func commitMessage(run *domain.Run) string {
	return fmt.Sprintf("feat: %s\n\nGenerated by AI council run %s for languages %s.",
		truncate(run.Feature, 60), run.ID, strings.Join(run.Languages, ", "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
