package harness

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/domain"
)

// maxOutputTail bounds how much combined output is kept per execution.
const maxOutputTail = 8000

// Runner executes one language's test suite against a set of artifacts.
// The local harness and the worker pool coordinator both satisfy it.
type Runner interface {
	Run(ctx context.Context, runID, language string, artifacts []*domain.Artifact) (*domain.TestResult, error)
}

// Local runs test suites in temp directories on the orchestrator host
type Local struct {
	toolchains map[string]Toolchain
	baseDir    string
	debug      bool
}

// NewLocal builds a local harness from the language section of the config
func NewLocal(languages map[string]config.LanguageConfig, debug bool) (*Local, error) {
	toolchains, err := Toolchains(languages)
	if err != nil {
		return nil, err
	}
	return &Local{toolchains: toolchains, debug: debug}, nil
}

// Run materializes the artifacts into a fresh workspace, runs the language's
// setup and test commands, and classifies the outcome. The workspace is
// removed afterwards regardless of outcome. The returned result carries no
// attempt number; the store assigns it on insert.
func (l *Local) Run(ctx context.Context, runID, language string, artifacts []*domain.Artifact) (*domain.TestResult, error) {
	tc, ok := l.toolchains[language]
	if !ok {
		return nil, fmt.Errorf("no toolchain configured for language %s", language)
	}

	dir, err := os.MkdirTemp(l.baseDir, fmt.Sprintf("council-%s-%s-", shortID(runID), language))
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := Materialize(dir, artifacts); err != nil {
		return nil, fmt.Errorf("materializing artifacts: %w", err)
	}

	start := time.Now()
	result := &domain.TestResult{
		RunID:     runID,
		Language:  language,
		CreatedAt: start,
	}

	runCtx, cancel := context.WithTimeout(ctx, tc.Timeout)
	defer cancel()

	if tc.SetupCommand != "" {
		if l.debug {
			log.Printf("[harness] run %s %s: setup: %s", runID, language, tc.SetupCommand)
		}
		exitCode, output, err := runCommand(runCtx, dir, tc.SetupCommand)
		if err != nil || exitCode != 0 {
			// A broken environment is not a test failure. It does not
			// consume the refinement budget the same way.
			result.Outcome = domain.OutcomeError
			result.Output = tail("setup failed:\n"+output, maxOutputTail)
			result.Duration = time.Since(start)
			if runCtx.Err() != nil {
				result.Output = tail(fmt.Sprintf("setup timed out after %s:\n%s", tc.Timeout, output), maxOutputTail)
			}
			return result, nil
		}
	}

	if l.debug {
		log.Printf("[harness] run %s %s: test: %s", runID, language, tc.TestCommand)
	}
	exitCode, output, err := runCommand(runCtx, dir, tc.TestCommand)
	result.Duration = time.Since(start)
	result.Output = tail(output, maxOutputTail)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Outcome = domain.OutcomeError
		result.Output = tail(fmt.Sprintf("test run timed out after %s:\n%s", tc.Timeout, output), maxOutputTail)
	case err != nil:
		result.Outcome = domain.OutcomeError
		result.Output = tail(fmt.Sprintf("%v\n%s", err, output), maxOutputTail)
	case exitCode == 0:
		result.Outcome = domain.OutcomePassed
	default:
		result.Outcome = domain.OutcomeFailed
		result.Failures = tc.ParseFailures(output)
	}

	if l.debug {
		log.Printf("[harness] run %s %s: %s in %.1fs", runID, language, result.Outcome, result.Duration.Seconds())
	}
	return result, nil
}

// Materialize writes artifacts into dir, creating parent directories as
// needed. Paths are validated again here so a stored artifact can never
// escape the workspace.
func Materialize(dir string, artifacts []*domain.Artifact) error {
	for _, a := range artifacts {
		if !domain.ValidPath(a.Path) {
			return fmt.Errorf("artifact path %q escapes workspace", a.Path)
		}
		dest := filepath.Join(dir, filepath.FromSlash(a.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, []byte(a.Content), 0644); err != nil {
			return err
		}
	}
	return nil
}

// runCommand runs a shell command in dir with combined output capture.
// A nonzero exit is reported through exitCode, not err.
func runCommand(ctx context.Context, dir, command string) (int, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var buf strings.Builder
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), buf.String(), nil
		}
		return 0, buf.String(), err
	}
	return 0, buf.String(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
