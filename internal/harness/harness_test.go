package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/domain"
)

func shellToolchains(t *testing.T, cfg config.LanguageConfig) *Local {
	t.Helper()
	local, err := NewLocal(map[string]config.LanguageConfig{"shell": cfg}, false)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	local.baseDir = t.TempDir()
	return local
}

func TestRunPassed(t *testing.T) {
	local := shellToolchains(t, config.LanguageConfig{
		TestCommand: "sh check.sh",
		TimeoutSecs: 30,
	})

	artifacts := []*domain.Artifact{
		{RunID: "run-1", Path: "check.sh", Content: "grep -q hello data.txt\n"},
		{RunID: "run-1", Path: "data.txt", Content: "hello world\n"},
	}
	result, err := local.Run(context.Background(), "run-1", "shell", artifacts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != domain.OutcomePassed {
		t.Errorf("Outcome = %q, want passed (output: %s)", result.Outcome, result.Output)
	}
	if result.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", result.Duration)
	}
}

func TestRunFailedExtractsFailures(t *testing.T) {
	local := shellToolchains(t, config.LanguageConfig{
		TestCommand:    "sh check.sh",
		FailurePattern: `^FAIL: (\S+) - (.*)$`,
		TimeoutSecs:    30,
	})

	artifacts := []*domain.Artifact{
		{RunID: "run-1", Path: "check.sh", Content: "echo 'FAIL: test_shorten - expected abc123'; exit 1\n"},
	}
	result, err := local.Run(context.Background(), "run-1", "shell", artifacts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != domain.OutcomeFailed {
		t.Fatalf("Outcome = %q, want failed", result.Outcome)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("got %d failures, want 1 (output: %s)", len(result.Failures), result.Output)
	}
	if result.Failures[0].Test != "test_shorten" {
		t.Errorf("Test = %q, want test_shorten", result.Failures[0].Test)
	}
	if result.Failures[0].Message != "expected abc123" {
		t.Errorf("Message = %q, want %q", result.Failures[0].Message, "expected abc123")
	}
}

func TestRunSetupCrashIsError(t *testing.T) {
	local := shellToolchains(t, config.LanguageConfig{
		SetupCommand: "echo 'no such package' >&2; exit 2",
		TestCommand:  "true",
		TimeoutSecs:  30,
	})

	result, err := local.Run(context.Background(), "run-1", "shell", []*domain.Artifact{
		{RunID: "run-1", Path: "noop.txt", Content: "x"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != domain.OutcomeError {
		t.Errorf("Outcome = %q, want error", result.Outcome)
	}
	if !strings.Contains(result.Output, "no such package") {
		t.Errorf("Output = %q, want setup diagnostics", result.Output)
	}
}

func TestRunTimeoutIsError(t *testing.T) {
	local := shellToolchains(t, config.LanguageConfig{
		TestCommand: "sleep 5",
		TimeoutSecs: 1,
	})

	start := time.Now()
	result, err := local.Run(context.Background(), "run-1", "shell", []*domain.Artifact{
		{RunID: "run-1", Path: "noop.txt", Content: "x"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != domain.OutcomeError {
		t.Errorf("Outcome = %q, want error", result.Outcome)
	}
	if !strings.Contains(result.Output, "timed out") {
		t.Errorf("Output = %q, want timeout diagnostics", result.Output)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("run took %v, timeout was not enforced", elapsed)
	}
}

func TestRunUnknownLanguage(t *testing.T) {
	local := shellToolchains(t, config.LanguageConfig{TestCommand: "true"})
	if _, err := local.Run(context.Background(), "run-1", "cobol", nil); err == nil {
		t.Fatal("Run() with unknown language succeeded, want error")
	}
}

func TestMaterializeNestedPaths(t *testing.T) {
	dir := t.TempDir()
	err := Materialize(dir, []*domain.Artifact{
		{Path: "src/app/main.py", Content: "print('hi')"},
		{Path: "tests/test_main.py", Content: "import app"},
	})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "src", "app", "main.py"))
	if err != nil {
		t.Fatalf("reading materialized file: %v", err)
	}
	if string(data) != "print('hi')" {
		t.Errorf("content = %q", data)
	}
}

func TestMaterializeRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	err := Materialize(dir, []*domain.Artifact{{Path: "../evil.sh", Content: "rm -rf"}})
	if err == nil {
		t.Fatal("Materialize() accepted escaping path")
	}
}

func TestToolchainValidation(t *testing.T) {
	if _, err := NewToolchain("x", config.LanguageConfig{}); err == nil {
		t.Error("NewToolchain() accepted empty test_command")
	}
	if _, err := NewToolchain("x", config.LanguageConfig{TestCommand: "true", FailurePattern: "("}); err == nil {
		t.Error("NewToolchain() accepted invalid failure_pattern")
	}
}

func TestParseFailuresPytestPattern(t *testing.T) {
	tc, err := NewToolchain("python", config.Default().Languages["python"])
	if err != nil {
		t.Fatalf("NewToolchain() error = %v", err)
	}
	output := strings.Join([]string{
		"....F",
		"FAILED tests/test_shorten.py::test_roundtrip - AssertionError: wrong code",
		"FAILED tests/test_shorten.py::test_reject",
		"2 failed, 3 passed",
	}, "\n")

	failures := tc.ParseFailures(output)
	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(failures))
	}
	if failures[0].Test != "tests/test_shorten.py::test_roundtrip" {
		t.Errorf("Test = %q", failures[0].Test)
	}
	if failures[0].Message != "AssertionError: wrong code" {
		t.Errorf("Message = %q", failures[0].Message)
	}
	if failures[1].Message != "" {
		t.Errorf("Failures[1].Message = %q, want empty", failures[1].Message)
	}
}
