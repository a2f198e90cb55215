package execpool

import (
	"context"
	"testing"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/harness"
)

func pythonToolchain(t *testing.T) harness.Toolchain {
	t.Helper()
	tc, err := harness.NewToolchain("python", config.Default().Languages["python"])
	if err != nil {
		t.Fatalf("NewToolchain() error = %v", err)
	}
	return tc
}

func TestToTestResultClassification(t *testing.T) {
	c := &Coordinator{}
	tc := pythonToolchain(t)
	start := time.Now()

	tests := []struct {
		name string
		jr   *JobResult
		want domain.Outcome
	}{
		{"pass", &JobResult{ExitCode: 0}, domain.OutcomePassed},
		{"fail", &JobResult{ExitCode: 1}, domain.OutcomeFailed},
		{"setup broke", &JobResult{ExitCode: 2, SetupFailed: true}, domain.OutcomeError},
		{"worker error", &JobResult{ExitCode: -1}, domain.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.toTestResult("run-1", "python", tc, tt.jr, start)
			if result.Outcome != tt.want {
				t.Errorf("Outcome = %q, want %q", result.Outcome, tt.want)
			}
		})
	}
}

func TestToTestResultExtractsFailures(t *testing.T) {
	c := &Coordinator{}
	tc := pythonToolchain(t)

	jr := &JobResult{
		ExitCode: 1,
		Output:   "FAILED tests/test_x.py::test_a - boom\n1 failed\n",
	}
	result := c.toTestResult("run-1", "python", tc, jr, time.Now())
	if len(result.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(result.Failures))
	}
	if result.Failures[0].Test != "tests/test_x.py::test_a" {
		t.Errorf("Test = %q", result.Failures[0].Test)
	}
}

func TestCoordinatorRejectsBadArtifactPath(t *testing.T) {
	c, err := NewCoordinator(CoordinatorConfig{ListenAddr: ":0"}, config.Default().Languages, nil)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	_, err = c.Run(context.Background(), "run-1", "python", []*domain.Artifact{
		{Path: "../escape.py", Content: "x"},
	})
	if err == nil {
		t.Fatal("Run() accepted escaping artifact path")
	}
}
