package domain

import "time"

// TestFailure is one structured failure from a test suite execution
type TestFailure struct {
	Test    string `json:"test"`
	Message string `json:"message"`
}

// TestResult records one execution of a language's suite within a run.
// Outcome error means the environment broke before assertions could run,
// which is distinct from failed and may warrant different remediation.
type TestResult struct {
	RunID     string
	Language  string
	Attempt   int // 1-based, strictly increasing per (run, language)
	Outcome   Outcome
	Failures  []TestFailure
	Output    string // tail of combined stdout/stderr for diagnosis
	Duration  time.Duration
	CreatedAt time.Time
}

// Finding is one review comment
type Finding struct {
	Severity string `json:"severity"`
	File     string `json:"file"`
	Message  string `json:"message"`
}

// ReviewReport is produced once per run when all languages pass.
// An empty report is valid; review never blocks completion.
type ReviewReport struct {
	RunID     string
	Findings  []Finding
	CreatedAt time.Time
}

// ChangeSet is the reviewable bundle emitted by the publisher. Publishing is
// keyed by run ID, so re-publishing the same run returns the same reference.
type ChangeSet struct {
	RunID       string
	Ref         string // branch or PR reference
	ReviewState ReviewState
	PublishedAt time.Time
}
