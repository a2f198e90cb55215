package domain

// RunStatus represents the terminal-or-not lifecycle state of a run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal returns true if the status is final
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// Stage represents the pipeline state machine position of a run
type Stage string

const (
	StagePlanning         Stage = "planning"
	StageGatheringContext Stage = "gathering_context"
	StageGeneratingTests  Stage = "generating_tests"
	StageGeneratingCode   Stage = "generating_code"
	StageRunningTests     Stage = "running_tests"
	StageRefining         Stage = "refining"
	StageReviewing        Stage = "reviewing"
	StagePublishing       Stage = "publishing"
	StageSucceeded        Stage = "succeeded"
	StageFailed           Stage = "failed"
	StageCancelled        Stage = "cancelled"
)

// ArtifactStage identifies which pipeline stage produced an artifact
type ArtifactStage string

const (
	StageTests  ArtifactStage = "tests"
	StageCode   ArtifactStage = "code"
	StageRefine ArtifactStage = "refine"
	StageReview ArtifactStage = "review"
)

// Outcome represents the result of one test suite execution
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
	OutcomeError  Outcome = "error"
)

// ReviewState represents the human-review state of a change-set
type ReviewState string

const (
	ReviewUnreviewed ReviewState = "unreviewed"
	ReviewApproved   ReviewState = "approved"
)

// Priority represents run priority for queue ordering
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = ""
	PriorityLow    Priority = "low"
)
