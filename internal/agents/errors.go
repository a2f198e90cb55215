package agents

import (
	"errors"
	"fmt"
)

// FailureKind classifies a permanent stage failure
type FailureKind string

const (
	FailurePlanning   FailureKind = "planning_failed"
	FailureGeneration FailureKind = "generation_failed"
	FailureRefinement FailureKind = "refinement_failed"
)

// StageFailure is a permanent failure of one pipeline stage. Planning and
// generation failures abort the run; refinement failures only consume the
// language's retry budget.
type StageFailure struct {
	Kind FailureKind
	Err  error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// IsFailure reports whether err is a StageFailure of the given kind
func IsFailure(err error, kind FailureKind) bool {
	var sf *StageFailure
	return errors.As(err, &sf) && sf.Kind == kind
}
