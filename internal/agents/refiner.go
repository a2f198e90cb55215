package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/gateway"
	"github.com/aicouncil/council-orchestrator/internal/prompts"
)

// Refiner produces new versions of a language's artifacts after a failing
// test run. A refinement that leaves every file byte-identical is reported as
// a refinement StageFailure: repeating the same input would loop forever.
type Refiner struct {
	gw           Invoker
	prompts      *prompts.Loader
	parseRetries int
}

// Refine invokes the refiner role with the current artifacts and the failing result
func (r *Refiner) Refine(ctx context.Context, language string, current []*domain.Artifact, result *domain.TestResult) ([]*domain.Artifact, error) {
	var failures strings.Builder
	for _, f := range result.Failures {
		fmt.Fprintf(&failures, "- %s: %s\n", f.Test, f.Message)
	}
	if failures.Len() == 0 {
		failures.WriteString(tail(result.Output, 2000))
	}

	prompt, err := r.prompts.BuildRefinePrompt(prompts.RefineData{
		Language:  language,
		Outcome:   string(result.Outcome),
		Failures:  failures.String(),
		Artifacts: formatArtifacts(current),
	})
	if err != nil {
		return nil, &StageFailure{Kind: FailureRefinement, Err: err}
	}

	existing := make(map[string]string, len(current))
	for _, a := range current {
		existing[a.Path] = a.Content
	}

	var lastErr error
	for i := 0; i <= r.parseRetries; i++ {
		var out filesOut
		if _, err := r.gw.Invoke(ctx, gateway.RoleRefiner, prompt, &out); err != nil {
			if !malformed(err) {
				return nil, &StageFailure{Kind: FailureRefinement, Err: err}
			}
			lastErr = err
			continue
		}

		artifacts, err := collectFiles(out.Files, result.RunID, language, domain.StageRefine, nil)
		if err != nil {
			lastErr = err
			continue
		}

		if !progressed(artifacts, existing) {
			return nil, &StageFailure{
				Kind: FailureRefinement,
				Err:  fmt.Errorf("refinement produced no change for language %s", language),
			}
		}
		return artifacts, nil
	}
	return nil, &StageFailure{Kind: FailureRefinement, Err: lastErr}
}

// progressed reports whether at least one file differs from its prior content
func progressed(artifacts []*domain.Artifact, existing map[string]string) bool {
	for _, a := range artifacts {
		prior, ok := existing[a.Path]
		if !ok || prior != a.Content {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
