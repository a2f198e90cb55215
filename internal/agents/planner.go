package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/gateway"
	"github.com/aicouncil/council-orchestrator/internal/prompts"
)

// Planner turns a feature request into a plan of per-language test specifications
type Planner struct {
	gw           Invoker
	prompts      *prompts.Loader
	parseRetries int
}

type planOut struct {
	Specs []domain.TestSpec `json:"specs"`
}

// BuildPlan invokes the planner role and validates its output against the
// run's language set. Fails with a planning StageFailure when no valid plan
// can be parsed after the configured retries.
func (p *Planner) BuildPlan(ctx context.Context, run *domain.Run) (*domain.Plan, error) {
	prompt, err := p.prompts.BuildPlannerPrompt(prompts.PlannerData{
		Feature:   run.Feature,
		Languages: strings.Join(run.Languages, ", "),
	})
	if err != nil {
		return nil, &StageFailure{Kind: FailurePlanning, Err: err}
	}

	var lastErr error
	for i := 0; i <= p.parseRetries; i++ {
		var out planOut
		if _, err := p.gw.Invoke(ctx, gateway.RolePlanner, prompt, &out); err != nil {
			if !malformed(err) {
				return nil, &StageFailure{Kind: FailurePlanning, Err: err}
			}
			lastErr = err
			continue
		}

		plan := &domain.Plan{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			Specs:     out.Specs,
			CreatedAt: time.Now(),
		}
		for j := range plan.Specs {
			if plan.Specs[j].ID == "" {
				plan.Specs[j].ID = fmt.Sprintf("t%d", j+1)
			}
		}
		// An out-of-contract plan is treated like malformed output: ask again
		if err := plan.Validate(run); err != nil {
			lastErr = err
			continue
		}
		return plan, nil
	}

	return nil, &StageFailure{Kind: FailurePlanning, Err: lastErr}
}
