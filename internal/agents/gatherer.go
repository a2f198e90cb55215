package agents

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/gateway"
	"github.com/aicouncil/council-orchestrator/internal/prompts"
)

// Gatherer collects reference material for a plan. Context is an
// optimization, not a correctness requirement: the gatherer never fails the
// run, it degrades to an empty bundle with a logged warning.
type Gatherer struct {
	gw      Invoker
	prompts *prompts.Loader
}

type contextOut struct {
	Entries []struct {
		SpecID  string `json:"spec_id"`
		Source  string `json:"source"`
		Snippet string `json:"snippet"`
	} `json:"entries"`
}

// Gather invokes the context role for a plan
func (g *Gatherer) Gather(ctx context.Context, run *domain.Run, plan *domain.Plan) *domain.ContextBundle {
	bundle := &domain.ContextBundle{PlanID: plan.ID}

	var specs strings.Builder
	for _, s := range plan.Specs {
		fmt.Fprintf(&specs, "- [%s] (%s) %s\n", s.ID, s.Language, s.Description)
	}

	prompt, err := g.prompts.BuildContextPrompt(prompts.ContextData{
		Feature: run.Feature,
		Specs:   specs.String(),
	})
	if err != nil {
		log.Printf("[gatherer] run %s: prompt build failed, continuing without context: %v", run.ID, err)
		return bundle
	}

	var out contextOut
	if _, err := g.gw.Invoke(ctx, gateway.RoleContext, prompt, &out); err != nil {
		log.Printf("[gatherer] run %s: context gathering failed, continuing without context: %v", run.ID, err)
		return bundle
	}

	for _, e := range out.Entries {
		bundle.Entries = append(bundle.Entries, domain.ContextEntry{
			SpecID:  e.SpecID,
			Source:  e.Source,
			Snippet: e.Snippet,
		})
	}
	return bundle
}
