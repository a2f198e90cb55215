package domain

import (
	"fmt"
	"time"
)

// TestSpec is one planned test: a language plus a natural-language description
type TestSpec struct {
	ID          string `json:"id"`
	Language    string `json:"language"`
	Description string `json:"description"`
}

// Plan is the Planner's breakdown of a feature into test specifications.
// Immutable after creation; a failed run produces a new run, never a plan edit.
type Plan struct {
	ID        string
	RunID     string
	Specs     []TestSpec
	CreatedAt time.Time
}

// Validate checks that every spec targets a language from the run's set
func (p *Plan) Validate(run *Run) error {
	if len(p.Specs) == 0 {
		return fmt.Errorf("plan has no test specifications")
	}
	for _, spec := range p.Specs {
		if spec.Description == "" {
			return fmt.Errorf("spec %s: empty description", spec.ID)
		}
		if !run.HasLanguage(spec.Language) {
			return fmt.Errorf("spec %s: language %q not in run's target set", spec.ID, spec.Language)
		}
	}
	return nil
}

// SpecsForLanguage returns the plan's specs targeting lang
func (p *Plan) SpecsForLanguage(lang string) []TestSpec {
	var specs []TestSpec
	for _, s := range p.Specs {
		if s.Language == lang {
			specs = append(specs, s)
		}
	}
	return specs
}

// ContextEntry is one piece of reference material tied to a test spec
type ContextEntry struct {
	SpecID  string
	Source  string
	Snippet string
}

// ContextBundle is the ContextGatherer's output, 1:1 with a plan.
// May be empty; context is an optimization, not a correctness requirement.
type ContextBundle struct {
	PlanID  string
	Entries []ContextEntry
}

// ForSpec returns the entries relevant to one spec
func (b *ContextBundle) ForSpec(specID string) []ContextEntry {
	if b == nil {
		return nil
	}
	var entries []ContextEntry
	for _, e := range b.Entries {
		if e.SpecID == specID || e.SpecID == "" {
			entries = append(entries, e)
		}
	}
	return entries
}
