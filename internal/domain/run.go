package domain

import (
	"fmt"
	"time"
)

// Run represents one end-to-end pipeline invocation for a feature request
type Run struct {
	ID        string
	Feature   string
	Languages []string
	Branch    string
	Priority  Priority
	Status    RunStatus
	Stage     Stage
	// On failure these identify what a human needs to look at
	FailureStage    Stage
	FailureLanguage string
	FailureDetail   string
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// Validate checks the trigger contract: non-empty feature, non-empty language set
func (r *Run) Validate() error {
	if r.Feature == "" {
		return fmt.Errorf("feature description is required")
	}
	if len(r.Languages) == 0 {
		return fmt.Errorf("at least one target language is required")
	}
	seen := make(map[string]bool, len(r.Languages))
	for _, lang := range r.Languages {
		if lang == "" {
			return fmt.Errorf("empty language tag")
		}
		if seen[lang] {
			return fmt.Errorf("duplicate language %q", lang)
		}
		seen[lang] = true
	}
	return nil
}

// HasLanguage returns true if lang is in the run's target set
func (r *Run) HasLanguage(lang string) bool {
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// LanguageState summarizes one language's progress within a run
type LanguageState struct {
	Language  string
	Attempts  int
	Outcome   Outcome // outcome of the latest attempt, "" if none yet
	Exhausted bool    // retry budget used up without a pass
}

// Passed returns true if the latest attempt passed
func (s LanguageState) Passed() bool {
	return s.Outcome == OutcomePassed
}
