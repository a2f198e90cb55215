// Package agents wraps each council role (planner, context-gatherer,
// generator, refiner, reviewer) as one model-gateway interaction with a
// defined input/output contract.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/gateway"
	"github.com/aicouncil/council-orchestrator/internal/prompts"
)

// Invoker is the slice of the gateway client the agents need
type Invoker interface {
	Invoke(ctx context.Context, role gateway.Role, prompt string, schemaHint interface{}) (*gateway.Response, error)
}

// Council bundles all role agents sharing one gateway and prompt loader
type Council struct {
	Planner   *Planner
	Gatherer  *Gatherer
	Generator *Generator
	Refiner   *Refiner
	Reviewer  *Reviewer
}

// NewCouncil creates the full set of role agents. parseRetries is how many
// times a malformed (schema-failing) response is re-requested before the
// stage fails permanently.
func NewCouncil(gw Invoker, loader *prompts.Loader, parseRetries int) *Council {
	if parseRetries < 0 {
		parseRetries = 0
	}
	return &Council{
		Planner:   &Planner{gw: gw, prompts: loader, parseRetries: parseRetries},
		Gatherer:  &Gatherer{gw: gw, prompts: loader},
		Generator: &Generator{gw: gw, prompts: loader, parseRetries: parseRetries},
		Refiner:   &Refiner{gw: gw, prompts: loader, parseRetries: parseRetries},
		Reviewer:  &Reviewer{gw: gw, prompts: loader, parseRetries: parseRetries},
	}
}

// malformed reports whether err is a schema-parse failure, the one gateway
// failure agents re-request instead of propagating
func malformed(err error) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr) && gwErr.Kind == gateway.KindMalformedResponse
}

// formatArtifacts renders artifacts as fenced blocks for inclusion in prompts
func formatArtifacts(artifacts []*domain.Artifact) string {
	var b strings.Builder
	for _, a := range artifacts {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", a.Path, a.Content)
	}
	return b.String()
}

// formatContext renders the context entries relevant to one spec
func formatContext(bundle *domain.ContextBundle, specID string) string {
	entries := bundle.ForSpec(specID)
	if len(entries) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s\n", e.Source, e.Snippet)
	}
	return b.String()
}

// fileOut is the shared generator/refiner output schema element
type fileOut struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
