package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/gateway"
	"github.com/aicouncil/council-orchestrator/internal/prompts"
)

// Generator produces test artifacts from specifications and code artifacts
// from tests. Both directions fail with a generation StageFailure when the
// model cannot produce validly-pathed files after the configured retries.
type Generator struct {
	gw           Invoker
	prompts      *prompts.Loader
	parseRetries int
}

type testOut struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type filesOut struct {
	Files []fileOut `json:"files"`
}

// GenerateTests produces one test artifact for a single specification
func (g *Generator) GenerateTests(ctx context.Context, runID string, spec domain.TestSpec, bundle *domain.ContextBundle) (*domain.Artifact, error) {
	prompt, err := g.prompts.BuildTestGenPrompt(prompts.GenerateTestsData{
		Language:    spec.Language,
		Description: spec.Description,
		Context:     formatContext(bundle, spec.ID),
	})
	if err != nil {
		return nil, &StageFailure{Kind: FailureGeneration, Err: err}
	}

	var lastErr error
	for i := 0; i <= g.parseRetries; i++ {
		var out testOut
		if _, err := g.gw.Invoke(ctx, gateway.RoleGenerator, prompt, &out); err != nil {
			if !malformed(err) {
				return nil, &StageFailure{Kind: FailureGeneration, Err: err}
			}
			lastErr = err
			continue
		}
		if !domain.ValidPath(out.Path) || out.Content == "" {
			lastErr = fmt.Errorf("spec %s: no valid logical path in output (got %q)", spec.ID, out.Path)
			continue
		}
		return &domain.Artifact{
			RunID:     runID,
			Path:      out.Path,
			Language:  spec.Language,
			Stage:     domain.StageTests,
			Content:   out.Content,
			CreatedAt: time.Now(),
		}, nil
	}
	return nil, &StageFailure{Kind: FailureGeneration, Err: lastErr}
}

// GenerateCode produces the code artifacts that make a language's tests pass
func (g *Generator) GenerateCode(ctx context.Context, runID, language string, tests []*domain.Artifact, bundle *domain.ContextBundle) ([]*domain.Artifact, error) {
	prompt, err := g.prompts.BuildCodeGenPrompt(prompts.GenerateCodeData{
		Language: language,
		Tests:    formatArtifacts(tests),
		Context:  formatContext(bundle, ""),
	})
	if err != nil {
		return nil, &StageFailure{Kind: FailureGeneration, Err: err}
	}

	testPaths := make(map[string]bool, len(tests))
	for _, t := range tests {
		testPaths[t.Path] = true
	}

	var lastErr error
	for i := 0; i <= g.parseRetries; i++ {
		var out filesOut
		if _, err := g.gw.Invoke(ctx, gateway.RoleGenerator, prompt, &out); err != nil {
			if !malformed(err) {
				return nil, &StageFailure{Kind: FailureGeneration, Err: err}
			}
			lastErr = err
			continue
		}

		artifacts, err := collectFiles(out.Files, runID, language, domain.StageCode, testPaths)
		if err != nil {
			lastErr = err
			continue
		}
		return artifacts, nil
	}
	return nil, &StageFailure{Kind: FailureGeneration, Err: lastErr}
}

// collectFiles validates generator/refiner file output. Test files may not be
// rewritten by the code generator, so paths colliding with them are rejected.
func collectFiles(files []fileOut, runID, language string, stage domain.ArtifactStage, forbidden map[string]bool) ([]*domain.Artifact, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files in output")
	}

	var artifacts []*domain.Artifact
	for _, f := range files {
		if !domain.ValidPath(f.Path) {
			return nil, fmt.Errorf("invalid logical path %q in output", f.Path)
		}
		if forbidden[f.Path] {
			return nil, fmt.Errorf("output rewrites protected file %q", f.Path)
		}
		artifacts = append(artifacts, &domain.Artifact{
			RunID:     runID,
			Path:      f.Path,
			Language:  language,
			Stage:     stage,
			Content:   f.Content,
			CreatedAt: time.Now(),
		})
	}
	return artifacts, nil
}
