package agents

import (
	"context"
	"log"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/gateway"
	"github.com/aicouncil/council-orchestrator/internal/prompts"
)

// Reviewer inspects the final artifacts of a run and produces advisory
// findings. Review never blocks a run: any failure yields an empty report.
type Reviewer struct {
	gw           Invoker
	prompts      *prompts.Loader
	parseRetries int
}

type reviewOut struct {
	Findings []struct {
		Severity string `json:"severity"`
		File     string `json:"file"`
		Message  string `json:"message"`
	} `json:"findings"`
}

// Review asks the reviewer role for findings over the final artifacts.
func (r *Reviewer) Review(ctx context.Context, run *domain.Run, artifacts []*domain.Artifact) *domain.ReviewReport {
	report := &domain.ReviewReport{
		RunID:     run.ID,
		CreatedAt: time.Now().UTC(),
	}

	prompt, err := r.prompts.BuildReviewPrompt(prompts.ReviewData{
		Feature:   run.Feature,
		Artifacts: formatArtifacts(artifacts),
	})
	if err != nil {
		log.Printf("[reviewer] warning: building prompt for run %s: %v", run.ID, err)
		return report
	}

	var out reviewOut
	for i := 0; i <= r.parseRetries; i++ {
		_, err = r.gw.Invoke(ctx, gateway.RoleReviewer, prompt, &out)
		if err == nil {
			break
		}
		if !malformed(err) {
			break
		}
	}
	if err != nil {
		log.Printf("[reviewer] warning: review failed for run %s, publishing without findings: %v", run.ID, err)
		return report
	}

	for _, f := range out.Findings {
		report.Findings = append(report.Findings, domain.Finding{
			Severity: f.Severity,
			File:     f.File,
			Message:  f.Message,
		})
	}
	return report
}
