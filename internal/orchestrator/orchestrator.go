// Package orchestrator drives the council pipeline for each run: planning,
// context gathering, test and code generation, suite execution, bounded
// refinement, review and publication.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aicouncil/council-orchestrator/internal/agents"
	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/harness"
	"github.com/aicouncil/council-orchestrator/internal/notify"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

// Publisher turns a finished run into a reviewable changeset
type Publisher interface {
	Publish(ctx context.Context, run *domain.Run, report *domain.ReviewReport) (*domain.ChangeSet, error)
}

// Event is emitted on every run state change, for dashboards and SSE streams
type Event struct {
	RunID    string            `json:"run_id"`
	Type     string            `json:"type"` // "stage", "result", "finished"
	Stage    domain.Stage      `json:"stage,omitempty"`
	Language string            `json:"language,omitempty"`
	Status   domain.RunStatus  `json:"status,omitempty"`
	Outcome  domain.Outcome    `json:"outcome,omitempty"`
	Attempt  int               `json:"attempt,omitempty"`
	Detail   string            `json:"detail,omitempty"`
}

// Options configures the orchestrator
type Options struct {
	MaxAttempts int
	MaxParallel int
	Languages   []string // languages with a configured toolchain
}

// Orchestrator owns the run queue and executes the pipeline for each run
type Orchestrator struct {
	store     *runstore.Store
	council   *agents.Council
	runner    harness.Runner
	publisher Publisher
	notifier  notify.Notifier
	opts      Options

	queue   chan string
	eventFn func(Event)

	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New creates an orchestrator. publisher and notifier may be nil; runs then
// complete without a changeset or notifications.
func New(store *runstore.Store, council *agents.Council, runner harness.Runner, publisher Publisher, notifier notify.Notifier, opts Options) *Orchestrator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Orchestrator{
		store:     store,
		council:   council,
		runner:    runner,
		publisher: publisher,
		notifier:  notifier,
		opts:      opts,
		queue:     make(chan string, 256),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SetEventFunc registers a callback invoked for every run event. It must be
// set before Start.
func (o *Orchestrator) SetEventFunc(fn func(Event)) {
	o.eventFn = fn
}

// Trigger validates and persists a new run and queues it for execution. It
// returns as soon as the run is durable; progress is observable through the
// store and the event stream.
func (o *Orchestrator) Trigger(feature string, languages []string, branch string, priority domain.Priority) (*domain.Run, error) {
	run := &domain.Run{
		ID:        uuid.NewString(),
		Feature:   strings.TrimSpace(feature),
		Languages: languages,
		Branch:    branch,
		Priority:  priority,
		Status:    domain.RunPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	for _, lang := range languages {
		if !o.knownLanguage(lang) {
			return nil, fmt.Errorf("language %s has no configured toolchain", lang)
		}
	}

	if err := o.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}

	select {
	case o.queue <- run.ID:
	default:
		// Queue is full; the run stays pending and is picked up by the next
		// startup resume or a later drain.
		log.Printf("[orchestrator] queue full, run %s stays pending", run.ID)
	}
	return run, nil
}

// Cancel stops a run. Pending runs are finished immediately; running runs
// stop at the next stage boundary.
func (o *Orchestrator) Cancel(runID string) error {
	o.cancelsMu.Lock()
	cancel, running := o.cancels[runID]
	o.cancelsMu.Unlock()

	if running {
		cancel()
		return nil
	}

	run, err := o.store.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already %s", runID, run.Status)
	}
	if err := o.store.FinishRun(runID, domain.RunCancelled, "", "", "cancelled before start"); err != nil {
		return err
	}
	o.emit(Event{RunID: runID, Type: "finished", Status: domain.RunCancelled})
	return nil
}

// Start resumes pending runs and serves the queue until ctx is cancelled.
// In-flight runs are allowed to reach a stage boundary before Start returns.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.resume(); err != nil {
		return err
	}

	sem := make(chan struct{}, o.opts.MaxParallel)

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return nil
		case runID := <-o.queue:
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				o.wg.Wait()
				return nil
			}
			o.wg.Add(1)
			go func(id string) {
				defer o.wg.Done()
				defer func() { <-sem }()
				o.execute(ctx, id)
			}(runID)
		}
	}
}

// resume requeues runs stranded by a previous process: running runs are
// reset to pending, then every pending run is queued again.
func (o *Orchestrator) resume() error {
	reset, err := o.store.ResetStrandedRuns(time.Now())
	if err != nil {
		return fmt.Errorf("resetting stranded runs: %w", err)
	}
	if reset > 0 {
		log.Printf("[orchestrator] reset %d stranded runs to pending", reset)
	}

	pending, err := o.store.ListRuns(runstore.ListOptions{Status: domain.RunPending})
	if err != nil {
		return fmt.Errorf("listing pending runs: %w", err)
	}
	for _, run := range pending {
		select {
		case o.queue <- run.ID:
		default:
			log.Printf("[orchestrator] queue full during resume, run %s deferred", run.ID)
		}
	}
	if len(pending) > 0 {
		log.Printf("[orchestrator] resumed %d pending runs", len(pending))
	}
	return nil
}

func (o *Orchestrator) knownLanguage(language string) bool {
	for _, l := range o.opts.Languages {
		if l == language {
			return true
		}
	}
	return false
}

func (o *Orchestrator) emit(ev Event) {
	if o.eventFn != nil {
		o.eventFn(ev)
	}
}

func (o *Orchestrator) setStage(runID string, stage domain.Stage) error {
	if err := o.store.UpdateRunStage(runID, stage); err != nil {
		return err
	}
	o.emit(Event{RunID: runID, Type: "stage", Stage: stage})
	return nil
}

// languageFailure captures why one language's loop gave up
type languageFailure struct {
	language string
	stage    domain.Stage
	detail   string
}

// execute runs the full pipeline for one run. Every terminal path goes
// through finishFailed, finishCancelled or the success tail, so the run
// never stays in a non-terminal status.
func (o *Orchestrator) execute(ctx context.Context, runID string) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		log.Printf("[orchestrator] run %s: %v", runID, err)
		return
	}
	if run.Status != domain.RunPending {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.cancelsMu.Lock()
	o.cancels[runID] = cancel
	o.cancelsMu.Unlock()
	defer func() {
		o.cancelsMu.Lock()
		delete(o.cancels, runID)
		o.cancelsMu.Unlock()
	}()

	if err := o.store.MarkRunning(runID); err != nil {
		log.Printf("[orchestrator] run %s: marking running: %v", runID, err)
		return
	}
	log.Printf("[orchestrator] run %s started: %q languages=%v", runID, run.Feature, run.Languages)

	// Planning
	if o.checkCancelled(runCtx, runID) {
		return
	}
	if err := o.setStage(runID, domain.StagePlanning); err != nil {
		o.finishFailed(run, domain.StagePlanning, "", err.Error())
		return
	}
	plan, err := o.council.Planner.BuildPlan(runCtx, run)
	if err != nil {
		o.finishOnStageError(runCtx, run, domain.StagePlanning, "", err)
		return
	}
	if err := o.store.SavePlan(plan); err != nil {
		o.finishFailed(run, domain.StagePlanning, "", err.Error())
		return
	}
	log.Printf("[orchestrator] run %s: plan %s with %d specs", runID, plan.ID, len(plan.Specs))

	// Context gathering never fails the run
	if o.checkCancelled(runCtx, runID) {
		return
	}
	if err := o.setStage(runID, domain.StageGatheringContext); err != nil {
		o.finishFailed(run, domain.StageGatheringContext, "", err.Error())
		return
	}
	bundle := o.council.Gatherer.Gather(runCtx, run, plan)
	if err := o.store.SaveContextBundle(bundle); err != nil {
		log.Printf("[orchestrator] run %s: saving context bundle: %v", runID, err)
	}

	// Test generation, all specs in parallel
	if o.checkCancelled(runCtx, runID) {
		return
	}
	if err := o.setStage(runID, domain.StageGeneratingTests); err != nil {
		o.finishFailed(run, domain.StageGeneratingTests, "", err.Error())
		return
	}
	testsByLang, err := o.generateTests(runCtx, run, plan, bundle)
	if err != nil {
		o.finishOnStageError(runCtx, run, domain.StageGeneratingTests, "", err)
		return
	}

	// Code generation, per language in parallel
	if o.checkCancelled(runCtx, runID) {
		return
	}
	if err := o.setStage(runID, domain.StageGeneratingCode); err != nil {
		o.finishFailed(run, domain.StageGeneratingCode, "", err.Error())
		return
	}
	if err := o.generateCode(runCtx, run, testsByLang, bundle); err != nil {
		o.finishOnStageError(runCtx, run, domain.StageGeneratingCode, "", err)
		return
	}

	// Execute and refine each language independently. A language that
	// exhausts its attempts does not stop the others; the run's verdict is
	// decided once every language has finished.
	if o.checkCancelled(runCtx, runID) {
		return
	}
	if err := o.setStage(runID, domain.StageRunningTests); err != nil {
		o.finishFailed(run, domain.StageRunningTests, "", err.Error())
		return
	}

	var failMu sync.Mutex
	var failures []languageFailure

	var g errgroup.Group
	for _, language := range run.Languages {
		g.Go(func() error {
			if fail := o.runLanguage(runCtx, run, language, bundle); fail != nil {
				failMu.Lock()
				failures = append(failures, *fail)
				failMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if o.checkCancelled(runCtx, runID) {
		return
	}
	if len(failures) > 0 {
		first := failures[0]
		o.finishFailed(run, first.stage, first.language, first.detail)
		return
	}

	// Review never blocks completion
	if err := o.setStage(runID, domain.StageReviewing); err != nil {
		o.finishFailed(run, domain.StageReviewing, "", err.Error())
		return
	}
	finalArtifacts, err := o.store.LatestArtifacts(runID, "")
	if err != nil {
		o.finishFailed(run, domain.StageReviewing, "", err.Error())
		return
	}
	report := o.council.Reviewer.Review(runCtx, run, finalArtifacts)
	if err := o.store.SaveReviewReport(report); err != nil {
		log.Printf("[orchestrator] run %s: saving review report: %v", runID, err)
	}

	// Publishing
	if o.checkCancelled(runCtx, runID) {
		return
	}
	if err := o.setStage(runID, domain.StagePublishing); err != nil {
		o.finishFailed(run, domain.StagePublishing, "", err.Error())
		return
	}
	var ref string
	if o.publisher != nil {
		cs, err := o.publisher.Publish(runCtx, run, report)
		if err != nil {
			o.finishOnStageError(runCtx, run, domain.StagePublishing, "", err)
			return
		}
		ref = cs.Ref
	}

	if err := o.store.FinishRun(runID, domain.RunSucceeded, "", "", ""); err != nil {
		log.Printf("[orchestrator] run %s: finishing: %v", runID, err)
		return
	}
	o.emit(Event{RunID: runID, Type: "finished", Status: domain.RunSucceeded, Detail: ref})
	o.notifier.Send(notify.Notification{
		Title:   "Run succeeded",
		Message: run.Feature,
		Type:    notify.NotifySuccess,
		RunID:   runID,
		Ref:     ref,
	})
	log.Printf("[orchestrator] run %s succeeded (%s)", runID, ref)
}

// generateTests fans out one generator invocation per spec and persists each
// produced artifact. Returns the test artifacts grouped by language.
func (o *Orchestrator) generateTests(ctx context.Context, run *domain.Run, plan *domain.Plan, bundle *domain.ContextBundle) (map[string][]*domain.Artifact, error) {
	var mu sync.Mutex
	byLang := make(map[string][]*domain.Artifact)

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range plan.Specs {
		g.Go(func() error {
			art, err := o.council.Generator.GenerateTests(gctx, run.ID, spec, bundle)
			if err != nil {
				return err
			}
			if err := o.store.AppendArtifact(art); err != nil {
				return fmt.Errorf("persisting test artifact %s: %w", art.Path, err)
			}
			mu.Lock()
			byLang[spec.Language] = append(byLang[spec.Language], art)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return byLang, nil
}

// generateCode fans out one generator invocation per language
func (o *Orchestrator) generateCode(ctx context.Context, run *domain.Run, testsByLang map[string][]*domain.Artifact, bundle *domain.ContextBundle) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, language := range run.Languages {
		g.Go(func() error {
			tests := testsByLang[language]
			artifacts, err := o.council.Generator.GenerateCode(gctx, run.ID, language, tests, bundle)
			if err != nil {
				return fmt.Errorf("language %s: %w", language, err)
			}
			for _, a := range artifacts {
				if err := o.store.AppendArtifact(a); err != nil {
					return fmt.Errorf("persisting code artifact %s: %w", a.Path, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// runLanguage executes the suite/refine loop for one language. It returns
// nil when the suite eventually passes, a languageFailure when the attempt
// budget is exhausted or refinement cannot make progress.
func (o *Orchestrator) runLanguage(ctx context.Context, run *domain.Run, language string, bundle *domain.ContextBundle) *languageFailure {
	for {
		if ctx.Err() != nil {
			return nil // cancellation is handled at the run level
		}

		artifacts, err := o.store.LatestArtifacts(run.ID, language)
		if err != nil {
			return &languageFailure{language: language, stage: domain.StageRunningTests, detail: err.Error()}
		}

		result, err := o.runner.Run(ctx, run.ID, language, artifacts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &languageFailure{language: language, stage: domain.StageRunningTests, detail: err.Error()}
		}
		if err := o.store.RecordTestResult(result); err != nil {
			return &languageFailure{language: language, stage: domain.StageRunningTests, detail: err.Error()}
		}
		o.emit(Event{
			RunID:    run.ID,
			Type:     "result",
			Language: language,
			Outcome:  result.Outcome,
			Attempt:  result.Attempt,
		})
		log.Printf("[orchestrator] run %s %s: attempt %d %s", run.ID, language, result.Attempt, result.Outcome)

		if result.Outcome == domain.OutcomePassed {
			return nil
		}
		if result.Attempt >= o.opts.MaxAttempts {
			return &languageFailure{
				language: language,
				stage:    domain.StageRunningTests,
				detail:   failureDetail(result),
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		if err := o.store.UpdateRunStage(run.ID, domain.StageRefining); err != nil {
			log.Printf("[orchestrator] run %s %s: updating stage: %v", run.ID, language, err)
		}
		o.emit(Event{RunID: run.ID, Type: "stage", Stage: domain.StageRefining, Language: language, Attempt: result.Attempt})
		refined, err := o.council.Refiner.Refine(ctx, language, artifacts, result)
		if err != nil {
			return &languageFailure{
				language: language,
				stage:    domain.StageRefining,
				detail:   fmt.Sprintf("%v (after attempt %d)", err, result.Attempt),
			}
		}
		for _, a := range refined {
			if err := o.store.AppendArtifact(a); err != nil {
				return &languageFailure{language: language, stage: domain.StageRefining, detail: err.Error()}
			}
		}
		if err := o.store.UpdateRunStage(run.ID, domain.StageRunningTests); err != nil {
			log.Printf("[orchestrator] run %s %s: updating stage: %v", run.ID, language, err)
		}
		o.emit(Event{RunID: run.ID, Type: "stage", Stage: domain.StageRunningTests, Language: language})
	}
}

// checkCancelled finishes the run as cancelled when its context is done
func (o *Orchestrator) checkCancelled(ctx context.Context, runID string) bool {
	if ctx.Err() == nil {
		return false
	}
	if err := o.store.FinishRun(runID, domain.RunCancelled, "", "", "cancelled"); err != nil {
		log.Printf("[orchestrator] run %s: marking cancelled: %v", runID, err)
	}
	o.emit(Event{RunID: runID, Type: "finished", Status: domain.RunCancelled})
	log.Printf("[orchestrator] run %s cancelled", runID)
	return true
}

// finishOnStageError distinguishes cancellation from a genuine stage failure
func (o *Orchestrator) finishOnStageError(ctx context.Context, run *domain.Run, stage domain.Stage, language string, err error) {
	if ctx.Err() != nil {
		o.checkCancelled(ctx, run.ID)
		return
	}
	o.finishFailed(run, stage, language, err.Error())
}

func (o *Orchestrator) finishFailed(run *domain.Run, stage domain.Stage, language, detail string) {
	if err := o.store.FinishRun(run.ID, domain.RunFailed, stage, language, detail); err != nil {
		log.Printf("[orchestrator] run %s: marking failed: %v", run.ID, err)
	}
	o.emit(Event{
		RunID:    run.ID,
		Type:     "finished",
		Status:   domain.RunFailed,
		Stage:    stage,
		Language: language,
		Detail:   detail,
	})
	o.notifier.Send(notify.Notification{
		Title:   "Run failed",
		Message: fmt.Sprintf("%s: %s at %s: %s", run.Feature, language, stage, detail),
		Type:    notify.NotifyError,
		RunID:   run.ID,
	})
	log.Printf("[orchestrator] run %s failed at %s (%s): %s", run.ID, stage, language, detail)
}

// failureDetail summarizes a final failing result for the run record
func failureDetail(result *domain.TestResult) string {
	if len(result.Failures) == 0 {
		return fmt.Sprintf("attempt %d: suite %s", result.Attempt, result.Outcome)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "attempt %d: %d failing", result.Attempt, len(result.Failures))
	for i, f := range result.Failures {
		if i >= 5 {
			fmt.Fprintf(&b, "; and %d more", len(result.Failures)-i)
			break
		}
		fmt.Fprintf(&b, "; %s", f.Test)
		if f.Message != "" {
			fmt.Fprintf(&b, ": %s", f.Message)
		}
	}
	return b.String()
}
