// Package runstore provides SQLite-backed persistence for runs and everything
// a run produces: plans, context, versioned artifacts, test results, review
// reports and change-sets. Everything is retrievable by run ID so a restarted
// process can pick up where it left off.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// database/sql hands each concurrent caller its own connection. SQLite
	// allows only one writer, so a single shared connection serializes the
	// orchestrator's parallel appends. It also keeps every caller on the same
	// database when dbPath is ":memory:".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run
func (s *Store) CreateRun(run *domain.Run) error {
	langsJSON, err := json.Marshal(run.Languages)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, feature, languages, branch, priority, status, stage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Feature,
		string(langsJSON),
		run.Branch,
		string(run.Priority),
		string(run.Status),
		string(run.Stage),
		run.CreatedAt,
	)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, feature, languages, branch, priority, status, stage,
		       failure_stage, failure_language, failure_detail,
		       created_at, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Status domain.RunStatus
	Limit  int
}

// ListRuns returns runs matching the given options, newest first
func (s *Store) ListRuns(opts ListOptions) ([]*domain.Run, error) {
	query := `
		SELECT id, feature, languages, branch, priority, status, stage,
		       failure_stage, failure_language, failure_detail,
		       created_at, started_at, finished_at
		FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunning transitions a run to running and records the start time
func (s *Store) MarkRunning(id string) error {
	_, err := s.db.Exec(`UPDATE runs SET status = ?, started_at = ? WHERE id = ?`,
		string(domain.RunRunning), time.Now(), id)
	return err
}

// UpdateRunStage updates the pipeline stage of a run
func (s *Store) UpdateRunStage(id string, stage domain.Stage) error {
	_, err := s.db.Exec(`UPDATE runs SET stage = ? WHERE id = ?`, string(stage), id)
	return err
}

// FinishRun records a terminal status with optional failure detail
func (s *Store) FinishRun(id string, status domain.RunStatus, failStage domain.Stage, failLang, detail string) error {
	var stage domain.Stage
	switch status {
	case domain.RunSucceeded:
		stage = domain.StageSucceeded
	case domain.RunCancelled:
		stage = domain.StageCancelled
	default:
		stage = domain.StageFailed
	}
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, stage = ?, failure_stage = ?, failure_language = ?, failure_detail = ?, finished_at = ?
		WHERE id = ?
	`, string(status), string(stage), string(failStage), failLang, detail, time.Now(), id)
	return err
}

// ResetStrandedRuns re-queues runs left mid-flight by a crashed process.
// Runs started before staleBefore (or never started) go back to pending.
func (s *Store) ResetStrandedRuns(staleBefore time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, stage = ''
		WHERE status = ? AND (started_at IS NULL OR started_at < ?)
	`, string(domain.RunPending), string(domain.RunRunning), staleBefore)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneRunsBefore deletes terminal runs older than cutoff, with everything
// they own. This is the external retention policy; nothing else deletes runs.
func (s *Store) PruneRunsBefore(cutoff time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id FROM runs
		WHERE status IN (?, ?, ?) AND finished_at IS NOT NULL AND finished_at < ?
	`, string(domain.RunSucceeded), string(domain.RunFailed), string(domain.RunCancelled), cutoff)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		for _, stmt := range []string{
			`DELETE FROM context_entries WHERE plan_id IN (SELECT id FROM plans WHERE run_id = ?)`,
			`DELETE FROM test_specs WHERE plan_id IN (SELECT id FROM plans WHERE run_id = ?)`,
			`DELETE FROM plans WHERE run_id = ?`,
			`DELETE FROM artifacts WHERE run_id = ?`,
			`DELETE FROM test_results WHERE run_id = ?`,
			`DELETE FROM review_reports WHERE run_id = ?`,
			`DELETE FROM changesets WHERE run_id = ?`,
			`DELETE FROM runs WHERE id = ?`,
		} {
			if _, err := tx.Exec(stmt, id); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SavePlan stores a plan and its test specifications
func (s *Store) SavePlan(plan *domain.Plan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO plans (id, run_id, created_at) VALUES (?, ?, ?)`,
		plan.ID, plan.RunID, plan.CreatedAt); err != nil {
		return err
	}
	for i, spec := range plan.Specs {
		if _, err := tx.Exec(`
			INSERT INTO test_specs (plan_id, spec_id, language, description, position)
			VALUES (?, ?, ?, ?, ?)
		`, plan.ID, spec.ID, spec.Language, spec.Description, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetPlan retrieves the plan for a run
func (s *Store) GetPlan(runID string) (*domain.Plan, error) {
	var plan domain.Plan
	err := s.db.QueryRow(`SELECT id, run_id, created_at FROM plans WHERE run_id = ?`, runID).
		Scan(&plan.ID, &plan.RunID, &plan.CreatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT spec_id, language, description FROM test_specs
		WHERE plan_id = ? ORDER BY position
	`, plan.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var spec domain.TestSpec
		if err := rows.Scan(&spec.ID, &spec.Language, &spec.Description); err != nil {
			return nil, err
		}
		plan.Specs = append(plan.Specs, spec)
	}
	return &plan, rows.Err()
}

// SaveContextBundle stores the gathered context for a plan
func (s *Store) SaveContextBundle(bundle *domain.ContextBundle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range bundle.Entries {
		if _, err := tx.Exec(`
			INSERT INTO context_entries (plan_id, spec_id, source, snippet)
			VALUES (?, ?, ?, ?)
		`, bundle.PlanID, e.SpecID, e.Source, e.Snippet); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetContextBundle retrieves the context bundle for a plan
func (s *Store) GetContextBundle(planID string) (*domain.ContextBundle, error) {
	rows, err := s.db.Query(`
		SELECT spec_id, source, snippet FROM context_entries WHERE plan_id = ? ORDER BY id
	`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bundle := &domain.ContextBundle{PlanID: planID}
	for rows.Next() {
		var e domain.ContextEntry
		if err := rows.Scan(&e.SpecID, &e.Source, &e.Snippet); err != nil {
			return nil, err
		}
		bundle.Entries = append(bundle.Entries, e)
	}
	return bundle, rows.Err()
}

// AppendArtifact stores a new version of an artifact. The version is computed
// inside the transaction, so concurrent appends to the same logical path
// never collide or overwrite; a.Version is set to the stored version.
func (s *Store) AppendArtifact(a *domain.Artifact) error {
	if !domain.ValidPath(a.Path) {
		return fmt.Errorf("invalid artifact path %q", a.Path)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE run_id = ? AND path = ?
	`, a.RunID, a.Path).Scan(&version); err != nil {
		return err
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if _, err := tx.Exec(`
		INSERT INTO artifacts (run_id, path, language, stage, version, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.RunID, a.Path, a.Language, string(a.Stage), version, a.Content, a.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	a.Version = version
	return nil
}

// LatestArtifacts returns the newest version of every artifact in a run,
// optionally filtered by language (empty matches all)
func (s *Store) LatestArtifacts(runID, language string) ([]*domain.Artifact, error) {
	query := `
		SELECT a.run_id, a.path, a.language, a.stage, a.version, a.content, a.created_at
		FROM artifacts a
		JOIN (
			SELECT path, MAX(version) AS v FROM artifacts WHERE run_id = ? GROUP BY path
		) latest ON a.path = latest.path AND a.version = latest.v
		WHERE a.run_id = ?`
	args := []interface{}{runID, runID}
	if language != "" {
		query += " AND a.language = ?"
		args = append(args, language)
	}
	query += " ORDER BY a.path"

	return s.queryArtifacts(query, args...)
}

// ArtifactVersions returns every stored version of one logical path, oldest first
func (s *Store) ArtifactVersions(runID, path string) ([]*domain.Artifact, error) {
	return s.queryArtifacts(`
		SELECT run_id, path, language, stage, version, content, created_at
		FROM artifacts WHERE run_id = ? AND path = ? ORDER BY version
	`, runID, path)
}

func (s *Store) queryArtifacts(query string, args ...interface{}) ([]*domain.Artifact, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var stage string
		if err := rows.Scan(&a.RunID, &a.Path, &a.Language, &stage, &a.Version, &a.Content, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Stage = domain.ArtifactStage(stage)
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// RecordTestResult stores a result, assigning the next attempt number for the
// (run, language) pair. r.Attempt is set to the recorded number.
func (s *Store) RecordTestResult(r *domain.TestResult) error {
	failuresJSON, err := json.Marshal(r.Failures)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var attempt int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(attempt), 0) + 1 FROM test_results WHERE run_id = ? AND language = ?
	`, r.RunID, r.Language).Scan(&attempt); err != nil {
		return err
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if _, err := tx.Exec(`
		INSERT INTO test_results (run_id, language, attempt, outcome, failures, output, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.Language, attempt, string(r.Outcome), string(failuresJSON), r.Output,
		r.Duration.Milliseconds(), r.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.Attempt = attempt
	return nil
}

// ListResults returns all test results for a run, ordered by language and attempt
func (s *Store) ListResults(runID string) ([]*domain.TestResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, language, attempt, outcome, failures, output, duration_ms, created_at
		FROM test_results WHERE run_id = ? ORDER BY language, attempt
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.TestResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// LatestResult returns the most recent result for a language, or nil if none
func (s *Store) LatestResult(runID, language string) (*domain.TestResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, language, attempt, outcome, failures, output, duration_ms, created_at
		FROM test_results WHERE run_id = ? AND language = ?
		ORDER BY attempt DESC LIMIT 1
	`, runID, language)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanResult(rows)
}

// AttemptCount returns how many attempts a language has recorded in a run
func (s *Store) AttemptCount(runID, language string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(attempt), 0) FROM test_results WHERE run_id = ? AND language = ?
	`, runID, language).Scan(&n)
	return n, err
}

// SaveReviewReport stores the review report for a run
func (s *Store) SaveReviewReport(report *domain.ReviewReport) error {
	findingsJSON, err := json.Marshal(report.Findings)
	if err != nil {
		return err
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO review_reports (run_id, findings, created_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, report.RunID, string(findingsJSON), report.CreatedAt)
	return err
}

// GetReviewReport retrieves the review report for a run, or nil if none
func (s *Store) GetReviewReport(runID string) (*domain.ReviewReport, error) {
	var report domain.ReviewReport
	var findingsJSON string
	err := s.db.QueryRow(`SELECT run_id, findings, created_at FROM review_reports WHERE run_id = ?`, runID).
		Scan(&report.RunID, &findingsJSON, &report.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if findingsJSON != "" && findingsJSON != "null" {
		if err := json.Unmarshal([]byte(findingsJSON), &report.Findings); err != nil {
			return nil, err
		}
	}
	return &report, nil
}

// SaveChangeSet records a published change-set. Publishing is keyed by run
// ID: a second save for the same run leaves the first recording in place.
func (s *Store) SaveChangeSet(cs *domain.ChangeSet) error {
	if cs.PublishedAt.IsZero() {
		cs.PublishedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO changesets (run_id, ref, review_state, published_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, cs.RunID, cs.Ref, string(cs.ReviewState), cs.PublishedAt)
	return err
}

// GetChangeSet retrieves the change-set for a run, or nil if not published
func (s *Store) GetChangeSet(runID string) (*domain.ChangeSet, error) {
	var cs domain.ChangeSet
	var state string
	err := s.db.QueryRow(`SELECT run_id, ref, review_state, published_at FROM changesets WHERE run_id = ?`, runID).
		Scan(&cs.RunID, &cs.Ref, &state, &cs.PublishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cs.ReviewState = domain.ReviewState(state)
	return &cs, nil
}

// ApproveChangeSet records the human-approval signal for a published change-set
func (s *Store) ApproveChangeSet(runID string) error {
	res, err := s.db.Exec(`UPDATE changesets SET review_state = ? WHERE run_id = ?`,
		string(domain.ReviewApproved), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no change-set published for run %s", runID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var langsJSON, priority, status, stage string
	var failStage, failLang, failDetail, branch sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Feature, &langsJSON, &branch, &priority, &status, &stage,
		&failStage, &failLang, &failDetail, &run.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(langsJSON), &run.Languages); err != nil {
		return nil, fmt.Errorf("languages column: %w", err)
	}
	run.Branch = branch.String
	run.Priority = domain.Priority(priority)
	run.Status = domain.RunStatus(status)
	run.Stage = domain.Stage(stage)
	run.FailureStage = domain.Stage(failStage.String)
	run.FailureLanguage = failLang.String
	run.FailureDetail = failDetail.String
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func scanResult(row scanner) (*domain.TestResult, error) {
	var r domain.TestResult
	var outcome, failuresJSON string
	var output sql.NullString
	var durationMs int64

	err := row.Scan(&r.RunID, &r.Language, &r.Attempt, &outcome, &failuresJSON, &output, &durationMs, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Outcome = domain.Outcome(outcome)
	r.Output = output.String
	r.Duration = time.Duration(durationMs) * time.Millisecond
	if failuresJSON != "" && failuresJSON != "null" {
		if err := json.Unmarshal([]byte(failuresJSON), &r.Failures); err != nil {
			return nil, err
		}
	}
	return &r, nil
}
