package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    feature TEXT NOT NULL,
    languages TEXT NOT NULL,
    branch TEXT,
    priority TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    stage TEXT,
    failure_stage TEXT,
    failure_language TEXT,
    failure_detail TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS plans (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL UNIQUE REFERENCES runs(id),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS test_specs (
    plan_id TEXT NOT NULL REFERENCES plans(id),
    spec_id TEXT NOT NULL,
    language TEXT NOT NULL,
    description TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (plan_id, spec_id)
);

CREATE TABLE IF NOT EXISTS context_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id TEXT NOT NULL REFERENCES plans(id),
    spec_id TEXT,
    source TEXT,
    snippet TEXT
);

CREATE INDEX IF NOT EXISTS idx_context_plan ON context_entries(plan_id);

CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    path TEXT NOT NULL,
    language TEXT NOT NULL,
    stage TEXT NOT NULL,
    version INTEGER NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (run_id, path, version)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id);

CREATE TABLE IF NOT EXISTS test_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    language TEXT NOT NULL,
    attempt INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    failures TEXT,
    output TEXT,
    duration_ms INTEGER,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (run_id, language, attempt)
);

CREATE INDEX IF NOT EXISTS idx_results_run ON test_results(run_id);

CREATE TABLE IF NOT EXISTS review_reports (
    run_id TEXT PRIMARY KEY REFERENCES runs(id),
    findings TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS changesets (
    run_id TEXT PRIMARY KEY REFERENCES runs(id),
    ref TEXT NOT NULL,
    review_state TEXT NOT NULL DEFAULT 'unreviewed',
    published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
