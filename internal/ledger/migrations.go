package ledger

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    parent_id TEXT,
    status TEXT NOT NULL DEFAULT 'todo',
    priority TEXT,
    sprint_id TEXT,
    spec_approval TEXT NOT NULL DEFAULT 'none',
    spec_approved_hash TEXT,
    plan_approval TEXT NOT NULL DEFAULT 'none',
    plan_approved_hash TEXT,
    research_approval TEXT NOT NULL DEFAULT 'none',
    research_approved_hash TEXT,
    verification_approval TEXT NOT NULL DEFAULT 'none',
    verification_approved_hash TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES tasks(id),
    action TEXT NOT NULL,
    required_capability TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    runner_id TEXT,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    exit_code INTEGER,
    progress_message TEXT,
    pr_url TEXT,
    pr_number INTEGER,
    branch_name TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_status_capability ON runs(status, required_capability);
`
