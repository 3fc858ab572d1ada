package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "decisions: append-only ledger of gating verdicts and executions",
		SQL: `
CREATE TABLE decisions (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    session_id   TEXT,
    action_name  TEXT NOT NULL,
    category     TEXT NOT NULL,
    params       TEXT,
    reasoning    TEXT,
    factors      TEXT,
    confidence   REAL NOT NULL DEFAULT 0,
    verdict      TEXT NOT NULL CHECK (verdict IN ('auto_executed', 'gated', 'refused', 'tool_execution_approved')),
    reason       TEXT,
    embedding    BLOB,
    feedback     TEXT CHECK (feedback IN ('approved', 'rejected', 'corrected')),
    correction   TEXT,
    feedback_at  INTEGER,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_decisions_user    ON decisions(user_id, created_at DESC);
CREATE INDEX idx_decisions_action  ON decisions(user_id, action_name, created_at DESC);
CREATE INDEX idx_decisions_feedback ON decisions(user_id, feedback) WHERE feedback IS NOT NULL;
`,
	},
	{
		Version:     2,
		Description: "pending_actions: gated actions awaiting human resolution",
		SQL: `
CREATE TABLE pending_actions (
    id           TEXT PRIMARY KEY,
    decision_id  TEXT NOT NULL UNIQUE,
    user_id      TEXT NOT NULL,
    action_name  TEXT NOT NULL,
    params       TEXT,
    status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
    created_at   INTEGER NOT NULL,
    resolved_at  INTEGER,
    resolved_by  TEXT,

    FOREIGN KEY (decision_id) REFERENCES decisions(id)
);

CREATE INDEX idx_pending_user_status ON pending_actions(user_id, status);
`,
	},
	{
		Version:     3,
		Description: "outcomes: measured results linked to decisions or tasks",
		SQL: `
CREATE TABLE outcomes (
    id           TEXT PRIMARY KEY,
    decision_id  TEXT,
    task_id      TEXT,
    user_id      TEXT NOT NULL,
    action_name  TEXT NOT NULL,
    outcome      TEXT NOT NULL CHECK (outcome IN ('success', 'partial', 'failure', 'timeout', 'user_override')),
    measured_at  INTEGER NOT NULL
);

CREATE UNIQUE INDEX idx_outcomes_task     ON outcomes(task_id) WHERE task_id IS NOT NULL;
CREATE UNIQUE INDEX idx_outcomes_decision ON outcomes(decision_id) WHERE decision_id IS NOT NULL AND task_id IS NULL;
CREATE INDEX idx_outcomes_action ON outcomes(user_id, action_name, measured_at DESC);
`,
	},
	{
		Version:     4,
		Description: "preferences: upserted user preferences with embeddings",
		SQL: `
CREATE TABLE preferences (
    user_id     TEXT NOT NULL,
    category    TEXT NOT NULL,
    key         TEXT NOT NULL,
    value       TEXT,
    source      TEXT NOT NULL CHECK (source IN ('explicit', 'inferred', 'error_classification')),
    confidence  REAL NOT NULL DEFAULT 0.5,
    embedding   BLOB,
    updated_at  INTEGER NOT NULL,

    PRIMARY KEY (user_id, category, key)
);
`,
	},
	{
		Version:     5,
		Description: "rules: learned behavioral rules derived from corrections",
		SQL: `
CREATE TABLE rules (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    category           TEXT NOT NULL,
    trigger_text       TEXT NOT NULL,
    embedding          BLOB,
    confidence         REAL NOT NULL,
    active             INTEGER NOT NULL DEFAULT 1,
    derived_from       TEXT,
    created_at         INTEGER NOT NULL,
    last_reinforced_at INTEGER
);

CREATE INDEX idx_rules_user_active ON rules(user_id, active);
`,
	},
	{
		Version:     6,
		Description: "corrections: raw human corrections for pattern mining",
		SQL: `
CREATE TABLE corrections (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    original_action TEXT,
    correction      TEXT NOT NULL,
    category        TEXT NOT NULL,
    embedding       BLOB,
    pattern_matched INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL
);

CREATE INDEX idx_corrections_user ON corrections(user_id, category, created_at DESC);
`,
	},
	{
		Version:     7,
		Description: "tasks: actionable conditions surfaced by the heartbeat",
		SQL: `
CREATE TABLE tasks (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    entity_type  TEXT NOT NULL,
    entity_id    TEXT NOT NULL,
    trigger_type TEXT NOT NULL,
    title        TEXT NOT NULL,
    detail       TEXT,
    status       TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'completed', 'dismissed', 'cancelled')),
    created_at   INTEGER NOT NULL,
    resolved_at  INTEGER
);

CREATE INDEX idx_tasks_user_status ON tasks(user_id, status);
CREATE INDEX idx_tasks_entity      ON tasks(user_id, entity_type, entity_id, trigger_type);
`,
	},
	{
		Version:     8,
		Description: "autonomy_settings: per-user autonomy preset and overrides",
		SQL: `
CREATE TABLE autonomy_settings (
    user_id    TEXT PRIMARY KEY,
    preset     TEXT NOT NULL CHECK (preset IN ('cautious', 'balanced', 'hands_off')),
    overrides  TEXT,
    updated_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     9,
		Description: "trajectories: reference action sequences per task type",
		SQL: `
CREATE TABLE trajectories (
    id           TEXT PRIMARY KEY,
    task_type    TEXT NOT NULL,
    actions      TEXT NOT NULL,
    golden       INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,
    last_used_at INTEGER
);

CREATE INDEX idx_trajectories_type ON trajectories(task_type, golden);
`,
	},
	{
		Version:     10,
		Description: "portfolio: read model of managed users and their properties",
		SQL: `
CREATE TABLE users (
    id         TEXT PRIMARY KEY,
    name       TEXT,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE TABLE tenancies (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    address         TEXT,
    status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'ending', 'negotiating', 'ended')),
    end_date        INTEGER,
    arrears_cents   INTEGER NOT NULL DEFAULT 0,
    last_contact_at INTEGER
);

CREATE TABLE maintenance_requests (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    tenancy_id TEXT,
    summary    TEXT,
    status     TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'in_progress', 'stalled', 'closed')),
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE inspections (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    tenancy_id TEXT,
    due_at     INTEGER NOT NULL,
    status     TEXT NOT NULL DEFAULT 'unscheduled' CHECK (status IN ('unscheduled', 'scheduled', 'completed'))
);

CREATE TABLE compliance_items (
    id      TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name    TEXT NOT NULL,
    due_at  INTEGER NOT NULL,
    status  TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'done'))
);

CREATE TABLE listings (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    address       TEXT,
    status        TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'let', 'withdrawn')),
    enquiry_count INTEGER NOT NULL DEFAULT 0,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE message_threads (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    tenancy_id      TEXT,
    subject         TEXT,
    last_inbound_at INTEGER,
    answered        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_tenancies_user   ON tenancies(user_id, status);
CREATE INDEX idx_maintenance_user ON maintenance_requests(user_id, status);
CREATE INDEX idx_inspections_user ON inspections(user_id, status);
CREATE INDEX idx_compliance_user  ON compliance_items(user_id, status);
CREATE INDEX idx_listings_user    ON listings(user_id, status);
CREATE INDEX idx_threads_user     ON message_threads(user_id, answered);
`,
	},
	{
		Version:     11,
		Description: "meta: key/value bookkeeping (cleanup timestamps etc)",
		SQL: `
CREATE TABLE meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
