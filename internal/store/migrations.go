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
		Description: "contacts: per-contact score, band, recommendation and tuning state",
		SQL: `
CREATE TABLE contacts (
    contact_hash           TEXT PRIMARY KEY,
    alias                  TEXT NOT NULL,

    -- Score
    previous_score         REAL NOT NULL DEFAULT 50 CHECK (previous_score BETWEEN 0 AND 100),
    current_score          REAL NOT NULL DEFAULT 50 CHECK (current_score BETWEEN 0 AND 100),
    band                   TEXT NOT NULL DEFAULT 'fading' CHECK (band IN ('good', 'fading', 'critical')),
    risk_level             TEXT NOT NULL DEFAULT 'medium' CHECK (risk_level IN ('low', 'medium', 'high')),

    -- Recommendation
    recommendation         TEXT NOT NULL DEFAULT '',
    action_type            TEXT NOT NULL DEFAULT '',
    priority               TEXT NOT NULL DEFAULT '',
    scheduled_at           INTEGER,
    anomaly_detected       INTEGER NOT NULL DEFAULT 0,
    anomaly_reason         TEXT NOT NULL DEFAULT 'none',
    draft_message          TEXT NOT NULL DEFAULT '',

    -- Timing
    last_updated_at        INTEGER NOT NULL,
    last_interaction_at    INTEGER,
    events_count           INTEGER NOT NULL DEFAULT 0,
    auto_nudge             INTEGER NOT NULL DEFAULT 0,
    last_auto_action_at    INTEGER,

    -- Tuning
    interaction_multiplier REAL NOT NULL DEFAULT 1.0 CHECK (interaction_multiplier BETWEEN 0.5 AND 2.0),
    lambda_decay           REAL NOT NULL DEFAULT 0.08 CHECK (lambda_decay BETWEEN 0.03 AND 0.2),
    positive_feedback      INTEGER NOT NULL DEFAULT 0 CHECK (positive_feedback >= 0),
    negative_feedback      INTEGER NOT NULL DEFAULT 0 CHECK (negative_feedback >= 0),

    created_at             INTEGER NOT NULL
);

CREATE INDEX idx_contacts_score ON contacts(current_score);
`,
	},
	{
		Version:     2,
		Description: "events: append-only interaction metadata log",
		SQL: `
CREATE TABLE events (
    id               INTEGER PRIMARY KEY,
    event_id         TEXT NOT NULL,
    contact_hash     TEXT NOT NULL,
    ts               INTEGER NOT NULL,
    interaction_type TEXT NOT NULL CHECK (interaction_type IN ('text', 'call', 'ignored_message', 'auto_nudge', 'missed_call')),
    sentiment        REAL NOT NULL CHECK (sentiment BETWEEN -1 AND 1),
    intent           TEXT NOT NULL,
    summary          TEXT NOT NULL,
    metadata         TEXT NOT NULL DEFAULT '{}',
    created_at       INTEGER NOT NULL,
    UNIQUE (contact_hash, event_id),
    FOREIGN KEY (contact_hash) REFERENCES contacts(contact_hash)
);

CREATE INDEX idx_events_contact_ts ON events(contact_hash, ts);
`,
	},
	{
		Version:     3,
		Description: "actions: recommended and user-initiated work items",
		SQL: `
CREATE TABLE actions (
    id            TEXT PRIMARY KEY,
    contact_hash  TEXT NOT NULL,
    action_type   TEXT NOT NULL CHECK (action_type IN ('draft', 'draft_and_schedule', 'reminder', 'deprioritize')),
    text          TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'ignored')),
    origin        TEXT NOT NULL CHECK (origin IN ('user', 'auto')),
    scheduled_for INTEGER,
    created_at    INTEGER NOT NULL,
    completed_at  INTEGER,
    ignored_at    INTEGER,
    FOREIGN KEY (contact_hash) REFERENCES contacts(contact_hash),
    CHECK (
        (status = 'pending'   AND completed_at IS NULL     AND ignored_at IS NULL) OR
        (status = 'completed' AND completed_at IS NOT NULL AND ignored_at IS NULL) OR
        (status = 'ignored'   AND ignored_at IS NOT NULL   AND completed_at IS NULL)
    )
);

CREATE INDEX idx_actions_status  ON actions(status);
CREATE INDEX idx_actions_contact ON actions(contact_hash, status);
`,
	},
	{
		Version:     4,
		Description: "worker_meta: tick loop bookkeeping singleton",
		SQL: `
CREATE TABLE worker_meta (
    id                      INTEGER PRIMARY KEY CHECK (id = 1),
    last_daily_recompute_at INTEGER,
    last_worker_tick_at     INTEGER,
    auto_runs               INTEGER NOT NULL DEFAULT 0
);

INSERT INTO worker_meta (id) VALUES (1);
`,
	},
	{
		Version:     5,
		Description: "summary_vectors: embeddings of event summaries for retrieval",
		SQL: `
CREATE TABLE summary_vectors (
    event_id     TEXT NOT NULL,
    contact_hash TEXT NOT NULL,
    summary      TEXT NOT NULL,
    embedding    BLOB NOT NULL,
    model        TEXT NOT NULL,
    dimensions   INTEGER NOT NULL,
    created_at   INTEGER NOT NULL,
    PRIMARY KEY (contact_hash, event_id)
);

CREATE INDEX idx_summary_vectors_contact ON summary_vectors(contact_hash, model);
`,
	},
	{
		Version:     6,
		Description: "audit_ledger: hash-chained audit events",
		SQL: `
CREATE TABLE audit_ledger (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    event      TEXT NOT NULL,
    payload    TEXT NOT NULL,
    prev_hash  TEXT NOT NULL,
    hash       TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
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
