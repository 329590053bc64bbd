package db

import (
	"fmt"
)

// Migrate runs all pending database migrations.
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("run migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

const migration001 = `
-- Scan runs (history). session_state holds the JSON snapshot of a paused
-- run so pause survives a restart.
CREATE TABLE scan_runs (
    id INTEGER PRIMARY KEY,
    token TEXT UNIQUE NOT NULL,
    scheduled_job_id INTEGER,
    status TEXT NOT NULL DEFAULT 'running',
    precision_mode BOOLEAN DEFAULT 0,
    paths TEXT NOT NULL DEFAULT '[]',
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    files_found INTEGER DEFAULT 0,
    duplicate_groups INTEGER DEFAULT 0,
    duplicate_files INTEGER DEFAULT 0,
    wasted_bytes INTEGER DEFAULT 0,
    failure_count INTEGER DEFAULT 0,
    error_message TEXT,
    session_state TEXT
);

CREATE INDEX idx_scan_runs_status ON scan_runs(status);
CREATE INDEX idx_scan_runs_started_at ON scan_runs(started_at);

-- Duplicate groups (stored for review)
CREATE TABLE duplicate_groups (
    id INTEGER PRIMARY KEY,
    scan_run_id INTEGER NOT NULL,
    digest TEXT NOT NULL,
    file_size INTEGER NOT NULL,
    file_count INTEGER NOT NULL,
    wasted_bytes INTEGER NOT NULL,
    files TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX idx_duplicate_groups_scan_run_id ON duplicate_groups(scan_run_id);

-- Per-file review annotations
CREATE TABLE annotations (
    scan_run_id INTEGER NOT NULL,
    path TEXT NOT NULL,
    disposition TEXT NOT NULL DEFAULT 'none',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (scan_run_id, path)
);

-- Scheduled jobs
CREATE TABLE scheduled_jobs (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    paths TEXT NOT NULL DEFAULT '[]',
    extensions TEXT NOT NULL DEFAULT '[]',
    skip_patterns TEXT NOT NULL DEFAULT '[]',
    precision_mode BOOLEAN DEFAULT 0,
    cron_expression TEXT NOT NULL,
    enabled BOOLEAN DEFAULT 1,
    last_run_at DATETIME,
    next_run_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Deletion audit log
CREATE TABLE deletions (
    id INTEGER PRIMARY KEY,
    scan_run_id INTEGER NOT NULL,
    path TEXT NOT NULL,
    size INTEGER DEFAULT 0,
    deleted_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_deletions_deleted_at ON deletions(deleted_at);

-- App settings (key-value store)
CREATE TABLE settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT INTO settings (key, value) VALUES ('retention_days', '30');
`
