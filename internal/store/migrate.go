package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the PRAGMA user_version written by Migrate.
const SchemaVersion = 1

// Migrate brings the schema to the latest version tracked in PRAGMA user_version.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}

	if v >= SchemaVersion {
		return tx.Commit()
	}

	// ---- Schema v1 ----
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS jobs (
  job_id TEXT PRIMARY KEY,
  source TEXT NOT NULL DEFAULT '',
  provider_id TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  company TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  apply_url TEXT NOT NULL DEFAULT '',
  title_norm TEXT NOT NULL DEFAULT '',
  company_norm TEXT NOT NULL DEFAULT '',
  job_url_canonical TEXT NOT NULL DEFAULT '',
  apply_url_canonical TEXT NOT NULL DEFAULT '',
  posted_at TEXT,
  description TEXT NOT NULL DEFAULT '',
  work_mode TEXT NOT NULL DEFAULT '',
  employment_type TEXT NOT NULL DEFAULT '',
  salary_min REAL,
  salary_max REAL,
  salary_currency TEXT NOT NULL DEFAULT '',
  tags TEXT NOT NULL DEFAULT '[]',
  first_seen_at TEXT NOT NULL,
  last_seen_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_last_seen ON jobs(last_seen_at);`,
		`
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  finished_at TEXT,
  status TEXT NOT NULL DEFAULT 'running',
  collected INTEGER NOT NULL DEFAULT 0,
  unique_count INTEGER NOT NULL DEFAULT 0,
  duplicates INTEGER NOT NULL DEFAULT 0,
  by_provider_id INTEGER NOT NULL DEFAULT 0,
  by_url INTEGER NOT NULL DEFAULT 0,
  by_fuzzy INTEGER NOT NULL DEFAULT 0,
  uncertain INTEGER NOT NULL DEFAULT 0,
  merged INTEGER NOT NULL DEFAULT 0
);`,
		`
CREATE TABLE IF NOT EXISTS decisions (
  pair_key TEXT PRIMARY KEY,
  same_job INTEGER NOT NULL,
  confidence REAL NOT NULL,
  preferred TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  decided_at TEXT NOT NULL
);`,
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, SchemaVersion)); err != nil {
		return err
	}

	return tx.Commit()
}
