package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
	// RunStatusDiscarded marks runs whose results were not saved.
	RunStatusDiscarded = "discarded"
)

// RunStats are the counters recorded for a single aggregation run.
type RunStats struct {
	Collected         int
	Unique            int
	DuplicatesRemoved int
	ByProviderID      int
	ByURL             int
	ByFuzzy           int
	Uncertain         int
	Merged            int
}

type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Stats      RunStats
}

// StartRun registers a new run and returns its id.
func (d *DB) StartRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := d.Pool.ExecContext(ctx, `INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?);`,
		id, d.timestamp(), RunStatusRunning)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counters of a run.
func (d *DB) FinishRun(ctx context.Context, id, status string, stats RunStats) error {
	res, err := d.Pool.ExecContext(ctx, `
UPDATE runs SET
  finished_at = ?, status = ?, collected = ?, unique_count = ?, duplicates = ?,
  by_provider_id = ?, by_url = ?, by_fuzzy = ?, uncertain = ?, merged = ?
WHERE id = ?;`,
		d.timestamp(), status, stats.Collected, stats.Unique, stats.DuplicatesRemoved,
		stats.ByProviderID, stats.ByURL, stats.ByFuzzy, stats.Uncertain, stats.Merged,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Runs returns the latest runs, newest first.
func (d *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.Pool.QueryContext(ctx, `
SELECT id, started_at, finished_at, status, collected, unique_count, duplicates,
  by_provider_id, by_url, by_fuzzy, uncertain, merged
FROM runs
ORDER BY started_at DESC, rowid DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run      Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &finished, &run.Status,
			&run.Stats.Collected, &run.Stats.Unique, &run.Stats.DuplicatesRemoved,
			&run.Stats.ByProviderID, &run.Stats.ByURL, &run.Stats.ByFuzzy, &run.Stats.Uncertain, &run.Stats.Merged,
		); err != nil {
			return nil, err
		}

		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", run.ID, err)
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, fmt.Errorf("run %s finished_at: %w", run.ID, err)
			}
			run.FinishedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
