package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spigell/job-aggregator/internal/ai"
)

// Lookup returns a cached arbitration decision for a pair key.
func (d *DB) Lookup(ctx context.Context, key string) (*ai.Decision, bool, error) {
	var (
		decision  ai.Decision
		sameJob   int
		preferred string
	)

	err := d.Pool.QueryRowContext(ctx, `
SELECT same_job, confidence, preferred, reason FROM decisions WHERE pair_key = ?;`, key,
	).Scan(&sameJob, &decision.Confidence, &preferred, &decision.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup decision: %w", err)
	}

	decision.SameJob = sameJob != 0
	decision.Preferred = ai.Preference(preferred)
	return &decision, true, nil
}

// Save stores or replaces the decision for a pair key.
func (d *DB) Save(ctx context.Context, key string, decision *ai.Decision) error {
	if decision == nil {
		return errors.New("decision is required")
	}

	sameJob := 0
	if decision.SameJob {
		sameJob = 1
	}

	_, err := d.Pool.ExecContext(ctx, `
INSERT INTO decisions (pair_key, same_job, confidence, preferred, reason, decided_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(pair_key) DO UPDATE SET
  same_job = excluded.same_job,
  confidence = excluded.confidence,
  preferred = excluded.preferred,
  reason = excluded.reason,
  decided_at = excluded.decided_at;`,
		key, sameJob, decision.Confidence, string(decision.Preferred), decision.Reason, d.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}
