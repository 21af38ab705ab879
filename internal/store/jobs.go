package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/job-aggregator/internal/jobs"
)

const jobColumns = `job_id, source, provider_id, title, company, location, url, apply_url,
  title_norm, company_norm, job_url_canonical, apply_url_canonical,
  posted_at, description, work_mode, employment_type, salary_min, salary_max, salary_currency, tags`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertJobs inserts new records and merges the optional fields of known ones.
// Identity fields of stored rows never change and nothing is deleted.
// It returns the number of newly inserted rows.
func (d *DB) UpsertJobs(ctx context.Context, records []*jobs.Record) (int, error) {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := d.timestamp()
	added := 0

	for _, rec := range records {
		if rec == nil || rec.JobID == "" {
			continue
		}

		stored, err := getJob(ctx, tx, rec.JobID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := insertJob(ctx, tx, rec, now); err != nil {
				return 0, err
			}
			added++
			continue
		case err != nil:
			return 0, fmt.Errorf("load job %s: %w", rec.JobID, err)
		}

		stored.Enrich(rec)
		if err := updateJob(ctx, tx, stored, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// LoadSince returns records seen at or after since, oldest first.
func (d *DB) LoadSince(ctx context.Context, since time.Time) ([]*jobs.Record, error) {
	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE last_seen_at >= ?
ORDER BY first_seen_at, rowid;`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []*jobs.Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetJob returns a stored record by id or sql.ErrNoRows.
func (d *DB) GetJob(ctx context.Context, jobID string) (*jobs.Record, error) {
	return getJob(ctx, d.Pool, jobID)
}

func getJob(ctx context.Context, q queryer, jobID string) (*jobs.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?;`, jobID)
	return scanJob(row)
}

func scanJob(row rowScanner) (*jobs.Record, error) {
	var (
		rec       jobs.Record
		postedAt  sql.NullString
		salaryMin sql.NullFloat64
		salaryMax sql.NullFloat64
		tags      string
	)

	err := row.Scan(
		&rec.JobID, &rec.Source, &rec.ProviderID, &rec.Title, &rec.Company, &rec.LocationRaw, &rec.URL, &rec.ApplyURL,
		&rec.TitleNormalized, &rec.CompanyNormalized, &rec.JobURLCanonical, &rec.ApplyURLCanonical,
		&postedAt, &rec.DescriptionText, &rec.WorkMode, &rec.EmploymentType, &salaryMin, &salaryMax, &rec.SalaryCurrency, &tags,
	)
	if err != nil {
		return nil, err
	}

	if postedAt.Valid {
		t, err := parseTime(postedAt.String)
		if err != nil {
			return nil, fmt.Errorf("job %s posted_at: %w", rec.JobID, err)
		}
		rec.PostedAt = &t
	}
	if salaryMin.Valid {
		rec.SalaryMin = &salaryMin.Float64
	}
	if salaryMax.Valid {
		rec.SalaryMax = &salaryMax.Float64
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			return nil, fmt.Errorf("job %s tags: %w", rec.JobID, err)
		}
	}

	return &rec, nil
}

func insertJob(ctx context.Context, tx *sql.Tx, rec *jobs.Record, now string) error {
	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`, first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.Source, rec.ProviderID, rec.Title, rec.Company, rec.LocationRaw, rec.URL, rec.ApplyURL,
		rec.TitleNormalized, rec.CompanyNormalized, rec.JobURLCanonical, rec.ApplyURLCanonical,
		nullTime(rec.PostedAt), rec.DescriptionText, rec.WorkMode, rec.EmploymentType,
		nullFloat(rec.SalaryMin), nullFloat(rec.SalaryMax), rec.SalaryCurrency, tags,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", rec.JobID, err)
	}
	return nil
}

func updateJob(ctx context.Context, tx *sql.Tx, rec *jobs.Record, now string) error {
	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE jobs SET
  posted_at = ?, description = ?, work_mode = ?, employment_type = ?,
  salary_min = ?, salary_max = ?, salary_currency = ?, tags = ?, last_seen_at = ?
WHERE job_id = ?;`,
		nullTime(rec.PostedAt), rec.DescriptionText, rec.WorkMode, rec.EmploymentType,
		nullFloat(rec.SalaryMin), nullFloat(rec.SalaryMax), rec.SalaryCurrency, tags, now,
		rec.JobID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", rec.JobID, err)
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
