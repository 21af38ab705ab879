package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spigell/job-aggregator/internal/normalize"
)

const (
	ExcludeActorUser    = "user"
	ExcludeActorArbiter = "arbiter"
)

type Jobs struct {
	Items []*Record
}

type ExcludedJobs struct {
	Items []*ExcludedJob
}

type ExcludedJob struct {
	ID         string
	URL        string
	Company    string
	Title      string
	Actor      string `json:",omitempty"`
	Reason     string `json:",omitempty"`
	ExcludedAt time.Time
}

func New(records []*Record) *Jobs {
	return &Jobs{Items: records}
}

func (j *Jobs) Len() int {
	return len(j.Items)
}

func (j *Jobs) IDs() []string {
	ids := make([]string, 0, len(j.Items))
	for _, rec := range j.Items {
		ids = append(ids, rec.JobID)
	}
	return ids
}

func (j *Jobs) FindByID(id string) *Record {
	for _, rec := range j.Items {
		if rec.JobID == id {
			return rec
		}
	}
	return nil
}

// Exclude removes records whose job id is in ids and returns the removed ids.
// The order of the remaining records is preserved.
func (j *Jobs) Exclude(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}

	targets := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		targets[id] = struct{}{}
	}

	return j.removeIf(func(rec *Record) bool {
		_, ok := targets[rec.JobID]
		return ok
	})
}

// ExcludeCompanies removes records whose normalized company matches one of
// names after the same normalization.
func (j *Jobs) ExcludeCompanies(names []string) []string {
	if len(names) == 0 {
		return nil
	}

	targets := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(normalize.CompanyName(name))
		if key != "" {
			targets[key] = struct{}{}
		}
	}

	return j.removeIf(func(rec *Record) bool {
		_, ok := targets[rec.CompanyNormalized]
		return ok
	})
}

func (j *Jobs) removeIf(drop func(*Record) bool) []string {
	var removed []string
	kept := j.Items[:0]
	for _, rec := range j.Items {
		if drop(rec) {
			removed = append(removed, rec.JobID)
			continue
		}
		kept = append(kept, rec)
	}
	clear(j.Items[len(kept):])
	j.Items = kept
	return removed
}

// ReportByCompany groups a short summary of every record by company.
func (j *Jobs) ReportByCompany() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, rec := range j.Items {
		key := rec.Company
		if key == "" {
			key = "(unknown company)"
		}

		entry := map[string]string{
			"job_id":   rec.JobID,
			"title":    rec.Title,
			"url":      rec.JobURLCanonical,
			"location": rec.LocationRaw,
		}
		if rec.Source != "" {
			entry["source"] = rec.Source
		}
		if rec.PostedAt != nil {
			entry["posted_at"] = rec.PostedAt.Format(time.DateOnly)
		}
		if rec.WorkMode != "" {
			entry["work_mode"] = rec.WorkMode
		}

		report[key] = append(report[key], entry)
	}
	return report
}

func (j *Jobs) DumpToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(j.Items)
}

func (j *Jobs) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "jobs_*.json")
	if err != nil {
		return "", err
	}
	name := file.Name()
	file.Close()

	if err := j.DumpToFile(name); err != nil {
		return "", err
	}
	return name, nil
}

func (j *Jobs) ToExcluded(actor, reason string) *ExcludedJobs {
	excluded := &ExcludedJobs{}
	for _, rec := range j.Items {
		excluded.Items = append(excluded.Items, &ExcludedJob{
			ID:         rec.JobID,
			URL:        rec.JobURLCanonical,
			Company:    rec.Company,
			Title:      rec.Title,
			Actor:      actor,
			Reason:     reason,
			ExcludedAt: time.Now().UTC(),
		})
	}
	return excluded
}

// GetExcludedJobsFromFile reads an exclude file. A missing or empty file yields an empty list.
func GetExcludedJobsFromFile(path string) (*ExcludedJobs, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ExcludedJobs{}, nil
		}
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return &ExcludedJobs{}, nil
	}

	var excluded ExcludedJobs
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &excluded, nil
}

func (e *ExcludedJobs) Append(s *ExcludedJobs) {
	e.Items = append(e.Items, s.Items...)
}

func (e *ExcludedJobs) IDs() []string {
	ids := make([]string, 0, len(e.Items))
	for _, job := range e.Items {
		ids = append(ids, job.ID)
	}
	return ids
}

func (e *ExcludedJobs) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
