package ai

import (
	"context"

	"github.com/spigell/job-aggregator/internal/jobs"
)

// Preference tells which record of a pair should be kept.
type Preference string

const (
	PreferA Preference = "A"
	PreferB Preference = "B"
)

// Decision is the verdict of an arbiter on a pair of job records.
type Decision struct {
	SameJob    bool       `json:"same_job"`
	Confidence float64    `json:"confidence"`
	Preferred  Preference `json:"preferred"`
	Reason     string     `json:"reason,omitempty"`
	Raw        string     `json:"-"`
}

// Arbiter decides whether two records describe the same job.
type Arbiter interface {
	Compare(ctx context.Context, a, b *jobs.Record) (*Decision, error)
}

// Generator produces a text completion for a system instruction and a user message.
type Generator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}
