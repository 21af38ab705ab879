package filtering

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-aggregator/internal/ai"
	"github.com/spigell/job-aggregator/internal/arbitration"
	"github.com/spigell/job-aggregator/internal/dedupe"
	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/logger"
)

// PairSource provides the uncertain pairs to arbitrate, usually the dedupe step.
// Seeds lists the persisted records the pairs may refer to.
type PairSource interface {
	Uncertain() []dedupe.UncertainPair
	Seeds() []*jobs.Record
}

type ArbitrationConfig struct {
	Enabled       bool
	Provider      string
	MinConfidence float64
	Options       arbitration.Options
	// ExcludeFile receives the records merged away, when set.
	ExcludeFile string
}

type arbitrationFilter struct {
	enabled bool
	reason  string
	config  ArbitrationConfig
	arbiter ai.Arbiter
	pairs   PairSource
	logger  *zap.Logger

	merges      []arbitration.Merge
	resolutions []arbitration.Resolution
}

// ArbitrationStep is the arbitration filter with access to its merges.
type ArbitrationStep interface {
	Filter
	Merges() []arbitration.Merge
	Resolutions() []arbitration.Resolution
}

func NewArbitration(cfg ArbitrationConfig, arbiter ai.Arbiter, pairs PairSource, log *zap.Logger) ArbitrationStep {
	return &arbitrationFilter{
		enabled: cfg.Enabled,
		config:  cfg,
		arbiter: arbiter,
		pairs:   pairs,
		logger:  logger.WithFields(log),
	}
}

func (f *arbitrationFilter) Name() string { return "arbitration" }

func (f *arbitrationFilter) Disable(reason string) {
	f.enabled = false
	f.reason = reason
}

func (f *arbitrationFilter) IsEnabled() bool { return f.enabled }

func (f *arbitrationFilter) Validate() error {
	if f.arbiter == nil {
		return fmt.Errorf("arbiter is required when arbitration is enabled")
	}
	if f.pairs == nil {
		return fmt.Errorf("pair source is required when arbitration is enabled")
	}
	if f.config.MinConfidence < 0 || f.config.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be within [0, 1], got %v", f.config.MinConfidence)
	}
	return nil
}

func (f *arbitrationFilter) Apply(ctx context.Context, v *jobs.Jobs) (*jobs.Jobs, Step, error) {
	initial := v.Len()

	pairs := f.pairs.Uncertain()
	if len(pairs) == 0 {
		return v, Step{Initial: initial, Dropped: 0, Left: v.Len()}, nil
	}

	opts := f.config.Options
	if opts.Logger == nil {
		opts.Logger = f.logger
	}

	resolutions, err := arbitration.Resolve(ctx, f.arbiter, pairs, opts)
	if err != nil {
		return v, Step{}, fmt.Errorf("resolve uncertain pairs: %w", err)
	}
	f.resolutions = resolutions

	kept, merges := arbitration.Apply(v.Items, f.pairs.Seeds(), resolutions, f.config.MinConfidence)
	f.merges = merges

	for _, m := range merges {
		f.logger.Info("jobs merged by arbiter",
			zap.String("kept", m.Kept.JobID),
			zap.String("removed", m.Removed.JobID),
			zap.Float64("confidence", m.Decision.Confidence),
			zap.String("reason", m.Decision.Reason),
		)
	}

	if err := f.appendToExcludeFile(merges); err != nil {
		f.logger.Warn("failed to append merged jobs to exclude file", zap.Error(err))
	}

	next := jobs.New(kept)
	return next, Step{Initial: initial, Dropped: initial - next.Len(), Left: next.Len()}, nil
}

func (f *arbitrationFilter) appendToExcludeFile(merges []arbitration.Merge) error {
	path := strings.TrimSpace(f.config.ExcludeFile)
	if path == "" || len(merges) == 0 {
		return nil
	}

	excluded, err := jobs.GetExcludedJobsFromFile(path)
	if err != nil {
		return fmt.Errorf("load excluded jobs: %w", err)
	}

	for _, m := range merges {
		reason := fmt.Sprintf("duplicate of %s", m.Kept.JobID)
		if m.Decision.Reason != "" {
			reason += ": " + m.Decision.Reason
		}
		excluded.Append(jobs.New([]*jobs.Record{m.Removed}).ToExcluded(jobs.ExcludeActorArbiter, reason))
	}

	if err := excluded.ToFile(path); err != nil {
		return fmt.Errorf("write excluded jobs: %w", err)
	}
	return nil
}

func (f *arbitrationFilter) Merges() []arbitration.Merge { return f.merges }

func (f *arbitrationFilter) Resolutions() []arbitration.Resolution { return f.resolutions }

func (f *arbitrationFilter) Status() Status {
	details := map[string]string{
		"min_confidence": fmt.Sprintf("%.2f", f.config.MinConfidence),
	}
	if f.config.Provider != "" {
		details["provider"] = f.config.Provider
	}
	if f.config.Options.Concurrency > 0 {
		details["concurrency"] = fmt.Sprint(f.config.Options.Concurrency)
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
