package filtering

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-aggregator/internal/dedupe"
	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/logger"
)

// SeedLoader returns previously persisted records that take part in matching.
type SeedLoader interface {
	LoadSince(ctx context.Context, since time.Time) ([]*jobs.Record, error)
}

type DedupeConfig struct {
	TrackUncertain bool
	// SeedWindow limits seeds to records seen within the window. Zero loads none.
	SeedWindow time.Duration
}

type dedupeFilter struct {
	engine *dedupe.Engine
	seeds  SeedLoader
	config DedupeConfig
	logger *zap.Logger
	now    func() time.Time

	result  *dedupe.Result
	loaded  []*jobs.Record
	touched []*jobs.Record
}

// DedupeStep is the dedupe filter. Later steps and the caller read its results.
type DedupeStep interface {
	Filter
	Result() *dedupe.Result
	Uncertain() []dedupe.UncertainPair
	// Touched lists seed records matched by incoming duplicates. They were
	// enriched in place and need to be persisted again.
	Touched() []*jobs.Record
	// Seeds lists the persisted records loaded for the last run.
	Seeds() []*jobs.Record
}

func NewDedupe(engine *dedupe.Engine, seeds SeedLoader, cfg DedupeConfig, log *zap.Logger) DedupeStep {
	return &dedupeFilter{
		engine: engine,
		seeds:  seeds,
		config: cfg,
		logger: logger.WithFields(log),
		now:    time.Now,
	}
}

func (f *dedupeFilter) Name() string { return "dedupe" }

func (f *dedupeFilter) Disable(string) {}

func (f *dedupeFilter) IsEnabled() bool { return true }

func (f *dedupeFilter) Validate() error {
	if f.engine == nil {
		return fmt.Errorf("dedupe engine is required")
	}
	return nil
}

func (f *dedupeFilter) Apply(ctx context.Context, v *jobs.Jobs) (*jobs.Jobs, Step, error) {
	initial := v.Len()

	var seeds []*jobs.Record
	if f.seeds != nil && f.config.SeedWindow > 0 {
		loaded, err := f.seeds.LoadSince(ctx, f.now().Add(-f.config.SeedWindow))
		if err != nil {
			return v, Step{}, fmt.Errorf("load seed records: %w", err)
		}
		seeds = loaded
	}
	f.loaded = seeds

	result := f.engine.Dedupe(v.Items, seeds, f.config.TrackUncertain)
	f.result = result

	unique := make(map[*jobs.Record]bool, len(result.Unique))
	for _, rec := range result.Unique {
		unique[rec] = true
	}

	f.touched = nil
	seen := make(map[*jobs.Record]bool)
	for _, dup := range result.Duplicates {
		dup.Of.Enrich(dup.Record)
		f.logger.Debug("duplicate dropped", append(logger.JobFields(dup.Record),
			zap.String("tier", string(dup.Tier)),
			zap.String("duplicate_of", dup.Of.JobID),
		)...)
		if !unique[dup.Of] && !seen[dup.Of] {
			seen[dup.Of] = true
			f.touched = append(f.touched, dup.Of)
		}
	}

	f.logger.Info("dedupe completed",
		zap.Int("input", initial),
		zap.Int("seeds", len(seeds)),
		zap.Int("unique", len(result.Unique)),
		zap.Int("duplicates_removed", result.DuplicatesRemoved),
		zap.Int("by_provider_id", result.DuplicatesByProviderID),
		zap.Int("by_url", result.DuplicatesByURL),
		zap.Int("by_fuzzy", result.DuplicatesByFuzzy),
		zap.Int("uncertain_pairs", len(result.Uncertain)),
	)

	next := jobs.New(result.Unique)
	return next, Step{Initial: initial, Dropped: initial - next.Len(), Left: next.Len()}, nil
}

func (f *dedupeFilter) Result() *dedupe.Result { return f.result }

func (f *dedupeFilter) Uncertain() []dedupe.UncertainPair {
	if f.result == nil {
		return nil
	}
	return f.result.Uncertain
}

func (f *dedupeFilter) Touched() []*jobs.Record { return f.touched }

func (f *dedupeFilter) Seeds() []*jobs.Record { return f.loaded }

func (f *dedupeFilter) Status() Status {
	details := map[string]string{
		"track_uncertain": strconv.FormatBool(f.config.TrackUncertain),
		"seed_window":     f.config.SeedWindow.String(),
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
