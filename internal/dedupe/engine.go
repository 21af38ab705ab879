package dedupe

import (
	"go.uber.org/zap"

	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/logger"
	"github.com/spigell/job-aggregator/internal/similarity"
)

// Engine applies the three matching tiers. Its indexes are rebuilt on every
// Dedupe call.
type Engine struct {
	config Config
	logger *zap.Logger
	index  *index
}

// New creates an engine. A nil logger disables logging.
func New(config Config, log *zap.Logger) *Engine {
	return &Engine{
		config: config,
		logger: logger.WithFields(log, zap.String("component", "dedupe")),
		index:  newIndex(),
	}
}

// Dedupe returns the records of newRecords that are not duplicates of an
// earlier record or of existing. Existing records only seed the indexes: they
// are never emitted nor counted. Uncertain pairs are collected only when
// trackUncertain is set.
func (e *Engine) Dedupe(newRecords, existing []*jobs.Record, trackUncertain bool) *Result {
	e.index = newIndex()
	for _, rec := range existing {
		if rec == nil {
			continue
		}
		e.index.add(rec)
	}

	result := &Result{Unique: make([]*jobs.Record, 0, len(newRecords))}
	var uncertain []UncertainPair

	for _, rec := range newRecords {
		if rec == nil {
			continue
		}

		dup, pairs := e.match(rec, trackUncertain)
		uncertain = append(uncertain, pairs...)

		if dup == nil {
			e.index.add(rec)
			result.Unique = append(result.Unique, rec)
			continue
		}

		result.count(*dup)
		e.logger.Debug("duplicate detected",
			zap.String("job_id", rec.JobID),
			zap.String("duplicate_of", dup.Of.JobID),
			zap.String("tier", string(dup.Tier)),
		)
	}

	result.Uncertain = uniquePairs(uncertain)

	return result
}

func (e *Engine) match(rec *jobs.Record, trackUncertain bool) (*Duplicate, []UncertainPair) {
	if of := e.index.lookupProvider(rec); of != nil {
		return &Duplicate{Record: rec, Of: of, Tier: TierProviderID}, nil
	}

	if of := e.index.lookupURL(rec); of != nil {
		return &Duplicate{Record: rec, Of: of, Tier: TierURL}, nil
	}

	standard := e.config.Thresholds
	relaxed := standard.Relaxed(e.config.UncertainMargin)

	var pairs []UncertainPair
	for _, candidate := range e.index.bucket(rec) {
		if similarity.AreLikelyDuplicates(rec, candidate, standard) {
			return &Duplicate{Record: rec, Of: candidate, Tier: TierFuzzy}, pairs
		}

		if trackUncertain && similarity.AreLikelyDuplicates(rec, candidate, relaxed) {
			e.logger.Debug("uncertain pair",
				zap.String("job_id", rec.JobID),
				zap.String("candidate_id", candidate.JobID),
			)
			pairs = append(pairs, UncertainPair{A: rec, B: candidate})
		}
	}

	return nil, pairs
}

// uniquePairs keeps the first pair for every unordered job id pair.
func uniquePairs(pairs []UncertainPair) []UncertainPair {
	if len(pairs) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(pairs))
	out := make([]UncertainPair, 0, len(pairs))
	for _, pair := range pairs {
		key := pair.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, pair)
	}
	return out
}

// Dedupe runs a fresh engine with the default configuration.
func Dedupe(newRecords, existing []*jobs.Record, trackUncertain bool) *Result {
	return New(DefaultConfig(), nil).Dedupe(newRecords, existing, trackUncertain)
}
