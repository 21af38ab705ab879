// Package arbitration resolves uncertain duplicate pairs with an external arbiter
// and merges the confirmed ones.
package arbitration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spigell/job-aggregator/internal/ai"
	"github.com/spigell/job-aggregator/internal/dedupe"
	"github.com/spigell/job-aggregator/internal/logger"
)

const (
	DefaultConcurrency   = 5
	DefaultTimeout       = 30 * time.Second
	DefaultMinConfidence = 0.7
)

// Cache keeps decisions between runs. Keys are built with dedupe.PairKey.
type Cache interface {
	Lookup(ctx context.Context, key string) (*ai.Decision, bool, error)
	Save(ctx context.Context, key string, decision *ai.Decision) error
}

type Options struct {
	Concurrency       int
	RequestsPerSecond float64
	Timeout           time.Duration
	Cache             Cache
	Logger            *zap.Logger
}

// Resolution is the outcome for a single pair. Err is set when the arbiter
// failed, in which case the pair counts as different jobs.
type Resolution struct {
	Pair     dedupe.UncertainPair
	Decision *ai.Decision
	Cached   bool
	Err      error
}

// Confirmed reports whether the pair is the same job with enough confidence.
func (r Resolution) Confirmed(minConfidence float64) bool {
	return r.Err == nil && r.Decision != nil && r.Decision.SameJob && r.Decision.Confidence >= minConfidence
}

// Resolve asks the arbiter about every pair. Results keep the order of pairs.
// Arbiter failures are recorded per pair; only cancellation and cache errors abort.
func Resolve(ctx context.Context, arbiter ai.Arbiter, pairs []dedupe.UncertainPair, opts Options) ([]Resolution, error) {
	if arbiter == nil {
		return nil, fmt.Errorf("arbiter is required")
	}

	log := logger.WithFields(opts.Logger, zap.String("component", "arbitration"))

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	results := make([]Resolution, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, pair := range pairs {
		g.Go(func() error {
			res, err := resolveOne(gctx, arbiter, pair, limiter, timeout, opts.Cache, log)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func resolveOne(ctx context.Context, arbiter ai.Arbiter, pair dedupe.UncertainPair, limiter *rate.Limiter, timeout time.Duration, cache Cache, log *zap.Logger) (Resolution, error) {
	res := Resolution{Pair: pair}
	if pair.A == nil || pair.B == nil {
		res.Err = fmt.Errorf("incomplete pair")
		return res, nil
	}
	key := pair.Key()

	if cache != nil {
		decision, ok, err := cache.Lookup(ctx, key)
		if err != nil {
			return res, fmt.Errorf("lookup decision %s: %w", key, err)
		}
		if ok {
			res.Decision = orient(decision, pair)
			res.Cached = true
			return res, nil
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return res, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decision, err := arbiter.Compare(callCtx, pair.A, pair.B)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log.Warn("arbitration failed, treating pair as different jobs",
			zap.String("job_a", pair.A.JobID),
			zap.String("job_b", pair.B.JobID),
			zap.Error(err),
		)
		res.Err = err
		return res, nil
	}

	res.Decision = decision
	log.Debug("pair arbitrated",
		zap.String("job_a", pair.A.JobID),
		zap.String("job_b", pair.B.JobID),
		zap.Bool("same_job", decision.SameJob),
		zap.Float64("confidence", decision.Confidence),
		zap.String("preferred", string(decision.Preferred)),
	)

	if cache != nil {
		if err := cache.Save(ctx, key, canonical(decision, pair)); err != nil {
			return res, fmt.Errorf("save decision %s: %w", key, err)
		}
	}

	return res, nil
}

// canonical rewrites the preference relative to the lower job id, matching the
// pair key, so that cached decisions can be reused whichever side is A.
func canonical(d *ai.Decision, pair dedupe.UncertainPair) *ai.Decision {
	if pair.A.JobID <= pair.B.JobID {
		return d
	}
	return flip(d)
}

// orient converts a cached canonical decision back to the pair's own order.
func orient(d *ai.Decision, pair dedupe.UncertainPair) *ai.Decision {
	if d == nil || pair.A.JobID <= pair.B.JobID {
		return d
	}
	return flip(d)
}

func flip(d *ai.Decision) *ai.Decision {
	out := *d
	if d.Preferred == ai.PreferB {
		out.Preferred = ai.PreferA
	} else {
		out.Preferred = ai.PreferB
	}
	return &out
}
