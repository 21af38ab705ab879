// Package sources turns external job feeds into normalized records.
package sources

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/logger"
)

const DefaultConcurrency = 8

// Source produces raw job records. Fetch may leave Source empty, Collect fills
// it with Name.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]*jobs.Record, error)
}

// Collect fetches all sources concurrently and returns normalized records in
// source order. A failing source is logged and skipped.
func Collect(ctx context.Context, srcs []Source, concurrency int, log *zap.Logger) ([]*jobs.Record, error) {
	log = logger.WithFields(log, zap.String("component", "sources"))
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([][]*jobs.Record, len(srcs))

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, src := range srcs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			records, err := src.Fetch(ctx)
			if err != nil {
				log.Warn("source failed, skipping", zap.String("source", src.Name()), zap.Error(err))
				return nil
			}

			normalized := make([]*jobs.Record, 0, len(records))
			for _, rec := range records {
				if rec == nil {
					continue
				}
				if rec.Source == "" {
					rec.Source = src.Name()
				}
				rec.Normalize()
				normalized = append(normalized, rec)
			}
			results[i] = normalized

			log.Debug("source fetched", zap.String("source", src.Name()), zap.Int("count", len(normalized)))
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*jobs.Record
	for _, records := range results {
		out = append(out, records...)
	}
	return out, nil
}

// Static serves a fixed list of records.
type Static struct {
	name    string
	records []*jobs.Record
}

func NewStatic(name string, records []*jobs.Record) *Static {
	return &Static{name: name, records: records}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Fetch(context.Context) ([]*jobs.Record, error) {
	return s.records, nil
}

// expand resolves glob patterns into a sorted list of unique paths.
func expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			paths = append(paths, m)
		}
	}

	return paths, nil
}
