package arbitration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-aggregator/internal/ai"
	"github.com/spigell/job-aggregator/internal/dedupe"
	"github.com/spigell/job-aggregator/internal/jobs"
)

type stubArbiter struct {
	decide   func(a, b *jobs.Record) (*ai.Decision, error)
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (s *stubArbiter) Compare(ctx context.Context, a, b *jobs.Record) (*ai.Decision, error) {
	s.calls.Add(1)
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if cur <= peak || s.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.decide(a, b)
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]*ai.Decision
	err   error
}

func (m *memoryCache) Lookup(_ context.Context, key string) (*ai.Decision, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	d, ok := m.items[key]
	return d, ok, nil
}

func (m *memoryCache) Save(_ context.Context, key string, d *ai.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]*ai.Decision)
	}
	m.items[key] = d
	return nil
}

func record(id, title string) *jobs.Record {
	return &jobs.Record{JobID: id, Title: title, Company: "Acme"}
}

func newJob(source, title, url, posted string) *jobs.Record {
	rec := &jobs.Record{Source: source, Title: title, Company: "Acme", URL: url, PostedAt: jobs.ParseDate(posted)}
	rec.Normalize()
	return rec
}

func same(preferred ai.Preference, confidence float64) func(a, b *jobs.Record) (*ai.Decision, error) {
	return func(a, b *jobs.Record) (*ai.Decision, error) {
		return &ai.Decision{SameJob: true, Confidence: confidence, Preferred: preferred}, nil
	}
}

func TestResolveKeepsOrderAndBoundsConcurrency(t *testing.T) {
	arbiter := &stubArbiter{decide: same(ai.PreferA, 0.9), delay: 10 * time.Millisecond}

	var pairs []dedupe.UncertainPair
	for i := 0; i < 8; i++ {
		pairs = append(pairs, dedupe.UncertainPair{
			A: record(string(rune('a'+i)), "A"),
			B: record(string(rune('A'+i)), "B"),
		})
	}

	results, err := Resolve(context.Background(), arbiter, pairs, Options{Concurrency: 2})
	require.NoError(t, err)
	require.Len(t, results, len(pairs))

	for i, res := range results {
		assert.Same(t, pairs[i].A, res.Pair.A)
		assert.True(t, res.Confirmed(0.7))
	}
	assert.EqualValues(t, 8, arbiter.calls.Load())
	assert.LessOrEqual(t, arbiter.peak.Load(), int32(2))
}

func TestResolveTreatsFailuresAsDifferentJobs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	failure := errors.New("llm down")
	arbiter := &stubArbiter{decide: func(a, b *jobs.Record) (*ai.Decision, error) {
		if a.JobID == "a1" {
			return nil, failure
		}
		return &ai.Decision{SameJob: true, Confidence: 0.95}, nil
	}}

	pairs := []dedupe.UncertainPair{
		{A: record("a1", "x"), B: record("b1", "x")},
		{A: record("a2", "x"), B: record("b2", "x")},
	}

	results, err := Resolve(context.Background(), arbiter, pairs, Options{Logger: zap.New(core)})
	require.NoError(t, err)

	assert.ErrorIs(t, results[0].Err, failure)
	assert.False(t, results[0].Confirmed(0))
	assert.True(t, results[1].Confirmed(0.9))
	assert.Equal(t, 1, logs.FilterMessage("arbitration failed, treating pair as different jobs").Len())
}

func TestResolveTimesOutSlowCalls(t *testing.T) {
	arbiter := &stubArbiter{decide: same(ai.PreferA, 1), delay: time.Second}
	pairs := []dedupe.UncertainPair{{A: record("a", "x"), B: record("b", "x")}}

	results, err := Resolve(context.Background(), arbiter, pairs, Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.False(t, results[0].Confirmed(0))
}

func TestResolveStopsOnCancellation(t *testing.T) {
	arbiter := &stubArbiter{decide: same(ai.PreferA, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pairs := []dedupe.UncertainPair{{A: record("a", "x"), B: record("b", "x")}}
	_, err := Resolve(ctx, arbiter, pairs, Options{RequestsPerSecond: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveUsesCacheInBothOrders(t *testing.T) {
	cache := &memoryCache{}
	arbiter := &stubArbiter{decide: same(ai.PreferB, 0.8)}

	low, high := record("111", "x"), record("999", "x")

	first, err := Resolve(context.Background(), arbiter, []dedupe.UncertainPair{{A: low, B: high}}, Options{Cache: cache})
	require.NoError(t, err)
	assert.False(t, first[0].Cached)
	assert.Equal(t, ai.PreferB, first[0].Decision.Preferred)

	second, err := Resolve(context.Background(), arbiter, []dedupe.UncertainPair{{A: high, B: low}}, Options{Cache: cache})
	require.NoError(t, err)
	assert.True(t, second[0].Cached)
	// still prefers the record with id 999
	assert.Equal(t, ai.PreferA, second[0].Decision.Preferred)
	assert.EqualValues(t, 1, arbiter.calls.Load())
}

func TestResolveAbortsOnCacheError(t *testing.T) {
	cache := &memoryCache{err: errors.New("disk full")}
	arbiter := &stubArbiter{decide: same(ai.PreferA, 1)}

	_, err := Resolve(context.Background(), arbiter, []dedupe.UncertainPair{{A: record("a", "x"), B: record("b", "x")}}, Options{Cache: cache})
	assert.Error(t, err)
}

func TestResolveRequiresArbiter(t *testing.T) {
	_, err := Resolve(context.Background(), nil, nil, Options{})
	assert.Error(t, err)
}

func confirmed(a, b *jobs.Record, preferred ai.Preference, confidence float64) Resolution {
	return Resolution{
		Pair:     dedupe.UncertainPair{A: a, B: b},
		Decision: &ai.Decision{SameJob: true, Confidence: confidence, Preferred: preferred},
	}
}

func TestApply(t *testing.T) {
	t.Run("removes non preferred record", func(t *testing.T) {
		a, b, c := record("a", "A"), record("b", "B"), record("c", "C")
		desc := "full text"
		b.DescriptionText = desc

		kept, merges := Apply([]*jobs.Record{a, b, c}, nil, []Resolution{confirmed(b, a, ai.PreferB, 0.9)}, 0.7)

		assert.Equal(t, []*jobs.Record{a, c}, kept)
		require.Len(t, merges, 1)
		assert.Same(t, a, merges[0].Kept)
		assert.Same(t, b, merges[0].Removed)
		assert.Equal(t, desc, a.DescriptionText)
	})

	t.Run("respects confidence cutoff and rejections", func(t *testing.T) {
		a, b, c := record("a", "A"), record("b", "B"), record("c", "C")
		resolutions := []Resolution{
			confirmed(a, b, ai.PreferA, 0.5),
			{Pair: dedupe.UncertainPair{A: a, B: c}, Decision: &ai.Decision{SameJob: false, Confidence: 1}},
			{Pair: dedupe.UncertainPair{A: b, B: c}, Err: errors.New("failed")},
		}

		kept, merges := Apply([]*jobs.Record{a, b, c}, nil, resolutions, 0.7)
		assert.Equal(t, []*jobs.Record{a, b, c}, kept)
		assert.Empty(t, merges)
	})

	t.Run("does not remove a record whose preferred partner is gone", func(t *testing.T) {
		a, b, c := record("a", "A"), record("b", "B"), record("c", "C")
		resolutions := []Resolution{
			confirmed(a, b, ai.PreferA, 0.9), // b removed
			confirmed(c, b, ai.PreferB, 0.9), // would keep b, skipped
		}

		kept, merges := Apply([]*jobs.Record{a, b, c}, nil, resolutions, 0.7)
		assert.Equal(t, []*jobs.Record{a, c}, kept)
		assert.Len(t, merges, 1)
	})

	t.Run("never removes persisted records", func(t *testing.T) {
		incoming, seed := record("new", "A"), record("old", "A")

		kept, merges := Apply([]*jobs.Record{incoming}, []*jobs.Record{seed}, []Resolution{confirmed(incoming, seed, ai.PreferA, 0.9)}, 0.7)
		assert.Empty(t, kept)
		require.Len(t, merges, 1)
		assert.Same(t, seed, merges[0].Kept)
	})

	t.Run("keeps the preferred record when the other one was already discarded", func(t *testing.T) {
		earlier := newJob("board", "Senior Go Platform Engineer Remote Team", "https://board.example/1", "2026-03-01")
		later := newJob("careers", "Senior Go Platform Engineer Berlin", "https://acme.example/2", "2026-03-02")
		incoming := newJob("feed", "Senior Go Platform Engineer", "https://feed.example/3", "2026-03-03")

		engine := dedupe.New(dedupe.DefaultConfig(), nil)
		res := engine.Dedupe([]*jobs.Record{earlier, later, incoming}, nil, true)
		require.Len(t, res.Unique, 2)
		require.Len(t, res.Uncertain, 1)
		pair := res.Uncertain[0]
		require.Same(t, incoming, pair.A)
		require.Same(t, earlier, pair.B)

		kept, merges := Apply(res.Unique, nil, []Resolution{confirmed(pair.A, pair.B, ai.PreferB, 0.9)}, 0.7)

		assert.Equal(t, res.Unique, kept)
		assert.Contains(t, kept, earlier)
		assert.Empty(t, merges)
	})

	t.Run("unknown records are not treated as persisted", func(t *testing.T) {
		a, b := record("a", "A"), record("b", "B")
		outsider := record("z", "Z")

		kept, merges := Apply([]*jobs.Record{a, b}, nil, []Resolution{confirmed(a, outsider, ai.PreferA, 0.9)}, 0.7)
		assert.Equal(t, []*jobs.Record{a, b}, kept)
		assert.Empty(t, merges)
	})
}
