package filtering

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/job-aggregator/internal/ai"
	"github.com/spigell/job-aggregator/internal/dedupe"
	"github.com/spigell/job-aggregator/internal/jobs"
)

func newRecord(source, providerID, title, company, location, url string) *jobs.Record {
	rec := &jobs.Record{
		Source:      source,
		ProviderID:  providerID,
		Title:       title,
		Company:     company,
		LocationRaw: location,
		URL:         url,
	}
	rec.Normalize()
	return rec
}

type stubFilter struct {
	name        string
	enabled     bool
	validateErr error
	applyErr    error
	drop        int
	applied     bool
}

func (s *stubFilter) Name() string    { return s.name }
func (s *stubFilter) Disable(string)  { s.enabled = false }
func (s *stubFilter) IsEnabled() bool { return s.enabled }
func (s *stubFilter) Validate() error { return s.validateErr }
func (s *stubFilter) Apply(_ context.Context, v *jobs.Jobs) (*jobs.Jobs, Step, error) {
	s.applied = true
	if s.applyErr != nil {
		return v, Step{}, s.applyErr
	}
	initial := v.Len()
	v.Items = v.Items[s.drop:]
	return v, Step{Initial: initial, Dropped: s.drop, Left: v.Len()}, nil
}

func TestRunFiltersAppliesEnabledStepsInOrder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	first := &stubFilter{name: "first", enabled: true, drop: 1}
	disabled := &stubFilter{name: "disabled", enabled: true}
	last := &stubFilter{name: "last", enabled: true, drop: 1}

	f := New([]Filter{first, disabled, last}, zap.New(core))
	f.DisableByName("disabled", "test")

	v := jobs.New([]*jobs.Record{{JobID: "a"}, {JobID: "b"}, {JobID: "c"}})
	out, err := f.RunFilters(context.Background(), v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Len() != 1 || out.Items[0].JobID != "c" {
		t.Fatalf("unexpected result: %v", out.IDs())
	}
	if disabled.applied {
		t.Fatal("disabled filter must not run")
	}

	steps := logs.FilterMessage("filter step").All()
	if len(steps) != 2 {
		t.Fatalf("expected 2 step logs, got %d", len(steps))
	}
	if got := steps[1].ContextMap()["left"]; got != int64(1) {
		t.Fatalf("unexpected left count: %v", got)
	}
	if logs.FilterMessage("filter disabled").Len() != 1 {
		t.Fatal("expected disabled filter to be logged")
	}
}

func TestRunFiltersValidatesBeforeApplying(t *testing.T) {
	first := &stubFilter{name: "first", enabled: true}
	broken := &stubFilter{name: "broken", enabled: true, validateErr: errors.New("bad config")}

	_, err := New([]Filter{first, broken}, nil).RunFilters(context.Background(), jobs.New(nil))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if first.applied {
		t.Fatal("no step should run when validation fails")
	}

	failing := &stubFilter{name: "failing", enabled: true, applyErr: errors.New("boom")}
	if _, err := New([]Filter{failing}, nil).RunFilters(context.Background(), jobs.New(nil)); err == nil {
		t.Fatal("expected apply error")
	}
}

func TestDescribe(t *testing.T) {
	f := New([]Filter{
		NewExcludedCompanies([]string{"Acme", "Globex"}, nil),
		&stubFilter{name: "plain", enabled: true},
	}, nil)

	statuses := f.Describe()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Details["companies"] != "Acme,Globex" {
		t.Fatalf("unexpected details: %v", statuses[0].Details)
	}
	if statuses[1].Name != "plain" || !statuses[1].Enabled {
		t.Fatalf("unexpected status: %+v", statuses[1])
	}
}

func TestExcludedCompanies(t *testing.T) {
	v := jobs.New([]*jobs.Record{
		newRecord("a", "1", "Go Developer", "ACME", "Berlin", ""),
		newRecord("a", "2", "Go Developer", "Globex", "Berlin", ""),
	})

	out, step, err := NewExcludedCompanies([]string{"Acme GmbH"}, nil).Apply(context.Background(), v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step != (Step{Initial: 2, Dropped: 1, Left: 1}) {
		t.Fatalf("unexpected step: %+v", step)
	}
	if out.Items[0].Company != "Globex" {
		t.Fatalf("unexpected survivor: %s", out.Items[0].Company)
	}
}

func TestExcludeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclude.json")
	a := newRecord("a", "1", "Go Developer", "Acme", "Berlin", "")
	b := newRecord("a", "2", "SRE", "Acme", "Berlin", "")

	if err := jobs.New([]*jobs.Record{a}).ToExcluded(jobs.ExcludeActorUser, "").ToFile(path); err != nil {
		t.Fatalf("write exclude file: %v", err)
	}

	out, step, err := NewExcludeFile(path, nil).Apply(context.Background(), jobs.New([]*jobs.Record{a, b}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Dropped != 1 || out.Items[0] != b {
		t.Fatalf("unexpected result: %+v %v", step, out.IDs())
	}

	// missing file is not an error
	if _, _, err := NewExcludeFile(filepath.Join(t.TempDir(), "none.json"), nil).Apply(context.Background(), jobs.New(nil)); err != nil {
		t.Fatalf("unexpected error for missing file: %v", err)
	}

	broken := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(broken, []byte("{"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}
	if _, _, err := NewExcludeFile(broken, nil).Apply(context.Background(), jobs.New(nil)); err == nil {
		t.Fatal("expected error for broken exclude file")
	}
}

type stubSeeds struct {
	records []*jobs.Record
	since   time.Time
	err     error
}

func (s *stubSeeds) LoadSince(_ context.Context, since time.Time) ([]*jobs.Record, error) {
	s.since = since
	return s.records, s.err
}

func TestDedupeStepSeedsAndTouches(t *testing.T) {
	seed := newRecord("board", "7", "Go Developer", "Acme", "Berlin", "https://board.example/7")
	again := newRecord("board", "7", "Go Developer", "Acme", "Berlin", "https://board.example/7")
	again.DescriptionText = "fresh description"
	fresh := newRecord("careers", "", "Data Engineer", "Globex", "Remote", "https://globex.example/jobs/1")
	mirror := newRecord("mirror", "", "Data Engineer", "Globex", "Remote", "https://globex.example/jobs/1?utm_source=x")
	mirror.DescriptionText = "mirror text"

	seeds := &stubSeeds{records: []*jobs.Record{seed}}
	step := NewDedupe(dedupe.New(dedupe.DefaultConfig(), nil), seeds, DedupeConfig{TrackUncertain: true, SeedWindow: 24 * time.Hour}, nil)
	if err := step.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	step.(*dedupeFilter).now = func() time.Time { return now }

	out, info, err := step.Apply(context.Background(), jobs.New([]*jobs.Record{again, fresh, mirror}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !seeds.since.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected seed window start: %v", seeds.since)
	}
	if out.Len() != 1 || out.Items[0] != fresh {
		t.Fatalf("unexpected unique records: %v", out.IDs())
	}
	if info != (Step{Initial: 3, Dropped: 2, Left: 1}) {
		t.Fatalf("unexpected step: %+v", info)
	}
	if step.Result().DuplicatesByProviderID != 1 || step.Result().DuplicatesByURL != 1 {
		t.Fatalf("unexpected counters: %+v", step.Result())
	}
	if fresh.DescriptionText != "mirror text" {
		t.Fatalf("kept record was not enriched: %q", fresh.DescriptionText)
	}

	touched := step.Touched()
	if len(touched) != 1 || touched[0] != seed || seed.DescriptionText != "fresh description" {
		t.Fatalf("unexpected touched seeds: %+v", touched)
	}
}

func TestDedupeStepSeedErrors(t *testing.T) {
	step := NewDedupe(dedupe.New(dedupe.DefaultConfig(), nil), &stubSeeds{err: errors.New("db down")}, DedupeConfig{SeedWindow: time.Hour}, nil)
	if _, _, err := step.Apply(context.Background(), jobs.New(nil)); err == nil {
		t.Fatal("expected seed load error")
	}

	if err := NewDedupe(nil, nil, DedupeConfig{}, nil).Validate(); err == nil {
		t.Fatal("expected validation error without engine")
	}
}

type fixedPairs []dedupe.UncertainPair

func (p fixedPairs) Uncertain() []dedupe.UncertainPair { return p }

func (p fixedPairs) Seeds() []*jobs.Record { return nil }

type seededPairs struct {
	fixedPairs
	seeds []*jobs.Record
}

func (p seededPairs) Seeds() []*jobs.Record { return p.seeds }

type stubArbiter struct {
	decision *ai.Decision
	err      error
}

func (s stubArbiter) Compare(context.Context, *jobs.Record, *jobs.Record) (*ai.Decision, error) {
	return s.decision, s.err
}

func TestArbitrationStepMergesConfirmedPairs(t *testing.T) {
	a := newRecord("board", "", "Senior Go Developer", "Acme", "Berlin", "https://board.example/1")
	b := newRecord("careers", "", "Go Developer Senior", "Acme Inc", "Berlin", "https://acme.example/jobs/1")
	b.DescriptionText = "details"

	excludeFile := filepath.Join(t.TempDir(), "exclude.json")
	step := NewArbitration(ArbitrationConfig{Enabled: true, MinConfidence: 0.7, ExcludeFile: excludeFile},
		stubArbiter{decision: &ai.Decision{SameJob: true, Confidence: 0.9, Preferred: ai.PreferA, Reason: "same role"}},
		fixedPairs{{A: a, B: b}},
		nil,
	)
	if err := step.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	out, info, err := step.Apply(context.Background(), jobs.New([]*jobs.Record{a, b}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 1 || out.Items[0] != a || info.Dropped != 1 {
		t.Fatalf("unexpected result: %v %+v", out.IDs(), info)
	}
	if a.DescriptionText != "details" {
		t.Fatal("kept record was not enriched")
	}
	if len(step.Merges()) != 1 || len(step.Resolutions()) != 1 {
		t.Fatalf("unexpected merges: %+v", step.Merges())
	}

	excluded, err := jobs.GetExcludedJobsFromFile(excludeFile)
	if err != nil {
		t.Fatalf("read exclude file: %v", err)
	}
	if len(excluded.Items) != 1 || excluded.Items[0].ID != b.JobID || excluded.Items[0].Actor != jobs.ExcludeActorArbiter {
		t.Fatalf("unexpected exclude file contents: %+v", excluded.Items)
	}
}

func TestArbitrationStepKeepsPairsOnFailure(t *testing.T) {
	a := newRecord("board", "", "Go Developer", "Acme", "Berlin", "")
	b := newRecord("careers", "", "Go Dev", "Acme", "Berlin", "")

	step := NewArbitration(ArbitrationConfig{Enabled: true, MinConfidence: 0.7},
		stubArbiter{err: errors.New("unavailable")}, fixedPairs{{A: a, B: b}}, nil)

	out, _, err := step.Apply(context.Background(), jobs.New([]*jobs.Record{a, b}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("expected both records kept, got %v", out.IDs())
	}
}

func TestArbitrationStepValidation(t *testing.T) {
	tests := map[string]ArbitrationStep{
		"no arbiter":     NewArbitration(ArbitrationConfig{Enabled: true}, nil, fixedPairs{}, nil),
		"no pairs":       NewArbitration(ArbitrationConfig{Enabled: true}, stubArbiter{}, nil, nil),
		"bad confidence": NewArbitration(ArbitrationConfig{Enabled: true, MinConfidence: 1.5}, stubArbiter{}, fixedPairs{}, nil),
	}
	for name, step := range tests {
		if err := step.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	disabled := NewArbitration(ArbitrationConfig{}, nil, nil, nil)
	if disabled.IsEnabled() {
		t.Fatal("arbitration should be disabled")
	}
	disabled.Disable("no provider")
	if disabled.(*arbitrationFilter).Status().Reason != "no provider" {
		t.Fatal("expected disable reason in status")
	}
}

func TestArbitrationStepKeepsPersistedRecord(t *testing.T) {
	seed := newRecord("board", "", "Senior Go Developer", "Acme", "Berlin", "https://board.example/1")
	incoming := newRecord("careers", "", "Go Developer Senior", "Acme Inc", "Berlin", "https://acme.example/jobs/1")
	incoming.DescriptionText = "details"

	step := NewArbitration(ArbitrationConfig{Enabled: true, MinConfidence: 0.7},
		stubArbiter{decision: &ai.Decision{SameJob: true, Confidence: 0.9, Preferred: ai.PreferA}},
		seededPairs{fixedPairs: fixedPairs{{A: incoming, B: seed}}, seeds: []*jobs.Record{seed}},
		nil,
	)

	out, info, err := step.Apply(context.Background(), jobs.New([]*jobs.Record{incoming}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 0 || info.Dropped != 1 {
		t.Fatalf("expected the incoming record to be merged into the seed, got %v", out.IDs())
	}
	if len(step.Merges()) != 1 || step.Merges()[0].Kept != seed {
		t.Fatalf("unexpected merges: %+v", step.Merges())
	}
	if seed.DescriptionText != "details" {
		t.Fatal("seed was not enriched")
	}
}

func TestArbitrationStepIgnoresDroppingDiscardedRecord(t *testing.T) {
	kept := newRecord("board", "", "Senior Go Developer", "Acme", "Berlin", "https://board.example/1")
	discarded := newRecord("careers", "", "Go Developer Senior", "Acme Inc", "Berlin", "https://acme.example/jobs/1")

	step := NewArbitration(ArbitrationConfig{Enabled: true, MinConfidence: 0.7},
		stubArbiter{decision: &ai.Decision{SameJob: true, Confidence: 0.9, Preferred: ai.PreferB}},
		fixedPairs{{A: discarded, B: kept}},
		nil,
	)

	out, info, err := step.Apply(context.Background(), jobs.New([]*jobs.Record{kept}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 1 || out.Items[0] != kept || info.Dropped != 0 {
		t.Fatalf("preferred record must stay, got %v", out.IDs())
	}
	if len(step.Merges()) != 0 {
		t.Fatalf("unexpected merges: %+v", step.Merges())
	}
}
