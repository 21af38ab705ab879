package dedupe

import "github.com/spigell/job-aggregator/internal/jobs"

// Tier names the strategy that detected a duplicate.
type Tier string

const (
	TierProviderID Tier = "provider_id"
	TierURL        Tier = "url"
	TierFuzzy      Tier = "fuzzy"
)

// UncertainPair holds a record and an indexed candidate that only match under
// relaxed thresholds. A is the incoming record, B the candidate.
type UncertainPair struct {
	A *jobs.Record
	B *jobs.Record
}

// Key identifies the pair regardless of order.
func (p UncertainPair) Key() string {
	return PairKey(p.A.JobID, p.B.JobID)
}

// PairKey builds an order independent key from two job ids.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Duplicate records why a record was discarded.
type Duplicate struct {
	Record *jobs.Record
	Of     *jobs.Record
	Tier   Tier
}

// Result is the outcome of a single Dedupe call.
type Result struct {
	Unique []*jobs.Record

	DuplicatesRemoved      int
	DuplicatesByProviderID int
	DuplicatesByURL        int
	DuplicatesByFuzzy      int

	Uncertain  []UncertainPair
	Duplicates []Duplicate
}

func (r *Result) count(d Duplicate) {
	r.Duplicates = append(r.Duplicates, d)
	r.DuplicatesRemoved++

	switch d.Tier {
	case TierProviderID:
		r.DuplicatesByProviderID++
	case TierURL:
		r.DuplicatesByURL++
	case TierFuzzy:
		r.DuplicatesByFuzzy++
	}
}
