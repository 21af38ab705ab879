package arbitration

import (
	"github.com/spigell/job-aggregator/internal/ai"
	"github.com/spigell/job-aggregator/internal/jobs"
)

// Merge describes a confirmed pair: Removed is dropped in favour of Kept.
type Merge struct {
	Kept     *jobs.Record
	Removed  *jobs.Record
	Decision *ai.Decision
}

// Apply drops the non-preferred record of every confirmed pair from unique.
// Dropping a record that is not in unique is a no-op, except for persisted
// records: those are never dropped, and the unique partner goes instead.
// A pair is skipped when the record it would keep was already removed by an
// earlier merge. Kept records are enriched with the optional fields of the
// removed ones.
func Apply(unique, persisted []*jobs.Record, resolutions []Resolution, minConfidence float64) ([]*jobs.Record, []Merge) {
	present := make(map[string]bool, len(unique))
	for _, rec := range unique {
		if rec != nil {
			present[rec.JobID] = true
		}
	}
	seed := make(map[string]bool, len(persisted))
	for _, rec := range persisted {
		if rec != nil && !present[rec.JobID] {
			seed[rec.JobID] = true
		}
	}

	removed := make(map[string]bool)
	var merges []Merge

	for _, res := range resolutions {
		if !res.Confirmed(minConfidence) {
			continue
		}

		keep, drop := res.Pair.A, res.Pair.B
		if res.Decision.Preferred == ai.PreferB {
			keep, drop = drop, keep
		}
		if seed[drop.JobID] {
			keep, drop = drop, keep
		}
		if !present[drop.JobID] || keep.JobID == drop.JobID {
			continue
		}
		if removed[keep.JobID] || removed[drop.JobID] {
			continue
		}

		removed[drop.JobID] = true
		keep.Enrich(drop)
		merges = append(merges, Merge{Kept: keep, Removed: drop, Decision: res.Decision})
	}

	if len(removed) == 0 {
		return unique, merges
	}

	kept := make([]*jobs.Record, 0, len(unique)-len(removed))
	for _, rec := range unique {
		if rec != nil && removed[rec.JobID] {
			continue
		}
		kept = append(kept, rec)
	}

	return kept, merges
}
