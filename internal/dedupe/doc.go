// Package dedupe removes duplicate job records that arrive from unrelated
// sources without a shared id space.
//
// Records are matched in three tiers, first match wins:
//
//  1. provider id: the same "source:provider_id" pair was already indexed;
//  2. url: the canonical job url or apply url was already indexed;
//  3. fuzzy: a record in the same company-prefix bucket passes
//     similarity.AreLikelyDuplicates with the standard thresholds.
//
// Records that fail the fuzzy check but pass it with relaxed thresholds are
// reported as uncertain pairs so that a caller can ask an external arbiter.
// A discarded record is never indexed: later records are compared with the
// first record seen, not with its near-duplicates.
//
// An Engine is not safe for concurrent use and input records must not be
// mutated while Dedupe runs.
package dedupe
