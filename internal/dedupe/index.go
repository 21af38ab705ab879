package dedupe

import (
	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/normalize"
)

type index struct {
	byProvider map[string]*jobs.Record
	byURL      map[string]*jobs.Record
	buckets    map[string][]*jobs.Record
}

func newIndex() *index {
	return &index{
		byProvider: make(map[string]*jobs.Record),
		byURL:      make(map[string]*jobs.Record),
		buckets:    make(map[string][]*jobs.Record),
	}
}

// add indexes rec in all three indexes. Existing url and provider entries are
// kept so that lookups always resolve to the first record seen.
func (ix *index) add(rec *jobs.Record) {
	if key := rec.ProviderKey(); key != "" {
		if _, ok := ix.byProvider[key]; !ok {
			ix.byProvider[key] = rec
		}
	}

	for _, u := range recordURLs(rec) {
		if _, ok := ix.byURL[u]; !ok {
			ix.byURL[u] = rec
		}
	}

	key := bucketKey(rec)
	ix.buckets[key] = append(ix.buckets[key], rec)
}

func (ix *index) lookupProvider(rec *jobs.Record) *jobs.Record {
	key := rec.ProviderKey()
	if key == "" {
		return nil
	}
	return ix.byProvider[key]
}

func (ix *index) lookupURL(rec *jobs.Record) *jobs.Record {
	for _, u := range recordURLs(rec) {
		if match, ok := ix.byURL[u]; ok {
			return match
		}
	}
	return nil
}

func (ix *index) bucket(rec *jobs.Record) []*jobs.Record {
	return ix.buckets[bucketKey(rec)]
}

// recordURLs returns the canonical job url followed by the apply url when it differs.
func recordURLs(rec *jobs.Record) []string {
	urls := make([]string, 0, 2)
	if rec.JobURLCanonical != "" {
		urls = append(urls, rec.JobURLCanonical)
	}
	if rec.ApplyURLCanonical != "" && rec.ApplyURLCanonical != rec.JobURLCanonical {
		urls = append(urls, rec.ApplyURLCanonical)
	}
	return urls
}

func bucketKey(rec *jobs.Record) string {
	return normalize.Prefix(normalize.ForFuzzy(rec.CompanyNormalized), BucketPrefixLength)
}
