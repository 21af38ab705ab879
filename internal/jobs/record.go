package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"github.com/spigell/job-aggregator/internal/normalize"
)

// JobIDLength is the number of hex characters kept from the identity digest.
const JobIDLength = 24

const (
	WorkModeRemote  = "remote"
	WorkModeHybrid  = "hybrid"
	WorkModeOnsite  = "onsite"
	WorkModeUnknown = "unknown"
)

// Record is a canonical job posting after normalization.
//
// Title, Company, LocationRaw, URL, ApplyURL, Source and ProviderID are identity
// inputs: they are set once per source observation. Everything derived from them
// is recomputed by Normalize. The remaining fields are optional enrichment.
type Record struct {
	JobID      string `json:"job_id"`
	Source     string `json:"source,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`

	Title       string `json:"title"`
	Company     string `json:"company"`
	LocationRaw string `json:"location,omitempty"`
	URL         string `json:"url,omitempty"`
	ApplyURL    string `json:"apply_url,omitempty"`

	TitleNormalized   string `json:"title_normalized,omitempty"`
	CompanyNormalized string `json:"company_normalized,omitempty"`
	JobURLCanonical   string `json:"job_url_canonical,omitempty"`
	ApplyURLCanonical string `json:"apply_url_canonical,omitempty"`

	PostedAt        *time.Time `json:"posted_at,omitempty"`
	DescriptionText string     `json:"description,omitempty"`
	WorkMode        string     `json:"work_mode,omitempty"`
	EmploymentType  string     `json:"employment_type,omitempty"`
	SalaryMin       *float64   `json:"salary_min,omitempty"`
	SalaryMax       *float64   `json:"salary_max,omitempty"`
	SalaryCurrency  string     `json:"salary_currency,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
}

// Normalize fills the derived matching fields and the job id. It only reads
// identity inputs, so calling it again on an unchanged record is a no-op.
func (r *Record) Normalize() {
	r.Source = strings.TrimSpace(r.Source)
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.Title = normalize.Text(r.Title)
	r.Company = normalize.Text(r.Company)
	r.LocationRaw = normalize.Text(r.LocationRaw)

	r.TitleNormalized = strings.ToLower(r.Title)
	r.CompanyNormalized = strings.ToLower(normalize.CompanyName(r.Company))
	r.JobURLCanonical = normalize.URL(r.URL)
	r.ApplyURLCanonical = normalize.URL(r.ApplyURL)

	r.JobID = ComputeJobID(r)
}

// ProviderKey returns "source:provider_id" or an empty string when either part is missing.
func (r *Record) ProviderKey() string {
	if r.Source == "" || r.ProviderID == "" {
		return ""
	}
	return r.Source + ":" + r.ProviderID
}

// ComputeJobID derives the stable identifier of r from its normalized fields.
// The provider pair wins over the content fields when both parts are present.
func ComputeJobID(r *Record) string {
	if key := r.ProviderKey(); key != "" {
		return hashKey(key)
	}

	return hashKey(strings.Join([]string{
		r.CompanyNormalized,
		r.TitleNormalized,
		strings.ToLower(r.LocationRaw),
		strings.ToLower(r.JobURLCanonical),
	}, "|"))
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:JobIDLength]
}

// Enrich copies optional fields from other that are missing on r. Identity
// fields are never touched. It reports whether anything changed.
func (r *Record) Enrich(other *Record) bool {
	if other == nil || other == r {
		return false
	}

	changed := false
	setString := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}

	setString(&r.DescriptionText, other.DescriptionText)
	setString(&r.EmploymentType, other.EmploymentType)
	setString(&r.SalaryCurrency, other.SalaryCurrency)
	if r.WorkMode == "" || r.WorkMode == WorkModeUnknown {
		if other.WorkMode != "" && other.WorkMode != WorkModeUnknown {
			r.WorkMode = other.WorkMode
			changed = true
		}
	}

	if r.PostedAt == nil && other.PostedAt != nil {
		posted := *other.PostedAt
		r.PostedAt = &posted
		changed = true
	}
	if r.SalaryMin == nil && other.SalaryMin != nil {
		v := *other.SalaryMin
		r.SalaryMin = &v
		changed = true
	}
	if r.SalaryMax == nil && other.SalaryMax != nil {
		v := *other.SalaryMax
		r.SalaryMax = &v
		changed = true
	}

	for _, tag := range other.Tags {
		if !slices.Contains(r.Tags, tag) {
			r.Tags = append(r.Tags, tag)
			changed = true
		}
	}

	return changed
}

// InferWorkMode guesses remote/hybrid/onsite from free text.
func InferWorkMode(texts ...string) string {
	blob := strings.ToLower(strings.Join(texts, " "))

	switch {
	case strings.Contains(blob, "remote"):
		return WorkModeRemote
	case strings.Contains(blob, "hybrid"):
		return WorkModeHybrid
	case strings.Contains(blob, "on-site") || strings.Contains(blob, "onsite") || strings.Contains(blob, "on site"):
		return WorkModeOnsite
	default:
		return WorkModeUnknown
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseDate parses the date formats seen in feeds. It returns nil for empty or
// unrecognized input.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
