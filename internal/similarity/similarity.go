// Package similarity scores how alike two job records are.
package similarity

import (
	"strings"
	"time"

	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/normalize"
)

const containmentScore = 0.9

// Thresholds tune AreLikelyDuplicates. Negative values are not validated here.
type Thresholds struct {
	DateWindowDays int     `mapstructure:"date-window-days"`
	Title          float64 `mapstructure:"title-threshold"`
	Company        float64 `mapstructure:"company-threshold"`
}

// DefaultThresholds returns the standard fuzzy matching thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DateWindowDays: 30,
		Title:          0.8,
		Company:        0.7,
	}
}

// Relaxed lowers both similarity thresholds by margin. The date window is kept.
func (t Thresholds) Relaxed(margin float64) Thresholds {
	t.Title -= margin
	t.Company -= margin
	return t
}

// Title returns 1 for equal fuzzy-normalized titles and the Jaccard index of
// their tokens otherwise.
func Title(a, b string) float64 {
	a, b = normalize.ForFuzzy(a), normalize.ForFuzzy(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return jaccard(a, b)
}

// Company returns 1 for equal names, 0.9 when one contains the other and the
// Jaccard index of their tokens otherwise.
func Company(a, b string) float64 {
	a, b = normalize.ForFuzzy(a), normalize.ForFuzzy(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return containmentScore
	}
	return jaccard(a, b)
}

func jaccard(a, b string) float64 {
	ta, tb := normalize.Tokens(a), normalize.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// AreLikelyDuplicates applies the company, title, location and date checks in
// that order. Missing locations or dates never block a match.
func AreLikelyDuplicates(a, b *jobs.Record, t Thresholds) bool {
	if Company(a.CompanyNormalized, b.CompanyNormalized) < t.Company {
		return false
	}
	if Title(a.TitleNormalized, b.TitleNormalized) < t.Title {
		return false
	}

	la, lb := normalize.ForFuzzy(a.LocationRaw), normalize.ForFuzzy(b.LocationRaw)
	if la != "" && lb != "" && !sharesToken(la, lb) {
		return false
	}

	if a.PostedAt != nil && b.PostedAt != nil && DaysApart(*a.PostedAt, *b.PostedAt) > t.DateWindowDays {
		return false
	}

	return true
}

// DaysApart returns the absolute distance between a and b in whole days.
func DaysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d / (24 * time.Hour))
}

func sharesToken(a, b string) bool {
	tb := normalize.Tokens(b)
	for tok := range normalize.Tokens(a) {
		if _, ok := tb[tok]; ok {
			return true
		}
	}
	return false
}
