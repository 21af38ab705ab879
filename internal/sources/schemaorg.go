package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/normalize"
)

const defaultPageSource = "schemaorg"

// SchemaOrgPage extracts JobPosting entries from the JSON-LD blocks of a saved HTML page.
type SchemaOrgPage struct {
	path string
}

// NewSchemaOrgPages returns one source per page matching the patterns.
func NewSchemaOrgPages(patterns []string) ([]Source, error) {
	paths, err := expand(patterns)
	if err != nil {
		return nil, err
	}

	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		out = append(out, &SchemaOrgPage{path: p})
	}
	return out, nil
}

func (p *SchemaOrgPage) Name() string {
	return filepath.Base(p.path)
}

func (p *SchemaOrgPage) Fetch(ctx context.Context) ([]*jobs.Record, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path, err)
	}

	return ParseSchemaOrg(ctx, doc)
}

// ParseSchemaOrg returns a record for every JobPosting found in the document.
// Malformed JSON-LD blocks are ignored.
func ParseSchemaOrg(ctx context.Context, doc *goquery.Document) ([]*jobs.Record, error) {
	pageURL := canonicalURL(doc)
	source := defaultPageSource
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		source = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	}

	var records []*jobs.Record
	var firstErr error

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if ctx.Err() != nil {
			return
		}

		var data any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &data); err != nil {
			return
		}

		for _, obj := range jobPostings(data) {
			rec, err := postingRecord(obj, source, pageURL)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			records = append(records, rec)
		}
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return records, nil
}

func canonicalURL(doc *goquery.Document) string {
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href)
	}
	if content, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

// jobPostings walks arrays and @graph containers looking for JobPosting objects.
func jobPostings(data any) []map[string]any {
	var out []map[string]any

	switch v := data.(type) {
	case []any:
		for _, item := range v {
			out = append(out, jobPostings(item)...)
		}
	case map[string]any:
		if isJobPosting(v["@type"]) {
			out = append(out, v)
		}
		if graph, ok := v["@graph"]; ok {
			out = append(out, jobPostings(graph)...)
		}
	}

	return out
}

func isJobPosting(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "JobPosting"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "JobPosting" {
				return true
			}
		}
	}
	return false
}

type posting struct {
	Title              string `mapstructure:"title"`
	Identifier         any    `mapstructure:"identifier"`
	HiringOrganization any    `mapstructure:"hiringOrganization"`
	JobLocation        any    `mapstructure:"jobLocation"`
	JobLocationType    string `mapstructure:"jobLocationType"`
	DatePosted         string `mapstructure:"datePosted"`
	URL                string `mapstructure:"url"`
	Description        string `mapstructure:"description"`
	EmploymentType     any    `mapstructure:"employmentType"`
	BaseSalary         any    `mapstructure:"baseSalary"`
}

type monetaryAmount struct {
	Currency string `mapstructure:"currency"`
	Value    struct {
		Value    *float64 `mapstructure:"value"`
		MinValue *float64 `mapstructure:"minValue"`
		MaxValue *float64 `mapstructure:"maxValue"`
	} `mapstructure:"value"`
}

type postalAddress struct {
	Locality string `mapstructure:"addressLocality"`
	Region   string `mapstructure:"addressRegion"`
	Country  any    `mapstructure:"addressCountry"`
}

func postingRecord(obj map[string]any, source, pageURL string) (*jobs.Record, error) {
	var p posting
	if err := weakDecode(obj, &p); err != nil {
		return nil, fmt.Errorf("decode JobPosting: %w", err)
	}

	rec := &jobs.Record{
		Source:          source,
		ProviderID:      nameOf(p.Identifier, "value", "name"),
		Title:           htmlToText(p.Title),
		Company:         nameOf(p.HiringOrganization, "name", "legalName"),
		LocationRaw:     location(p.JobLocation),
		URL:             firstNonEmpty(p.URL, pageURL),
		PostedAt:        jobs.ParseDate(p.DatePosted),
		DescriptionText: htmlToText(p.Description),
		EmploymentType:  strings.Join(stringList(p.EmploymentType), ", "),
	}

	if strings.EqualFold(p.JobLocationType, "TELECOMMUTE") {
		rec.WorkMode = jobs.WorkModeRemote
	} else {
		rec.WorkMode = jobs.InferWorkMode(rec.LocationRaw, rec.Title)
	}

	if p.BaseSalary != nil {
		var salary monetaryAmount
		if err := weakDecode(p.BaseSalary, &salary); err == nil {
			rec.SalaryCurrency = salary.Currency
			rec.SalaryMin = salary.Value.MinValue
			rec.SalaryMax = salary.Value.MaxValue
			if rec.SalaryMin == nil && rec.SalaryMax == nil && salary.Value.Value != nil {
				rec.SalaryMin = salary.Value.Value
				rec.SalaryMax = salary.Value.Value
			}
		}
	}

	return rec, nil
}

// nameOf reads a schema.org Thing that may be a plain string, an object or a list.
func nameOf(v any, keys ...string) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return fmt.Sprintf("%v", val)
	case map[string]any:
		for _, key := range keys {
			if s := nameOf(val[key]); s != "" {
				return s
			}
		}
	case []any:
		for _, item := range val {
			if s := nameOf(item, keys...); s != "" {
				return s
			}
		}
	}
	return ""
}

func location(v any) string {
	var places []any
	switch val := v.(type) {
	case []any:
		places = val
	case nil:
		return ""
	default:
		places = []any{val}
	}

	var parts []string
	for _, place := range places {
		obj, ok := place.(map[string]any)
		if !ok {
			if s := nameOf(place); s != "" {
				parts = append(parts, s)
			}
			continue
		}

		if s, ok := obj["address"].(string); ok {
			parts = append(parts, strings.TrimSpace(s))
			continue
		}

		var addr postalAddress
		if err := weakDecode(obj["address"], &addr); err != nil {
			continue
		}
		var fields []string
		for _, f := range []string{addr.Locality, addr.Region, nameOf(addr.Country, "name")} {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		if len(fields) > 0 {
			parts = append(parts, strings.Join(fields, ", "))
		}
	}

	return strings.Join(parts, "; ")
}

func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, stringList(item)...)
		}
		return out
	}
	return nil
}

// htmlToText strips markup, including markup that was entity-escaped inside JSON-LD.
func htmlToText(s string) string {
	s = strings.TrimSpace(html.UnescapeString(s))
	if s == "" || !strings.Contains(s, "<") {
		return normalize.Text(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return normalize.Text(s)
	}

	doc.Find("br, p, li, div, h1, h2, h3, h4").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return normalize.Text(doc.Text())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
