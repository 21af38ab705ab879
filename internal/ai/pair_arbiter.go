package ai

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/logger"
	"github.com/spigell/job-aggregator/internal/utils"
)

//go:embed prompt.md
var promptTemplate string

const (
	systemInstruction = "You are a careful data steward deduplicating job postings. You answer with strict JSON."

	defaultMaxLogLength      = 200
	maxDescriptionRunes      = 1500
	defaultPromptPlaceholder = "Posting A:\n{{JOB_A}}\n\nPosting B:\n{{JOB_B}}\n\nJSON Response:"
)

// PairArbiter asks a text generator whether two records are the same job.
type PairArbiter struct {
	generator Generator
	logger    *zap.Logger
	maxLogLen int
}

var _ Arbiter = (*PairArbiter)(nil)

func NewPairArbiter(generator Generator, maxLogLength int, log *zap.Logger) *PairArbiter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &PairArbiter{
		generator: generator,
		logger:    logger.WithFields(log),
		maxLogLen: maxLogLength,
	}
}

func (p *PairArbiter) Compare(ctx context.Context, a, b *jobs.Record) (*Decision, error) {
	if a == nil || b == nil {
		return nil, errors.New("both job records are required")
	}
	if p.generator == nil {
		return nil, errors.New("text generator is not configured")
	}

	jobA, err := json.MarshalIndent(promptPayload(a), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job A: %w", err)
	}
	jobB, err := json.MarshalIndent(promptPayload(b), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job B: %w", err)
	}

	prompt := buildPrompt(string(jobA), string(jobB))

	p.logger.Debug("arbitration request",
		zap.String("job_a", a.JobID),
		zap.String("job_b", b.JobID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, p.maxLogLen)),
	)

	raw, err := p.generator.GenerateContent(ctx, systemInstruction, prompt)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("arbitration response",
		zap.String("job_a", a.JobID),
		zap.String("job_b", b.JobID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, p.maxLogLen)),
	)

	decision, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	decision.Raw = raw

	return decision, nil
}

type jobPayload struct {
	Source      string `json:"source,omitempty"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url,omitempty"`
	ApplyURL    string `json:"apply_url,omitempty"`
	PostedAt    string `json:"posted_at,omitempty"`
	WorkMode    string `json:"work_mode,omitempty"`
	Description string `json:"description,omitempty"`
}

func promptPayload(rec *jobs.Record) jobPayload {
	payload := jobPayload{
		Source:      rec.Source,
		Title:       rec.Title,
		Company:     rec.Company,
		Location:    rec.LocationRaw,
		URL:         rec.JobURLCanonical,
		ApplyURL:    rec.ApplyURLCanonical,
		WorkMode:    rec.WorkMode,
		Description: utils.TruncateForLog(rec.DescriptionText, maxDescriptionRunes),
	}
	if rec.PostedAt != nil {
		payload.PostedAt = rec.PostedAt.Format(time.DateOnly)
	}
	return payload
}

func buildPrompt(jobA, jobB string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = defaultPromptPlaceholder
	}
	prompt := strings.ReplaceAll(template, "{{JOB_A}}", jobA)
	prompt = strings.ReplaceAll(prompt, "{{JOB_B}}", jobB)
	return prompt
}

func parseResponse(raw string) (*Decision, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse arbitration response: %w", err)
	}

	confidence := coerceFloat(data["confidence"])
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))

	preferred := PreferA
	if strings.EqualFold(coerceString(data["preferred"]), string(PreferB)) {
		preferred = PreferB
	}

	return &Decision{
		SameJob:    coerceBool(data["same_job"]),
		Confidence: confidence,
		Preferred:  preferred,
		Reason:     coerceString(data["reason"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(raw)

	// tolerate prose around the object
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start > 0 && end > start {
		raw = raw[start : end+1]
	}
	return raw
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
