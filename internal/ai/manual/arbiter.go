package manual

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"github.com/spigell/job-aggregator/internal/ai"
	"github.com/spigell/job-aggregator/internal/jobs"
)

const (
	Provider = "manual"

	PromptSameKeepA = "Same job, keep A"
	PromptSameKeepB = "Same job, keep B"
	PromptDifferent = "Different jobs"
)

type selectFunc func(label string, items []string) (string, error)

// Arbiter asks a human on the terminal to decide about a pair.
type Arbiter struct {
	out    io.Writer
	choose selectFunc
}

var _ ai.Arbiter = (*Arbiter)(nil)

func New(out io.Writer) *Arbiter {
	return &Arbiter{out: out, choose: promptSelect}
}

func (a *Arbiter) Compare(ctx context.Context, left, right *jobs.Record) (*ai.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		return nil, fmt.Errorf("both job records are required")
	}

	if a.out != nil {
		fmt.Fprintln(a.out, describe("A", left))
		fmt.Fprintln(a.out, describe("B", right))
	}

	selected, err := a.choose("Are these the same job?", []string{PromptSameKeepA, PromptSameKeepB, PromptDifferent})
	if err != nil {
		return nil, err
	}

	decision := &ai.Decision{Confidence: 1, Preferred: ai.PreferA, Raw: selected}
	switch selected {
	case PromptSameKeepA:
		decision.SameJob = true
		decision.Reason = "confirmed by user"
	case PromptSameKeepB:
		decision.SameJob = true
		decision.Preferred = ai.PreferB
		decision.Reason = "confirmed by user"
	case PromptDifferent:
		decision.Reason = "rejected by user"
	default:
		return nil, fmt.Errorf("invalid choice: %s", selected)
	}

	return decision, nil
}

func describe(label string, rec *jobs.Record) string {
	var b strings.Builder
	b.WriteString(color.New(color.Bold).Sprintf("[%s] %s", label, rec.Title))
	fmt.Fprintf(&b, " / %s / %s", rec.Company, rec.LocationRaw)
	if rec.Source != "" {
		fmt.Fprintf(&b, " (%s)", rec.Source)
	}
	if rec.PostedAt != nil {
		fmt.Fprintf(&b, " posted %s", rec.PostedAt.Format("2006-01-02"))
	}
	if url := rec.JobURLCanonical; url != "" {
		b.WriteString("\n    ")
		b.WriteString(color.CyanString(url))
	}
	return b.String()
}

func promptSelect(label string, items []string) (string, error) {
	p := promptui.Select{Label: label, Items: items}
	_, selected, err := p.Run()
	return selected, err
}
