package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/spigell/job-aggregator/internal/store"
)

func printSummary(w io.Writer, stats store.RunStats) {
	bold := color.New(color.Bold)

	bold.Fprintln(w, "Run summary")
	fmt.Fprintf(w, "  collected:          %d\n", stats.Collected)
	fmt.Fprintf(w, "  unique:             %s\n", color.GreenString("%d", stats.Unique))
	fmt.Fprintf(w, "  duplicates removed: %s\n", color.YellowString("%d", stats.DuplicatesRemoved))
	fmt.Fprintf(w, "    by provider id:   %d\n", stats.ByProviderID)
	fmt.Fprintf(w, "    by url:           %d\n", stats.ByURL)
	fmt.Fprintf(w, "    by fuzzy match:   %d\n", stats.ByFuzzy)
	fmt.Fprintf(w, "  uncertain pairs:    %d\n", stats.Uncertain)
	fmt.Fprintf(w, "  merged by arbiter:  %d\n", stats.Merged)
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}

	color.New(color.Bold).Fprintf(w, "%-36s  %-20s  %-9s  %9s  %6s  %10s  %6s\n",
		"RUN", "STARTED", "STATUS", "COLLECTED", "UNIQUE", "DUPLICATES", "MERGED")

	for _, run := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %s  %9d  %6d  %10d  %6d\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			statusColor(run.Status).Sprintf("%-9s", run.Status),
			run.Stats.Collected,
			run.Stats.Unique,
			run.Stats.DuplicatesRemoved,
			run.Stats.Merged,
		)
	}
}

func statusColor(status string) *color.Color {
	switch status {
	case store.RunStatusFinished:
		return color.New(color.FgGreen)
	case store.RunStatusFailed:
		return color.New(color.FgRed)
	case store.RunStatusRunning:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgYellow)
	}
}
