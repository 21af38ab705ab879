package dedupe

import (
	"fmt"

	"github.com/spigell/job-aggregator/internal/similarity"
)

const (
	// DefaultUncertainMargin is subtracted from both similarity thresholds to
	// find uncertain pairs.
	DefaultUncertainMargin = 0.15
	// BucketPrefixLength is the number of runes of the fuzzy company name used as bucket key.
	BucketPrefixLength = 4
)

// Config holds the tunable parameters of the engine.
type Config struct {
	Thresholds      similarity.Thresholds
	UncertainMargin float64
}

// DefaultConfig returns the standard thresholds and margin.
func DefaultConfig() Config {
	return Config{
		Thresholds:      similarity.DefaultThresholds(),
		UncertainMargin: DefaultUncertainMargin,
	}
}

// String returns a human-readable representation of the config.
func (c Config) String() string {
	return fmt.Sprintf("Config{DateWindowDays: %d, Title: %.2f, Company: %.2f, UncertainMargin: %.2f}",
		c.Thresholds.DateWindowDays, c.Thresholds.Title, c.Thresholds.Company, c.UncertainMargin)
}
