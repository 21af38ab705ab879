package cmd

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/spigell/job-aggregator/internal/arbitration"
	"github.com/spigell/job-aggregator/internal/dedupe"
	"github.com/spigell/job-aggregator/internal/similarity"
	"github.com/spigell/job-aggregator/internal/sources"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderManual    = "manual"
)

type Config struct {
	Sources     SourcesConfig     `mapstructure:"sources"`
	Dedupe      DedupeConfig      `mapstructure:"dedupe"`
	Arbitration ArbitrationConfig `mapstructure:"arbitration"`
	Exclude     ExcludeConfig     `mapstructure:"exclude"`
	Store       StoreConfig       `mapstructure:"store"`
	ExcludeFile string            `mapstructure:"exclude-file"`
}

type SourcesConfig struct {
	Files       []string `mapstructure:"files"`
	Pages       []string `mapstructure:"pages"`
	Concurrency int      `mapstructure:"concurrency" validate:"gte=0"`
}

type DedupeConfig struct {
	TrackUncertain   bool    `mapstructure:"track-uncertain"`
	DateWindowDays   int     `mapstructure:"date-window-days" validate:"gte=0"`
	TitleThreshold   float64 `mapstructure:"title-threshold" validate:"gte=0,lte=1"`
	CompanyThreshold float64 `mapstructure:"company-threshold" validate:"gte=0,lte=1"`
	UncertainMargin  float64 `mapstructure:"uncertain-margin" validate:"gte=0,lte=1"`
	SeedWindowDays   int     `mapstructure:"seed-window-days" validate:"gte=0"`
}

type ArbitrationConfig struct {
	Enabled           bool           `mapstructure:"enabled"`
	Provider          string         `mapstructure:"provider" validate:"omitempty,oneof=gemini anthropic manual"`
	MinConfidence     float64        `mapstructure:"min-confidence" validate:"gte=0,lte=1"`
	Concurrency       int            `mapstructure:"concurrency" validate:"gte=0"`
	RequestsPerSecond float64        `mapstructure:"requests-per-second" validate:"gte=0"`
	Timeout           time.Duration  `mapstructure:"timeout" validate:"gte=0"`
	Gemini            ProviderConfig `mapstructure:"gemini"`
	Anthropic         ProviderConfig `mapstructure:"anthropic"`
}

type ProviderConfig struct {
	Model          string `mapstructure:"model"`
	APIKeyFile     string `mapstructure:"api-key-file"`
	KeyringAccount string `mapstructure:"keyring-account"`
	MaxRetries     int    `mapstructure:"max-retries" validate:"gte=0"`
	MaxLogLength   int    `mapstructure:"max-log-length" validate:"gte=0"`
}

type ExcludeConfig struct {
	Companies []string `mapstructure:"companies"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	thresholds := similarity.DefaultThresholds()

	v.SetDefault("sources.concurrency", sources.DefaultConcurrency)
	v.SetDefault("dedupe.track-uncertain", true)
	v.SetDefault("dedupe.date-window-days", thresholds.DateWindowDays)
	v.SetDefault("dedupe.title-threshold", thresholds.Title)
	v.SetDefault("dedupe.company-threshold", thresholds.Company)
	v.SetDefault("dedupe.uncertain-margin", dedupe.DefaultUncertainMargin)
	v.SetDefault("dedupe.seed-window-days", 90)
	v.SetDefault("arbitration.provider", ProviderGemini)
	v.SetDefault("arbitration.min-confidence", arbitration.DefaultMinConfidence)
	v.SetDefault("arbitration.concurrency", arbitration.DefaultConcurrency)
	v.SetDefault("arbitration.requests-per-second", 2)
	v.SetDefault("arbitration.timeout", arbitration.DefaultTimeout)
	v.SetDefault("arbitration.gemini.keyring-account", ProviderGemini)
	v.SetDefault("arbitration.anthropic.keyring-account", ProviderAnthropic)
	v.SetDefault("store.path", app+".db")
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, fmt.Errorf("config is empty")
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (c *Config) dedupeConfig() dedupe.Config {
	return dedupe.Config{
		Thresholds: similarity.Thresholds{
			DateWindowDays: c.Dedupe.DateWindowDays,
			Title:          c.Dedupe.TitleThreshold,
			Company:        c.Dedupe.CompanyThreshold,
		},
		UncertainMargin: c.Dedupe.UncertainMargin,
	}
}

func (c *Config) seedWindow() time.Duration {
	return time.Duration(c.Dedupe.SeedWindowDays) * 24 * time.Hour
}

func (c *Config) provider() *ProviderConfig {
	switch c.Arbitration.Provider {
	case ProviderAnthropic:
		return &c.Arbitration.Anthropic
	case ProviderGemini, "":
		return &c.Arbitration.Gemini
	default:
		return nil
	}
}
