package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-aggregator/internal/ai"
	"github.com/spigell/job-aggregator/internal/ai/claude"
	"github.com/spigell/job-aggregator/internal/ai/gemini"
	"github.com/spigell/job-aggregator/internal/ai/manual"
	"github.com/spigell/job-aggregator/internal/arbitration"
	"github.com/spigell/job-aggregator/internal/dedupe"
	"github.com/spigell/job-aggregator/internal/filtering"
	"github.com/spigell/job-aggregator/internal/jobs"
	"github.com/spigell/job-aggregator/internal/logger"
	"github.com/spigell/job-aggregator/internal/secrets"
	"github.com/spigell/job-aggregator/internal/sources"
	"github.com/spigell/job-aggregator/internal/store"
)

const (
	PromptYes                 = "Save results"
	PromptNo                  = "Exit without saving"
	PromptBack                = "back"
	PromptReportByCompanies   = "Report by companies"
	PromptManualExclude       = "Exclude jobs in manual mode"
	PromptAppendToExcludeFile = "Append all jobs to exclude file"
	PromptJobsToFile          = "Dump jobs to file"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Proceed?",
	Items: []string{PromptYes, PromptNo, PromptReportByCompanies, PromptManualExclude, PromptJobsToFile},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect, deduplicate and store job postings",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("no-uncertain", false, "do not collect uncertain pairs (disables arbitration)")
	runCmd.Flags().Bool("no-store", false, "do not read or write the job database")
	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before saving results")
	runCmd.Flags().StringP("exclude-file", "e", "", "special file with jobs to exclude. Default is unset.")
	runCmd.Flags().StringP("out", "o", "", "write unique jobs to this JSON file")

	viper.BindPFlag("exclude-file", runCmd.Flags().Lookup("exclude-file"))
}

// pipeline keeps the steps whose results are needed after filtering.
type pipeline struct {
	filters     *filtering.Filtering
	dedupe      filtering.DedupeStep
	arbitration filtering.ArbitrationStep
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the job-aggregator", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	srcs, err := buildSources(config)
	if err != nil {
		logger.Fatal("preparing sources", zap.Error(err))
	}
	if len(srcs) == 0 {
		logger.Fatal("no sources found", zap.String("hint", "set sources.files or sources.pages in the configuration file"))
	}

	records, err := sources.Collect(ctx, srcs, config.Sources.Concurrency, logger)
	if err != nil {
		logger.Fatal("collecting jobs", zap.Error(err))
	}

	logger.Info("collected jobs", zap.Int("sources", len(srcs)), zap.Int("count", len(records)))

	if len(records) == 0 {
		logger.Info("exiting", zap.String("reason", "no jobs found"))
		return
	}

	var db *store.DB
	runID := ""
	if !flagBool(cmd, "no-store") {
		db, err = store.Open(ctx, config.Store.Path)
		if err != nil {
			logger.Fatal("opening the job database", zap.String("path", config.Store.Path), zap.Error(err))
		}
		defer db.Close()

		runID, err = db.StartRun(ctx)
		if err != nil {
			logger.Fatal("starting a run", zap.Error(err))
		}
		logger = logger.With(zap.String("run_id", runID))
	}

	p := preparePipeline(ctx, cmd, config, db, logger)

	filtered, err := p.filters.RunFilters(ctx, jobs.New(records))
	if err != nil {
		finishRun(db, runID, store.RunStatusFailed, store.RunStats{Collected: len(records)}, logger)
		logger.Fatal("filtering failed", zap.Error(err))
	}

	stats := runStats(len(records), p, filtered)
	printSummary(os.Stdout, stats)

	if out := flagString(cmd, "out"); out != "" {
		if err := filtered.DumpToFile(out); err != nil {
			logger.Fatal("writing jobs to file", zap.String("filename", out), zap.Error(err))
		}
		logger.Info("jobs written to file", zap.String("filename", out), zap.Int("count", filtered.Len()))
	}

	action := PromptYes
	for {
		var err error
		if !flagBool(cmd, "auto-approve") {
			_, action, err = prompt.Run()
			if err != nil {
				finishRun(db, runID, store.RunStatusDiscarded, stats, logger)
				logger.Fatal("exiting", zap.Error(err))
			}
		}

		logger.Info("current list of jobs", zap.Int("count", filtered.Len()))

		if err := handleAction(ctx, action, db, runID, logger, p, filtered, stats); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			finishRun(db, runID, store.RunStatusFailed, stats, logger)
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, action string, db *store.DB, runID string, logger *zap.Logger, p *pipeline, filtered *jobs.Jobs, stats store.RunStats) error {
	switch action {
	case PromptYes:
		if err := persist(ctx, db, p, filtered, logger); err != nil {
			return err
		}
		// manual exclusion may have shrunk the list
		stats.Unique = filtered.Len()
		finishRun(db, runID, store.RunStatusFinished, stats, logger)
		return errExit
	case PromptNo:
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		finishRun(db, runID, store.RunStatusDiscarded, stats, logger)
		return errExit
	case PromptManualExclude:
		return manualExclude(logger, filtered)
	case PromptReportByCompanies:
		pretty, _ := json.MarshalIndent(filtered.ReportByCompany(), "", "  ")
		logger.Info(string(pretty), zap.Int("jobs count", filtered.Len()))
		return nil
	case PromptJobsToFile:
		filename, err := filtered.DumpToTmpFile()
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// persist stores unique jobs and the persisted records enriched during matching.
func persist(ctx context.Context, db *store.DB, p *pipeline, filtered *jobs.Jobs, logger *zap.Logger) error {
	if db == nil {
		logger.Info("skipping persistence", zap.String("reason", "store is disabled"))
		return nil
	}

	seen := make(map[string]bool)
	var records []*jobs.Record
	add := func(rec *jobs.Record) {
		if rec == nil || seen[rec.JobID] {
			return
		}
		seen[rec.JobID] = true
		records = append(records, rec)
	}

	for _, rec := range filtered.Items {
		add(rec)
	}
	for _, rec := range p.dedupe.Touched() {
		add(rec)
	}
	// a kept record outside the unique list is persisted only when it is a seed
	persisted := make(map[string]bool)
	for _, rec := range p.dedupe.Seeds() {
		persisted[rec.JobID] = true
	}
	for _, m := range p.arbitration.Merges() {
		if persisted[m.Kept.JobID] {
			add(m.Kept)
		}
	}

	added, err := db.UpsertJobs(ctx, records)
	if err != nil {
		return fmt.Errorf("persist jobs: %w", err)
	}

	logger.Info("jobs saved", zap.Int("new", added), zap.Int("updated", len(records)-added))
	return nil
}

func finishRun(db *store.DB, runID, status string, stats store.RunStats, logger *zap.Logger) {
	if db == nil || runID == "" {
		return
	}
	// the run context may already be cancelled
	if err := db.FinishRun(context.Background(), runID, status, stats); err != nil {
		logger.Warn("recording run result", zap.Error(err))
	}
}

func manualExclude(logger *zap.Logger, filtered *jobs.Jobs) error {
	excludeFile := viper.GetString("exclude-file")

	for {
		items := make([]string, 0, filtered.Len()+2)
		for _, rec := range filtered.Items {
			items = append(items, fmt.Sprintf("%s %s / %s / %s", rec.JobID, rec.Title, rec.Company, rec.JobURLCanonical))
		}

		if excludeFile != "" && filtered.Len() != 0 {
			items = append(items, PromptAppendToExcludeFile)
		}

		jobPrompt := promptui.Select{
			Label: "Choose a job to exclude and press ENTER",
			Items: append(items, PromptBack),
		}

		_, selected, err := jobPrompt.Run()
		if err != nil {
			return err
		}

		switch selected {
		case PromptBack:
			return nil
		case PromptAppendToExcludeFile:
			if err := appendToExcludeFile(excludeFile, filtered); err != nil {
				return err
			}
			logger.Info("appended to exclude file", zap.String("filename", excludeFile))
			filtered.Exclude(filtered.IDs())
		default:
			jobID := strings.Split(selected, " ")[0]
			rec := filtered.FindByID(jobID)
			if rec == nil {
				return fmt.Errorf("there is no such job id %s", jobID)
			}

			if excludeFile != "" {
				if err := appendToExcludeFile(excludeFile, jobs.New([]*jobs.Record{rec})); err != nil {
					return err
				}
			}
			filtered.Exclude([]string{jobID})
			logger.Info("job excluded", zap.String("job_id", jobID))
		}
	}
}

func appendToExcludeFile(path string, v *jobs.Jobs) error {
	excluded, err := jobs.GetExcludedJobsFromFile(path)
	if err != nil {
		return err
	}
	excluded.Append(v.ToExcluded(jobs.ExcludeActorUser, ""))
	return excluded.ToFile(path)
}

func buildSources(config *Config) ([]sources.Source, error) {
	files, err := sources.NewFiles(config.Sources.Files)
	if err != nil {
		return nil, fmt.Errorf("record files: %w", err)
	}
	pages, err := sources.NewSchemaOrgPages(config.Sources.Pages)
	if err != nil {
		return nil, fmt.Errorf("schema.org pages: %w", err)
	}
	return append(files, pages...), nil
}

func preparePipeline(ctx context.Context, cmd *cobra.Command, config *Config, db *store.DB, logger *zap.Logger) *pipeline {
	trackUncertain := config.Dedupe.TrackUncertain && !flagBool(cmd, "no-uncertain")

	var seeds filtering.SeedLoader
	if db != nil {
		seeds = db
	}

	engine := dedupe.New(config.dedupeConfig(), logger)
	dedupeStep := filtering.NewDedupe(engine, seeds, filtering.DedupeConfig{
		TrackUncertain: trackUncertain,
		SeedWindow:     config.seedWindow(),
	}, logger)

	arbitrationStep, err := prepareArbitration(ctx, config, db, dedupeStep, logger)
	if err != nil {
		logger.Warn("skipping arbitration", zap.Error(err))
		arbitrationStep = filtering.NewArbitration(filtering.ArbitrationConfig{}, nil, dedupeStep, logger)
		arbitrationStep.Disable(err.Error())
	}
	if !trackUncertain {
		arbitrationStep.Disable("uncertain pairs are not collected")
	}

	steps := []filtering.Filter{
		filtering.NewExcludedCompanies(config.Exclude.Companies, logger),
		filtering.NewExcludeFile(viper.GetString("exclude-file"), logger),
		dedupeStep,
		arbitrationStep,
	}

	return &pipeline{
		filters:     filtering.New(steps, logger),
		dedupe:      dedupeStep,
		arbitration: arbitrationStep,
	}
}

func prepareArbitration(ctx context.Context, config *Config, db *store.DB, pairs filtering.PairSource, logger *zap.Logger) (filtering.ArbitrationStep, error) {
	cfg := config.Arbitration
	if !cfg.Enabled {
		return nil, errors.New("arbitration is disabled in the configuration")
	}

	arbiter, err := newArbiter(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("building arbiter: %w", err)
	}

	opts := arbitration.Options{
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.Timeout,
		Logger:            logger,
	}
	if cfg.Provider == ProviderManual {
		// one question at a time on the terminal
		opts.Concurrency = 1
		opts.RequestsPerSecond = 0
	}
	if db != nil {
		opts.Cache = db
	}

	return filtering.NewArbitration(filtering.ArbitrationConfig{
		Enabled:       true,
		Provider:      cfg.Provider,
		MinConfidence: cfg.MinConfidence,
		Options:       opts,
		ExcludeFile:   viper.GetString("exclude-file"),
	}, arbiter, pairs, logger), nil
}

func newArbiter(ctx context.Context, config *Config, logger *zap.Logger) (ai.Arbiter, error) {
	provider := strings.TrimSpace(strings.ToLower(config.Arbitration.Provider))
	if provider == ProviderManual {
		return manual.New(os.Stdout), nil
	}

	pc := config.provider()
	if pc == nil {
		return nil, fmt.Errorf("unsupported arbitration provider: %s", config.Arbitration.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:           provider + " api key",
		File:           pc.APIKeyFile,
		KeyringAccount: pc.KeyringAccount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set arbitration.%s.api-key-file, run `%s secret set %s`, or export %s_API_KEY_FILE)",
			err, provider, app, provider, strings.ToUpper(provider))
	}

	var generator ai.Generator
	switch provider {
	case ProviderAnthropic:
		generator, err = claude.NewGenerator(apiKey, pc.Model, pc.MaxRetries, logger)
	default:
		generator, err = gemini.NewGenerator(ctx, apiKey, pc.Model, pc.MaxRetries, logger)
	}
	if err != nil {
		return nil, err
	}

	arbiterLogger := logger.With(
		zap.String("provider", provider),
		zap.String("model", generator.Model()),
		zap.Float64("min_confidence", config.Arbitration.MinConfidence),
	)

	return ai.NewPairArbiter(generator, pc.MaxLogLength, arbiterLogger), nil
}

func runStats(collected int, p *pipeline, filtered *jobs.Jobs) store.RunStats {
	stats := store.RunStats{Collected: collected, Unique: filtered.Len()}
	if res := p.dedupe.Result(); res != nil {
		stats.DuplicatesRemoved = res.DuplicatesRemoved
		stats.ByProviderID = res.DuplicatesByProviderID
		stats.ByURL = res.DuplicatesByURL
		stats.ByFuzzy = res.DuplicatesByFuzzy
		stats.Uncertain = len(res.Uncertain)
	}
	stats.Merged = len(p.arbitration.Merges())
	return stats
}

func flagBool(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}
	flag := cmd.Flag(name)
	return flag != nil && strings.EqualFold(flag.Value.String(), "true")
}

func flagString(cmd *cobra.Command, name string) string {
	if cmd == nil {
		return ""
	}
	flag := cmd.Flag(name)
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(flag.Value.String())
}
