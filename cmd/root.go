package cmd

import (
	"errors"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "job-aggregator"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "job-aggregator collects job postings from several sources and removes duplicates",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"store.path":                         "JOB_AGGREGATOR_DB",
		"exclude-file":                       "JOB_AGGREGATOR_EXCLUDE_FILE",
		"arbitration.gemini.api-key-file":    "GEMINI_API_KEY_FILE",
		"arbitration.anthropic.api-key-file": "ANTHROPIC_API_KEY_FILE",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults(viper.GetViper())

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-aggregator.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Only run, history and secret read the config file.
	optional := historyCmd.CalledAs() != "" || secretSetCmd.CalledAs() != ""
	if runCmd.CalledAs() == "" && !optional {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	err := viper.ReadInConfig()
	if err == nil {
		return
	}

	// history and secret work on defaults, run needs sources from the file
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) && optional {
		return
	}

	// We can't proceed if the config file parsed with error.
	log.Fatal(err)
}
