package cmd

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-aggregator/internal/logger"
	"github.com/spigell/job-aggregator/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs recorded in the job database",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("creating a logger: %s", err)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		path := viper.GetString("store.path")

		db, err := store.Open(context.Background(), path)
		if err != nil {
			logger.Fatal("opening the job database", zap.String("path", path), zap.Error(err))
		}
		defer db.Close()

		runs, err := db.Runs(context.Background(), limit)
		if err != nil {
			logger.Fatal("listing runs", zap.Error(err))
		}

		printRuns(os.Stdout, runs)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to show")
}
