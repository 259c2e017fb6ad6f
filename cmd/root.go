package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turfline/racesync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "racesync",
	Short: "Incremental racing results ingestion engine",
	Long:  "Backfills historical race results in resumable date chunks, deduplicates horses, trainers, jockeys, owners and pedigree entities, and selectively enriches new horses under a shared upstream rate limit.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
