package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/turfline/racesync/internal/config"
	"github.com/turfline/racesync/internal/ingest"
	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/provider"
	"github.com/turfline/racesync/internal/resilience"
	"github.com/turfline/racesync/internal/resolve"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill race results over a date range",
	Long: `Backfill race results in resumable date chunks.

The run resumes from the stored checkpoint by default; --no-resume forces
a full re-ingest of the requested range (idempotent upserts make that safe).
Interrupting with SIGINT/SIGTERM stops between chunks and keeps the
checkpoint consistent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("backfill"); err != nil {
			return err
		}

		opts, err := parseBackfillOpts(cmd, cfg)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "backfill: migrate")
		}

		gw := provider.NewClient(provider.Options{
			BaseURL:  cfg.Provider.BaseURL,
			Username: cfg.Provider.Username,
			Password: cfg.Provider.Password,
			Timeout:  time.Duration(cfg.Provider.TimeoutSecs) * time.Second,
			Limiter:  rate.NewLimiter(rate.Limit(cfg.Provider.RatePerSec), cfg.Provider.Burst),
		})

		zap.L().Info("starting backfill",
			zap.String("start", opts.Start.Format("2006-01-02")),
			zap.String("end", opts.End.Format("2006-01-02")),
			zap.String("region", string(opts.Region)),
			zap.Int("chunk_days", opts.ChunkDays),
			zap.Int("workers", opts.Workers),
			zap.Bool("resume", opts.Resume),
		)

		sum, err := ingest.NewOrchestrator(gw, st, opts).Run(ctx)
		if sum != nil {
			fmt.Printf("Chunks: %d synced, %d skipped of %d planned\n",
				sum.ChunksSynced, sum.ChunksSkipped, sum.ChunksPlanned)
			fmt.Printf("Rows: %d races, %d runners\n", sum.RacesSynced, sum.RunnersSynced)
			fmt.Printf("Enrichment: %d enriched, %d not found, %d failed\n",
				sum.Enrichment.Enriched, sum.Enrichment.NotFound, sum.Enrichment.Failed)
		}
		if err != nil {
			return eris.Wrap(err, "backfill")
		}

		fmt.Println("Backfill complete")
		return nil
	},
}

func init() {
	backfillCmd.Flags().String("start", "", "range start date (YYYY-MM-DD, required)")
	backfillCmd.Flags().String("end", "", "range end date (YYYY-MM-DD, default today)")
	backfillCmd.Flags().String("region", "gb", "region to ingest: gb or ire")
	backfillCmd.Flags().Int("chunk-days", 0, "chunk size in days (default from config)")
	backfillCmd.Flags().Int("workers", 0, "concurrent enrichment workers (default from config)")
	backfillCmd.Flags().Bool("no-resume", false, "ignore the stored checkpoint and re-ingest the full range")
	backfillCmd.Flags().Bool("skip-failed", false, "advance past chunks whose retries are exhausted")
	backfillCmd.Flags().String("overrides", "", "YAML file pinning ancestor names to canonical horse ids")
	_ = backfillCmd.MarkFlagRequired("start")
	rootCmd.AddCommand(backfillCmd)
}

// parseBackfillOpts extracts ingest.Options from flags and configuration.
func parseBackfillOpts(cmd *cobra.Command, cfg *config.Config) (ingest.Options, error) {
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	regionStr, _ := cmd.Flags().GetString("region")
	chunkDays, _ := cmd.Flags().GetInt("chunk-days")
	workers, _ := cmd.Flags().GetInt("workers")
	noResume, _ := cmd.Flags().GetBool("no-resume")
	skipFailed, _ := cmd.Flags().GetBool("skip-failed")
	overridesPath, _ := cmd.Flags().GetString("overrides")

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return ingest.Options{}, eris.Wrapf(err, "backfill: invalid --start %q", startStr)
	}

	end := time.Now().UTC()
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return ingest.Options{}, eris.Wrapf(err, "backfill: invalid --end %q", endStr)
		}
	}

	region, ok := model.ParseRegion(regionStr)
	if !ok {
		return ingest.Options{}, eris.Errorf("backfill: invalid --region %q (gb or ire)", regionStr)
	}

	var overrides *resolve.Overrides
	if overridesPath != "" {
		overrides, err = resolve.LoadOverrides(overridesPath)
		if err != nil {
			return ingest.Options{}, err
		}
	}

	if chunkDays == 0 {
		chunkDays = cfg.Backfill.ChunkDays
	}
	if workers == 0 {
		workers = cfg.Backfill.Workers
	}

	backoff := time.Duration(cfg.Backfill.RetryBackoffSecs) * time.Second
	return ingest.Options{
		Start:       start,
		End:         end,
		Region:      region,
		ChunkDays:   chunkDays,
		Workers:     workers,
		ChunkRetry:  resilience.NewPolicy(cfg.Backfill.ChunkRetries, backoff, 0),
		EnrichRetry: resilience.NewPolicy(cfg.Backfill.EnrichRetries, backoff, 0),
		Resume:      !noResume,
		SkipFailed:  skipFailed || cfg.Backfill.SkipFailed,
		Overrides:   overrides,
	}, nil
}
