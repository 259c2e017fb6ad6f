package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/turfline/racesync/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint, table counts, and recent chunk runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cp, err := st.Checkpoint(ctx)
		if err != nil {
			return err
		}
		if cp == nil {
			fmt.Println("Checkpoint: none (no backfill has committed yet)")
		} else {
			fmt.Printf("Checkpoint: resume from %s (attempts %d, updated %s)\n",
				cp.ResumeDate.Format("2006-01-02"),
				cp.AttemptCount,
				cp.UpdatedAt.Format(time.RFC3339))
		}

		counts, err := st.Counts(ctx)
		if err != nil {
			return err
		}
		fmt.Println("\nRow counts:")
		for _, table := range []string{"races", "runners", "horses", "ancestors", "role_entities"} {
			fmt.Printf("  %-14s %d\n", table, counts[table])
		}

		runs, err := st.ListChunkRuns(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Printf("\nRecent chunk runs (%d):\n", len(runs))
		formatRunEntries(os.Stdout, runs)

		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of recent chunk runs to show")
	rootCmd.AddCommand(statusCmd)
}

// formatRunEntries writes the run log as an aligned table.
func formatRunEntries(out io.Writer, runs []model.ChunkRun) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHUNK\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")

	for _, r := range runs {
		chunk := fmt.Sprintf("%s..%s",
			r.ChunkStart.Format("2006-01-02"),
			r.ChunkEnd.Format("2006-01-02"))

		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncate(r.ID, 8),
			chunk,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			duration,
			r.RowsSynced,
			truncate(r.Error, 40),
		)
	}
	w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
