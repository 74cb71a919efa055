package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/verprune/verprune/internal/journal"
)

var historyFlags struct {
	limit int
	runID string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs recorded in the journal",
	Long: `List recent prune runs recorded in the journal, or the deletions of one run.

Examples:
  verprune history --limit 5
  verprune history --run 2f1c9a7e-...`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "number of runs to show")
	historyCmd.Flags().StringVar(&historyFlags.runID, "run", "", "show the deletions of this run")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadRetentionConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Journal.Enabled {
		return errors.New("journal is not enabled (journal.enabled)")
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	if historyFlags.runID != "" {
		dels, err := j.Deletions(ctx, historyFlags.runID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "PATH\tVERSION\tUPLOADED\tREASON\tSTATUS\tERROR")
		for _, d := range dels {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Path, d.FileID,
				time.Unix(d.Timestamp, 0).UTC().Format(time.RFC3339), d.Reason, d.Status, d.Error)
		}
		return nil
	}

	runs, err := j.Runs(ctx, historyFlags.limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tDRY RUN\tPATHS\tVERSIONS\tDELETED\tFAILED\tERROR")
	for _, r := range runs {
		duration := "running"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\t%d\t%d\t%s\n", r.RunID,
			r.StartedAt.UTC().Format(time.RFC3339), duration, r.DryRun,
			r.Stats.Paths, r.Stats.Versions, r.Stats.Deleted, r.Stats.Failed, r.Error)
	}
	return nil
}
