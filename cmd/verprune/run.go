package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/verprune/verprune/internal/prune"
)

var runFlags struct {
	dryRun     bool
	prefix     string
	startAfter string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single prune pass",
	Long: `Run a single prune pass over the configured bucket and exit.

The exit status is non-zero when the listing failed or too many deletion
workers died.

Examples:
  # Prune with the configured policies
  verprune run --config /etc/verprune/config.yaml

  # Log what would be deleted without deleting anything
  verprune run --dry-run

  # Resume an interrupted pass after a given key
  verprune run --start-after photos/2023/`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "log deletions without executing them")
	runCmd.Flags().StringVar(&runFlags.prefix, "prefix", "", "only prune keys under this prefix")
	runCmd.Flags().StringVar(&runFlags.startAfter, "start-after", "", "resume the listing after this key")
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Retention.DryRun = runFlags.dryRun
	}
	if cmd.Flags().Changed("prefix") {
		cfg.Retention.Prefix = runFlags.prefix
	}
	if cmd.Flags().Changed("start-after") {
		cfg.Retention.StartAfter = runFlags.startAfter
	}

	tel := newTelemetry()
	stopMetrics, err := tel.startMetricsServer(cfg.Observability.MetricsAddr, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	j, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	sum, err := newPruner(cfg, tel, j, logger).Run(cmd.Context())
	printSummary(cmd.OutOrStdout(), sum, cfg.Retention.DryRun)
	return err
}

func printSummary(out io.Writer, sum prune.Summary, dryRun bool) {
	if sum.RunID == "" {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", sum.RunID)
	fmt.Fprintf(w, "Paths:\t%d\n", sum.Paths)
	fmt.Fprintf(w, "Versions:\t%d\n", sum.Versions)
	fmt.Fprintf(w, "Preserved:\t%d\n", sum.Preserved)
	if dryRun {
		fmt.Fprintf(w, "Would delete:\t%d\n", sum.Planned)
	} else {
		fmt.Fprintf(w, "Deleted:\t%d\n", sum.Deleted)
		fmt.Fprintf(w, "Already gone:\t%d\n", sum.NotFound)
		fmt.Fprintf(w, "Failed:\t%d\n", sum.Failed)
		if sum.Dropped > 0 {
			fmt.Fprintf(w, "Not attempted:\t%d\n", sum.Dropped)
		}
	}
	if sum.Skipped > 0 {
		fmt.Fprintf(w, "Skipped paths:\t%d\n", sum.Skipped)
	}
	fmt.Fprintf(w, "Uploads cancelled:\t%d\n", sum.UploadsCancelled)
	if sum.JournalLost > 0 {
		fmt.Fprintf(w, "Journal records lost:\t%d\n", sum.JournalLost)
	}
	fmt.Fprintf(w, "Duration:\t%s\n", sum.Duration.Round(time.Millisecond))
	w.Flush()
}
