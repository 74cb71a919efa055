package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/verprune/verprune/internal/config"
	"github.com/verprune/verprune/internal/policy"
	"github.com/verprune/verprune/internal/prune"
)

var explainFlags struct {
	oldestDays int
}

var explainCmd = &cobra.Command{
	Use:   "explain PATH...",
	Short: "Show the policy and retention windows for paths",
	Long: `Show which retention policy applies to each path and the windows it
expands to, assuming the path's oldest version is --oldest-days old.

No bucket access is needed; only the retention section of the config is used.

Examples:
  verprune explain photos/2024/img.jpg logs/app.log
  verprune explain --oldest-days 30 backups/db.sql`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExplain,
}

func init() {
	rootCmd.AddCommand(explainCmd)

	explainCmd.Flags().IntVar(&explainFlags.oldestDays, "oldest-days", 3650, "age of the oldest version in days")
}

// loadRetentionConfig reads the config without requiring store settings.
func loadRetentionConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromPath(cfgFile)
	}
	return config.Parse(nil, config.Environ())
}

func runExplain(cmd *cobra.Command, args []string) error {
	cfg, err := loadRetentionConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	planner, err := prune.NewPlanner(cfg.Retention.Policies, cfg.Retention.Rules)
	if err != nil {
		return err
	}
	if explainFlags.oldestDays < 0 {
		return errors.New("--oldest-days must not be negative")
	}

	now := time.Now().Unix()
	age := int64(explainFlags.oldestDays) * policy.SecondsPerDay
	out := cmd.OutOrStdout()
	for i, path := range args {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printExplanation(out, planner.Explain(path, age, now))
	}
	return nil
}

func printExplanation(out io.Writer, exp prune.Explanation) {
	fmt.Fprintf(out, "Path:   %s\n", exp.Path)
	fmt.Fprintf(out, "Policy: %s (%s)\n", exp.Policy, exp.Spec)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REASON\tDAYS\tCUTOFF\tMUST EXIST")
	for _, win := range exp.Windows {
		fmt.Fprintf(w, "%s\t%d\t%s\t%t\n",
			win.Reason, win.Days, time.Unix(win.Cutoff, 0).UTC().Format(time.DateOnly), win.MustExist)
	}
	w.Flush()
}
