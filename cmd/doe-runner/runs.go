package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/strataregula/doe-runner/pkg/config"
	"github.com/strataregula/doe-runner/pkg/runstore"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Query recorded run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(ctx context.Context, store runstore.Store) error {
			runs, err := store.ListRuns(ctx, runsLimit)
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			for _, run := range runs {
				fmt.Printf("%s  %s  %-22s total=%d ok=%d failed=%d timeout=%d cached=%d violations=%d\n",
					run.RunID,
					run.StartedAt.UTC().Format("2006-01-02 15:04:05"),
					run.Classification,
					run.Total, run.Succeeded, run.Failed,
					run.TimedOut, run.CacheHits, run.Violations)
			}

			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show one run with its case outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(ctx context.Context, store runstore.Store) error {
			run, records, err := store.GetRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("loading run: %w", err)
			}

			fmt.Printf("run %s (%s)\n", run.RunID, run.Classification)
			fmt.Printf("  cases file: %s\n", run.CasesFile)
			fmt.Printf("  host:       %s\n", run.Hostname)
			fmt.Printf("  started:    %s\n", run.StartedAt.UTC().Format("2006-01-02 15:04:05"))
			fmt.Printf("  duration:   %s\n\n", run.FinishedAt.Sub(run.StartedAt))

			for _, rec := range records {
				cached := ""
				if rec.CacheHit {
					cached = " (cached)"
				}

				fmt.Printf("  %-24s %-8s %-10s %.6fs attempts=%d%s\n",
					rec.CaseID, rec.Status, rec.Backend,
					rec.RunSeconds, rec.Attempts, cached)
			}

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
}

// withHistory opens the configured history store for the duration of fn.
func withHistory(fn func(context.Context, runstore.Store) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.History.Enabled {
		return fmt.Errorf("run history is not enabled (set history.enabled: true)")
	}

	ctx := context.Background()

	store := runstore.NewStore(log, &cfg.History.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting history store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop history store")
		}
	}()

	return fn(ctx, store)
}
