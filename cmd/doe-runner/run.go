package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/strataregula/doe-runner/pkg/backend"
	"github.com/strataregula/doe-runner/pkg/cache"
	"github.com/strataregula/doe-runner/pkg/cases"
	"github.com/strataregula/doe-runner/pkg/config"
	"github.com/strataregula/doe-runner/pkg/report"
	"github.com/strataregula/doe-runner/pkg/runner"
	"github.com/strataregula/doe-runner/pkg/runstore"
	"github.com/strataregula/doe-runner/pkg/sysinfo"
)

var (
	casesFile           string
	outFile             string
	maxWorkers          int
	forceRun            bool
	failFast            bool
	dryRun              bool
	saveOutput          bool
	timeoutOverride     int
	globalTimeoutS      int
	limitBackends       []string
	limitCaseIDs        []string
	limitResourceGroups []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a case table",
	Long: `Load a cases file, execute every case that is not already cached,
validate thresholds and write the metrics table and run log.

The exit code reflects the run classification: 0 when every case
succeeded, 2 when cases succeeded but thresholds were violated, and
3 when any case failed or timed out.`,
	RunE: runCases,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&casesFile, "cases", "", "cases file (CSV or YAML)")
	runCmd.Flags().StringVar(&outFile, "out", "", "metrics output path (default from config)")
	runCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "worker pool size (default from config)")
	runCmd.Flags().BoolVar(&forceRun, "force", false, "re-execute cached cases and overwrite their entries")
	runCmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort the batch after the first failed case")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and show the execution plan without running")
	runCmd.Flags().BoolVar(&saveOutput, "save-output", false, "capture backend stdout/stderr as artifacts")
	runCmd.Flags().IntVar(&timeoutOverride, "timeout", 0, "override every case's timeout_s (seconds)")
	runCmd.Flags().IntVar(&globalTimeoutS, "global-timeout", 0, "bound the whole run (seconds, 0 = unbounded)")
	runCmd.Flags().StringSliceVar(&limitBackends, "limit-backend", nil,
		"limit to cases with these backends (comma-separated or repeated flag)")
	runCmd.Flags().StringSliceVar(&limitCaseIDs, "limit-case-id", nil,
		"limit to cases with these IDs (comma-separated or repeated flag)")
	runCmd.Flags().StringSliceVar(&limitResourceGroups, "limit-resource-group", nil,
		"limit to cases in these resource groups (comma-separated or repeated flag)")

	_ = runCmd.MarkFlagRequired("cases")
}

func runCases(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	applyRunFlags(cmd, cfg)

	cs, errs, err := loadAndValidate(casesFile)
	if err != nil {
		return err
	}

	if len(errs) > 0 {
		for _, e := range errs {
			log.Error(e)
		}

		return fmt.Errorf("cases file %s has %d validation errors", casesFile, len(errs))
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	registry := backend.NewRegistry(log)

	store, err := cache.NewFSStore(log, cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}

	if dryRun {
		return printPlan(cfg, cs, store)
	}

	runnerCfg := &runner.Config{
		MaxWorkers:      cfg.Runner.MaxWorkers,
		Force:           forceRun,
		FailFast:        cfg.Runner.FailFast,
		GlobalTimeout:   time.Duration(cfg.Runner.GlobalTimeoutS) * time.Second,
		TimeoutOverride: timeoutOverride,
		Filter: runner.Filter{
			Backends:       limitBackends,
			CaseIDs:        limitCaseIDs,
			ResourceGroups: limitResourceGroups,
		},
		ArtifactsDir: cfg.Runner.ArtifactsDir,
		SaveOutput:   cfg.Runner.SaveOutput,
	}

	r := runner.NewRunner(log, runnerCfg, registry, store)

	rep, err := r.Run(ctx, cs)
	if err != nil {
		return fmt.Errorf("running cases: %w", err)
	}

	if err := report.WriteMetricsCSV(cfg.Runner.OutputFile, rep.Cases, rep.Results); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}

	log.WithField("path", cfg.Runner.OutputFile).Info("Metrics written")

	host := sysinfo.Collect(ctx)

	logPath, err := report.WriteRunLog(cfg.Runner.RunLogDir, &report.RunLogInfo{
		Report:    rep,
		Host:      host,
		CasesPath: casesFile,
		Artifacts: artifactPaths(cfg, rep),
	})
	if err != nil {
		log.WithError(err).Warn("Failed to write run log")
	} else {
		log.WithField("path", logPath).Info("Run log written")
	}

	if cfg.History.Enabled {
		if err := recordHistory(ctx, cfg, rep, host); err != nil {
			log.WithError(err).Warn("Failed to record run history")
		}
	}

	exitCode = rep.Classification.ExitCode()

	return nil
}

// applyRunFlags merges explicitly set CLI flags into the loaded config.
// Flags win over config file and environment.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("max-workers") {
		cfg.Runner.MaxWorkers = maxWorkers
	}

	if cmd.Flags().Changed("out") {
		cfg.Runner.OutputFile = outFile
	}

	if cmd.Flags().Changed("fail-fast") {
		cfg.Runner.FailFast = failFast
	}

	if cmd.Flags().Changed("save-output") {
		cfg.Runner.SaveOutput = saveOutput
	}

	if cmd.Flags().Changed("global-timeout") {
		cfg.Runner.GlobalTimeoutS = globalTimeoutS
	}
}

// loadAndValidate reads the cases file and runs both the raw record
// checks and the structural checks.
func loadAndValidate(path string) ([]*cases.Case, []string, error) {
	recs, err := cases.LoadRecords(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading cases: %w", err)
	}

	var errs []string

	cs := make([]*cases.Case, 0, len(recs))

	for i, rec := range recs {
		errs = append(errs, cases.ValidateRecord(rec, i+1)...)
		cs = append(cs, cases.FromRecord(rec))
	}

	errs = append(errs, cases.Validate(cs)...)

	return cs, errs, nil
}

// printPlan reports what a run would execute without executing it.
func printPlan(cfg *config.Config, cs []*cases.Case, store cache.Store) error {
	cached := 0

	fmt.Printf("Execution plan (%d cases, %d workers):\n", len(cs), cfg.Runner.MaxWorkers)

	for _, c := range cs {
		state := "execute"

		if !forceRun && store.Exists(cases.Hash(c)) {
			state = "cached"
			cached++
		}

		line := fmt.Sprintf("  %-24s backend=%-10s timeout=%ds %s", c.ID, c.Backend, c.TimeoutS, state)

		if len(c.DependsOn) > 0 {
			line += " after=" + strings.Join(c.DependsOn, ",")
		}

		fmt.Println(line)
	}

	fmt.Printf("%d to execute, %d cached\n", len(cs)-cached, cached)

	return nil
}

// artifactPaths lists the per-case artifact directories for the run log.
func artifactPaths(cfg *config.Config, rep *runner.Report) []string {
	if !cfg.Runner.SaveOutput || cfg.Runner.ArtifactsDir == "" {
		return nil
	}

	paths := make([]string, 0, len(rep.Results))

	for _, res := range rep.Results {
		if res.CacheHit {
			continue
		}

		paths = append(paths, fmt.Sprintf("%s/%s/%s", cfg.Runner.ArtifactsDir, rep.RunID, res.CaseID))
	}

	return paths
}

// recordHistory persists the run summary and per-case records.
func recordHistory(
	ctx context.Context,
	cfg *config.Config,
	rep *runner.Report,
	host *sysinfo.Snapshot,
) error {
	store := runstore.NewStore(log, &cfg.History.Database)

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting history store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop history store")
		}
	}()

	run := &runstore.Run{
		RunID:          rep.RunID,
		StartedAt:      rep.StartedAt,
		FinishedAt:     rep.FinishedAt,
		Classification: string(rep.Classification),
		CasesFile:      casesFile,
		Hostname:       host.Hostname,
		Total:          rep.Stats.Total,
		Succeeded:      rep.Stats.Succeeded,
		Failed:         rep.Stats.Failed,
		TimedOut:       rep.Stats.TimedOut,
		CacheHits:      rep.Stats.CacheHits,
		Violations:     rep.Stats.Violations,
	}

	records := make([]runstore.CaseRecord, 0, len(rep.Results))

	for i, res := range rep.Results {
		records = append(records, runstore.CaseRecord{
			CaseID:     res.CaseID,
			Hash:       cases.Hash(rep.Cases[i]),
			Backend:    rep.Cases[i].Backend,
			Status:     string(res.Status),
			RunSeconds: res.RunSeconds,
			Attempts:   res.Attempts,
			CacheHit:   res.CacheHit,
		})
	}

	if err := store.RecordRun(ctx, run, records); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	log.WithFields(logrus.Fields{
		"run_id": rep.RunID,
		"cases":  len(records),
	}).Info("Run recorded in history")

	return nil
}
