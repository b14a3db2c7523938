// Package runner contains the orchestration core: it resolves each
// case against the cache, dispatches misses to a bounded worker pool
// with retry and dependency gating, validates thresholds and restores
// input order before reporting.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/strataregula/doe-runner/pkg/backend"
	"github.com/strataregula/doe-runner/pkg/cache"
	"github.com/strataregula/doe-runner/pkg/cases"
	"github.com/strataregula/doe-runner/pkg/fsutil"
	"github.com/strataregula/doe-runner/pkg/metrics"
	"github.com/strataregula/doe-runner/pkg/result"
	"golang.org/x/sync/errgroup"
)

// errFailFast aborts remaining work after the first non-OK case when
// fail-fast is enabled. It is not surfaced to callers.
var errFailFast = errors.New("fail-fast triggered")

// Filter restricts which cases a run executes. Empty slices match
// everything.
type Filter struct {
	Backends       []string
	CaseIDs        []string
	ResourceGroups []string
}

// Config for the runner.
type Config struct {
	// MaxWorkers bounds the worker pool; 1 means strictly sequential.
	MaxWorkers int

	// Force bypasses cache lookups and overwrites existing entries.
	Force bool

	// FailFast aborts the batch after the first non-OK case.
	FailFast bool

	// GlobalTimeout bounds the whole run; zero means unbounded. When it
	// expires, in-flight backend process trees are hard-killed.
	GlobalTimeout time.Duration

	// TimeoutOverride replaces every case's timeout_s when positive.
	TimeoutOverride int

	Filter Filter

	// ArtifactsDir, when SaveOutput is set, receives captured
	// stdout/stderr per case and attempt.
	ArtifactsDir string
	SaveOutput   bool
}

// Report is the outcome of a whole run. Results are in input case
// order regardless of completion order across workers.
type Report struct {
	RunID          string
	Cases          []*cases.Case
	Results        []*result.ExecutionResult
	Violations     []result.ThresholdViolation
	Stats          result.RunStats
	Classification result.Classification
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration returns the wall-clock duration of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Runner orchestrates case execution against the cache and backends.
type Runner interface {
	Run(ctx context.Context, cs []*cases.Case) (*Report, error)
}

// Compile-time interface check.
var _ Runner = (*runner)(nil)

type runner struct {
	log      logrus.FieldLogger
	cfg      *Config
	registry backend.Registry
	store    cache.Store
}

// NewRunner creates a runner. The cache handle is passed in explicitly
// so the engine stays testable in isolation.
func NewRunner(
	log logrus.FieldLogger,
	cfg *Config,
	registry backend.Registry,
	store cache.Store,
) Runner {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}

	return &runner{
		log:      log.WithField("component", "runner"),
		cfg:      cfg,
		registry: registry,
		store:    store,
	}
}

// Run executes the given case sequence and returns the ordered report.
func (r *runner) Run(ctx context.Context, all []*cases.Case) (*Report, error) {
	cs := filterCases(all, r.cfg.Filter)
	if len(cs) == 0 {
		return nil, &ConfigurationError{Reason: "no cases match the configured filters"}
	}

	cs = r.applyTimeoutOverride(cs)

	runID := uuid.NewString()[:8]
	startedAt := time.Now()

	log := r.log.WithField("run_id", runID)
	log.WithFields(logrus.Fields{
		"cases":       len(cs),
		"max_workers": r.cfg.MaxWorkers,
		"force":       r.cfg.Force,
	}).Info("Starting run")

	if r.cfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.cfg.GlobalTimeout)
		defer cancel()
	}

	hashes := make([]string, len(cs))
	for i, c := range cs {
		hashes[i] = cases.Hash(c)
	}

	results := make([]*result.ExecutionResult, len(cs))

	// Resolve cache hits and find duplicate-content cases up front.
	// The first occurrence of a hash executes; later occurrences reuse
	// its outcome so identical content never double-executes.
	var pending []int

	primary := make(map[string]int, len(cs))
	duplicates := make(map[string][]int)

	for i := range cs {
		if !r.cfg.Force {
			res, err := r.store.Load(hashes[i])

			switch {
			case err == nil:
				hit := *res
				hit.CacheHit = true
				results[i] = &hit

				log.WithField("case_id", cs[i].ID).Debug("Cache hit")

				continue
			case errors.Is(err, cache.ErrNotFound):
				// Miss, fall through to execution.
			default:
				return nil, &InfrastructureError{Op: "cache lookup", Err: err}
			}
		}

		if first, seen := primary[hashes[i]]; seen {
			duplicates[hashes[i]] = append(duplicates[hashes[i]], i)

			log.WithFields(logrus.Fields{
				"case_id": cs[i].ID,
				"reuses":  cs[first].ID,
			}).Debug("Duplicate case content, reusing first execution")

			continue
		}

		primary[hashes[i]] = i
		pending = append(pending, i)
	}

	if err := r.executePending(ctx, log, runID, cs, hashes, results, pending, duplicates); err != nil {
		return nil, err
	}

	// Anything still unset was skipped by fail-fast or the global
	// timeout; record it as a failed case so the report stays complete.
	for i := range results {
		if results[i] == nil {
			results[i] = synthesizeFailure(cs[i].ID)
		}
	}

	violations := ValidateThresholds(cs, results)
	stats := computeStats(results, violations)

	rep := &Report{
		RunID:          runID,
		Cases:          cs,
		Results:        results,
		Violations:     violations,
		Stats:          stats,
		Classification: result.Classify(stats),
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
	}

	log.WithFields(logrus.Fields{
		"total":          stats.Total,
		"succeeded":      stats.Succeeded,
		"failed":         stats.Failed,
		"timed_out":      stats.TimedOut,
		"cache_hits":     stats.CacheHits,
		"violations":     stats.Violations,
		"classification": rep.Classification,
	}).Info("Run finished")

	return rep, nil
}

// executePending drives the bounded worker pool. A dispatcher feeds a
// fixed work channel with cases whose dependencies have reached a
// terminal result; N workers consume it. Dependency resolution gates
// dispatch timing only, never reporting order.
func (r *runner) executePending(
	ctx context.Context,
	log logrus.FieldLogger,
	runID string,
	cs []*cases.Case,
	hashes []string,
	results []*result.ExecutionResult,
	pending []int,
	duplicates map[string][]int,
) error {
	if len(pending) == 0 {
		return nil
	}

	work := make(chan int)
	completions := make(chan int)

	terminal := make(map[string]struct{}, len(cs))

	for i, res := range results {
		if res != nil {
			terminal[cs[i].ID] = struct{}{}
		}
	}

	inRun := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		inRun[c.ID] = struct{}{}
	}

	depsSatisfied := func(c *cases.Case) bool {
		for _, dep := range c.DependsOn {
			if _, done := terminal[dep]; done {
				continue
			}

			// A dependency removed by filtering cannot gate dispatch.
			if _, present := inRun[dep]; present {
				return false
			}
		}

		return true
	}

	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < r.cfg.MaxWorkers; w++ {
		g.Go(func() error {
			for {
				select {
				case idx, ok := <-work:
					if !ok {
						return nil
					}

					res := r.executeCase(gctx, log, runID, cs[idx], hashes[idx])
					results[idx] = res

					if err := r.store.Save(hashes[idx], res); err != nil {
						return &InfrastructureError{Op: "cache save", Err: err}
					}

					select {
					case completions <- idx:
					case <-gctx.Done():
						return gctx.Err()
					}

					if r.cfg.FailFast && res.Status != result.StatusOK {
						log.WithField("case_id", cs[idx].ID).
							Warn("Aborting run (fail-fast)")

						return errFailFast
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	g.Go(func() error {
		defer close(work)

		var ready, blocked []int

		for _, idx := range pending {
			if depsSatisfied(cs[idx]) {
				ready = append(ready, idx)
			} else {
				blocked = append(blocked, idx)
			}
		}

		inflight := 0

		for inflight > 0 || len(ready) > 0 || len(blocked) > 0 {
			// With nothing running and nothing ready, the remaining
			// dependencies can never be satisfied. Failed dependencies
			// still count as terminal, so this is a cycle.
			if inflight == 0 && len(ready) == 0 {
				return &ConfigurationError{
					Reason: fmt.Sprintf("dependency cycle involving %d cases", len(blocked)),
				}
			}

			// A nil channel blocks forever, disabling the send arm
			// while nothing is ready.
			var sendCh chan int

			var next int

			if len(ready) > 0 {
				sendCh = work
				next = ready[0]
			}

			select {
			case sendCh <- next:
				ready = ready[1:]
				inflight++

			case idx := <-completions:
				inflight--

				terminal[cs[idx].ID] = struct{}{}

				// Fan the outcome out to duplicate-content cases.
				for _, dupIdx := range duplicates[hashes[idx]] {
					reused := *results[idx]
					reused.CaseID = cs[dupIdx].ID
					reused.CacheHit = true
					results[dupIdx] = &reused
					terminal[cs[dupIdx].ID] = struct{}{}
				}

				still := blocked[:0]

				for _, b := range blocked {
					if depsSatisfied(cs[b]) {
						ready = append(ready, b)
					} else {
						still = append(still, b)
					}
				}

				blocked = still

			case <-gctx.Done():
				return gctx.Err()
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		switch {
		case errors.Is(err, errFailFast):
			return nil
		case errors.Is(err, context.DeadlineExceeded) && r.cfg.GlobalTimeout > 0:
			log.Warn("Global timeout reached, remaining cases recorded as failed")

			return nil
		default:
			return err
		}
	}

	return nil
}

// attemptState models the bounded retry loop explicitly.
type attemptState int

const (
	statePending attemptState = iota
	stateAttempting
	stateRetrying
	stateSuccess
	stateExhausted
)

// executeCase runs the attempt loop for one case. Retries happen
// immediately (no backoff) and only on FAIL or TIMEOUT; the reported
// result is always the final attempt's outcome.
func (r *runner) executeCase(
	ctx context.Context,
	log logrus.FieldLogger,
	runID string,
	c *cases.Case,
	hash string,
) *result.ExecutionResult {
	caseLog := log.WithFields(logrus.Fields{
		"case_id": c.ID,
		"backend": c.Backend,
	})

	tsStart := time.Now().UTC().Format(result.TimestampLayout)

	be, ok := r.registry.Get(c.Backend)
	if !ok {
		// The external validator rejects unknown backends; reaching
		// this point means it was bypassed.
		caseLog.Error("Unknown backend")

		return synthesizeFailure(c.ID)
	}

	maxAttempts := c.Retries + 1

	var (
		status   result.Status
		m        map[string]float64
		elapsed  time.Duration
		attempts int
	)

	state := statePending

	for state != stateSuccess && state != stateExhausted {
		switch state {
		case statePending, stateRetrying:
			state = stateAttempting

		case stateAttempting:
			attempts++

			raw, err := be.Execute(ctx, c)
			if err != nil {
				caseLog.WithError(err).WithField("attempt", attempts).
					Warn("Backend execution error")

				status = result.StatusFail
				m = map[string]float64{"errors": 1}
				elapsed = 0
			} else {
				status, m = classifyOutcome(raw)
				elapsed = raw.Elapsed

				r.saveArtifacts(caseLog, runID, c, attempts, raw)
			}

			switch {
			case status == result.StatusOK:
				state = stateSuccess
			case attempts >= maxAttempts || ctx.Err() != nil:
				state = stateExhausted
			default:
				caseLog.WithFields(logrus.Fields{
					"attempt": attempts,
					"status":  status,
				}).Info("Retrying case")

				state = stateRetrying
			}
		}
	}

	res := &result.ExecutionResult{
		CaseID:     c.ID,
		Status:     status,
		RunSeconds: elapsed.Seconds(),
		Metrics:    m,
		TsStart:    tsStart,
		TsEnd:      time.Now().UTC().Format(result.TimestampLayout),
		Attempts:   attempts,
	}

	caseLog.WithFields(logrus.Fields{
		"status":      res.Status,
		"attempts":    res.Attempts,
		"run_seconds": res.RunSeconds,
		"hash":        hash,
	}).Info("Case finished")

	return res
}

// classifyOutcome maps a raw backend outcome to a terminal status and
// its extracted metrics.
func classifyOutcome(raw *backend.RawOutcome) (result.Status, map[string]float64) {
	m := metrics.Extract(raw.Stdout, raw.Stderr)

	switch {
	case raw.TimedOut:
		if m["errors"] < 1 {
			m["errors"] = 1
		}

		return result.StatusTimeout, m

	case raw.ExitCode == 0:
		if _, ok := m["errors"]; !ok {
			m["errors"] = 0
		}

		return result.StatusOK, m

	default:
		if m["errors"] < 1 {
			m["errors"] = 1
		}

		return result.StatusFail, m
	}
}

// saveArtifacts captures stdout/stderr under the artifacts directory.
// Best-effort: failures are logged, never fatal.
func (r *runner) saveArtifacts(
	log logrus.FieldLogger,
	runID string,
	c *cases.Case,
	attempt int,
	raw *backend.RawOutcome,
) {
	if !r.cfg.SaveOutput || r.cfg.ArtifactsDir == "" {
		return
	}

	dir := filepath.Join(r.cfg.ArtifactsDir, runID, c.ID, fmt.Sprintf("attempt_%d", attempt))

	if err := fsutil.EnsureDir(dir); err != nil {
		log.WithError(err).Warn("Failed to create artifacts directory")

		return
	}

	if err := os.WriteFile(filepath.Join(dir, "stdout.log"), []byte(raw.Stdout), 0o644); err != nil {
		log.WithError(err).Warn("Failed to write stdout artifact")
	}

	if err := os.WriteFile(filepath.Join(dir, "stderr.log"), []byte(raw.Stderr), 0o644); err != nil {
		log.WithError(err).Warn("Failed to write stderr artifact")
	}
}

// synthesizeFailure records a case that never produced a backend
// outcome (skipped by fail-fast, global timeout or a missing backend).
func synthesizeFailure(caseID string) *result.ExecutionResult {
	now := time.Now().UTC().Format(result.TimestampLayout)

	return &result.ExecutionResult{
		CaseID:  caseID,
		Status:  result.StatusFail,
		Metrics: map[string]float64{"errors": 1},
		TsStart: now,
		TsEnd:   now,
	}
}

func computeStats(results []*result.ExecutionResult, violations []result.ThresholdViolation) result.RunStats {
	stats := result.RunStats{
		Total:      len(results),
		Violations: len(violations),
	}

	for _, res := range results {
		switch res.Status {
		case result.StatusOK:
			stats.Succeeded++
		case result.StatusTimeout:
			stats.TimedOut++
		default:
			stats.Failed++
		}

		if res.CacheHit {
			stats.CacheHits++
		}
	}

	return stats
}

// applyTimeoutOverride returns a copy of the case slice with every
// timeout replaced. Cases are immutable, so overriding means cloning.
func (r *runner) applyTimeoutOverride(cs []*cases.Case) []*cases.Case {
	if r.cfg.TimeoutOverride <= 0 {
		return cs
	}

	out := make([]*cases.Case, len(cs))

	for i, c := range cs {
		clone := *c
		clone.TimeoutS = r.cfg.TimeoutOverride
		out[i] = &clone
	}

	return out
}

func filterCases(cs []*cases.Case, f Filter) []*cases.Case {
	if len(f.Backends) == 0 && len(f.CaseIDs) == 0 && len(f.ResourceGroups) == 0 {
		return cs
	}

	backends := toSet(f.Backends)
	ids := toSet(f.CaseIDs)
	groups := toSet(f.ResourceGroups)

	out := make([]*cases.Case, 0, len(cs))

	for _, c := range cs {
		if len(backends) > 0 {
			if _, ok := backends[c.Backend]; !ok {
				continue
			}
		}

		if len(ids) > 0 {
			if _, ok := ids[c.ID]; !ok {
				continue
			}
		}

		if len(groups) > 0 {
			if _, ok := groups[c.ResourceGroup]; !ok {
				continue
			}
		}

		out = append(out, c)
	}

	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}

	return set
}
