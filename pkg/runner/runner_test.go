package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strataregula/doe-runner/pkg/backend"
	"github.com/strataregula/doe-runner/pkg/cache"
	"github.com/strataregula/doe-runner/pkg/cases"
	"github.com/strataregula/doe-runner/pkg/result"
)

func newTestRunner(t *testing.T, cfg *Config) (Runner, cache.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	store, err := cache.NewFSStore(log, t.TempDir())
	require.NoError(t, err)

	return NewRunner(log, cfg, backend.NewRegistry(log), store), store
}

func dummyCases(ids ...string) []*cases.Case {
	out := make([]*cases.Case, 0, len(ids))

	for i, id := range ids {
		seed := int64(i + 1)
		out = append(out, &cases.Case{
			ID:       id,
			Backend:  cases.BackendDummy,
			TimeoutS: 5,
			Seed:     &seed,
		})
	}

	return out
}

func shellCase(id, cmd string) *cases.Case {
	return &cases.Case{
		ID:          id,
		Backend:     cases.BackendShell,
		CmdTemplate: cmd,
		TimeoutS:    10,
	}
}

func TestRunPreservesInputOrder(t *testing.T) {
	r, _ := newTestRunner(t, &Config{MaxWorkers: 3})

	// Completion order is reversed by the sleeps; reporting order must
	// still follow the input.
	cs := []*cases.Case{
		shellCase("slow", "sleep 0.3; echo p95=0.01"),
		shellCase("medium", "sleep 0.1; echo p95=0.02"),
		shellCase("fast", "echo p95=0.03"),
	}

	rep, err := r.Run(context.Background(), cs)
	require.NoError(t, err)
	require.Len(t, rep.Results, 3)

	assert.Equal(t, "slow", rep.Results[0].CaseID)
	assert.Equal(t, "medium", rep.Results[1].CaseID)
	assert.Equal(t, "fast", rep.Results[2].CaseID)

	for _, res := range rep.Results {
		assert.Equal(t, result.StatusOK, res.Status)
		assert.False(t, res.CacheHit)
		assert.Equal(t, 1, res.Attempts)
	}

	assert.Equal(t, result.ClassificationSuccess, rep.Classification)
	assert.Equal(t, 0, rep.Classification.ExitCode())
}

func TestRunCacheIdempotence(t *testing.T) {
	cfg := &Config{MaxWorkers: 1}
	r, store := newTestRunner(t, cfg)

	cs := dummyCases("exp_001", "exp_002")

	first, err := r.Run(context.Background(), cs)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Stats.CacheHits)

	log := logrus.New()
	second := NewRunner(log, cfg, backend.NewRegistry(log), store)

	rep, err := second.Run(context.Background(), cs)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Stats.CacheHits)

	for i, res := range rep.Results {
		assert.True(t, res.CacheHit)

		// Cached replays preserve the original execution's timestamps.
		assert.Equal(t, first.Results[i].TsStart, res.TsStart)
		assert.Equal(t, first.Results[i].TsEnd, res.TsEnd)
		assert.Equal(t, first.Results[i].Metrics, res.Metrics)
	}
}

func TestRunForceBypassesCache(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	store, err := cache.NewFSStore(log, t.TempDir())
	require.NoError(t, err)

	cs := []*cases.Case{shellCase("exp_001", "echo x >> "+marker+"; echo p95=0.01")}

	registry := backend.NewRegistry(log)

	r := NewRunner(log, &Config{MaxWorkers: 1}, registry, store)

	_, err = r.Run(context.Background(), cs)
	require.NoError(t, err)

	forced := NewRunner(log, &Config{MaxWorkers: 1, Force: true}, registry, store)

	rep, err := forced.Run(context.Background(), cs)
	require.NoError(t, err)
	assert.False(t, rep.Results[0].CacheHit)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "x"), "force must re-execute")
}

func TestRunRetriesExactlyRetriesPlusOne(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "attempts")

	r, _ := newTestRunner(t, &Config{MaxWorkers: 1})

	c := shellCase("flaky", "echo x >> "+marker+"; exit 1")
	c.Retries = 2

	rep, err := r.Run(context.Background(), []*cases.Case{c})
	require.NoError(t, err)

	res := rep.Results[0]
	assert.Equal(t, result.StatusFail, res.Status)
	assert.Equal(t, 3, res.Attempts)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "x"))

	assert.Equal(t, result.ClassificationFailure, rep.Classification)
	assert.Equal(t, 3, rep.Classification.ExitCode())
}

func TestRunRetrySucceedsBeforeExhaustion(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "attempts")

	r, _ := newTestRunner(t, &Config{MaxWorkers: 1})

	// Fails while the marker file has fewer than 2 lines, then succeeds.
	cmd := "echo x >> " + marker + "; test $(wc -l < " + marker + ") -ge 2 && echo p95=0.01"
	c := shellCase("recovers", cmd)
	c.Retries = 5

	rep, err := r.Run(context.Background(), []*cases.Case{c})
	require.NoError(t, err)

	res := rep.Results[0]
	assert.Equal(t, result.StatusOK, res.Status)
	assert.Equal(t, 2, res.Attempts, "retrying stops at the first success")
}

func TestRunTimeoutProducesTimeoutStatus(t *testing.T) {
	r, _ := newTestRunner(t, &Config{MaxWorkers: 1})

	c := shellCase("hang", "sleep 5")
	c.TimeoutS = 1

	rep, err := r.Run(context.Background(), []*cases.Case{c})
	require.NoError(t, err)

	res := rep.Results[0]
	assert.Equal(t, result.StatusTimeout, res.Status)
	assert.GreaterOrEqual(t, res.RunSeconds, 1.0)
	assert.GreaterOrEqual(t, res.Metrics["errors"], 1.0)
	assert.Equal(t, 1, rep.Stats.TimedOut)
	assert.Equal(t, result.ClassificationFailure, rep.Classification)
}

func TestRunDependsOnGatesDispatch(t *testing.T) {
	dir := t.TempDir()
	order := filepath.Join(dir, "order")

	r, _ := newTestRunner(t, &Config{MaxWorkers: 4})

	first := shellCase("first", "sleep 0.2; echo first >> "+order+"; echo p95=0.01")
	second := shellCase("second", "echo second >> "+order+"; echo p95=0.01")
	second.DependsOn = []string{"first"}

	// Input order puts the dependent case first to prove gating is by
	// dependency, not position.
	rep, err := r.Run(context.Background(), []*cases.Case{second, first})
	require.NoError(t, err)

	data, err := os.ReadFile(order)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))

	// Reporting order still follows the input.
	assert.Equal(t, "second", rep.Results[0].CaseID)
	assert.Equal(t, "first", rep.Results[1].CaseID)
}

func TestRunDependencyOnFailedCaseStillDispatches(t *testing.T) {
	r, _ := newTestRunner(t, &Config{MaxWorkers: 2})

	failing := shellCase("dep", "exit 1")
	dependent := shellCase("after", "echo p95=0.01")
	dependent.DependsOn = []string{"dep"}

	rep, err := r.Run(context.Background(), []*cases.Case{failing, dependent})
	require.NoError(t, err)

	// A failed dependency is terminal; the dependent still runs.
	assert.Equal(t, result.StatusFail, rep.Results[0].Status)
	assert.Equal(t, result.StatusOK, rep.Results[1].Status)
}

func TestRunDependencyCycleIsConfigurationError(t *testing.T) {
	r, _ := newTestRunner(t, &Config{MaxWorkers: 2})

	a := shellCase("a", "echo p95=0.01")
	a.DependsOn = []string{"b"}
	b := shellCase("b", "echo p95=0.01")
	b.DependsOn = []string{"a"}

	_, err := r.Run(context.Background(), []*cases.Case{a, b})

	var cfgErr *ConfigurationError

	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "cycle")
}

func TestRunDeduplicatesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	r, _ := newTestRunner(t, &Config{MaxWorkers: 2})

	// Identical content hash (validation would reject the duplicate ID,
	// but the engine must still never double-execute).
	c1 := shellCase("same", "echo x >> "+marker+"; echo p95=0.01")
	c2 := shellCase("same", "echo x >> "+marker+"; echo p95=0.01")

	rep, err := r.Run(context.Background(), []*cases.Case{c1, c2})
	require.NoError(t, err)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "x"), "identical content executes once")

	assert.False(t, rep.Results[0].CacheHit)
	assert.True(t, rep.Results[1].CacheHit, "the duplicate reuses the first execution")
	assert.Equal(t, result.StatusOK, rep.Results[1].Status)
}

func TestRunFailFastSkipsRemaining(t *testing.T) {
	r, _ := newTestRunner(t, &Config{MaxWorkers: 1, FailFast: true})

	cs := []*cases.Case{
		shellCase("bad", "exit 1"),
		shellCase("never", "echo p95=0.01"),
	}

	rep, err := r.Run(context.Background(), cs)
	require.NoError(t, err)

	assert.Equal(t, result.StatusFail, rep.Results[0].Status)
	assert.Equal(t, result.StatusFail, rep.Results[1].Status, "skipped cases are recorded as failed")
	assert.Equal(t, result.ClassificationFailure, rep.Classification)
}

func TestRunFilter(t *testing.T) {
	cs := dummyCases("exp_001", "exp_002")
	cs[1].ResourceGroup = "gpu"

	r, _ := newTestRunner(t, &Config{
		MaxWorkers: 1,
		Filter:     Filter{ResourceGroups: []string{"gpu"}},
	})

	rep, err := r.Run(context.Background(), cs)
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, "exp_002", rep.Results[0].CaseID)
}

func TestRunFilterWithNoMatchesFails(t *testing.T) {
	r, _ := newTestRunner(t, &Config{
		MaxWorkers: 1,
		Filter:     Filter{Backends: []string{"nope"}},
	})

	_, err := r.Run(context.Background(), dummyCases("exp_001"))

	var cfgErr *ConfigurationError

	assert.ErrorAs(t, err, &cfgErr)
}

func TestRunFilteredAwayDependencyDoesNotGate(t *testing.T) {
	a := shellCase("a", "echo p95=0.01")
	b := shellCase("b", "echo p95=0.01")
	b.DependsOn = []string{"a"}

	r, _ := newTestRunner(t, &Config{
		MaxWorkers: 1,
		Filter:     Filter{CaseIDs: []string{"b"}},
	})

	rep, err := r.Run(context.Background(), []*cases.Case{a, b})
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, result.StatusOK, rep.Results[0].Status)
}

func TestRunTimeoutOverride(t *testing.T) {
	r, _ := newTestRunner(t, &Config{MaxWorkers: 1, TimeoutOverride: 1})

	c := shellCase("hang", "sleep 5")
	c.TimeoutS = 60

	rep, err := r.Run(context.Background(), []*cases.Case{c})
	require.NoError(t, err)

	assert.Equal(t, result.StatusTimeout, rep.Results[0].Status)
	assert.Equal(t, 60, c.TimeoutS, "the input case is never mutated")
}

func TestRunCachesFailures(t *testing.T) {
	cfg := &Config{MaxWorkers: 1}
	r, store := newTestRunner(t, cfg)

	cs := []*cases.Case{shellCase("bad", "exit 1")}

	_, err := r.Run(context.Background(), cs)
	require.NoError(t, err)

	log := logrus.New()
	second := NewRunner(log, cfg, backend.NewRegistry(log), store)

	rep, err := second.Run(context.Background(), cs)
	require.NoError(t, err)

	res := rep.Results[0]
	assert.True(t, res.CacheHit, "failures are cached like successes")
	assert.Equal(t, result.StatusFail, res.Status)
}

func TestRunSavesArtifacts(t *testing.T) {
	artifacts := t.TempDir()

	r, _ := newTestRunner(t, &Config{
		MaxWorkers:   1,
		ArtifactsDir: artifacts,
		SaveOutput:   true,
	})

	cs := []*cases.Case{shellCase("exp_001", "echo p95=0.01; echo warn >&2")}

	rep, err := r.Run(context.Background(), cs)
	require.NoError(t, err)

	attemptDir := filepath.Join(artifacts, rep.RunID, "exp_001", "attempt_1")

	stdout, err := os.ReadFile(filepath.Join(attemptDir, "stdout.log"))
	require.NoError(t, err)
	assert.Contains(t, string(stdout), "p95=0.01")

	stderr, err := os.ReadFile(filepath.Join(attemptDir, "stderr.log"))
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "warn")
}

func TestRunGlobalTimeout(t *testing.T) {
	r, _ := newTestRunner(t, &Config{
		MaxWorkers:    1,
		GlobalTimeout: 500 * time.Millisecond,
	})

	cs := []*cases.Case{
		shellCase("long", "sleep 5"),
		shellCase("never", "echo p95=0.01"),
	}

	start := time.Now()

	rep, err := r.Run(context.Background(), cs)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, result.ClassificationFailure, rep.Classification)

	for _, res := range rep.Results {
		assert.NotEqual(t, result.StatusOK, res.Status)
	}
}

func TestRunTimestampFormat(t *testing.T) {
	r, _ := newTestRunner(t, &Config{MaxWorkers: 1})

	rep, err := r.Run(context.Background(), dummyCases("exp_001"))
	require.NoError(t, err)

	res := rep.Results[0]

	// Fixed UTC offset, microsecond precision.
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}\+00:00$`, res.TsStart)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}\+00:00$`, res.TsEnd)

	parsed, err := time.Parse(result.TimestampLayout, res.TsStart)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, time.Minute)
}
