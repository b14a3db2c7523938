package backend

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strataregula/doe-runner/pkg/cases"
)

func shellCase(cmd string, timeoutS int) *cases.Case {
	return &cases.Case{
		ID:          "exp_001",
		Backend:     cases.BackendShell,
		CmdTemplate: cmd,
		TimeoutS:    timeoutS,
	}
}

func TestShellBackendCapturesOutput(t *testing.T) {
	b := newShellBackend(logrus.New())

	raw, err := b.Execute(context.Background(),
		shellCase("echo p95=0.031 throughput_rps=950; echo oops >&2", 5))
	require.NoError(t, err)

	assert.Equal(t, 0, raw.ExitCode)
	assert.False(t, raw.TimedOut)
	assert.Contains(t, raw.Stdout, "p95=0.031")
	assert.Contains(t, raw.Stderr, "oops")
	assert.Greater(t, raw.Elapsed, time.Duration(0))
}

func TestShellBackendNonZeroExit(t *testing.T) {
	b := newShellBackend(logrus.New())

	raw, err := b.Execute(context.Background(), shellCase("exit 3", 5))
	require.NoError(t, err)

	assert.Equal(t, 3, raw.ExitCode)
	assert.False(t, raw.TimedOut)
}

func TestShellBackendTimeoutKillsProcessTree(t *testing.T) {
	b := newShellBackend(logrus.New())

	start := time.Now()

	raw, err := b.Execute(context.Background(), shellCase("sleep 5", 1))
	require.NoError(t, err)

	assert.True(t, raw.TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second,
		"the kill must not wait for the child to finish")
	assert.GreaterOrEqual(t, raw.Elapsed, time.Second)
}

func TestShellBackendExpandsTemplate(t *testing.T) {
	b := newShellBackend(logrus.New())

	c := shellCase("echo scenario={scenario}", 5)
	c.Params = map[string]string{"param_scenario": "burst"}

	raw, err := b.Execute(context.Background(), c)
	require.NoError(t, err)

	assert.Contains(t, raw.Stdout, "scenario=burst")
}

func TestShellBackendContextCancellation(t *testing.T) {
	b := newShellBackend(logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := b.Execute(ctx, shellCase("sleep 5", 30))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimrouteBackendDelegatesToShell(t *testing.T) {
	registry := NewRegistry(logrus.New())

	be, ok := registry.Get(cases.BackendSimroute)
	require.True(t, ok)

	c := shellCase("echo p95=0.02", 5)
	c.Backend = cases.BackendSimroute

	raw, err := be.Execute(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, 0, raw.ExitCode)
	assert.Contains(t, raw.Stdout, "p95=0.02")
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(logrus.New())

	for _, name := range []string{cases.BackendShell, cases.BackendDummy, cases.BackendSimroute} {
		_, ok := registry.Get(name)
		assert.True(t, ok, name)
	}

	_, ok := registry.Get("nope")
	assert.False(t, ok)

	infos := registry.List()
	require.Len(t, infos, 3)

	// List is sorted by name for stable output.
	assert.Equal(t, cases.BackendDummy, infos[0].Name)
	assert.Equal(t, cases.BackendShell, infos[1].Name)
	assert.Equal(t, cases.BackendSimroute, infos[2].Name)
}
