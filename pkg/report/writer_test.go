package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strataregula/doe-runner/pkg/cases"
	"github.com/strataregula/doe-runner/pkg/result"
)

func sampleRun() ([]*cases.Case, []*result.ExecutionResult) {
	cs := []*cases.Case{
		{
			ID:      "exp_001",
			Backend: cases.BackendDummy,
			Params:  map[string]string{"param_rps": "100", "param_scenario": "base"},
			Extra:   map[string]string{"note_owner": "core"},
		},
		{
			ID:      "exp_002",
			Backend: cases.BackendDummy,
			Params:  map[string]string{"param_rps": "200"},
		},
	}

	results := []*result.ExecutionResult{
		{
			CaseID:     "exp_001",
			Status:     result.StatusOK,
			RunSeconds: 1.5,
			Metrics: map[string]float64{
				"p95": 0.031, "p99": 0.047, "throughput_rps": 950.5,
				"errors": 0, "cpu_pct": 42.123,
			},
			TsStart: "2026-08-23T10:00:00.000000+00:00",
			TsEnd:   "2026-08-23T10:00:01.500000+00:00",
		},
		{
			CaseID:     "exp_002",
			Status:     result.StatusFail,
			RunSeconds: 0.25,
			Metrics:    map[string]float64{"errors": 2},
			TsStart:    "2026-08-23T10:00:02.000000+00:00",
			TsEnd:      "2026-08-23T10:00:02.250000+00:00",
		},
	}

	return cs, results
}

func TestEncodeMetricsCSVHeader(t *testing.T) {
	cs, results := sampleRun()

	data, err := EncodeMetricsCSV(cs, results)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)

	// Fixed leading columns, then extra metrics, params and extras
	// alphabetically.
	assert.Equal(t,
		"case_id,status,run_seconds,p95,p99,throughput_rps,errors,ts_start,ts_end,"+
			"cpu_pct,param_rps,param_scenario,note_owner",
		lines[0])
}

func TestEncodeMetricsCSVRows(t *testing.T) {
	cs, results := sampleRun()

	data, err := EncodeMetricsCSV(cs, results)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	assert.Equal(t,
		"exp_001,OK,1.500000,0.031000,0.047000,950.50,0,"+
			"2026-08-23T10:00:00.000000+00:00,2026-08-23T10:00:01.500000+00:00,"+
			"42.12,100,base,core",
		lines[1])

	// Missing metrics render as empty fields, errors defaults from the
	// metric map, absent params stay empty.
	assert.Equal(t,
		"exp_002,FAIL,0.250000,,,,2,"+
			"2026-08-23T10:00:02.000000+00:00,2026-08-23T10:00:02.250000+00:00,"+
			",200,,",
		lines[2])
}

func TestEncodeMetricsCSVDeterministic(t *testing.T) {
	cs, results := sampleRun()

	first, err := EncodeMetricsCSV(cs, results)
	require.NoError(t, err)

	second, err := EncodeMetricsCSV(cs, results)
	require.NoError(t, err)

	assert.Equal(t, first, second, "output must be byte-identical across calls")
	assert.NotContains(t, string(first), "\r\n", "line endings are always \\n")
}

func TestEncodeMetricsCSVLatencyPrecision(t *testing.T) {
	cs := []*cases.Case{{ID: "exp_001"}}
	results := []*result.ExecutionResult{{
		CaseID: "exp_001",
		Status: result.StatusOK,
		Metrics: map[string]float64{
			"p95":            0.1,
			"latency_mean":   0.25,
			"throughput_rps": 1000,
		},
	}}

	data, err := EncodeMetricsCSV(cs, results)
	require.NoError(t, err)

	out := string(data)

	assert.Contains(t, out, "0.100000", "latency metrics use 6 decimals")
	assert.Contains(t, out, "0.250000")
	assert.Contains(t, out, "1000.00", "throughput metrics use 2 decimals")
}

func TestWriteMetricsCSVEmptyResults(t *testing.T) {
	data, err := EncodeMetricsCSV(nil, nil)
	require.NoError(t, err)

	assert.Equal(t,
		"case_id,status,run_seconds,p95,p99,throughput_rps,errors,ts_start,ts_end\n",
		string(data), "an empty run still emits the header contract")
}
