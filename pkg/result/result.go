// Package result defines the execution result model shared by the
// scheduler, the cache store and the report writers.
package result

// Status is the terminal state of a single case execution.
type Status string

const (
	// StatusOK means the case completed with a success indication.
	StatusOK Status = "OK"

	// StatusFail means the case completed with a failure indication.
	StatusFail Status = "FAIL"

	// StatusTimeout means the case exceeded its wall-clock bound.
	StatusTimeout Status = "TIMEOUT"
)

// TimestampLayout is the fixed-offset timestamp format used everywhere
// results are serialized. Host-local zones never leak into output.
const TimestampLayout = "2006-01-02T15:04:05.000000+00:00"

// ExecutionResult is the outcome of one case in one run. It is created
// once by the scheduler after metric extraction and never mutated.
type ExecutionResult struct {
	CaseID     string             `json:"case_id"`
	Status     Status             `json:"status"`
	RunSeconds float64            `json:"run_seconds"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	TsStart    string             `json:"ts_start"`
	TsEnd      string             `json:"ts_end"`
	CacheHit   bool               `json:"cache_hit"`
	Attempts   int                `json:"attempts"`
}

// Metric returns the named metric and whether it is present.
func (r *ExecutionResult) Metric(name string) (float64, bool) {
	v, ok := r.Metrics[name]

	return v, ok
}

// Direction classifies how a threshold was breached.
type Direction string

const (
	// DirectionUpperBoundExceeded means observed > threshold for a
	// latency-style metric.
	DirectionUpperBoundExceeded Direction = "upper-bound-exceeded"

	// DirectionLowerBoundUndershot means observed < threshold for a
	// throughput-style metric.
	DirectionLowerBoundUndershot Direction = "lower-bound-undershot"
)

// ThresholdViolation records a single metric breaching its declared bound.
type ThresholdViolation struct {
	CaseID    string    `json:"case_id"`
	Metric    string    `json:"metric"`
	Observed  float64   `json:"observed"`
	Threshold float64   `json:"threshold"`
	Direction Direction `json:"direction"`
}

// RunStats aggregates per-case outcomes for a whole run.
type RunStats struct {
	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	TimedOut   int `json:"timed_out"`
	CacheHits  int `json:"cache_hits"`
	Violations int `json:"violations"`
}

// Classification is the aggregate outcome of a run.
type Classification string

const (
	// ClassificationSuccess means all cases OK and no violations.
	ClassificationSuccess Classification = "success"

	// ClassificationSuccessWithWarnings means all cases OK but at least
	// one threshold violation.
	ClassificationSuccessWithWarnings Classification = "success-with-warnings"

	// ClassificationFailure means at least one case ended FAIL/TIMEOUT
	// or an infrastructure error occurred.
	ClassificationFailure Classification = "failure"
)

// ExitCode maps the classification to the conventional process exit code.
func (c Classification) ExitCode() int {
	switch c {
	case ClassificationSuccess:
		return 0
	case ClassificationSuccessWithWarnings:
		return 2
	default:
		return 3
	}
}

// Classify derives the run classification from aggregate stats.
func Classify(stats RunStats) Classification {
	if stats.Failed > 0 || stats.TimedOut > 0 {
		return ClassificationFailure
	}

	if stats.Violations > 0 {
		return ClassificationSuccessWithWarnings
	}

	return ClassificationSuccess
}
