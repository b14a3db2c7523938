package runner

import (
	"sort"
	"strings"

	"github.com/strataregula/doe-runner/pkg/cases"
	"github.com/strataregula/doe-runner/pkg/result"
)

// ValidateThresholds compares each OK result's metrics against the
// thresholds its case declares. Latency-style metrics (p95, p99,
// latency_*) are upper bounds: observed > threshold is a violation.
// Throughput-style metrics are lower bounds: observed < threshold is a
// violation. Results are never mutated.
func ValidateThresholds(cs []*cases.Case, results []*result.ExecutionResult) []result.ThresholdViolation {
	byID := make(map[string]*result.ExecutionResult, len(results))

	for _, res := range results {
		if res != nil {
			byID[res.CaseID] = res
		}
	}

	var violations []result.ThresholdViolation

	for _, c := range cs {
		res, ok := byID[c.ID]
		if !ok || res.Status != result.StatusOK || len(c.Thresholds) == 0 {
			continue
		}

		names := make([]string, 0, len(c.Thresholds))
		for name := range c.Thresholds {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			observed, present := res.Metric(name)
			if !present {
				continue
			}

			threshold := c.Thresholds[name]

			if isLowerBoundMetric(name) {
				if observed < threshold {
					violations = append(violations, result.ThresholdViolation{
						CaseID:    c.ID,
						Metric:    name,
						Observed:  observed,
						Threshold: threshold,
						Direction: result.DirectionLowerBoundUndershot,
					})
				}

				continue
			}

			if observed > threshold {
				violations = append(violations, result.ThresholdViolation{
					CaseID:    c.ID,
					Metric:    name,
					Observed:  observed,
					Threshold: threshold,
					Direction: result.DirectionUpperBoundExceeded,
				})
			}
		}
	}

	return violations
}

// isLowerBoundMetric reports whether a metric is throughput-style.
// Everything else is treated as latency-style (upper bound).
func isLowerBoundMetric(name string) bool {
	return strings.HasPrefix(name, "throughput")
}
