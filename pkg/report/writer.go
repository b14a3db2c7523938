// Package report serializes run outcomes: the deterministic metrics
// CSV consumed by downstream tooling and the human-readable markdown
// run log.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/strataregula/doe-runner/pkg/cases"
	"github.com/strataregula/doe-runner/pkg/fsutil"
	"github.com/strataregula/doe-runner/pkg/result"
)

// leadingColumns is the fixed prefix of the output contract.
var leadingColumns = []string{
	"case_id", "status", "run_seconds",
	"p95", "p99", "throughput_rps", "errors",
	"ts_start", "ts_end",
}

// extraColumnPrefixes are input columns transcribed verbatim after the
// param_* block.
var extraColumnPrefixes = []string{"ext_", "tag_", "note_"}

// WriteMetricsCSV writes the ordered result sequence to path. The
// output is byte-identical across repeated runs given identical cases
// and cache state: fixed column order, fixed float formatting, "\n"
// line endings and UTF-8 regardless of host platform. The write is
// atomic so a concurrent reader never sees a partial file.
func WriteMetricsCSV(path string, cs []*cases.Case, results []*result.ExecutionResult) error {
	data, err := EncodeMetricsCSV(cs, results)
	if err != nil {
		return err
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}

	return nil
}

// EncodeMetricsCSV renders the metrics table without touching the
// filesystem.
func EncodeMetricsCSV(cs []*cases.Case, results []*result.ExecutionResult) ([]byte, error) {
	byID := make(map[string]*cases.Case, len(cs))
	for _, c := range cs {
		byID[c.ID] = c
	}

	header := buildHeader(cs, results)

	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	w.UseCRLF = false

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	for _, res := range results {
		row := make([]string, len(header))

		c := byID[res.CaseID]

		for i, col := range header {
			row[i] = cellValue(col, c, res)
		}

		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing row for case %s: %w", res.CaseID, err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing metrics table: %w", err)
	}

	return buf.Bytes(), nil
}

// buildHeader assembles the column contract: fixed leading columns,
// remaining metric columns (alphabetical), param_* columns
// (alphabetical), then ext_*/tag_*/note_* columns (alphabetical).
func buildHeader(cs []*cases.Case, results []*result.ExecutionResult) []string {
	fixed := make(map[string]struct{}, len(leadingColumns))
	for _, col := range leadingColumns {
		fixed[col] = struct{}{}
	}

	metricSet := make(map[string]struct{})

	for _, res := range results {
		for name := range res.Metrics {
			if _, taken := fixed[name]; !taken {
				metricSet[name] = struct{}{}
			}
		}
	}

	paramSet := make(map[string]struct{})
	extraSet := make(map[string]struct{})

	for _, c := range cs {
		for k := range c.Params {
			paramSet[k] = struct{}{}
		}

		for k := range c.Extra {
			extraSet[k] = struct{}{}
		}
	}

	header := make([]string, 0, len(leadingColumns)+len(metricSet)+len(paramSet)+len(extraSet))
	header = append(header, leadingColumns...)
	header = append(header, sortedKeys(metricSet)...)
	header = append(header, sortedKeys(paramSet)...)
	header = append(header, sortedKeys(extraSet)...)

	return header
}

// cellValue renders one cell. Missing values are empty fields, never a
// null literal.
func cellValue(col string, c *cases.Case, res *result.ExecutionResult) string {
	switch col {
	case "case_id":
		return res.CaseID
	case "status":
		return string(res.Status)
	case "run_seconds":
		return formatLatency(res.RunSeconds)
	case "ts_start":
		return res.TsStart
	case "ts_end":
		return res.TsEnd
	case "errors":
		if v, ok := res.Metric("errors"); ok {
			return strconv.Itoa(int(v))
		}

		return "0"
	}

	if isParamColumn(col) || isExtraColumn(col) {
		if c == nil {
			return ""
		}

		if v, ok := c.Params[col]; ok {
			return v
		}

		return c.Extra[col]
	}

	if v, ok := res.Metric(col); ok {
		return formatMetric(col, v)
	}

	return ""
}

// formatMetric picks the float precision by metric class: latency-style
// values get 6 decimal places, throughput/resource values get 2.
func formatMetric(name string, v float64) string {
	if isLatencyMetric(name) {
		return formatLatency(v)
	}

	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatLatency(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func isLatencyMetric(name string) bool {
	return name == "p95" || name == "p99" ||
		strings.HasPrefix(name, "latency_") ||
		strings.HasPrefix(name, "p9")
}

func isParamColumn(col string) bool {
	return strings.HasPrefix(col, "param_")
}

func isExtraColumn(col string) bool {
	for _, prefix := range extraColumnPrefixes {
		if strings.HasPrefix(col, prefix) {
			return true
		}
	}

	return false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
