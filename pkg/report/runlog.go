package report

import (
	"fmt"
	"path/filepath"
	"strings"

	units "github.com/docker/go-units"
	"github.com/strataregula/doe-runner/pkg/fsutil"
	"github.com/strataregula/doe-runner/pkg/result"
	"github.com/strataregula/doe-runner/pkg/runner"
	"github.com/strataregula/doe-runner/pkg/sysinfo"
)

// RunLogInfo bundles everything the run log renders.
type RunLogInfo struct {
	Report    *runner.Report
	Host      *sysinfo.Snapshot
	CasesPath string
	Artifacts []string
}

// WriteRunLog renders the markdown run log into dir and returns the
// written path. The file name carries the run start time (UTC) so logs
// sort chronologically.
func WriteRunLog(dir string, info *RunLogInfo) (string, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("creating run log directory: %w", err)
	}

	name := fmt.Sprintf("%s-doe-runner.md", info.Report.StartedAt.UTC().Format("20060102-1504"))
	path := filepath.Join(dir, name)

	if err := fsutil.WriteFileAtomic(path, []byte(renderRunLog(info)), 0o644); err != nil {
		return "", fmt.Errorf("writing run log: %w", err)
	}

	return path, nil
}

func renderRunLog(info *RunLogInfo) string {
	rep := info.Report
	stats := rep.Stats

	var b strings.Builder

	fmt.Fprintf(&b, "# DOE Runner Execution Log\n\n")
	fmt.Fprintf(&b, "**Run ID:** %s\n", rep.RunID)
	fmt.Fprintf(&b, "**Started:** %s\n", rep.StartedAt.UTC().Format(result.TimestampLayout))
	fmt.Fprintf(&b, "**Cases File:** %s\n", info.CasesPath)
	fmt.Fprintf(&b, "**Total Cases:** %d\n\n", stats.Total)

	if h := info.Host; h != nil {
		fmt.Fprintf(&b, "## Host\n\n")
		fmt.Fprintf(&b, "- **Hostname:** %s\n", h.Hostname)
		fmt.Fprintf(&b, "- **Platform:** %s (%s, %s)\n", h.Platform, h.KernelVersion, h.Arch)
		fmt.Fprintf(&b, "- **CPU:** %s (%d cores)\n", h.CPUModel, h.CPUCores)
		fmt.Fprintf(&b, "- **Memory:** %s\n", units.BytesSize(float64(h.TotalMemory)))
		fmt.Fprintf(&b, "- **Go:** %s\n\n", h.GoVersion)
	}

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "- **Duration:** %s\n", units.HumanDuration(rep.Duration()))
	fmt.Fprintf(&b, "- **Classification:** %s\n", rep.Classification)
	fmt.Fprintf(&b, "- **Success:** %d\n", stats.Succeeded)
	fmt.Fprintf(&b, "- **Failed:** %d\n", stats.Failed)
	fmt.Fprintf(&b, "- **Timeout:** %d\n", stats.TimedOut)
	fmt.Fprintf(&b, "- **Skipped (cached):** %d\n", stats.CacheHits)
	fmt.Fprintf(&b, "- **Threshold violations:** %d\n\n", stats.Violations)

	if stats.Failed > 0 || stats.TimedOut > 0 {
		b.WriteString("> Failed and timed-out results are cached like successes: ")
		b.WriteString("they will not re-execute on the next non-forced run. ")
		b.WriteString("Use `run --force` to retry them.\n\n")
	}

	if len(rep.Violations) > 0 {
		fmt.Fprintf(&b, "## Threshold Violations\n\n")

		for _, v := range rep.Violations {
			fmt.Fprintf(&b, "- `%s` %s: observed %g vs threshold %g (%s)\n",
				v.CaseID, v.Metric, v.Observed, v.Threshold, v.Direction)
		}

		b.WriteString("\n")
	}

	if len(info.Artifacts) > 0 {
		fmt.Fprintf(&b, "## Artifacts\n\n")

		for _, a := range info.Artifacts {
			fmt.Fprintf(&b, "- %s\n", a)
		}

		b.WriteString("\n")
	}

	return b.String()
}
