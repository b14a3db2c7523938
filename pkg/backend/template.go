package backend

import (
	"strconv"
	"strings"

	"github.com/strataregula/doe-runner/pkg/cases"
)

// ExpandTemplate substitutes {case_id}, {seed}, {timeout_s} and
// {param_*} placeholders into a command template. Unknown placeholders
// are left as-is so the failure surfaces in the spawned command rather
// than being silently swallowed.
func ExpandTemplate(tpl string, c *cases.Case) string {
	pairs := make([]string, 0, 2*(3+len(c.Params)))

	pairs = append(pairs,
		"{case_id}", c.ID,
		"{seed}", c.SeedString(),
		"{timeout_s}", strconv.Itoa(c.TimeoutS),
	)

	for k, v := range c.Params {
		pairs = append(pairs, "{"+k+"}", v)

		// Convenience alias: {scenario} for param_scenario and friends.
		pairs = append(pairs, "{"+strings.TrimPrefix(k, "param_")+"}", v)
	}

	return strings.NewReplacer(pairs...).Replace(tpl)
}
