package cases

import (
	"fmt"
	"regexp"
	"strconv"
)

// requiredColumns must be present and non-empty on every case.
var requiredColumns = []string{"case_id", "backend", "cmd_template", "timeout_s"}

// validBackends is the set of accepted backend names.
var validBackends = map[string]struct{}{
	BackendShell:    {},
	BackendDummy:    {},
	BackendSimroute: {},
}

var caseIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks a loaded case set against the input schema. It
// returns one message per problem; an empty slice means the set is
// valid. The engine itself never re-validates; callers are expected
// to run this before handing cases to the runner.
func Validate(cs []*Case) []string {
	var errs []string

	if len(cs) == 0 {
		return []string{"no cases found"}
	}

	seen := make(map[string]struct{}, len(cs))
	ids := make(map[string]struct{}, len(cs))

	for _, c := range cs {
		ids[c.ID] = struct{}{}
	}

	for i, c := range cs {
		row := i + 1

		if c.ID == "" {
			errs = append(errs, fmt.Sprintf("row %d: case_id cannot be empty", row))
		} else {
			if !caseIDPattern.MatchString(c.ID) {
				errs = append(errs, fmt.Sprintf("row %d: case_id %q contains invalid characters", row, c.ID))
			}

			if _, dup := seen[c.ID]; dup {
				errs = append(errs, fmt.Sprintf("row %d: duplicate case_id %q", row, c.ID))
			}

			seen[c.ID] = struct{}{}
		}

		if c.Backend == "" {
			errs = append(errs, fmt.Sprintf("row %d: backend cannot be empty", row))
		} else if _, ok := validBackends[c.Backend]; !ok {
			errs = append(errs, fmt.Sprintf("row %d: unknown backend %q", row, c.Backend))
		}

		if c.CmdTemplate == "" && c.Backend != BackendDummy {
			errs = append(errs, fmt.Sprintf("row %d: cmd_template cannot be empty", row))
		}

		if c.TimeoutS <= 0 {
			errs = append(errs, fmt.Sprintf("row %d: timeout_s must be a positive integer", row))
		}

		for _, dep := range c.DependsOn {
			if dep == c.ID {
				errs = append(errs, fmt.Sprintf("row %d: case %q depends on itself", row, c.ID))

				continue
			}

			if _, ok := ids[dep]; !ok {
				errs = append(errs, fmt.Sprintf("row %d: depends_on references unknown case %q", row, dep))
			}
		}
	}

	return errs
}

// ValidateRecord checks raw column values that FromRecord silently
// defaults, so bad numerics are reported instead of masked.
func ValidateRecord(rec map[string]string, row int) []string {
	var errs []string

	for _, col := range requiredColumns {
		if rec[col] == "" {
			errs = append(errs, fmt.Sprintf("row %d: missing required column %s", row, col))
		}
	}

	for _, col := range []string{"timeout_s", "seed", "retries", "priority"} {
		v := rec[col]
		if v == "" {
			continue
		}

		if _, err := strconv.ParseFloat(v, 64); err != nil {
			errs = append(errs, fmt.Sprintf("row %d: %s must be numeric, got %q", row, col, v))
		}
	}

	return errs
}
