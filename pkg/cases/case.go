// Package cases defines the experiment case model, loading from CSV and
// YAML case files, schema validation and content hashing.
package cases

import (
	"sort"
	"strconv"
	"strings"
)

// Backend names accepted in the backend column.
const (
	BackendShell    = "shell"
	BackendDummy    = "dummy"
	BackendSimroute = "simroute"
)

// DefaultResourceGroup is used when the resource_group column is empty.
const DefaultResourceGroup = "default"

// Case is one declared unit of work. It is immutable once loaded.
type Case struct {
	ID            string
	Backend       string
	CmdTemplate   string
	TimeoutS      int
	Seed          *int64
	Retries       int
	ResourceGroup string

	// Priority is a non-binding scheduling hint.
	Priority int

	// DependsOn lists case IDs that must reach a terminal state before
	// this case is dispatched.
	DependsOn []string

	Tags []string

	// Params holds the param_* columns keyed by their full column name.
	Params map[string]string

	// Thresholds holds threshold_* columns keyed by metric name.
	Thresholds map[string]float64

	// Expected holds expected_* columns keyed by metric name. Recorded
	// for reporting, never enforced.
	Expected map[string]float64

	// Extra holds ext_*/tag_*/note_* passthrough columns keyed by their
	// full column name.
	Extra map[string]string
}

// ParamKeys returns the param_* column names sorted alphabetically.
func (c *Case) ParamKeys() []string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// SeedString returns the seed as text, or "" when unset.
func (c *Case) SeedString() string {
	if c.Seed == nil {
		return ""
	}

	return strconv.FormatInt(*c.Seed, 10)
}

// FromRecord builds a Case from a normalized column map. Column names
// are expected lowercase and trimmed; values are trimmed here. Schema
// errors are deferred to the validator, so unparsable optional numerics
// simply fall back to their defaults.
func FromRecord(rec map[string]string) *Case {
	get := func(key string) string {
		return strings.TrimSpace(rec[key])
	}

	c := &Case{
		ID:            get("case_id"),
		Backend:       strings.ToLower(get("backend")),
		CmdTemplate:   get("cmd_template"),
		ResourceGroup: get("resource_group"),
		Params:        map[string]string{},
		Thresholds:    map[string]float64{},
		Expected:      map[string]float64{},
		Extra:         map[string]string{},
	}

	if c.ResourceGroup == "" {
		c.ResourceGroup = DefaultResourceGroup
	}

	if v := get("timeout_s"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TimeoutS = n
		}
	}

	if v := get("seed"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Seed = &n
		}
	}

	if v := get("retries"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Retries = n
		}
	}

	if v := get("priority"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Priority = n
		}
	}

	if v := get("depends_on"); v != "" {
		c.DependsOn = splitList(v)
	}

	if v := get("tags"); v != "" {
		c.Tags = splitList(v)
	}

	for key, raw := range rec {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}

		switch {
		case strings.HasPrefix(key, "param_"):
			c.Params[key] = val
		case strings.HasPrefix(key, "threshold_"):
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				c.Thresholds[strings.TrimPrefix(key, "threshold_")] = f
			}
		case strings.HasPrefix(key, "expected_"):
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				c.Expected[strings.TrimPrefix(key, "expected_")] = f
			}
		case strings.HasPrefix(key, "ext_"),
			strings.HasPrefix(key, "tag_"),
			strings.HasPrefix(key, "note_"):
			c.Extra[key] = val
		}
	}

	return c
}

// splitList splits a comma or semicolon separated cell into trimmed parts.
func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ';'
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}

	return out
}
