package cases

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// HashFormatVersion is embedded in the hashed byte stream so future
// canonicalization changes never silently collide with old hashes.
const HashFormatVersion byte = 1

// fieldSep separates keys and values in the canonical encoding. It can
// never appear in CSV/YAML cell content, so the encoding is unambiguous.
const fieldSep byte = 0x00

// Hash computes the deterministic content identity of a case. Only the
// execution-relevant fields participate: case_id, backend, cmd_template,
// timeout_s, seed, retries and the param_* pairs sorted by key.
// Annotation-only fields (priority, tags, depends_on, expected_*,
// threshold_*) are excluded since they do not affect execution behavior.
func Hash(c *Case) string {
	h := sha256.New()
	h.Write([]byte{HashFormatVersion})

	write := func(key, value string) {
		h.Write([]byte(key))
		h.Write([]byte{fieldSep})
		h.Write([]byte(value))
		h.Write([]byte{fieldSep})
	}

	write("case_id", c.ID)
	write("backend", c.Backend)
	write("cmd_template", c.CmdTemplate)
	write("timeout_s", canonicalNumber(strconv.Itoa(c.TimeoutS)))
	write("seed", canonicalNumber(c.SeedString()))
	write("retries", canonicalNumber(strconv.Itoa(c.Retries)))

	for _, k := range c.ParamKeys() {
		write(k, canonicalNumber(c.Params[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// canonicalNumber normalizes numeric text to a fixed form so "42" and
// "42.0" hash identically. Non-numeric values pass through unchanged.
// strconv is locale-independent, so the host locale never matters.
func canonicalNumber(s string) string {
	if s == "" {
		return s
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}

	return strconv.FormatFloat(f, 'g', -1, 64)
}
