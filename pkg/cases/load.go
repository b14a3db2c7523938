package cases

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a cases file, dispatching on the file extension. CSV is
// the primary format; YAML (a list of column maps) is accepted as well.
func Load(path string) ([]*Case, error) {
	recs, err := LoadRecords(path)
	if err != nil {
		return nil, err
	}

	out := make([]*Case, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}

	return out, nil
}

// LoadRecords reads a cases file into raw column maps with normalized
// keys, preserving input order. Callers that need pre-parse validation
// use this and build cases via FromRecord afterwards.
func LoadRecords(path string) ([]map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAMLRecords(path)
	default:
		return loadCSVRecords(path)
	}
}

// loadCSVRecords reads records from a CSV file with a header row.
// Column names are normalized to lowercase and trimmed.
func loadCSVRecords(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cases file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows surface as validation errors, not read errors
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading cases file: %w", err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("cases file %s has no header row", path)
	}

	header := make([]string, len(rows[0]))
	for i, col := range rows[0] {
		header[i] = normalizeColumn(col)
	}

	out := make([]map[string]string, 0, len(rows)-1)

	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))

		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}

		out = append(out, rec)
	}

	return out, nil
}

// loadYAMLRecords reads records from a YAML file containing a list of
// maps. Scalar values are stringified so both formats share one code
// path.
func loadYAMLRecords(path string) ([]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cases file: %w", err)
	}

	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing cases file: %w", err)
	}

	out := make([]map[string]string, 0, len(raw))

	for _, row := range raw {
		rec := make(map[string]string, len(row))

		for k, v := range row {
			if v == nil {
				continue
			}

			rec[normalizeColumn(k)] = fmt.Sprintf("%v", v)
		}

		out = append(out, rec)
	}

	return out, nil
}

// normalizeColumn lowercases and trims a column name, stripping a UTF-8
// BOM if the file carries one.
func normalizeColumn(col string) string {
	col = strings.TrimPrefix(col, "\ufeff")

	return strings.ToLower(strings.TrimSpace(col))
}
