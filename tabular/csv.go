// Package tabular loads and standardizes CSV feature tables for the
// weather walkthrough.
package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadOptions selects which columns of a CSV become features and target.
type LoadOptions struct {
	Features []string
	Target   string
}

// Table holds parsed feature rows and binary labels.
type Table struct {
	Features     [][]float32
	Labels       []float32
	FeatureNames []string
	// DroppedRows counts rows removed for missing or unparseable values.
	DroppedRows int
}

func (t *Table) Len() int { return len(t.Features) }

// LoadCSV reads a headered CSV, keeping the configured feature columns
// and target. Values of yes/no map to 1/0; rows with missing ("", "NA",
// "NaN") or unparseable values in a selected column are dropped and
// counted.
func LoadCSV(path string, opts LoadOptions) (*Table, error) {
	if len(opts.Features) == 0 {
		return nil, fmt.Errorf("no feature columns selected")
	}
	if opts.Target == "" {
		return nil, fmt.Errorf("no target column selected")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columnIndex := make(map[string]int, len(header))
	for i, name := range header {
		columnIndex[strings.TrimSpace(name)] = i
	}

	featureIdx := make([]int, len(opts.Features))
	for i, name := range opts.Features {
		idx, ok := columnIndex[name]
		if !ok {
			return nil, fmt.Errorf("feature column %q not in header", name)
		}
		featureIdx[i] = idx
	}
	targetIdx, ok := columnIndex[opts.Target]
	if !ok {
		return nil, fmt.Errorf("target column %q not in header", opts.Target)
	}

	table := &Table{FeatureNames: append([]string(nil), opts.Features...)}
	line := 1
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		line++

		row := make([]float32, len(featureIdx))
		valid := true
		for i, idx := range featureIdx {
			v, ok := parseValue(record[idx])
			if !ok {
				valid = false
				break
			}
			row[i] = v
		}
		if valid {
			label, ok := parseValue(record[targetIdx])
			if !ok || (label != 0 && label != 1) {
				valid = false
			} else {
				table.Features = append(table.Features, row)
				table.Labels = append(table.Labels, label)
			}
		}
		if !valid {
			table.DroppedRows++
		}
	}

	if len(table.Features) == 0 {
		return nil, fmt.Errorf("no usable rows in %s (%d dropped)", path, table.DroppedRows)
	}
	return table, nil
}

// parseValue converts a CSV cell to float32. Yes/no map to 1/0; missing
// markers report not-ok.
func parseValue(raw string) (float32, bool) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null":
		return 0, false
	case "yes":
		return 1, true
	case "no":
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}
