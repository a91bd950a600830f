package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"frapdiff/pkg/fit"
)

// coreColumns lead the summary table in this order
var coreColumns = []string{"file", "frameInterval", "pixelSize", "frameOfFrap", "I0"}

// SummaryColumns returns the core columns followed by every other key seen
// in records, sorted
func SummaryColumns(records []fit.Result) []string {
	core := make(map[string]bool, len(coreColumns))
	for _, c := range coreColumns {
		core[c] = true
	}

	seen := make(map[string]bool)
	var extra []string
	for _, record := range records {
		for key := range record {
			if core[key] || seen[key] {
				continue
			}
			seen[key] = true
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)

	return append(append([]string{}, coreColumns...), extra...)
}

// WriteSummary writes records as a tab-separated table with a header row and
// a leading row index. Missing values are left empty.
func WriteSummary(w io.Writer, records []fit.Result) error {
	columns := SummaryColumns(records)

	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	header := append([]string{""}, columns...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(columns)+1)
	for i, record := range records {
		row[0] = strconv.Itoa(i)
		for j, column := range columns {
			value, ok := record[column]
			if !ok {
				row[j+1] = ""
				continue
			}
			row[j+1] = formatValue(value)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveSummary writes the summary table to path
func SaveSummary(path string, records []fit.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := WriteSummary(file, records); err != nil {
		file.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return file.Close()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case string:
		return x
	}
	return fmt.Sprint(v)
}
