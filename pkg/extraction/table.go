package extraction

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"frapdiff/internal/models"
)

// WriteTable writes the profile as a tab-separated table without header or
// row index. The first column is the physical location, followed by one
// column per post-bleach frame.
func WriteTable(w io.Writer, p *models.Profile) error {
	rows, cols := p.Table.Dims()
	if len(p.Location) != rows {
		return fmt.Errorf("location column has %d entries for %d rows", len(p.Location), rows)
	}

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	record := make([]string, cols+1)
	for r := 0; r < rows; r++ {
		record[0] = strconv.FormatFloat(p.Location[r], 'g', -1, 64)
		for c := 0; c < cols; c++ {
			record[c+1] = strconv.FormatFloat(p.Table.At(r, c), 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveTable writes the profile table to path
func SaveTable(path string, p *models.Profile) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTable(file, p); err != nil {
		file.Close()
		return fmt.Errorf("error writing profile table: %w", err)
	}
	return file.Close()
}

// ReadTable parses a table written by WriteTable into the location column
// and the spatial x time value matrix
func ReadTable(r io.Reader) ([]float64, *mat.Dense, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading profile table: %w", err)
	}
	if len(records) == 0 || len(records[0]) < 2 {
		return nil, nil, fmt.Errorf("profile table needs a location column and at least one frame")
	}

	rows, cols := len(records), len(records[0])-1
	loc := make([]float64, rows)
	values := mat.NewDense(rows, cols, nil)
	for i, rec := range records {
		for j, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			if j == 0 {
				loc[i] = v
			} else {
				values.Set(i, j-1, v)
			}
		}
	}
	return loc, values, nil
}

// LoadTable reads a profile table from path
func LoadTable(path string) ([]float64, *mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	return ReadTable(file)
}
