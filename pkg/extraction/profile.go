package extraction

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"frapdiff/internal/models"
)

// SpatialMeans returns the mean of every row (frame) of a frames x positions
// table
func SpatialMeans(values mat.Matrix) []float64 {
	rows, _ := values.Dims()
	means := make([]float64, rows)
	for i := range means {
		means[i] = stat.Mean(mat.Row(nil, i, values), nil)
	}
	return means
}

// DetectBleachFrame locates the bleach event as the frame following the
// largest absolute step in spatial-mean intensity. Ties resolve to the
// earliest step. The returned index is in [1, frames).
func DetectBleachFrame(values mat.Matrix) (int, error) {
	means := SpatialMeans(values)
	if len(means) < 2 {
		return 0, fmt.Errorf("need at least 2 frames to detect bleaching, got %d", len(means))
	}

	steps := make([]float64, len(means)-1)
	for i := range steps {
		steps[i] = math.Abs(means[i+1] - means[i])
	}

	// floats.MaxIdx returns the first maximal index
	return floats.MaxIdx(steps) + 1, nil
}

// Normalize divides every value by the spatial mean of the frame right
// before the bleach frame, so that frame averages to exactly 1
func Normalize(values mat.Matrix, bleachFrame int) (*mat.Dense, error) {
	rows, _ := values.Dims()
	if bleachFrame < 1 || bleachFrame >= rows {
		return nil, fmt.Errorf("bleach frame %d outside [1, %d)", bleachFrame, rows)
	}

	baseline := stat.Mean(mat.Row(nil, bleachFrame-1, values), nil)
	if baseline == 0 {
		return nil, fmt.Errorf("pre-bleach frame %d has zero mean intensity", bleachFrame-1)
	}

	var out mat.Dense
	out.Scale(1/baseline, values)
	return &out, nil
}

// Mirror symmetrises the spatial (column) axis of a frames x positions
// table.
//
// MirrorFirstHalf keeps columns [0, w/2) and appends their reversal.
// MirrorSecondHalf keeps columns [w/2, w) and prepends their reversal.
// Widths follow from the integer halving: first_half yields 2*(w/2) and
// second_half yields 2*(w-w/2) columns.
func Mirror(values mat.Matrix, mode models.MirrorMode) (*mat.Dense, error) {
	rows, width := values.Dims()

	var half mat.Matrix
	switch mode {
	case models.MirrorNone:
		return mat.DenseCopyOf(values), nil
	case models.MirrorFirstHalf, models.MirrorSecondHalf:
		if width < 2 {
			return nil, &models.GeometryError{Reason: fmt.Sprintf("cannot mirror a profile of width %d", width)}
		}
		src := mat.DenseCopyOf(values)
		if mode == models.MirrorFirstHalf {
			half = src.Slice(0, rows, 0, width/2)
		} else {
			half = src.Slice(0, rows, width/2, width)
		}
	default:
		return nil, &models.ConfigurationError{
			Field:   "mirror mode",
			Value:   mode.String(),
			Allowed: []string{"first_half", "second_half", "none"},
		}
	}

	_, n := half.Dims()
	out := mat.NewDense(rows, 2*n, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < n; c++ {
			v := half.At(r, c)
			if mode == models.MirrorFirstHalf {
				out.Set(r, c, v)
				out.Set(r, 2*n-1-c, v)
			} else {
				out.Set(r, n+c, v)
				out.Set(r, n-1-c, v)
			}
		}
	}
	return out, nil
}

// Trim drops every frame before the bleach frame and transposes the rest so
// that rows are spatial positions and columns are post-bleach frames
func Trim(values mat.Matrix, bleachFrame int) (*mat.Dense, error) {
	rows, cols := values.Dims()
	if bleachFrame < 1 || bleachFrame >= rows {
		return nil, fmt.Errorf("bleach frame %d outside [1, %d)", bleachFrame, rows)
	}

	out := mat.NewDense(cols, rows-bleachFrame, nil)
	out.Copy(mat.DenseCopyOf(values).Slice(bleachFrame, rows, 0, cols).T())
	return out, nil
}

// LocationGrid returns n evenly spaced physical positions starting at 0
func LocationGrid(n int, pixelSize float64) []float64 {
	loc := make([]float64, n)
	for i := range loc {
		loc[i] = pixelSize * float64(i)
	}
	return loc
}
