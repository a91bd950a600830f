package extraction

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"frapdiff/internal/models"
)

// Projection is the ROI neighbourhood collapsed to one value per frame and
// spatial position
type Projection struct {
	// Values has one row per frame and one column per spatial position
	Values *mat.Dense

	// Extension is the number of pixels added on each side of the ROI
	Extension int

	// Start and End bound the spatial positions in frame coordinates
	Start, End int
}

// ValidateROI checks that the rectangle is well ordered and lies inside a
// frame of the given size
func ValidateROI(roi models.Rect, height, width int) error {
	if roi.Top < 0 || roi.Left < 0 {
		return &models.GeometryError{Reason: fmt.Sprintf("%s has negative coordinates", roi)}
	}
	if roi.Top > roi.Bottom || roi.Left > roi.Right {
		return &models.GeometryError{Reason: fmt.Sprintf("%s is not ordered", roi)}
	}
	if roi.Bottom > height || roi.Right > width {
		return &models.GeometryError{
			Reason: fmt.Sprintf("%s lies outside the %dx%d frame", roi, height, width),
		}
	}
	return nil
}

// Project collapses the ROI neighbourhood of every frame into a 1-D profile.
//
// In vertical mode the ROI's row span is extended by int(span*factor) on
// both sides, clipped to [0, height-1), and the mean over the ROI columns is
// taken for every row. Horizontal mode swaps rows and columns. The upper
// clip deliberately stops one pixel short of the frame edge.
func Project(stack *models.Stack, roi models.Rect, factor float64, axis models.ProjectionAxis) (*Projection, error) {
	if axis != models.Vertical && axis != models.Horizontal {
		return nil, &models.ConfigurationError{
			Field:   "projection axis",
			Value:   axis.String(),
			Allowed: []string{"vertical", "horizontal"},
		}
	}
	if factor < 0 {
		return nil, &models.ConfigurationError{Field: "ROI extension factor", Value: fmt.Sprint(factor)}
	}
	if err := ValidateROI(roi, stack.Height, stack.Width); err != nil {
		return nil, err
	}

	var (
		extension  int
		start, end int
		span       int
	)
	if axis == models.Vertical {
		span = roi.Height()
		extension = int(float64(span) * factor)
		start = max(roi.Top-extension, 0)
		end = min(roi.Bottom+extension, stack.Height-1)
	} else {
		span = roi.Width()
		extension = int(float64(span) * factor)
		start = max(roi.Left-extension, 0)
		end = min(roi.Right+extension, stack.Width-1)
	}

	if end <= start {
		return nil, &models.GeometryError{Reason: fmt.Sprintf("%s projects onto an empty %s range", roi, axis)}
	}
	if roi.Width() == 0 || roi.Height() == 0 {
		return nil, &models.GeometryError{Reason: fmt.Sprintf("%s has no area to average over", roi)}
	}

	positions := end - start
	values := mat.NewDense(stack.Len(), positions, nil)
	for f, frame := range stack.Frames {
		var region mat.Matrix
		if axis == models.Vertical {
			region = frame.Slice(start, end, roi.Left, roi.Right)
		} else {
			region = frame.Slice(roi.Top, roi.Bottom, start, end)
		}
		for p := 0; p < positions; p++ {
			values.Set(f, p, lineMean(region, p, axis))
		}
	}

	return &Projection{Values: values, Extension: extension, Start: start, End: end}, nil
}

// lineMean averages the region across the axis orthogonal to the profile
func lineMean(region mat.Matrix, pos int, axis models.ProjectionAxis) float64 {
	rows, cols := region.Dims()
	sum := 0.0
	if axis == models.Vertical {
		for c := 0; c < cols; c++ {
			sum += region.At(pos, c)
		}
		return sum / float64(cols)
	}
	for r := 0; r < rows; r++ {
		sum += region.At(r, pos)
	}
	return sum / float64(rows)
}
