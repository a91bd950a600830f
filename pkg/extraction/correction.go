// Package extraction turns a FRAP image stack into the normalised,
// time-aligned recovery profile table consumed by the diffusion fit.
//
// The pipeline has three sequential stages:
//  1. Bleach correction against a reference patch in the top-left corner
//  2. Projection of the ROI neighbourhood onto a 1-D spatial profile
//  3. Bleach-frame detection, normalisation, mirroring and trimming
//
// Every stage is a pure function of its inputs.
package extraction

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"frapdiff/internal/models"
)

// ReferenceSeries returns, for every frame, the mean intensity of the
// top-left window x window patch
func ReferenceSeries(stack *models.Stack, window int) ([]float64, error) {
	if window <= 0 {
		return nil, &models.GeometryError{Reason: fmt.Sprintf("correction window size must be positive, got %d", window)}
	}
	if window > stack.Height || window > stack.Width {
		return nil, &models.GeometryError{
			Reason: fmt.Sprintf("correction window %d exceeds frame size %dx%d", window, stack.Height, stack.Width),
		}
	}

	series := make([]float64, stack.Len())
	count := float64(window * window)
	for i, frame := range stack.Frames {
		patch := frame.Slice(0, window, 0, window)
		series[i] = mat.Sum(patch) / count
	}
	return series, nil
}

// CorrectBleaching divides every pixel of each frame by that frame's
// reference patch mean. The result has the shape of the input and is not
// renormalised, so the reference mean of frame 0 is not necessarily 1.
func CorrectBleaching(stack *models.Stack, window int) (*models.Stack, error) {
	series, err := ReferenceSeries(stack, window)
	if err != nil {
		return nil, err
	}

	frames := make([]*mat.Dense, stack.Len())
	for i, frame := range stack.Frames {
		if series[i] == 0 {
			return nil, fmt.Errorf("reference patch of frame %d has zero mean intensity", i)
		}
		corrected := mat.NewDense(stack.Height, stack.Width, nil)
		corrected.Scale(1/series[i], frame)
		frames[i] = corrected
	}

	return &models.Stack{Frames: frames, Height: stack.Height, Width: stack.Width}, nil
}
