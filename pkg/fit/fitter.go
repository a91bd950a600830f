// Package fit fits FRAP recovery profiles to a reaction-diffusion model.
//
// The extraction pipeline hands over a profile table on disk together with
// a small set of scalars; a Fitter returns the fitted parameters as an
// open-ended result map that the batch layer annotates and persists.
package fit

import (
	"context"
	"fmt"

	"frapdiff/internal/models"
)

// Result is the set of named values produced by a fit
type Result map[string]any

// Fitter fits the profile table stored at profilePath
type Fitter interface {
	Fit(ctx context.Context, profilePath, name string, params models.FitParams) (Result, error)
}

// checkParams rejects scalars no fitter can work with
func checkParams(params models.FitParams) error {
	if params.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive, got %g", params.FrameInterval)
	}
	if params.DGuess <= 0 || params.KoffGuess <= 0 {
		return fmt.Errorf("initial guesses must be positive, got D=%g koff=%g", params.DGuess, params.KoffGuess)
	}
	if params.MinLf > params.MaxLf {
		return fmt.Errorf("L_f bounds inverted: %g > %g", params.MinLf, params.MaxLf)
	}
	return nil
}
