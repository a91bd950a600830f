package models

import (
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ProjectionAxis selects along which direction the ROI neighbourhood is
// extended before it is collapsed into a 1-D profile
type ProjectionAxis int

const (
	// Vertical extends the ROI over rows and averages over columns
	Vertical ProjectionAxis = iota
	// Horizontal extends the ROI over columns and averages over rows
	Horizontal
)

func (a ProjectionAxis) String() string {
	switch a {
	case Vertical:
		return "vertical"
	case Horizontal:
		return "horizontal"
	}
	return "unknown"
}

// ParseProjectionAxis accepts "vertical"/"v" and "horizontal"/"h"
func ParseProjectionAxis(s string) (ProjectionAxis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vertical", "v":
		return Vertical, nil
	case "horizontal", "h":
		return Horizontal, nil
	}
	return 0, &ConfigurationError{
		Field:   "projection axis",
		Value:   s,
		Allowed: []string{"vertical", "horizontal"},
	}
}

// MirrorMode selects how the spatial axis of the profile is symmetrised
type MirrorMode int

const (
	MirrorNone MirrorMode = iota
	MirrorFirstHalf
	MirrorSecondHalf
)

func (m MirrorMode) String() string {
	switch m {
	case MirrorNone:
		return "none"
	case MirrorFirstHalf:
		return "first_half"
	case MirrorSecondHalf:
		return "second_half"
	}
	return "unknown"
}

// ParseMirrorMode accepts "first_half", "second_half" and "none"/"no",
// case-insensitively
func ParseMirrorMode(s string) (MirrorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first_half":
		return MirrorFirstHalf, nil
	case "second_half":
		return MirrorSecondHalf, nil
	case "none", "no":
		return MirrorNone, nil
	}
	return 0, &ConfigurationError{
		Field:   "mirror mode",
		Value:   s,
		Allowed: []string{"first_half", "second_half", "none"},
	}
}

// ExtractionConfig is the immutable parameter record of one extraction run.
// Values are copied, never shared.
type ExtractionConfig struct {
	BleachCorrection     bool
	CorrectionWindowSize int
	ROIExtensionFactor   float64
	ProjectionAxis       ProjectionAxis
	MirrorMode           MirrorMode

	// Preview keeps the full mirrored profile (all frames, before trimming)
	// on the result for plotting
	Preview bool

	DGuess    float64
	KoffGuess float64
	MinLf     float64
	MaxLf     float64
}

// Profile is the output of the extraction pipeline
type Profile struct {
	// Table holds one row per spatial position and one column per
	// post-bleach frame
	Table *mat.Dense

	// Location is the physical distance of each table row from the ROI origin
	Location []float64

	// BleachFrame is the index of the first frame after the bleach event
	BleachFrame int

	// I0 is the normalised pre-bleach baseline intensity
	I0 float64

	// Extension is the number of pixels the ROI was extended on each side
	Extension int

	// Preview is the normalised, mirrored profile of every frame
	// (frames x positions). Only set when ExtractionConfig.Preview is true.
	Preview *mat.Dense
}

// FitParams are the scalars handed to the fit collaborator together with
// the profile table
type FitParams struct {
	I0            float64
	FrameInterval float64
	DGuess        float64
	KoffGuess     float64
	MinLf         float64
	MaxLf         float64
}

// FitParams derives the fit scalars for a profile
func (c ExtractionConfig) FitParams(p *Profile, cal Calibration) FitParams {
	return FitParams{
		I0:            p.I0,
		FrameInterval: cal.FrameInterval,
		DGuess:        c.DGuess,
		KoffGuess:     c.KoffGuess,
		MinLf:         c.MinLf,
		MaxLf:         c.MaxLf,
	}
}
