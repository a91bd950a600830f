package extraction

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"frapdiff/internal/models"
)

// ValidateConfig rejects configuration values that would make every input
// fail the same way
func ValidateConfig(cfg models.ExtractionConfig) error {
	if _, err := models.ParseProjectionAxis(cfg.ProjectionAxis.String()); err != nil {
		return err
	}
	if _, err := models.ParseMirrorMode(cfg.MirrorMode.String()); err != nil {
		return err
	}
	if cfg.ROIExtensionFactor < 0 {
		return &models.ConfigurationError{Field: "ROI extension factor", Value: fmt.Sprint(cfg.ROIExtensionFactor)}
	}
	if cfg.BleachCorrection && cfg.CorrectionWindowSize <= 0 {
		return &models.ConfigurationError{Field: "correction window size", Value: fmt.Sprint(cfg.CorrectionWindowSize)}
	}
	if cfg.MinLf > cfg.MaxLf {
		return &models.ConfigurationError{
			Field: "L_f bounds",
			Value: fmt.Sprintf("min %g > max %g", cfg.MinLf, cfg.MaxLf),
		}
	}
	return nil
}

// Extract runs the full profile-extraction pipeline on one stack:
// bleach correction, ROI projection, bleach-frame detection, normalisation,
// mirroring and trimming.
//
// The I0 baseline is read from the mirrored data at the pre-bleach frame
// before that frame is trimmed away.
func Extract(stack *models.Stack, roi models.Rect, cal models.Calibration, cfg models.ExtractionConfig) (*models.Profile, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var err error
	if cfg.BleachCorrection {
		stack, err = CorrectBleaching(stack, cfg.CorrectionWindowSize)
		if err != nil {
			return nil, fmt.Errorf("bleach correction: %w", err)
		}
	}

	proj, err := Project(stack, roi, cfg.ROIExtensionFactor, cfg.ProjectionAxis)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}

	bleachFrame, err := DetectBleachFrame(proj.Values)
	if err != nil {
		return nil, err
	}

	normalized, err := Normalize(proj.Values, bleachFrame)
	if err != nil {
		return nil, err
	}

	mirrored, err := Mirror(normalized, cfg.MirrorMode)
	if err != nil {
		return nil, fmt.Errorf("mirroring: %w", err)
	}

	i0 := stat.Mean(mat.Row(nil, bleachFrame-1, mirrored), nil)

	table, err := Trim(mirrored, bleachFrame)
	if err != nil {
		return nil, err
	}

	positions, _ := table.Dims()
	profile := &models.Profile{
		Table:       table,
		Location:    LocationGrid(positions, cal.PixelSize),
		BleachFrame: bleachFrame,
		I0:          i0,
		Extension:   proj.Extension,
	}
	if cfg.Preview {
		profile.Preview = mirrored
	}
	return profile, nil
}
