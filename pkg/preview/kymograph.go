// Package preview renders diagnostic views of an extracted FRAP profile.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"frapdiff/internal/models"
)

// Kymograph is a space-time view of a profile. Each image row is one frame,
// each column one position along the projected axis.
type Kymograph struct {
	// data holds frames x positions intensities
	data *mat.Dense

	// bleachFrame marks the first post-bleach row
	bleachFrame int

	// pixelSize converts column indices to physical distances
	pixelSize float64
}

// Line is the intensity profile of a single frame
type Line struct {
	Frame      int
	PostBleach bool
	X          []float64
	Y          []float64
}

// NewKymograph builds a kymograph from the profile's full preview matrix.
// Profiles extracted without preview fall back to the post-bleach table.
func NewKymograph(p *models.Profile, pixelSize float64) (*Kymograph, error) {
	if p == nil {
		return nil, fmt.Errorf("profile is nil")
	}
	if pixelSize <= 0 {
		return nil, fmt.Errorf("pixel size must be positive, got %g", pixelSize)
	}

	if p.Preview != nil {
		return &Kymograph{data: p.Preview, bleachFrame: p.BleachFrame, pixelSize: pixelSize}, nil
	}
	if p.Table == nil {
		return nil, fmt.Errorf("profile has neither preview nor table data")
	}

	// the table is positions x post-bleach frames
	var data mat.Dense
	data.CloneFrom(p.Table.T())
	return &Kymograph{data: &data, bleachFrame: 0, pixelSize: pixelSize}, nil
}

// Dims returns the number of frames and positions
func (k *Kymograph) Dims() (frames, positions int) {
	return k.data.Dims()
}

// Image renders the kymograph as 16-bit grey, scaling the value range to
// the full intensity range. A constant kymograph renders black.
func (k *Kymograph) Image() *image.Gray16 {
	frames, positions := k.data.Dims()
	img := image.NewGray16(image.Rect(0, 0, positions, frames))

	raw := k.data.RawMatrix()
	lo, hi := math.Inf(1), math.Inf(-1)
	for r := 0; r < frames; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+positions]
		lo = math.Min(lo, floats.Min(row))
		hi = math.Max(hi, floats.Max(row))
	}
	span := hi - lo

	for y := 0; y < frames; y++ {
		for x := 0; x < positions; x++ {
			var value uint16
			if span > 0 {
				value = uint16(math.Round((k.data.At(y, x) - lo) / span * 65535))
			}
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// Save writes the rendered kymograph as a deflate-compressed TIFF
func (k *Kymograph) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := tiff.Encode(file, k.Image(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode kymograph: %v", err)
	}
	return file.Close()
}

// Frame extracts the profile of a single frame
func (k *Kymograph) Frame(frame int) (Line, error) {
	frames, positions := k.data.Dims()
	if frame < 0 || frame >= frames {
		return Line{}, fmt.Errorf("frame %d outside [0, %d)", frame, frames)
	}

	x := make([]float64, positions)
	for i := range x {
		x[i] = k.pixelSize * float64(i)
	}
	return Line{
		Frame:      frame,
		PostBleach: frame >= k.bleachFrame,
		X:          x,
		Y:          mat.Row(nil, frame, k.data),
	}, nil
}

// Lines returns one plot-ready series per frame
func (k *Kymograph) Lines() []Line {
	frames, _ := k.data.Dims()
	lines := make([]Line, frames)
	for f := range lines {
		lines[f], _ = k.Frame(f)
	}
	return lines
}
