package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Stack represents a FRAP time-lapse movie as an ordered sequence of
// equally sized intensity frames
type Stack struct {
	// Frames holds one Height x Width matrix per time point
	Frames []*mat.Dense

	// Height is the number of pixel rows per frame
	Height int

	// Width is the number of pixel columns per frame
	Width int
}

// NewStack builds a stack from frames, checking that every frame has the
// same dimensions
func NewStack(frames []*mat.Dense) (*Stack, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("stack has no frames")
	}

	height, width := frames[0].Dims()
	for i, f := range frames {
		r, c := f.Dims()
		if r != height || c != width {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, r, c, height, width)
		}
	}

	return &Stack{Frames: frames, Height: height, Width: width}, nil
}

// Len returns the number of frames in the stack
func (s *Stack) Len() int { return len(s.Frames) }

// Rect is a pixel rectangle marking the bleach spot. Top/Left are inclusive,
// Bottom/Right are exclusive, matching the ImageJ ROI header
type Rect struct {
	Top    int `json:"top" yaml:"top"`
	Left   int `json:"left" yaml:"left"`
	Bottom int `json:"bottom" yaml:"bottom"`
	Right  int `json:"right" yaml:"right"`
}

// Height returns the vertical span of the rectangle
func (r Rect) Height() int { return r.Bottom - r.Top }

// Width returns the horizontal span of the rectangle
func (r Rect) Width() int { return r.Right - r.Left }

func (r Rect) String() string {
	return fmt.Sprintf("rect(top=%d left=%d bottom=%d right=%d)", r.Top, r.Left, r.Bottom, r.Right)
}

// Calibration holds the physical units read from the stack metadata
type Calibration struct {
	// PixelSize is the physical length of one pixel
	PixelSize float64 `json:"pixelSize"`

	// FrameInterval is the physical time between consecutive frames
	FrameInterval float64 `json:"frameInterval"`
}
