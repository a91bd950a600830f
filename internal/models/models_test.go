package models

import (
	"errors"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewStack(t *testing.T) {
	stack, err := NewStack([]*mat.Dense{mat.NewDense(3, 4, nil), mat.NewDense(3, 4, nil)})
	if err != nil {
		t.Fatalf("Failed to create stack: %v", err)
	}
	if stack.Len() != 2 || stack.Height != 3 || stack.Width != 4 {
		t.Errorf("Expected 2x3x4 stack, got %dx%dx%d", stack.Len(), stack.Height, stack.Width)
	}

	if _, err := NewStack(nil); err == nil {
		t.Error("Expected error for empty stack, got nil")
	}
	if _, err := NewStack([]*mat.Dense{mat.NewDense(3, 4, nil), mat.NewDense(4, 3, nil)}); err == nil {
		t.Error("Expected error for mismatched frames, got nil")
	}
}

func TestRect(t *testing.T) {
	r := Rect{Top: 2, Left: 3, Bottom: 7, Right: 13}
	if r.Height() != 5 {
		t.Errorf("Expected height 5, got %d", r.Height())
	}
	if r.Width() != 10 {
		t.Errorf("Expected width 10, got %d", r.Width())
	}
}

func TestParseProjectionAxis(t *testing.T) {
	tests := []struct {
		input    string
		expected ProjectionAxis
	}{
		{"vertical", Vertical},
		{"V", Vertical},
		{"Horizontal", Horizontal},
		{" h ", Horizontal},
	}
	for _, tt := range tests {
		got, err := ParseProjectionAxis(tt.input)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.input, tt.expected, got)
		}
	}

	_, err := ParseProjectionAxis("diagonal")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "diagonal") || !strings.Contains(err.Error(), "vertical") {
		t.Errorf("Expected message to name the value and the choices, got %q", err.Error())
	}
}

func TestParseMirrorMode(t *testing.T) {
	tests := []struct {
		input    string
		expected MirrorMode
	}{
		{"first_half", MirrorFirstHalf},
		{"SECOND_HALF", MirrorSecondHalf},
		{"none", MirrorNone},
		{"No", MirrorNone},
	}
	for _, tt := range tests {
		got, err := ParseMirrorMode(tt.input)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.input, tt.expected, got)
		}
		if round, _ := ParseMirrorMode(got.String()); round != got {
			t.Errorf("%q: String() does not parse back", tt.input)
		}
	}

	var cfgErr *ConfigurationError
	if _, err := ParseMirrorMode("both"); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError, got %v", err)
	}
}

func TestFitParams(t *testing.T) {
	cfg := ExtractionConfig{DGuess: 0.05, KoffGuess: 0.1, MinLf: 8, MaxLf: 16}
	params := cfg.FitParams(&Profile{I0: 0.97}, Calibration{PixelSize: 0.2, FrameInterval: 1.5})

	expected := FitParams{I0: 0.97, FrameInterval: 1.5, DGuess: 0.05, KoffGuess: 0.1, MinLf: 8, MaxLf: 16}
	if params != expected {
		t.Errorf("Expected %+v, got %+v", expected, params)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{&FormatError{Path: "a.tif", Reason: "missing finterval"}, "format error in a.tif: missing finterval"},
		{&NotFoundError{Paths: []string{"a.tif", "a.roi"}}, "no ROI found in a.tif or a.roi"},
		{&GeometryError{Reason: "window too large"}, "geometry error: window too large"},
	}
	for _, tt := range tests {
		if tt.err.Error() != tt.expected {
			t.Errorf("Expected %q, got %q", tt.expected, tt.err.Error())
		}
	}
}
