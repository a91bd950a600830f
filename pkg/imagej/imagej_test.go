package imagej

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"

	"frapdiff/internal/models"
)

// createTestStack builds a stack whose pixels encode frame, row and column
func createTestStack(t *testing.T, frames, height, width int) *models.Stack {
	t.Helper()
	data := make([]*mat.Dense, frames)
	for f := range data {
		m := mat.NewDense(height, width, nil)
		for r := 0; r < height; r++ {
			for c := 0; c < width; c++ {
				m.Set(r, c, float64(100*f+10*r+c)+0.5)
			}
		}
		data[f] = m
	}
	stack, err := models.NewStack(data)
	if err != nil {
		t.Fatalf("Failed to create stack: %v", err)
	}
	return stack
}

func TestWriteAndLoadStack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.tif")
	stack := createTestStack(t, 4, 6, 5)
	cal := models.Calibration{PixelSize: 0.125, FrameInterval: 0.5}

	if err := WriteStack(path, stack, cal, nil); err != nil {
		t.Fatalf("Failed to write stack: %v", err)
	}

	loaded, loadedCal, err := LoadStack(path)
	if err != nil {
		t.Fatalf("Failed to load stack: %v", err)
	}

	if loaded.Len() != 4 || loaded.Height != 6 || loaded.Width != 5 {
		t.Fatalf("Expected 4x6x5 stack, got %dx%dx%d", loaded.Len(), loaded.Height, loaded.Width)
	}
	for f := range stack.Frames {
		if !mat.EqualApprox(loaded.Frames[f], stack.Frames[f], 1e-6) {
			t.Errorf("Frame %d differs after round trip", f)
		}
	}
	if loadedCal.PixelSize != 0.125 {
		t.Errorf("Expected pixel size 0.125, got %f", loadedCal.PixelSize)
	}
	if loadedCal.FrameInterval != 0.5 {
		t.Errorf("Expected frame interval 0.5, got %f", loadedCal.FrameInterval)
	}
}

func TestLoadStackRejectsPlainTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.tif")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := tiff.Encode(file, image.NewGray16(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("Failed to encode TIFF: %v", err)
	}
	file.Close()

	_, _, err = LoadStack(path)
	var formatErr *models.FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("Expected FormatError, got %v", err)
	}
	if formatErr.Path != path {
		t.Errorf("Expected error to name %s, got %s", path, formatErr.Path)
	}
}

func TestDecodeStackMissingMetadata(t *testing.T) {
	stack := createTestStack(t, 2, 3, 3)
	cal := models.Calibration{PixelSize: 1, FrameInterval: 1}

	tests := []struct {
		name        string
		description string
		reason      string
	}{
		{"no finterval", "ImageJ=1.54f\nimages=2\nframes=2\n", "finterval"},
		{"not imagej", "created by something else", "not an ImageJ stack"},
		{"multichannel", "ImageJ=1.54f\nimages=2\nchannels=2\nfinterval=1\n", "channels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := EncodeStack(&buf, stack, cal, nil, tt.description); err != nil {
				t.Fatalf("Failed to encode stack: %v", err)
			}

			_, _, err := DecodeStack("test.tif", buf.Bytes())
			var formatErr *models.FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("Expected FormatError, got %v", err)
			}
			if !strings.Contains(formatErr.Reason, tt.reason) {
				t.Errorf("Expected reason to mention %q, got %q", tt.reason, formatErr.Reason)
			}
		})
	}
}

func TestDecodeStackTruncated(t *testing.T) {
	var buf bytes.Buffer
	stack := createTestStack(t, 2, 3, 3)
	// claims more images than the file holds
	desc := "ImageJ=1.54f\nimages=50\nfinterval=1\n"
	if err := EncodeStack(&buf, stack, models.Calibration{PixelSize: 1, FrameInterval: 1}, nil, desc); err != nil {
		t.Fatalf("Failed to encode stack: %v", err)
	}

	_, _, err := DecodeStack("test.tif", buf.Bytes())
	var formatErr *models.FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("Expected FormatError, got %v", err)
	}
}

func TestSampleDecoder(t *testing.T) {
	be, err := sampleDecoder(binary.BigEndian, 16, sampleFormatUint)
	if err != nil {
		t.Fatalf("Failed to create decoder: %v", err)
	}
	if got := be([]byte{0x01, 0x02}); got != 258 {
		t.Errorf("Expected 258, got %f", got)
	}

	le, err := sampleDecoder(binary.LittleEndian, 16, sampleFormatUint)
	if err != nil {
		t.Fatalf("Failed to create decoder: %v", err)
	}
	if got := le([]byte{0x01, 0x02}); got != 513 {
		t.Errorf("Expected 513, got %f", got)
	}

	if _, err := sampleDecoder(binary.BigEndian, 12, sampleFormatUint); err == nil {
		t.Error("Expected error for 12-bit samples, got nil")
	}
}

func TestROIRoundTrip(t *testing.T) {
	rect := models.Rect{Top: 12, Left: 30, Bottom: 20, Right: 61}

	got, err := DecodeROI(EncodeROI(rect))
	if err != nil {
		t.Fatalf("Failed to decode ROI: %v", err)
	}
	if got != rect {
		t.Errorf("Expected %s, got %s", rect, got)
	}

	if _, err := DecodeROI([]byte("not an roi at all")); err == nil {
		t.Error("Expected error for bad magic, got nil")
	}
}

func TestLoadROIEmbedded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.tif")
	rect := models.Rect{Top: 2, Left: 1, Bottom: 4, Right: 5}
	if err := WriteStack(path, createTestStack(t, 3, 6, 6), models.Calibration{PixelSize: 1, FrameInterval: 1}, &rect); err != nil {
		t.Fatalf("Failed to write stack: %v", err)
	}

	got, err := LoadROI(path)
	if err != nil {
		t.Fatalf("Failed to load ROI: %v", err)
	}
	if got != rect {
		t.Errorf("Expected %s, got %s", rect, got)
	}

	// the embedded ROI must not disturb the pixel data
	if _, _, err := LoadStack(path); err != nil {
		t.Errorf("Failed to load stack with embedded ROI: %v", err)
	}
}

func TestLoadROISidecarFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.tif")
	if err := WriteStack(path, createTestStack(t, 2, 4, 4), models.Calibration{PixelSize: 1, FrameInterval: 1}, nil); err != nil {
		t.Fatalf("Failed to write stack: %v", err)
	}

	rect := models.Rect{Top: 1, Left: 1, Bottom: 3, Right: 3}
	if err := os.WriteFile(filepath.Join(dir, "movie.roi"), EncodeROI(rect), 0644); err != nil {
		t.Fatalf("Failed to write sidecar: %v", err)
	}

	got, err := LoadROI(path)
	if err != nil {
		t.Fatalf("Failed to load ROI: %v", err)
	}
	if got != rect {
		t.Errorf("Expected %s, got %s", rect, got)
	}
}

func TestLoadROINotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.tif")
	if err := WriteStack(path, createTestStack(t, 2, 4, 4), models.Calibration{PixelSize: 1, FrameInterval: 1}, nil); err != nil {
		t.Fatalf("Failed to write stack: %v", err)
	}

	_, err := LoadROI(path)
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
	if len(notFound.Paths) != 2 || notFound.Paths[0] != path || notFound.Paths[1] != SidecarPath(path) {
		t.Errorf("Expected both attempted paths, got %v", notFound.Paths)
	}
	if !strings.Contains(err.Error(), "movie.roi") || !strings.Contains(err.Error(), "movie.tif") {
		t.Errorf("Expected message to reference both paths, got %q", err.Error())
	}
}

func TestEmbeddedROIsLittleEndianMetadata(t *testing.T) {
	roi := EncodeROI(models.Rect{Top: 3, Left: 4, Bottom: 5, Right: 6})

	var header bytes.Buffer
	header.WriteString("JIJI")
	header.WriteString(" ior")
	binary.Write(&header, binary.LittleEndian, uint32(1))
	blob := append(header.Bytes(), roi...)

	counts := make([]byte, 8)
	binary.LittleEndian.PutUint32(counts[0:], uint32(header.Len()))
	binary.LittleEndian.PutUint32(counts[4:], uint32(len(roi)))

	dir := &directory{
		order: binary.LittleEndian,
		entries: map[uint16]ifdEntry{
			tagIJMetadataByteCounts: {typ: typeLong, count: 2, raw: counts},
			tagIJMetadata:           {typ: typeByte, count: uint32(len(blob)), raw: blob},
		},
	}

	rois, err := embeddedROIs(dir)
	if err != nil {
		t.Fatalf("Failed to parse metadata: %v", err)
	}
	if len(rois) != 1 {
		t.Fatalf("Expected 1 ROI, got %d", len(rois))
	}
	if rect, _ := DecodeROI(rois[0]); rect.Top != 3 || rect.Right != 6 {
		t.Errorf("Unexpected ROI %s", rect)
	}
}
