package imagej

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"frapdiff/internal/models"
)

const (
	roiMagic      = "Iout"
	roiHeaderSize = 64
	roiVersion    = 228
	roiTypeRect   = 1
)

// DecodeROI reads the bounding rectangle from an ImageJ binary ROI.
// Coordinates are big-endian int16 values at offsets 8..15.
func DecodeROI(data []byte) (models.Rect, error) {
	if len(data) < 16 {
		return models.Rect{}, &models.FormatError{Reason: fmt.Sprintf("ROI too short (%d bytes)", len(data))}
	}
	if string(data[:4]) != roiMagic {
		return models.Rect{}, &models.FormatError{Reason: "not an ImageJ ROI"}
	}

	be := binary.BigEndian
	return models.Rect{
		Top:    int(int16(be.Uint16(data[8:10]))),
		Left:   int(int16(be.Uint16(data[10:12]))),
		Bottom: int(int16(be.Uint16(data[12:14]))),
		Right:  int(int16(be.Uint16(data[14:16]))),
	}, nil
}

// EncodeROI writes a rectangle ROI in the ImageJ binary format
func EncodeROI(r models.Rect) []byte {
	data := make([]byte, roiHeaderSize)
	be := binary.BigEndian
	copy(data[0:4], roiMagic)
	be.PutUint16(data[4:6], roiVersion)
	data[6] = roiTypeRect
	be.PutUint16(data[8:10], uint16(int16(r.Top)))
	be.PutUint16(data[10:12], uint16(int16(r.Left)))
	be.PutUint16(data[12:14], uint16(int16(r.Bottom)))
	be.PutUint16(data[14:16], uint16(int16(r.Right)))
	return data
}

// embeddedROIs returns the ROI blobs stored in the IJMetadata tags: the
// active ROI first, then overlay ROIs
func embeddedROIs(dir *directory) ([][]byte, error) {
	counts, ok := dir.uints(tagIJMetadataByteCounts)
	if !ok || len(counts) == 0 {
		return nil, nil
	}
	blob, ok := dir.bytes(tagIJMetadata)
	if !ok {
		return nil, nil
	}

	headerSize := int(counts[0])
	if headerSize < 4 || headerSize > len(blob) {
		return nil, fmt.Errorf("bad IJMetadata header size %d", headerSize)
	}
	header := blob[:headerSize]

	var order binary.ByteOrder
	reversed := false
	switch string(header[:4]) {
	case "IJIJ":
		order = binary.BigEndian
	case "JIJI":
		order = binary.LittleEndian
		reversed = true
	default:
		return nil, fmt.Errorf("bad IJMetadata magic %q", header[:4])
	}

	var active, overlays [][]byte
	pos := headerSize
	next := 1
	for i := 4; i+8 <= len(header); i += 8 {
		kind := string(header[i : i+4])
		if reversed {
			kind = reverse(kind)
		}
		n := int(order.Uint32(header[i+4 : i+8]))

		for j := 0; j < n; j++ {
			if next >= len(counts) {
				return nil, fmt.Errorf("IJMetadata byte counts truncated")
			}
			size := int(counts[next])
			next++
			if pos+size > len(blob) {
				return nil, fmt.Errorf("IJMetadata entry beyond end of data")
			}
			switch kind {
			case "roi ":
				active = append(active, blob[pos:pos+size])
			case "over":
				overlays = append(overlays, blob[pos:pos+size])
			}
			pos += size
		}
	}

	return append(active, overlays...), nil
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// SidecarPath returns the .roi file consulted when a stack carries no
// embedded ROI
func SidecarPath(stackPath string) string {
	return strings.TrimSuffix(stackPath, filepath.Ext(stackPath)) + ".roi"
}

// LoadROI returns the first ROI embedded in the stack at path. If the stack
// has none, the sidecar .roi file next to it is used. A NotFoundError naming
// both paths is returned when neither yields a rectangle.
func LoadROI(path string) (models.Rect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Rect{}, fmt.Errorf("error reading stack: %w", err)
	}

	dir, err := parseFirstDirectory(data)
	if err != nil {
		return models.Rect{}, &models.FormatError{Path: path, Reason: err.Error()}
	}

	rois, err := embeddedROIs(dir)
	if err != nil {
		return models.Rect{}, &models.FormatError{Path: path, Reason: err.Error()}
	}
	if len(rois) > 0 {
		rect, err := DecodeROI(rois[0])
		if err != nil {
			return models.Rect{}, fmt.Errorf("embedded ROI in %s: %w", path, err)
		}
		return rect, nil
	}

	sidecar := SidecarPath(path)
	raw, err := os.ReadFile(sidecar)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Rect{}, &models.NotFoundError{Paths: []string{path, sidecar}}
	}
	if err != nil {
		return models.Rect{}, fmt.Errorf("error reading ROI: %w", err)
	}

	rect, err := DecodeROI(raw)
	if err != nil {
		return models.Rect{}, fmt.Errorf("ROI %s: %w", sidecar, err)
	}
	return rect, nil
}
