// Package imagej reads and writes the calibrated TIFF stacks and ROI
// descriptors produced by ImageJ/Fiji.
//
// Only the subset of TIFF that ImageJ writes for single-channel stacks is
// supported: uncompressed strips, one sample per pixel, with all frames
// stored contiguously after the first strip offset. Calibration comes from
// the YResolution tag (pixel size) and the finterval entry of the ImageJ
// description (frame interval).
package imagej

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"frapdiff/internal/models"
)

// TIFF tags used by ImageJ stacks
const (
	tagImageWidth           = 256
	tagImageLength          = 257
	tagBitsPerSample        = 258
	tagCompression          = 259
	tagPhotometric          = 262
	tagImageDescription     = 270
	tagStripOffsets         = 273
	tagSamplesPerPixel      = 277
	tagRowsPerStrip         = 278
	tagStripByteCounts      = 279
	tagXResolution          = 282
	tagYResolution          = 283
	tagResolutionUnit       = 296
	tagSampleFormat         = 339
	tagIJMetadataByteCounts = 50838
	tagIJMetadata           = 50839
)

// TIFF field types
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeUndefined = 7
)

var typeSizes = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

const (
	sampleFormatUint  = 1
	sampleFormatFloat = 3
)

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte
}

// directory is a parsed image file directory
type directory struct {
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

// parseFirstDirectory parses the TIFF header and the first IFD of data
func parseFirstDirectory(data []byte) (*directory, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("file too short for a TIFF header")
	}

	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file")
	}

	switch order.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("bad TIFF magic number")
	}

	offset := int64(order.Uint32(data[4:8]))
	if offset+2 > int64(len(data)) {
		return nil, fmt.Errorf("IFD offset %d beyond end of file", offset)
	}

	n := int64(order.Uint16(data[offset : offset+2]))
	if offset+2+n*12 > int64(len(data)) {
		return nil, fmt.Errorf("IFD with %d entries truncated", n)
	}

	dir := &directory{order: order, entries: make(map[uint16]ifdEntry, n)}
	for i := int64(0); i < n; i++ {
		e := data[offset+2+i*12 : offset+2+(i+1)*12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])

		size, ok := typeSizes[typ]
		if !ok {
			// unknown field types are skipped as TIFF 6.0 requires
			continue
		}
		length := int64(size) * int64(count)

		var raw []byte
		if length <= 4 {
			raw = e[8 : 8+length]
		} else {
			valueOffset := int64(order.Uint32(e[8:12]))
			if valueOffset+length > int64(len(data)) {
				return nil, fmt.Errorf("tag %d value beyond end of file", tag)
			}
			raw = data[valueOffset : valueOffset+length]
		}
		dir.entries[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}

	return dir, nil
}

// uints returns the integer values of a BYTE, SHORT or LONG tag
func (d *directory) uints(tag uint16) ([]uint64, bool) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, false
	}

	values := make([]uint64, e.count)
	for i := range values {
		switch e.typ {
		case typeByte, typeUndefined:
			values[i] = uint64(e.raw[i])
		case typeShort:
			values[i] = uint64(d.order.Uint16(e.raw[2*i:]))
		case typeLong:
			values[i] = uint64(d.order.Uint32(e.raw[4*i:]))
		default:
			return nil, false
		}
	}
	return values, true
}

// uint returns the first integer value of a tag, or def if the tag is absent
func (d *directory) uint(tag uint16, def uint64) uint64 {
	values, ok := d.uints(tag)
	if !ok || len(values) == 0 {
		return def
	}
	return values[0]
}

// rational returns the numerator and denominator of a RATIONAL tag
func (d *directory) rational(tag uint16) (uint32, uint32, bool) {
	e, ok := d.entries[tag]
	if !ok || e.typ != typeRational || e.count < 1 {
		return 0, 0, false
	}
	return d.order.Uint32(e.raw[0:4]), d.order.Uint32(e.raw[4:8]), true
}

// ascii returns an ASCII tag without its NUL terminator
func (d *directory) ascii(tag uint16) (string, bool) {
	e, ok := d.entries[tag]
	if !ok || e.typ != typeASCII {
		return "", false
	}
	return strings.TrimRight(string(e.raw), "\x00"), true
}

// bytes returns the raw bytes of a tag
func (d *directory) bytes(tag uint16) ([]byte, bool) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, false
	}
	return e.raw, true
}

// parseDescription splits an ImageJ description ("ImageJ=1.53t\nimages=10\n...")
// into key/value pairs
func parseDescription(desc string) map[string]string {
	meta := make(map[string]string)
	for _, line := range strings.Split(desc, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok {
			meta[key] = value
		}
	}
	return meta
}

// LoadStack reads an ImageJ TIFF stack together with its calibration
func LoadStack(path string) (*models.Stack, models.Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.Calibration{}, fmt.Errorf("error reading stack: %w", err)
	}
	return DecodeStack(path, data)
}

// DecodeStack decodes the bytes of an ImageJ TIFF stack. path is only used
// in error messages.
func DecodeStack(path string, data []byte) (*models.Stack, models.Calibration, error) {
	formatErr := func(format string, args ...any) error {
		return &models.FormatError{Path: path, Reason: fmt.Sprintf(format, args...)}
	}

	dir, err := parseFirstDirectory(data)
	if err != nil {
		return nil, models.Calibration{}, formatErr("%v", err)
	}

	desc, ok := dir.ascii(tagImageDescription)
	if !ok || !strings.HasPrefix(desc, "ImageJ=") {
		return nil, models.Calibration{}, formatErr("not an ImageJ stack")
	}
	meta := parseDescription(desc)

	cal, err := calibration(dir, meta)
	if err != nil {
		return nil, models.Calibration{}, formatErr("%v", err)
	}

	width := int(dir.uint(tagImageWidth, 0))
	height := int(dir.uint(tagImageLength, 0))
	if width == 0 || height == 0 {
		return nil, models.Calibration{}, formatErr("missing image dimensions")
	}
	if c := dir.uint(tagCompression, 1); c != 1 {
		return nil, models.Calibration{}, formatErr("compression %d is not supported", c)
	}
	if spp := dir.uint(tagSamplesPerPixel, 1); spp != 1 {
		return nil, models.Calibration{}, formatErr("%d samples per pixel, expected 1", spp)
	}
	if ch, _ := strconv.Atoi(meta["channels"]); ch > 1 {
		return nil, models.Calibration{}, formatErr("%d channels, expected a single-channel stack", ch)
	}

	bits := int(dir.uint(tagBitsPerSample, 1))
	format := int(dir.uint(tagSampleFormat, sampleFormatUint))
	decode, err := sampleDecoder(dir.order, bits, format)
	if err != nil {
		return nil, models.Calibration{}, formatErr("%v", err)
	}

	images := 1
	if v, ok := meta["images"]; ok {
		images, err = strconv.Atoi(v)
		if err != nil || images < 1 {
			return nil, models.Calibration{}, formatErr("bad image count %q", v)
		}
	}

	offsets, ok := dir.uints(tagStripOffsets)
	if !ok || len(offsets) == 0 {
		return nil, models.Calibration{}, formatErr("missing strip offsets")
	}

	sampleBytes := bits / 8
	frameBytes := width * height * sampleBytes
	start := int64(offsets[0])
	if start+int64(images)*int64(frameBytes) > int64(len(data)) {
		return nil, models.Calibration{}, formatErr("pixel data truncated: %d frames of %d bytes", images, frameBytes)
	}

	frames := make([]*mat.Dense, images)
	for f := 0; f < images; f++ {
		pixels := data[start+int64(f*frameBytes) : start+int64((f+1)*frameBytes)]
		values := make([]float64, width*height)
		for i := range values {
			values[i] = decode(pixels[i*sampleBytes:])
		}
		frames[f] = mat.NewDense(height, width, values)
	}

	stack, err := models.NewStack(frames)
	if err != nil {
		return nil, models.Calibration{}, formatErr("%v", err)
	}
	return stack, cal, nil
}

// calibration derives pixel size and frame interval from the tags and the
// ImageJ description
func calibration(dir *directory, meta map[string]string) (models.Calibration, error) {
	num, den, ok := dir.rational(tagYResolution)
	if !ok {
		return models.Calibration{}, fmt.Errorf("missing YResolution")
	}
	if num == 0 || den == 0 {
		return models.Calibration{}, fmt.Errorf("invalid YResolution %d/%d", num, den)
	}

	raw, ok := meta["finterval"]
	if !ok {
		return models.Calibration{}, fmt.Errorf("missing frame interval (finterval)")
	}
	interval, err := strconv.ParseFloat(raw, 64)
	if err != nil || interval <= 0 {
		return models.Calibration{}, fmt.Errorf("invalid frame interval %q", raw)
	}

	// YResolution is pixels per unit, so the pixel size is its inverse
	return models.Calibration{
		PixelSize:     float64(den) / float64(num),
		FrameInterval: interval,
	}, nil
}

// sampleDecoder returns a function reading one sample from the start of b
func sampleDecoder(order binary.ByteOrder, bits, format int) (func(b []byte) float64, error) {
	switch {
	case bits == 8 && format == sampleFormatUint:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case bits == 16 && format == sampleFormatUint:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case bits == 32 && format == sampleFormatUint:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	case bits == 32 && format == sampleFormatFloat:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case bits == 64 && format == sampleFormatFloat:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	}
	return nil, fmt.Errorf("unsupported sample type: %d bits, format %d", bits, format)
}

// Loader reads stacks and ROIs from ImageJ files
type Loader struct{}

// LoadStack reads an ImageJ TIFF stack together with its calibration
func (Loader) LoadStack(path string) (*models.Stack, models.Calibration, error) {
	return LoadStack(path)
}

// LoadROI reads the bleach ROI for an ImageJ TIFF stack
func (Loader) LoadROI(path string) (models.Rect, error) {
	return LoadROI(path)
}
