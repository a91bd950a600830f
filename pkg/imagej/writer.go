package imagej

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"frapdiff/internal/models"
)

const resolutionScale = 1000000

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Description builds the ImageJ description for a time-lapse stack
func Description(frames int, cal models.Calibration) string {
	return fmt.Sprintf("ImageJ=1.54f\nimages=%d\nframes=%d\nfinterval=%s\nunit=micron\nloop=false\n",
		frames, frames, strconv.FormatFloat(cal.FrameInterval, 'g', -1, 64))
}

// WriteStack writes the stack as a little-endian float32 ImageJ TIFF. If roi
// is not nil it is embedded as the active ROI.
func WriteStack(path string, stack *models.Stack, cal models.Calibration, roi *models.Rect) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	if err := EncodeStack(w, stack, cal, roi, Description(stack.Len(), cal)); err != nil {
		file.Close()
		return fmt.Errorf("error encoding stack: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// EncodeStack writes the stack with an explicit ImageJ description
func EncodeStack(w io.Writer, stack *models.Stack, cal models.Calibration, roi *models.Rect, description string) error {
	if cal.PixelSize <= 0 {
		return fmt.Errorf("pixel size must be positive, got %g", cal.PixelSize)
	}

	le := binary.LittleEndian
	frameBytes := stack.Width * stack.Height * 4
	dataLen := stack.Len() * frameBytes
	ifdOffset := 8 + dataLen

	// YResolution holds pixels per unit, the inverse of the pixel size
	resolution := make([]byte, 8)
	le.PutUint32(resolution[0:4], resolutionScale)
	le.PutUint32(resolution[4:8], uint32(math.Round(cal.PixelSize*resolutionScale)))

	entries := []outEntry{
		longEntry(tagImageWidth, uint32(stack.Width)),
		longEntry(tagImageLength, uint32(stack.Height)),
		shortEntry(tagBitsPerSample, 32),
		shortEntry(tagCompression, 1),
		shortEntry(tagPhotometric, 1),
		{tag: tagImageDescription, typ: typeASCII, count: uint32(len(description) + 1), data: append([]byte(description), 0)},
		longEntry(tagStripOffsets, 8),
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(stack.Height)),
		longEntry(tagStripByteCounts, uint32(frameBytes)),
		{tag: tagXResolution, typ: typeRational, count: 1, data: resolution},
		{tag: tagYResolution, typ: typeRational, count: 1, data: resolution},
		shortEntry(tagResolutionUnit, 1),
		shortEntry(tagSampleFormat, sampleFormatFloat),
	}

	if roi != nil {
		counts, blob := ijMetadata(EncodeROI(*roi))
		countBytes := make([]byte, 4*len(counts))
		for i, c := range counts {
			le.PutUint32(countBytes[4*i:], c)
		}
		entries = append(entries,
			outEntry{tag: tagIJMetadataByteCounts, typ: typeLong, count: uint32(len(counts)), data: countBytes},
			outEntry{tag: tagIJMetadata, typ: typeByte, count: uint32(len(blob)), data: blob},
		)
	}

	var buf bytes.Buffer

	// header
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(ifdOffset))

	// pixel data
	sample := make([]byte, 4)
	for _, frame := range stack.Frames {
		for r := 0; r < stack.Height; r++ {
			for c := 0; c < stack.Width; c++ {
				le.PutUint32(sample, math.Float32bits(float32(frame.At(r, c))))
				buf.Write(sample)
			}
		}
	}

	// directory, followed by the values that do not fit into an entry
	extraOffset := ifdOffset + 2 + 12*len(entries) + 4
	var extra bytes.Buffer
	binary.Write(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, le, e.tag)
		binary.Write(&buf, le, e.typ)
		binary.Write(&buf, le, e.count)
		if len(e.data) <= 4 {
			value := make([]byte, 4)
			copy(value, e.data)
			buf.Write(value)
			continue
		}
		binary.Write(&buf, le, uint32(extraOffset+extra.Len()))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	binary.Write(&buf, le, uint32(0))
	buf.Write(extra.Bytes())

	_, err := w.Write(buf.Bytes())
	return err
}

func shortEntry(tag uint16, v uint16) outEntry {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, v)
	return outEntry{tag: tag, typ: typeShort, count: 1, data: data}
}

func longEntry(tag uint16, v uint32) outEntry {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return outEntry{tag: tag, typ: typeLong, count: 1, data: data}
}

// ijMetadata packs a single ROI into the IJMetadata layout: a big-endian
// "IJIJ" header listing one "roi " entry, followed by the ROI bytes
func ijMetadata(roi []byte) ([]uint32, []byte) {
	var header bytes.Buffer
	header.WriteString("IJIJ")
	header.WriteString("roi ")
	binary.Write(&header, binary.BigEndian, uint32(1))

	counts := []uint32{uint32(header.Len()), uint32(len(roi))}
	return counts, append(header.Bytes(), roi...)
}
