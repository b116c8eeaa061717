package imageproc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
)

const (
	icoHeaderLen = 6
	icoEntryLen  = 16
)

var errICOHeader = errors.New("invalid ico header")

// icoEntry is one image of an ICO directory.
type icoEntry struct {
	width, height int
	size, offset  uint32
}

func readICODirectory(data []byte) ([]icoEntry, error) {
	if len(data) < icoHeaderLen || binary.LittleEndian.Uint16(data[0:]) != 0 || binary.LittleEndian.Uint16(data[2:]) != 1 {
		return nil, errICOHeader
	}
	n := int(binary.LittleEndian.Uint16(data[4:]))
	if n == 0 || len(data) < icoHeaderLen+n*icoEntryLen {
		return nil, fmt.Errorf("%w: truncated directory", errICOHeader)
	}
	entries := make([]icoEntry, n)
	for i := range entries {
		b := data[icoHeaderLen+i*icoEntryLen:]
		e := icoEntry{
			width:  int(b[0]),
			height: int(b[1]),
			size:   binary.LittleEndian.Uint32(b[8:]),
			offset: binary.LittleEndian.Uint32(b[12:]),
		}
		// A zero dimension means 256.
		if e.width == 0 {
			e.width = 256
		}
		if e.height == 0 {
			e.height = 256
		}
		entries[i] = e
	}
	return entries, nil
}

// largest returns the entry with the most pixels, the first one on ties.
func largest(entries []icoEntry) icoEntry {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.width*e.height > best.width*best.height {
			best = e
		}
	}
	return best
}

// ICOConfig returns the size of the largest image in an ICO directory. Only
// the header and directory are read.
func ICOConfig(data []byte) (image.Config, error) {
	entries, err := readICODirectory(data)
	if err != nil {
		return image.Config{}, err
	}
	e := largest(entries)
	return image.Config{Width: e.width, Height: e.height}, nil
}

// decodeICO decodes the largest image of an ICO file. Frames are either
// PNG streams or headerless BMPs whose height covers the AND mask too.
func decodeICO(data []byte) (image.Image, error) {
	entries, err := readICODirectory(data)
	if err != nil {
		return nil, err
	}
	e := largest(entries)
	end := uint64(e.offset) + uint64(e.size)
	if e.size == 0 || end > uint64(len(data)) {
		return nil, fmt.Errorf("%w: frame out of bounds", errICOHeader)
	}
	frame := data[e.offset:end]
	if bytes.HasPrefix(frame, []byte("\x89PNG\r\n\x1a\n")) {
		return png.Decode(bytes.NewReader(frame))
	}
	return decodeICOBitmap(frame)
}

// decodeICOBitmap prefixes a DIB frame with a BMP file header, halving the
// height so the AND mask is skipped.
func decodeICOBitmap(frame []byte) (image.Image, error) {
	if len(frame) < 40 {
		return nil, fmt.Errorf("%w: truncated bitmap", errICOHeader)
	}
	dib := bytes.Clone(frame)
	headerLen := binary.LittleEndian.Uint32(dib[0:])
	height := int32(binary.LittleEndian.Uint32(dib[8:]))
	binary.LittleEndian.PutUint32(dib[8:], uint32(height/2))
	bpp := binary.LittleEndian.Uint16(dib[14:])

	palette := uint32(0)
	if bpp <= 8 {
		colors := binary.LittleEndian.Uint32(dib[32:])
		if colors == 0 {
			colors = 1 << bpp
		}
		palette = colors * 4
	}

	var file bytes.Buffer
	file.WriteString("BM")
	_ = binary.Write(&file, binary.LittleEndian, uint32(14+len(dib)))
	_ = binary.Write(&file, binary.LittleEndian, uint32(0))
	_ = binary.Write(&file, binary.LittleEndian, 14+headerLen+palette)
	file.Write(dib)
	return bmp.Decode(&file)
}

// encodeICO writes img as a single-image ICO with a PNG frame.
func encodeICO(w io.Writer, img image.Image) error {
	var frame bytes.Buffer
	if err := png.Encode(&frame, img); err != nil {
		return err
	}
	b := img.Bounds()
	dim := func(n int) byte {
		if n >= 256 {
			return 0
		}
		return byte(n)
	}

	var hdr [icoHeaderLen + icoEntryLen]byte
	binary.LittleEndian.PutUint16(hdr[2:], 1)
	binary.LittleEndian.PutUint16(hdr[4:], 1)
	hdr[6] = dim(b.Dx())
	hdr[7] = dim(b.Dy())
	binary.LittleEndian.PutUint16(hdr[10:], 1)
	binary.LittleEndian.PutUint16(hdr[12:], 32)
	binary.LittleEndian.PutUint32(hdr[14:], uint32(frame.Len()))
	binary.LittleEndian.PutUint32(hdr[18:], uint32(len(hdr)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := frame.WriteTo(w)
	return err
}
