package imageproc

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/leca/dt-image-renditions/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestICO(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: 200, G: 20, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, encodeICO(&buf, img))
	return buf.Bytes()
}

// createBitmapICO builds a 24-bit DIB icon whose top row is blue and bottom
// row is green.
func createBitmapICO(t *testing.T) []byte {
	t.Helper()
	const w, h = 4, 2
	var dib bytes.Buffer
	for _, v := range []any{
		uint32(40), int32(w), int32(2 * h), uint16(1), uint16(24),
		uint32(0), uint32(0), int32(0), int32(0), uint32(0), uint32(0),
	} {
		require.NoError(t, binary.Write(&dib, binary.LittleEndian, v))
	}
	// Rows are stored bottom-up in BGR order.
	for _, px := range [][3]byte{{0, 255, 0}, {255, 0, 0}} {
		for range w {
			dib.Write(px[:])
		}
	}
	// AND mask, one padded row of bits per pixel row.
	dib.Write(make([]byte, 4*h))

	var ico bytes.Buffer
	ico.Write([]byte{0, 0, 1, 0, 1, 0, w, h, 0, 0, 1, 0, 24, 0})
	require.NoError(t, binary.Write(&ico, binary.LittleEndian, uint32(dib.Len())))
	require.NoError(t, binary.Write(&ico, binary.LittleEndian, uint32(22)))
	ico.Write(dib.Bytes())
	return ico.Bytes()
}

func TestDecode_ICOWithPNGFrame(t *testing.T) {
	c := NewCodec(75, nil)
	img, format, err := c.Decode(bytes.NewReader(createTestICO(t, 48, 32)))
	require.NoError(t, err)
	assert.Equal(t, "ico", format)
	assert.Equal(t, 48, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

func TestDecode_ICOWithBitmapFrame(t *testing.T) {
	c := NewCodec(75, nil)
	img, _, err := c.Decode(bytes.NewReader(createBitmapICO(t)))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())

	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0xFFFF}, [3]uint32{r, g, b}, "top row is blue")
	r, g, b, _ = img.At(0, 1).RGBA()
	assert.Equal(t, [3]uint32{0, 0xFFFF, 0}, [3]uint32{r, g, b}, "bottom row is green")
}

func TestDecode_ICOFrameOutOfBounds(t *testing.T) {
	data := createTestICO(t, 16, 16)
	data = data[:len(data)-10]
	_, _, err := NewCodec(75, nil).Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestRender_ICOThumbnail(t *testing.T) {
	c := NewCodec(75, nil)
	out, err := c.Render(bytes.NewReader(createTestICO(t, 64, 64)), model.Sized(model.OpThumbnail, 16, 16), model.DefaultFocalPoint, "")
	require.NoError(t, err)
	assert.Equal(t, "ico", DetectFormat(out))

	cfg, err := ICOConfig(out)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 16, cfg.Height)

	img, _, err := c.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestICOConfig_LargestEntry(t *testing.T) {
	data := make([]byte, 6+2*16)
	copy(data, []byte{0, 0, 1, 0, 2, 0})
	copy(data[6:], []byte{16, 16})
	copy(data[22:], []byte{0, 0}) // 256x256

	cfg, err := ICOConfig(data)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Width)
	assert.Equal(t, 256, cfg.Height)

	_, err = ICOConfig([]byte{0, 0, 2, 0, 1, 0})
	assert.Error(t, err)
}
