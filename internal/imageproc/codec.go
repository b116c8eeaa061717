// Package imageproc decodes, transforms and encodes images for renditions
// and upload optimization.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"sort"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/leca/dt-image-renditions/internal/model"
)

var (
	// ErrDecode is returned for corrupt or unsupported source bytes.
	ErrDecode = errors.New("cannot decode image")
	// ErrUnsupportedFormat is returned when an output format has no encoder.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrUnknownFilter is returned for filter names the codec does not know.
	ErrUnknownFilter = errors.New("unknown filter")
)

// WebPEncoder encodes WebP images. It is provided by a cgo-backed package so
// the codec itself builds without libwebp.
type WebPEncoder interface {
	Encode(w io.Writer, img image.Image, quality int, lossless bool) error
}

// Filter is a named whole-image transform.
type Filter func(image.Image) image.Image

// DefaultFilters returns the built-in named filters.
func DefaultFilters() map[string]Filter {
	return map[string]Filter{
		"invert": func(img image.Image) image.Image { return imaging.Invert(img) },
		"grayscale": func(img image.Image) image.Image {
			return imaging.Grayscale(img)
		},
		"sharpen": func(img image.Image) image.Image { return imaging.Sharpen(img, 1.0) },
		"blur":    func(img image.Image) image.Image { return imaging.Blur(img, 2.0) },
		// to_webp only changes the output format.
		"to_webp": func(img image.Image) image.Image { return img },
	}
}

// EncodeOptions are the format-specific save parameters.
type EncodeOptions struct {
	// Quality applies to JPEG and lossy WebP.
	Quality int
	// Lossless selects lossless WebP.
	Lossless bool
	// Optimize selects the smallest PNG encoding.
	Optimize bool
}

// Codec renders image renditions.
type Codec struct {
	quality int
	webp    WebPEncoder
	filters map[string]Filter
}

// NewCodec returns a Codec encoding lossy formats at quality. webp may be nil,
// in which case WebP output fails with ErrUnsupportedFormat.
func NewCodec(quality int, webp WebPEncoder) *Codec {
	return &Codec{quality: quality, webp: webp, filters: DefaultFilters()}
}

// WithFilter registers an extra named filter.
func (c *Codec) WithFilter(name string, f Filter) *Codec {
	c.filters[name] = f
	return c
}

// Quality returns the lossy encoding quality.
func (c *Codec) Quality() int {
	return c.quality
}

// Filters returns the registered filter names, sorted.
func (c *Codec) Filters() []string {
	names := make([]string, 0, len(c.filters))
	for name := range c.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasFilter reports whether name is registered.
func (c *Codec) HasFilter(name string) bool {
	_, ok := c.filters[name]
	return ok
}

// Decode reads and decodes an image, applying its EXIF orientation. It
// returns the decoded image and its source format.
func (c *Codec) Decode(src io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", fmt.Errorf("reading source: %w", err)
	}
	format := DetectFormat(data)
	if format == "" {
		return nil, "", fmt.Errorf("%w: unrecognized format", ErrDecode)
	}
	var img image.Image
	if format == "ico" {
		img, err = decodeICO(data)
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// Render builds the rendition key of the source image and encodes it as
// format. An empty format keeps the source format.
func (c *Codec) Render(src io.Reader, key model.RenditionKey, focal model.FocalPoint, format string) ([]byte, error) {
	img, srcFormat, err := c.Decode(src)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = srcFormat
	}

	switch {
	case key.Op.IsCrop():
		img = CropOnCenterpoint(img, key.Width, key.Height, focal)
	case key.Op.IsSized():
		img = Thumbnail(img, key.Width, key.Height)
	case key.Op == model.OpFilter:
		f, ok := c.filters[key.Filter]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, key.Filter)
		}
		img = f(img)
	default:
		return nil, fmt.Errorf("unsupported operation %q", key.Op)
	}

	out, err := c.Encode(img, format, EncodeOptions{Quality: c.quality})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", format, err)
	}
	return out, nil
}

// Encode encodes img as format with the given save parameters.
func (c *Codec) Encode(img image.Image, format string, opts EncodeOptions) ([]byte, error) {
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = c.quality
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case "png":
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if opts.Optimize {
			enc.CompressionLevel = png.BestCompression
		}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	case "bmp", "tiff":
		f := imaging.BMP
		if format == "tiff" {
			f = imaging.TIFF
		}
		if err := imaging.Encode(&buf, img, f); err != nil {
			return nil, err
		}
	case "ico":
		if err := encodeICO(&buf, img); err != nil {
			return nil, err
		}
	case "webp":
		if c.webp == nil {
			return nil, fmt.Errorf("%w: webp encoder not configured", ErrUnsupportedFormat)
		}
		if err := c.webp.Encode(&buf, img, quality, opts.Lossless); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return buf.Bytes(), nil
}

// flatten composites images with transparency onto a white background.
func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
