// Package webpenc encodes WebP images with libwebp.
package webpenc

import (
	"fmt"
	"image"
	"io"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// Encoder implements imageproc.WebPEncoder.
type Encoder struct{}

// New returns a libwebp-backed encoder.
func New() Encoder {
	return Encoder{}
}

func (Encoder) Encode(w io.Writer, img image.Image, quality int, lossless bool) error {
	var (
		options *encoder.Options
		err     error
	)
	if lossless {
		options, err = encoder.NewLosslessEncoderOptions(encoder.PresetDefault, 6)
	} else {
		options, err = encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	}
	if err != nil {
		return fmt.Errorf("creating encoder options: %w", err)
	}
	if err := webp.Encode(w, img, options); err != nil {
		return fmt.Errorf("encoding webp: %w", err)
	}
	return nil
}
