package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Operation identifies how a rendition is derived from its source image.
type Operation string

const (
	OpThumbnail     Operation = "thumbnail"
	OpCrop          Operation = "crop"
	OpThumbnailWebP Operation = "thumbnail_webp"
	OpCropWebP      Operation = "crop_webp"
	OpFilter        Operation = "filter"
)

// SizedOperations lists the operations that take a WxH size, in the order
// their spec prefixes are matched.
var SizedOperations = []Operation{OpThumbnail, OpCrop, OpThumbnailWebP, OpCropWebP}

// IsSized reports whether op produces a resized rendition.
func (op Operation) IsSized() bool {
	switch op {
	case OpThumbnail, OpCrop, OpThumbnailWebP, OpCropWebP:
		return true
	}
	return false
}

// IsCrop reports whether op crops around the focal point.
func (op Operation) IsCrop() bool {
	return op == OpCrop || op == OpCropWebP
}

// IsWebP reports whether op always produces WebP output.
func (op Operation) IsWebP() bool {
	return op == OpThumbnailWebP || op == OpCropWebP
}

// RenditionKey pairs an operation with its parameters. Width and Height are
// set for sized operations, Filter for OpFilter.
type RenditionKey struct {
	Op     Operation `json:"op"`
	Width  int       `json:"width,omitempty"`
	Height int       `json:"height,omitempty"`
	Filter string    `json:"filter,omitempty"`
}

// Sized builds a key for one of the sized operations.
func Sized(op Operation, width, height int) RenditionKey {
	return RenditionKey{Op: op, Width: width, Height: height}
}

// Filtered builds a key for a named filter.
func Filtered(name string) RenditionKey {
	return RenditionKey{Op: OpFilter, Filter: name}
}

// String returns the key spec form of k, e.g. "thumbnail__100x100" or
// "filters__invert".
func (k RenditionKey) String() string {
	if k.Op == OpFilter {
		return "filters__" + k.Filter
	}
	return fmt.Sprintf("%s__%dx%d", k.Op, k.Width, k.Height)
}

// FocalPoint is the primary point of interest of an image, normalised to
// [0,1] on both axes.
type FocalPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultFocalPoint is the image center.
var DefaultFocalPoint = FocalPoint{X: 0.5, Y: 0.5}

// Valid reports whether both coordinates lie in [0,1].
func (p FocalPoint) Valid() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// String formats p as "XxY", the form ParseFocalPoint accepts.
func (p FocalPoint) String() string {
	return strconv.FormatFloat(p.X, 'f', -1, 64) + "x" + strconv.FormatFloat(p.Y, 'f', -1, 64)
}

// ParseFocalPoint parses "0.3x0.7". An empty string yields the default.
func ParseFocalPoint(s string) (FocalPoint, error) {
	if s == "" {
		return DefaultFocalPoint, nil
	}
	xs, ys, ok := strings.Cut(s, "x")
	if !ok {
		return FocalPoint{}, fmt.Errorf("focal point %q: expected format XxY", s)
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return FocalPoint{}, fmt.Errorf("focal point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return FocalPoint{}, fmt.Errorf("focal point %q: %w", s, err)
	}
	p := FocalPoint{X: x, Y: y}
	if !p.Valid() {
		return FocalPoint{}, fmt.Errorf("focal point %q: coordinates must be within [0,1]", s)
	}
	return p, nil
}

// RenditionSpec is one (display name, key spec) pair of a rendition set.
type RenditionSpec struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// RenditionSet is an ordered list of renditions an owning record requires.
type RenditionSet []RenditionSpec

// DefaultRenditionSet only exposes the source URL.
var DefaultRenditionSet = RenditionSet{{Name: "full_size", Key: "url"}}
