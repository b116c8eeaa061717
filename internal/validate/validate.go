// Package validate checks uploads before any storage or codec work.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"slices"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/leca/dt-image-renditions/internal/imageproc"
)

// ErrValidation matches every validation error.
var ErrValidation = errors.New("validation failed")

// DefaultAllowedExtensions are the accepted upload extensions.
var DefaultAllowedExtensions = []string{"jpeg", "jpg", "png", "ico", "webp"}

// DefaultMaxFileSizeMB is the default upload size limit.
const DefaultMaxFileSizeMB = 10

type UnsupportedExtensionError struct {
	Ext     string
	Allowed []string
}

func (e *UnsupportedExtensionError) Error() string {
	return fmt.Sprintf("file extension %q is not allowed; allowed extensions are: %s", e.Ext, strings.Join(e.Allowed, ", "))
}

func (e *UnsupportedExtensionError) Is(target error) bool { return target == ErrValidation }

type FileTooLargeError struct {
	Size    int64
	LimitMB int
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file size %d bytes exceeds the %d MB limit", e.Size, e.LimitMB)
}

func (e *FileTooLargeError) Is(target error) bool { return target == ErrValidation }

type ContentTypeMismatchError struct {
	Declared string
	Detected string
}

func (e *ContentTypeMismatchError) Error() string {
	if e.Detected == "" {
		return fmt.Sprintf("content is not a recognized image (declared %s)", e.Declared)
	}
	return fmt.Sprintf("declared content type %s does not match detected %s", e.Declared, e.Detected)
}

func (e *ContentTypeMismatchError) Is(target error) bool { return target == ErrValidation }

// ResolutionError reports an image outside the configured resolution bounds.
// Max is set when the image is too large, unset when it is too small.
type ResolutionError struct {
	Width, Height           int
	LimitWidth, LimitHeight int
	Max                     bool
}

func (e *ResolutionError) Error() string {
	if e.Max {
		return fmt.Sprintf("image is too large (%dx%d px); the maximum resolution is %s px",
			e.Width, e.Height, limitString(e.LimitWidth, e.LimitHeight))
	}
	return fmt.Sprintf("image is too small (%dx%d px); the minimum resolution is %s px",
		e.Width, e.Height, limitString(e.LimitWidth, e.LimitHeight))
}

func (e *ResolutionError) Is(target error) bool { return target == ErrValidation }

func limitString(w, h int) string {
	ws, hs := "any", "any"
	if w > 0 {
		ws = fmt.Sprint(w)
	}
	if h > 0 {
		hs = fmt.Sprint(h)
	}
	return ws + "x" + hs
}

// Rules are the upload constraints. Zero resolution bounds are unbounded.
type Rules struct {
	AllowedExtensions []string
	MaxFileSizeMB     int
	MinWidth          int
	MinHeight         int
	MaxWidth          int
	MaxHeight         int
}

// DefaultRules returns the default constraints.
func DefaultRules() Rules {
	return Rules{AllowedExtensions: DefaultAllowedExtensions, MaxFileSizeMB: DefaultMaxFileSizeMB}
}

// Upload is what Check needs to know about an upload.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Check validates u and returns the detected format and pixel size. All
// returned errors match ErrValidation.
func (r Rules) Check(u Upload) (format string, width, height int, err error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Filename), "."))
	if !slices.Contains(r.AllowedExtensions, ext) {
		return "", 0, 0, &UnsupportedExtensionError{Ext: ext, Allowed: r.AllowedExtensions}
	}

	if r.MaxFileSizeMB > 0 && int64(len(u.Data)) > int64(r.MaxFileSizeMB)<<20 {
		return "", 0, 0, &FileTooLargeError{Size: int64(len(u.Data)), LimitMB: r.MaxFileSizeMB}
	}

	format = imageproc.DetectFormat(u.Data)
	declared := strings.TrimSpace(strings.SplitN(u.ContentType, ";", 2)[0])
	if format == "" {
		return "", 0, 0, &ContentTypeMismatchError{Declared: declared}
	}
	if declared != "" && declared != "application/octet-stream" && !sameType(declared, imageproc.ContentType(format)) {
		return "", 0, 0, &ContentTypeMismatchError{Declared: declared, Detected: imageproc.ContentType(format)}
	}

	width, height, err = dimensions(format, u.Data)
	if err != nil {
		return "", 0, 0, &ContentTypeMismatchError{Declared: declared, Detected: imageproc.ContentType(format)}
	}
	if err := r.checkResolution(width, height); err != nil {
		return "", 0, 0, err
	}
	return format, width, height, nil
}

func sameType(declared, detected string) bool {
	switch strings.ToLower(declared) {
	case "image/jpg", "image/pjpeg":
		declared = "image/jpeg"
	case "image/vnd.microsoft.icon", "image/ico":
		declared = "image/x-icon"
	}
	return strings.EqualFold(declared, detected)
}

// dimensions reads the pixel size from the image header. For ICO it is the
// largest directory entry.
func dimensions(format string, data []byte) (int, int, error) {
	if format == "ico" {
		cfg, err := imageproc.ICOConfig(data)
		if err != nil {
			return 0, 0, err
		}
		return cfg.Width, cfg.Height, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func (r Rules) checkResolution(w, h int) error {
	if (r.MinWidth > 0 && w < r.MinWidth) || (r.MinHeight > 0 && h < r.MinHeight) {
		return &ResolutionError{Width: w, Height: h, LimitWidth: r.MinWidth, LimitHeight: r.MinHeight}
	}
	if (r.MaxWidth > 0 && w > r.MaxWidth) || (r.MaxHeight > 0 && h > r.MaxHeight) {
		return &ResolutionError{Width: w, Height: h, LimitWidth: r.MaxWidth, LimitHeight: r.MaxHeight, Max: true}
	}
	return nil
}
