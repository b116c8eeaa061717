package imageproc

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/leca/dt-image-renditions/internal/model"
)

// CropWindow returns the largest window with the aspect ratio of
// width x height that fits in an imgW x imgH image, centered as close to the
// focal point as the image bounds allow.
func CropWindow(imgW, imgH, width, height int, focal model.FocalPoint) image.Rectangle {
	if imgW <= 0 || imgH <= 0 || width <= 0 || height <= 0 {
		return image.Rect(0, 0, max(imgW, 0), max(imgH, 0))
	}

	target := float64(width) / float64(height)
	var winW, winH int
	if float64(imgW)/float64(imgH) > target {
		// Source is wider than the target: keep the full height.
		winH = imgH
		winW = clampInt(int(math.Round(float64(imgH)*target)), 1, imgW)
	} else {
		winW = imgW
		winH = clampInt(int(math.Round(float64(imgW)/target)), 1, imgH)
	}

	fx := math.Min(math.Max(focal.X, 0), 1)
	fy := math.Min(math.Max(focal.Y, 0), 1)
	x0 := int(math.Round(fx*float64(imgW) - float64(winW)/2))
	y0 := int(math.Round(fy*float64(imgH) - float64(winH)/2))
	x0 = clampInt(x0, 0, imgW-winW)
	y0 = clampInt(y0, 0, imgH-winH)

	return image.Rect(x0, y0, x0+winW, y0+winH)
}

// CropOnCenterpoint crops img around the focal point to the aspect ratio of
// width x height and resizes the window to exactly that size.
func CropOnCenterpoint(img image.Image, width, height int, focal model.FocalPoint) image.Image {
	b := img.Bounds()
	win := CropWindow(b.Dx(), b.Dy(), width, height, focal)
	cropped := imaging.Crop(img, win.Add(b.Min))
	return imaging.Resize(cropped, width, height, imaging.Lanczos)
}

// Thumbnail shrinks img to fit within width x height, preserving the aspect
// ratio. It never enlarges.
func Thumbnail(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width && b.Dy() <= height {
		// Already fits; do not enlarge.
		return img
	}
	return imaging.Fit(img, width, height, imaging.Lanczos)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
