// Package mouth warps stabilized frames onto the reference face, cuts the
// mouth region out of each one and encodes the resulting clip.
package mouth

import (
	"image"
	"math"

	"github.com/lipcheck/lipcheck/internal/faults"
	"github.com/lipcheck/lipcheck/internal/landmarks"
)

const (
	DefaultStdSize       = 256
	DefaultCropWidth     = 96
	DefaultCropHeight    = 96
	DefaultBiasThreshold = 5.0
)

// PatchRect returns the crop rectangle of size (2*halfW, 2*halfH) centred on
// center inside an image of the given bounds. A centre near or past an edge
// is pulled inward so the patch fits. The crop only fails when the patch is
// larger than the image by more than threshold pixels.
func PatchRect(bounds image.Rectangle, center landmarks.Point, halfW, halfH int, threshold float64) (image.Rectangle, error) {
	cx, err := clampAxis(center.X, float64(halfW), float64(bounds.Min.X), float64(bounds.Max.X), threshold, "width")
	if err != nil {
		return image.Rectangle{}, err
	}
	cy, err := clampAxis(center.Y, float64(halfH), float64(bounds.Min.Y), float64(bounds.Max.Y), threshold, "height")
	if err != nil {
		return image.Rectangle{}, err
	}

	x := int(math.RoundToEven(cx))
	y := int(math.RoundToEven(cy))
	return image.Rect(x-halfW, y-halfH, x+halfW, y+halfH), nil
}

func clampAxis(c, half, lo, hi, threshold float64, axis string) (float64, error) {
	if c-half < lo {
		c = lo + half
	}
	if c+half > hi {
		c = hi - half
	}
	if c-half < lo-threshold {
		return 0, faults.Newf(faults.KindCrop, "cut patch",
			"too much bias in %s: patch of %.0f does not fit [%.0f, %.0f]", axis, 2*half, lo, hi)
	}
	return c, nil
}
