// Package haar provides an OpenCV Haar-cascade face detector. It is a faster,
// less accurate alternative to the dlib HOG detector; landmarks are still
// predicted by dlib.
package haar

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Detector wraps a gocv.CascadeClassifier. CascadeClassifier is not safe for
// concurrent use, so calls are serialised.
type Detector struct {
	mu      sync.Mutex
	cascade gocv.CascadeClassifier
	minSize image.Point
}

// New loads the cascade XML at path.
func New(path string, minSize int) (*Detector, error) {
	cascade := gocv.NewCascadeClassifier()
	if !cascade.Load(path) {
		cascade.Close()
		return nil, fmt.Errorf("failed to load face cascade from %s", path)
	}
	return &Detector{cascade: cascade, minSize: image.Pt(minSize, minSize)}, nil
}

// DetectFaces returns face rectangles in the frame's coordinate space.
func (d *Detector) DetectFaces(ctx context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(mat, &equalized)

	d.mu.Lock()
	rects := d.cascade.DetectMultiScaleWithParams(equalized, 1.1, 5, 0, d.minSize, image.Point{})
	d.mu.Unlock()

	offset := gray.Bounds().Min
	for i := range rects {
		rects[i] = rects[i].Add(offset)
	}
	return rects, nil
}

// Close releases the cascade.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cascade.Close()
}
