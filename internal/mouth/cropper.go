package mouth

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/lipcheck/lipcheck/internal/faults"
	"github.com/lipcheck/lipcheck/internal/landmarks"
	"github.com/lipcheck/lipcheck/internal/stabilize"
)

// Cropper produces one mouth patch per frame.
type Cropper struct {
	StdSize       int
	CropWidth     int
	CropHeight    int
	BiasThreshold float64
}

// NewCropper returns a Cropper with the standard 256x256 reference frame
// and 96x96 patches.
func NewCropper() *Cropper {
	return &Cropper{
		StdSize:       DefaultStdSize,
		CropWidth:     DefaultCropWidth,
		CropHeight:    DefaultCropHeight,
		BiasThreshold: DefaultBiasThreshold,
	}
}

// Patch is the crop rectangle of one frame in reference-frame coordinates.
type Patch struct {
	Rect   image.Rectangle
	Center landmarks.Point
}

// Plan computes the crop rectangle of every frame without touching pixels.
func (c *Cropper) Plan(shapes landmarks.StableSequence, transforms []stabilize.Transform) ([]Patch, error) {
	if len(shapes) != len(transforms) {
		return nil, fmt.Errorf("have %d landmark sets for %d transforms", len(shapes), len(transforms))
	}
	bounds := image.Rect(0, 0, c.StdSize, c.StdSize)
	patches := make([]Patch, len(shapes))
	for i := range shapes {
		warped := transforms[i].ApplyShape(shapes[i])
		center := warped.Mean(landmarks.MouthStart, landmarks.MouthStop)
		rect, err := PatchRect(bounds, center, c.CropWidth/2, c.CropHeight/2, c.BiasThreshold)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		patches[i] = Patch{Rect: rect, Center: center}
	}
	return patches, nil
}

// Crop warps each frame onto the reference face and cuts its mouth patch.
// The returned Mats are owned by the caller.
func (c *Cropper) Crop(frames []gocv.Mat, shapes landmarks.StableSequence, transforms []stabilize.Transform) ([]gocv.Mat, error) {
	if len(frames) != len(shapes) {
		return nil, fmt.Errorf("have %d frames for %d landmark sets", len(frames), len(shapes))
	}
	patches, err := c.Plan(shapes, transforms)
	if err != nil {
		return nil, err
	}

	size := image.Pt(c.StdSize, c.StdSize)
	rois := make([]gocv.Mat, 0, len(frames))
	for i, frame := range frames {
		roi, err := c.cut(frame, transforms[i], size, patches[i].Rect)
		if err != nil {
			CloseAll(rois)
			return nil, faults.New(faults.KindCrop, fmt.Sprintf("frame %d", i), err)
		}
		rois = append(rois, roi)
	}
	return rois, nil
}

func (c *Cropper) cut(frame gocv.Mat, t stabilize.Transform, size image.Point, rect image.Rectangle) (gocv.Mat, error) {
	m := affineMat(t)
	defer m.Close()

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpAffineWithParams(frame, &warped, m, size, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	if warped.Empty() {
		return gocv.Mat{}, fmt.Errorf("warp produced an empty image")
	}

	region := warped.Region(rect)
	defer region.Close()
	return region.Clone(), nil
}

func affineMat(t stabilize.Transform) gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r, row := range t.Matrix() {
		for col, v := range row {
			m.SetDoubleAt(r, col, v)
		}
	}
	return m
}

// CloseAll releases every Mat.
func CloseAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
