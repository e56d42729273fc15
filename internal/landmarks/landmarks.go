// Package landmarks detects 68-point facial landmarks per frame and fills
// the frames where detection failed.
package landmarks

import (
	"context"
	"fmt"
	"image"

	"github.com/lipcheck/lipcheck/internal/faults"
)

// NumPoints is the size of the iBUG 68-point layout produced by the predictor.
const NumPoints = 68

// Mouth landmarks occupy indices [MouthStart, MouthStop).
const (
	MouthStart = 48
	MouthStop  = 68
)

// Set holds the 68 integer landmark points of one frame. A nil Set means
// no face was found in that frame.
type Set []image.Point

// Sequence holds one Set per frame in frame order.
type Sequence []Set

// Point is a sub-pixel landmark position.
type Point struct {
	X, Y float64
}

// Shape is a fully populated set of sub-pixel landmarks.
type Shape [NumPoints]Point

// StableSequence has a Shape for every frame; no frame is missing.
type StableSequence []Shape

// GrayFrame is a decoded frame that can produce its single-channel version.
type GrayFrame interface {
	Gray() (*image.Gray, error)
}

// FaceDetector locates face regions in a grayscale frame.
type FaceDetector interface {
	DetectFaces(ctx context.Context, gray *image.Gray) ([]image.Rectangle, error)
}

// Predictor predicts landmark points for one face region.
type Predictor interface {
	PredictLandmarks(ctx context.Context, gray *image.Gray, face image.Rectangle) ([]image.Point, error)
}

// Backend is a detector and predictor pair bound to the same frame state.
type Backend interface {
	FaceDetector
	Predictor
}

// Detect returns the landmarks of one frame. When several faces are found
// every region is predicted in detection order and the last one is kept.
// A frame with no faces yields a nil Set and a nil error.
func Detect(ctx context.Context, frame GrayFrame, det FaceDetector, pred Predictor) (Set, error) {
	gray, err := frame.Gray()
	if err != nil {
		return nil, faults.New(faults.KindLandmarkPrediction, "grayscale", err)
	}

	faces, err := det.DetectFaces(ctx, gray)
	if err != nil {
		return nil, faults.New(faults.KindLandmarkPrediction, "detect faces", err)
	}

	var coords Set
	for _, face := range faces {
		pts, err := pred.PredictLandmarks(ctx, gray, face)
		if err != nil {
			return nil, faults.New(faults.KindLandmarkPrediction, "predict landmarks", err)
		}
		if len(pts) != NumPoints {
			return nil, faults.Newf(faults.KindLandmarkPrediction, "predict landmarks",
				"predictor returned %d points, want %d", len(pts), NumPoints)
		}
		coords = Set(pts)
	}
	return coords, nil
}

// Valid reports how many frames of the sequence carry landmarks.
func (s Sequence) Valid() int {
	n := 0
	for _, set := range s {
		if set != nil {
			n++
		}
	}
	return n
}

// Interpolate fills missing frames. Gaps between two detected frames are
// filled by linear blending per coordinate; frames before the first or after
// the last detection copy the nearest detected frame.
func Interpolate(seq Sequence) (StableSequence, error) {
	if len(seq) == 0 {
		return nil, faults.New(faults.KindZeroFrameInput, "interpolate", nil)
	}

	valid := make([]int, 0, len(seq))
	for i, set := range seq {
		if set == nil {
			continue
		}
		if len(set) != NumPoints {
			return nil, faults.Newf(faults.KindLandmarkPrediction, "interpolate",
				"frame %d has %d points, want %d", i, len(set), NumPoints)
		}
		valid = append(valid, i)
	}
	if len(valid) == 0 {
		return nil, faults.Newf(faults.KindNoFaceDetected, "interpolate",
			"no face detected in any of %d frames", len(seq))
	}

	out := make(StableSequence, len(seq))
	for _, i := range valid {
		out[i] = toShape(seq[i])
	}

	for k := 1; k < len(valid); k++ {
		start, end := valid[k-1], valid[k]
		if end-start <= 1 {
			continue
		}
		a, b := out[start], out[end]
		span := float64(end - start)
		for idx := start + 1; idx < end; idx++ {
			t := float64(idx-start) / span
			var s Shape
			for p := range s {
				s[p] = Point{
					X: a[p].X + t*(b[p].X-a[p].X),
					Y: a[p].Y + t*(b[p].Y-a[p].Y),
				}
			}
			out[idx] = s
		}
	}

	first, last := valid[0], valid[len(valid)-1]
	for idx := 0; idx < first; idx++ {
		out[idx] = out[first]
	}
	for idx := last + 1; idx < len(out); idx++ {
		out[idx] = out[last]
	}

	return out, nil
}

func toShape(set Set) Shape {
	var s Shape
	for i, p := range set {
		s[i] = Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return s
}

// Mean returns the centroid of the points at indices [from, to).
func (s Shape) Mean(from, to int) Point {
	if from < 0 || to > NumPoints || from >= to {
		panic(fmt.Sprintf("landmarks: invalid range [%d, %d)", from, to))
	}
	var sx, sy float64
	for _, p := range s[from:to] {
		sx += p.X
		sy += p.Y
	}
	n := float64(to - from)
	return Point{X: sx / n, Y: sy / n}
}
