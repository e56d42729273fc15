// Package stabilize computes the per-frame similarity transforms that map a
// face onto the mean-face reference, smoothing landmark jitter over a sliding
// window of frames.
package stabilize

import (
	"errors"
	"math"

	"github.com/lipcheck/lipcheck/internal/landmarks"
)

// Transform is a 2D similarity: uniform scale, rotation and translation.
//
//	x' = A*x - B*y + Tx
//	y' = B*x + A*y + Ty
type Transform struct {
	A, B   float64
	Tx, Ty float64
}

// Identity leaves points unchanged.
var Identity = Transform{A: 1}

// Apply maps p through the transform.
func (t Transform) Apply(p landmarks.Point) landmarks.Point {
	return landmarks.Point{
		X: t.A*p.X - t.B*p.Y + t.Tx,
		Y: t.B*p.X + t.A*p.Y + t.Ty,
	}
}

// ApplyShape maps every point of s.
func (t Transform) ApplyShape(s landmarks.Shape) landmarks.Shape {
	var out landmarks.Shape
	for i, p := range s {
		out[i] = t.Apply(p)
	}
	return out
}

// Matrix returns the transform as a row-major 2x3 affine matrix.
func (t Transform) Matrix() [2][3]float64 {
	return [2][3]float64{
		{t.A, -t.B, t.Tx},
		{t.B, t.A, t.Ty},
	}
}

// Scale returns the uniform scale factor.
func (t Transform) Scale() float64 { return math.Hypot(t.A, t.B) }

// Rotation returns the rotation angle in radians.
func (t Transform) Rotation() float64 { return math.Atan2(t.B, t.A) }

var errDegenerate = errors.New("source points are degenerate")

// Estimate fits the least-squares similarity transform taking src onto dst
// (Umeyama's closed form restricted to proper rotations).
func Estimate(src, dst []landmarks.Point) (Transform, error) {
	if len(src) != len(dst) || len(src) < 2 {
		return Transform{}, errors.New("need at least two point pairs of equal length")
	}
	n := float64(len(src))

	var ms, md landmarks.Point
	for i := range src {
		ms.X += src[i].X
		ms.Y += src[i].Y
		md.X += dst[i].X
		md.Y += dst[i].Y
	}
	ms.X /= n
	ms.Y /= n
	md.X /= n
	md.Y /= n

	var variance, a, b float64
	for i := range src {
		sx, sy := src[i].X-ms.X, src[i].Y-ms.Y
		dx, dy := dst[i].X-md.X, dst[i].Y-md.Y
		variance += sx*sx + sy*sy
		a += sx*dx + sy*dy
		b += sx*dy - sy*dx
	}
	if variance < 1e-12 {
		return Transform{}, errDegenerate
	}
	a /= variance
	b /= variance

	return Transform{
		A:  a,
		B:  b,
		Tx: md.X - (a*ms.X - b*ms.Y),
		Ty: md.Y - (b*ms.X + a*ms.Y),
	}, nil
}
