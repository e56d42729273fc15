package stabilize

import (
	"fmt"

	"github.com/lipcheck/lipcheck/internal/landmarks"
)

// DefaultAnchors are the landmarks that barely move while speaking:
// the nose base and the four eye corners.
var DefaultAnchors = []int{33, 36, 39, 42, 45}

// DefaultWindowMargin is the number of frames averaged per transform.
const DefaultWindowMargin = 12

// Stabilizer turns a stable landmark sequence into one transform per frame.
type Stabilizer struct {
	Template     *Template
	Anchors      []int
	WindowMargin int
}

// New returns a Stabilizer with the default anchors and window.
func New(tmpl *Template) *Stabilizer {
	return &Stabilizer{Template: tmpl, Anchors: DefaultAnchors, WindowMargin: DefaultWindowMargin}
}

// Transforms returns transforms[i] for frame i. The window is
// min(len(seq), WindowMargin) frames wide: frame f is mapped with the fit of
// the mean anchors over frames [f, f+window). Frames too close to the end to
// fill a window reuse the last full window's transform.
func (s *Stabilizer) Transforms(seq landmarks.StableSequence) ([]Transform, error) {
	n := len(seq)
	if n == 0 {
		return nil, nil
	}
	if s.Template == nil {
		return nil, fmt.Errorf("stabilizer has no mean face template")
	}
	margin := s.WindowMargin
	if margin <= 0 {
		margin = DefaultWindowMargin
	}
	if margin > n {
		margin = n
	}

	dst := s.Template.Points(s.Anchors)
	out := make([]Transform, n)

	src := make([]landmarks.Point, len(s.Anchors))
	last := n - margin
	for f := 0; f <= last; f++ {
		for i, id := range s.Anchors {
			var sx, sy float64
			for k := f; k < f+margin; k++ {
				sx += seq[k][id].X
				sy += seq[k][id].Y
			}
			src[i] = landmarks.Point{X: sx / float64(margin), Y: sy / float64(margin)}
		}
		t, err := Estimate(src, dst)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", f, err)
		}
		out[f] = t
	}
	for f := last + 1; f < n; f++ {
		out[f] = out[last]
	}
	return out, nil
}
