package stabilize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbinet/npyio"

	"github.com/lipcheck/lipcheck/internal/landmarks"
)

// Template is the mean-face reference: 68 points in the standardized
// output frame. It is loaded once and shared read-only.
type Template landmarks.Shape

// LoadTemplate reads a mean-face template from a (68, 2) .npy array or from a
// JSON array of [x, y] pairs.
func LoadTemplate(path string) (*Template, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return loadNpy(path)
	case ".json":
		return loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported mean face format %q", filepath.Ext(path))
	}
}

func loadNpy(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mean face: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read mean face header: %w", err)
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 || shape[0] != landmarks.NumPoints || shape[1] != 2 {
		return nil, fmt.Errorf("mean face has shape %v, want [%d 2]", shape, landmarks.NumPoints)
	}
	if r.Header.Descr.Fortran {
		return nil, fmt.Errorf("mean face must be C-ordered")
	}

	var data []float64
	if err := r.Read(&data); err != nil {
		return nil, fmt.Errorf("read mean face data: %w", err)
	}
	return fromFlat(data)
}

func loadJSON(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open mean face: %w", err)
	}
	var pts [][2]float64
	if err := json.Unmarshal(data, &pts); err != nil {
		return nil, fmt.Errorf("parse mean face: %w", err)
	}
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p[0], p[1])
	}
	return fromFlat(flat)
}

func fromFlat(data []float64) (*Template, error) {
	if len(data) != landmarks.NumPoints*2 {
		return nil, fmt.Errorf("mean face has %d values, want %d", len(data), landmarks.NumPoints*2)
	}
	var t Template
	for i := range t {
		t[i] = landmarks.Point{X: data[2*i], Y: data[2*i+1]}
	}
	return &t, nil
}

// Points returns the template points at the given indices.
func (t *Template) Points(ids []int) []landmarks.Point {
	out := make([]landmarks.Point, len(ids))
	for i, id := range ids {
		out[i] = t[id]
	}
	return out
}
