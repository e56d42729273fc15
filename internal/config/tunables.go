package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Face detector backends.
const (
	DetectorDlib = "dlib"
	DetectorHaar = "haar"
)

// Preprocess holds the mouth ROI extraction parameters.
type Preprocess struct {
	WindowMargin  int     `toml:"window_margin"`
	StableAnchors []int   `toml:"stable_anchors"`
	StdSize       int     `toml:"std_size"`
	CropWidth     int     `toml:"crop_width"`
	CropHeight    int     `toml:"crop_height"`
	BiasThreshold float64 `toml:"bias_threshold"`
	FPS           int     `toml:"fps"`
}

// Landmarks selects how faces are found before dlib predicts the 68 points.
type Landmarks struct {
	Detector    string `toml:"detector"`
	HaarMinSize int    `toml:"haar_min_size"`
}

// Tunables is the optional TOML file named by LIPCHECK_CONFIG:
//
//	[preprocess]
//	window_margin = 12
//	crop_width = 96
//
//	[landmarks]
//	detector = "haar"
type Tunables struct {
	Preprocess Preprocess `toml:"preprocess"`
	Landmarks  Landmarks  `toml:"landmarks"`
}

// DefaultTunables returns the parameters the lip-reading model was trained with.
func DefaultTunables() Tunables {
	return Tunables{
		Preprocess: Preprocess{
			WindowMargin:  12,
			StableAnchors: []int{33, 36, 39, 42, 45},
			StdSize:       256,
			CropWidth:     96,
			CropHeight:    96,
			BiasThreshold: 5,
			FPS:           25,
		},
		Landmarks: Landmarks{
			Detector:    DetectorDlib,
			HaarMinSize: 60,
		},
	}
}

// LoadTunables decodes path over the defaults. An empty path or a missing
// file yields the defaults; the returned path is "" in both cases.
func LoadTunables(path string) (Tunables, string, error) {
	t := DefaultTunables()
	if path == "" {
		return t, "", nil
	}
	path = expandHome(path)

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return t, "", nil
		}
		return t, "", fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&t); err != nil {
		return t, "", fmt.Errorf("parse config: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, "", err
	}
	return t, path, nil
}

// Validate rejects parameters the pipeline cannot run with.
func (t Tunables) Validate() error {
	p := t.Preprocess
	switch {
	case p.WindowMargin < 1:
		return fmt.Errorf("preprocess.window_margin must be at least 1")
	case len(p.StableAnchors) < 2:
		return fmt.Errorf("preprocess.stable_anchors needs at least 2 points")
	case p.StdSize < 1:
		return fmt.Errorf("preprocess.std_size must be positive")
	case p.CropWidth < 2 || p.CropHeight < 2 || p.CropWidth%2 != 0 || p.CropHeight%2 != 0:
		return fmt.Errorf("preprocess.crop_width and crop_height must be even and positive")
	case p.CropWidth > p.StdSize || p.CropHeight > p.StdSize:
		return fmt.Errorf("preprocess crop %dx%d does not fit std_size %d", p.CropWidth, p.CropHeight, p.StdSize)
	case p.BiasThreshold < 0:
		return fmt.Errorf("preprocess.bias_threshold must not be negative")
	case p.FPS < 1:
		return fmt.Errorf("preprocess.fps must be positive")
	}
	for _, a := range p.StableAnchors {
		if a < 0 || a >= 68 {
			return fmt.Errorf("preprocess.stable_anchors: %d is not a landmark index", a)
		}
	}
	switch t.Landmarks.Detector {
	case DetectorDlib, DetectorHaar:
	default:
		return fmt.Errorf("landmarks.detector must be %q or %q", DetectorDlib, DetectorHaar)
	}
	return nil
}
