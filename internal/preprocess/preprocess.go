// Package preprocess turns a raw video into the stabilized mouth ROI clip
// consumed by the lip-reading model.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gocv.io/x/gocv"

	"github.com/lipcheck/lipcheck/internal/faults"
	"github.com/lipcheck/lipcheck/internal/landmarks"
	"github.com/lipcheck/lipcheck/internal/mouth"
	"github.com/lipcheck/lipcheck/internal/stabilize"
	"github.com/lipcheck/lipcheck/internal/video"
)

// Step names reported to a ProgressFunc.
const (
	StepDecode    = "decode"
	StepLandmarks = "landmarks"
	StepCrop      = "crop"
	StepEncode    = "encode"
)

// ProgressFunc receives per-step progress. total is 0 when unknown.
type ProgressFunc = func(step string, done, total int)

// DecodeFunc decodes every frame of a video.
type DecodeFunc func(ctx context.Context, path string, onFrame func(n int)) (video.Frames, error)

// ProbeFunc inspects a video before it is decoded.
type ProbeFunc func(path string) (*video.ProbeResult, error)

func probeVideo(path string) (*video.ProbeResult, error) {
	return video.Probe(path, video.DefaultProbeTimeout)
}

// Config wires a Preprocessor.
type Config struct {
	Backends   landmarks.Pool
	Stabilizer *stabilize.Stabilizer
	Cropper    *mouth.Cropper
	Encoder    mouth.Encoder
	Probe      ProbeFunc  // defaults to ffprobe
	Decode     DecodeFunc // defaults to video.Decode
	Logger     *slog.Logger
}

// Preprocessor runs the landmark, stabilization and crop stages.
// The mean-face template and landmark backends are shared across calls.
type Preprocessor struct {
	cfg Config
}

// New validates cfg and returns a Preprocessor.
func New(cfg Config) (*Preprocessor, error) {
	if cfg.Backends == nil {
		return nil, errors.New("preprocess: landmark backends are required")
	}
	if cfg.Stabilizer == nil || cfg.Stabilizer.Template == nil {
		return nil, errors.New("preprocess: stabilizer with mean face template is required")
	}
	if cfg.Cropper == nil {
		cfg.Cropper = mouth.NewCropper()
	}
	if cfg.Encoder == nil {
		cfg.Encoder = mouth.FFmpegEncoder{FPS: video.DefaultFPS}
	}
	if cfg.Probe == nil {
		cfg.Probe = probeVideo
	}
	if cfg.Decode == nil {
		cfg.Decode = video.Decode
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Preprocessor{cfg: cfg}, nil
}

// Preprocess writes the mouth ROI clip of videoPath to outPath and returns
// outPath. On failure no clip is left behind.
func (p *Preprocessor) Preprocess(ctx context.Context, videoPath, outPath string) (string, error) {
	return p.PreprocessWithProgress(ctx, videoPath, outPath, nil)
}

// PreprocessWithProgress is Preprocess with progress reporting.
func (p *Preprocessor) PreprocessWithProgress(ctx context.Context, videoPath, outPath string, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	start := time.Now()

	info, err := p.cfg.Probe(videoPath)
	if err != nil {
		if errors.Is(err, video.ErrNoVideoStream) {
			return "", faults.New(faults.KindZeroFrameInput, "probe video", err)
		}
		return "", faults.New(faults.KindInvalidInput, "probe video", err)
	}
	estimate := info.EstimatedFrames()

	decoded := 0
	frames, err := p.cfg.Decode(ctx, videoPath, func(n int) {
		decoded = n
		progress(StepDecode, n, estimate)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if decoded == 0 {
			return "", faults.New(faults.KindZeroFrameInput, "decode video", err)
		}
		return "", faults.New(faults.KindInvalidInput, "decode video", err)
	}
	defer frames.Close()

	if len(frames) == 0 {
		return "", faults.New(faults.KindZeroFrameInput, "decode video", nil)
	}
	p.cfg.Logger.Debug("video decoded",
		"frames", len(frames),
		"width", info.Width,
		"height", info.Height,
		"codec", info.Codec,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	seq, err := p.detectAll(ctx, frames, progress)
	if err != nil {
		return "", err
	}

	shapes, err := landmarks.Interpolate(seq)
	if err != nil {
		return "", err
	}
	p.cfg.Logger.Debug("landmarks interpolated", "frames", len(seq), "detected", seq.Valid())

	transforms, err := p.cfg.Stabilizer.Transforms(shapes)
	if err != nil {
		return "", faults.New(faults.KindLandmarkPrediction, "stabilize", err)
	}

	mats := make([]gocv.Mat, len(frames))
	for i := range frames {
		mats[i] = frames[i].Mat
	}
	rois, err := p.cfg.Cropper.Crop(mats, shapes, transforms)
	if err != nil {
		return "", err
	}
	defer mouth.CloseAll(rois)
	progress(StepCrop, len(rois), len(rois))

	if err := p.cfg.Encoder.Encode(ctx, rois, outPath); err != nil {
		os.Remove(outPath)
		if !errors.Is(err, faults.ErrEncoding) {
			err = faults.New(faults.KindEncoding, "encode roi clip", err)
		}
		return "", err
	}
	progress(StepEncode, 1, 1)

	p.cfg.Logger.Info("mouth roi clip written",
		"frames", len(rois),
		"detected", seq.Valid(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outPath, nil
}

func (p *Preprocessor) detectAll(ctx context.Context, frames video.Frames, progress ProgressFunc) (landmarks.Sequence, error) {
	backend, err := p.cfg.Backends.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.New(faults.KindLandmarkPrediction, "acquire landmark backend", err)
	}
	defer p.cfg.Backends.Release(backend)

	seq := make(landmarks.Sequence, len(frames))
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set, err := landmarks.Detect(ctx, frame, backend, backend)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		seq[i] = set
		progress(StepLandmarks, i+1, len(frames))
	}
	return seq, nil
}
