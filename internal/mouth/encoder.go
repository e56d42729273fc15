package mouth

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/lipcheck/lipcheck/internal/faults"
	"github.com/lipcheck/lipcheck/internal/video"
)

// Encoder writes mouth patches to a video clip.
type Encoder interface {
	Encode(ctx context.Context, rois []gocv.Mat, outPath string) error
}

// FFmpegEncoder encodes clips through the ffmpeg binary.
type FFmpegEncoder struct {
	FPS int
}

// Encode writes rois to outPath at the configured frame rate.
func (e FFmpegEncoder) Encode(ctx context.Context, rois []gocv.Mat, outPath string) error {
	fps := e.FPS
	if fps <= 0 {
		fps = video.DefaultFPS
	}
	if err := video.WriteClip(ctx, rois, outPath, fps); err != nil {
		return faults.New(faults.KindEncoding, "encode roi clip", err)
	}
	return nil
}
