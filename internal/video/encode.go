package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"gocv.io/x/gocv"
)

// DefaultFPS is the frame rate of encoded clips.
const DefaultFPS = 25

func encodeArgs(pattern, outPath string, fps int) []string {
	return ffmpeg.Input(pattern, ffmpeg.KwArgs{"framerate": fps, "start_number": 0}).
		Output(outPath, ffmpeg.KwArgs{
			"vcodec":  "libx264",
			"pix_fmt": "yuv420p",
			"crf":     20,
			"q:v":     1,
			"r":       fps,
		}).
		GlobalArgs("-hide_banner", "-loglevel", "error").
		OverWriteOutput().
		GetArgs()
}

// WriteClip encodes mats, in order, as an H.264 clip at fps. Frames are
// staged as lossless PNGs in a scratch directory next to outPath.
func WriteClip(ctx context.Context, mats []gocv.Mat, outPath string, fps int) error {
	if len(mats) == 0 {
		return fmt.Errorf("no frames to encode")
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("cannot create output dir: %w", err)
	}

	scratch, err := os.MkdirTemp(filepath.Dir(outPath), ".frames-")
	if err != nil {
		return fmt.Errorf("cannot create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	for i, m := range mats {
		name := filepath.Join(scratch, fmt.Sprintf("%05d.png", i))
		if !gocv.IMWrite(name, m) {
			return fmt.Errorf("failed to write frame %d", i)
		}
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", encodeArgs(filepath.Join(scratch, "%05d.png"), outPath, fps)...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg encode failed: %w: %s", err, stderr.String())
	}
	return nil
}
