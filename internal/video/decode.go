package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"gocv.io/x/gocv"
)

const (
	megabyte       = 1024 * 1024
	maxStderrBytes = 8 * 1024
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Frame is one decoded BGR frame.
type Frame struct {
	Index int
	Mat   gocv.Mat
}

// Gray returns the single-channel version of the frame.
func (f Frame) Gray() (*image.Gray, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(f.Mat, &gray, gocv.ColorBGRToGray)

	img, err := gray.ToImage()
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", f.Index, err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("frame %d: unexpected image type %T", f.Index, img)
	}
	return g, nil
}

// Frames is an ordered set of decoded frames owning their Mats.
type Frames []Frame

// Close releases every frame.
func (fs Frames) Close() {
	for i := range fs {
		fs[i].Mat.Close()
	}
}

// SplitJpeg is a bufio.SplitFunc yielding complete JPEG images from an
// MJPEG byte stream.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

func decodeArgs(path string) []string {
	return ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{"format": "image2pipe", "vcodec": "mjpeg", "q:v": 2}).
		GlobalArgs("-hide_banner", "-loglevel", "error").
		GetArgs()
}

// Decode reads every frame of path in order. onFrame, when non-nil, is
// called after each decoded frame with the running count.
func Decode(ctx context.Context, path string, onFrame func(n int)) (Frames, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", decodeArgs(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frames, scanErr := readFrames(stdout, onFrame)
	if scanErr != nil {
		// unblock ffmpeg so Wait can return
		io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if scanErr != nil {
		frames.Close()
		return nil, scanErr
	}
	if waitErr != nil {
		frames.Close()
		return nil, fmt.Errorf("ffmpeg decode failed: %w: %s", waitErr, stderr.String())
	}
	return frames, nil
}

func readFrames(r io.Reader, onFrame func(n int)) (Frames, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)

	var frames Frames
	for scanner.Scan() {
		mat, err := gocv.IMDecode(scanner.Bytes(), gocv.IMReadColor)
		if err != nil {
			frames.Close()
			return nil, fmt.Errorf("failed to decode frame %d: %w", len(frames), err)
		}
		if mat.Empty() {
			mat.Close()
			frames.Close()
			return nil, fmt.Errorf("failed to decode frame %d: empty image", len(frames))
		}
		frames = append(frames, Frame{Index: len(frames), Mat: mat})
		if onFrame != nil {
			onFrame(len(frames))
		}
	}
	if err := scanner.Err(); err != nil {
		frames.Close()
		return nil, fmt.Errorf("frame scanner failed: %w", err)
	}
	return frames, nil
}

// limitedWriter keeps only the last limit bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
