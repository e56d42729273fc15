package dlibworker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Config describes how to launch a worker process.
type Config struct {
	Python        string // resolved python binary
	Module        string // python module exposing the "landmarks" worker
	PredictorPath string // shape_predictor_68_face_landmarks.dat
	Logger        *slog.Logger
}

// Worker is one running Python landmark process. It implements
// landmarks.Backend. Calls are serialised; a Worker is not shared between
// concurrent videos (see Pool).
type Worker struct {
	ID int

	mu     sync.Mutex
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	stdin  io.WriteCloser
	data   io.ReadCloser
	loaded *image.Gray
	closed bool
	broken bool
	logger *slog.Logger
}

// Start launches a worker process.
func Start(id int, cfg Config) (*Worker, error) {
	cmd := exec.Command(cfg.Python, "-u", "-m", cfg.Module, "landmarks",
		"--predictor", cfg.PredictorPath)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("landmark worker %d failed to start: %w", id, err)
	}
	w.Close()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("landmark worker started", "worker", id, "pid", cmd.Process.Pid)

	return newWorker(id, cmd, stderr, stdin, r, logger), nil
}

func newWorker(id int, cmd *exec.Cmd, stderr *bytes.Buffer, stdin io.WriteCloser, data io.ReadCloser, logger *slog.Logger) *Worker {
	if stderr == nil {
		stderr = &bytes.Buffer{}
	}
	return &Worker{ID: id, cmd: cmd, stderr: stderr, stdin: stdin, data: data, logger: logger}
}

func (w *Worker) communicate(payload []byte) (*response, error) {
	if err := writeFrame(w.stdin, payload); err != nil {
		return nil, w.crashed(err)
	}
	body, err := readFrame(w.data)
	if err != nil {
		return nil, w.crashed(err)
	}
	return decodeResponse(body)
}

// crashed marks the worker unusable. Once a write or a framed read fails
// the child is gone or the stream is out of sync.
func (w *Worker) crashed(err error) error {
	w.broken = true
	w.loaded = nil
	if w.stderr.Len() > 0 {
		return fmt.Errorf("landmark worker %d: %w (stderr: %s)", w.ID, err, tail(w.stderr.String(), 512))
	}
	return fmt.Errorf("landmark worker %d: %w", w.ID, err)
}

func (w *Worker) ensureLoaded(gray *image.Gray) error {
	if w.loaded == gray {
		return nil
	}
	if _, err := w.communicate(encodeLoad(gray)); err != nil {
		w.loaded = nil
		return err
	}
	w.loaded = gray
	return nil
}

// DetectFaces runs dlib's HOG detector with one upsampling pass.
func (w *Worker) DetectFaces(ctx context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureLoaded(gray); err != nil {
		return nil, err
	}
	resp, err := w.communicate([]byte{opDetect})
	if err != nil {
		return nil, err
	}
	faces := make([]image.Rectangle, len(resp.Faces))
	for i, f := range resp.Faces {
		faces[i] = image.Rect(f[0], f[1], f[2], f[3])
	}
	return faces, nil
}

// PredictLandmarks runs the shape predictor inside face.
func (w *Worker) PredictLandmarks(ctx context.Context, gray *image.Gray, face image.Rectangle) ([]image.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureLoaded(gray); err != nil {
		return nil, err
	}
	resp, err := w.communicate(encodePredict(face))
	if err != nil {
		return nil, err
	}
	pts := make([]image.Point, len(resp.Points))
	for i, p := range resp.Points {
		pts[i] = image.Pt(p[0], p[1])
	}
	return pts, nil
}

// Broken reports whether the worker's process or stream has failed.
func (w *Worker) Broken() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broken || w.closed
}

// Close stops the worker and waits for it to exit.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.stdin.Close()
	w.data.Close()
	w.loaded = nil
	if w.cmd == nil {
		return nil
	}
	err := w.cmd.Wait()
	w.logger.Info("landmark worker stopped", "worker", w.ID)
	return err
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
