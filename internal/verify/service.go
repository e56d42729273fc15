// Package verify runs a verification request through its stages: the upload
// is stored in a private workspace, the video is reduced to a mouth clip,
// both transcripts are produced and compared, and the workspace is removed
// once the run reaches Responded or Failed.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lipcheck/lipcheck/internal/consistency"
	"github.com/lipcheck/lipcheck/internal/faults"
	"github.com/lipcheck/lipcheck/internal/logging"
	"github.com/lipcheck/lipcheck/internal/workspace"
)

// ErrUnavailable is returned when the models a request needs are not wired.
var ErrUnavailable = errors.New("verification backend not configured")

// Preprocessor produces the mouth ROI clip of a video.
type Preprocessor interface {
	Preprocess(ctx context.Context, videoPath, outPath string) (string, error)
}

type progressPreprocessor interface {
	PreprocessWithProgress(ctx context.Context, videoPath, outPath string, progress func(step string, done, total int)) (string, error)
}

// LipReader transcribes a mouth ROI clip.
type LipReader interface {
	ReadLips(ctx context.Context, clipPath string) (string, error)
}

// SpeechTranscriber transcribes the audio track of a video.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, videoPath string) (string, error)
}

// ImageClassifier labels a still image as real or fake with a confidence in [0, 1].
type ImageClassifier interface {
	ClassifyImage(ctx context.Context, imagePath string) (string, float64, error)
}

var (
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true}
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true}
)

const roiClipName = "roi.mp4"

// Config wires a Service. Image-only or video-only deployments leave the
// other collaborators nil.
type Config struct {
	Preprocessor Preprocessor
	Lips         LipReader
	Speech       SpeechTranscriber
	Images       ImageClassifier
	Workspaces   *workspace.Manager
	Observer     Observer
	Logger       *slog.Logger
}

// Service verifies uploads. It is safe for concurrent use; each call owns
// its own workspace.
type Service struct {
	cfg Config
}

// New returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Workspaces == nil {
		return nil, errors.New("verify: workspace manager is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = Observers(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{cfg: cfg}, nil
}

// VideoAvailable reports whether video verification is wired.
func (s *Service) VideoAvailable() bool {
	return s.cfg.Preprocessor != nil && s.cfg.Lips != nil && s.cfg.Speech != nil
}

// ImageAvailable reports whether image verification is wired.
func (s *Service) ImageAvailable() bool {
	return s.cfg.Images != nil
}

// VideoResult is the outcome of a video verification.
type VideoResult struct {
	RunID          string
	Result         consistency.Result
	LipReadingText string
	SpeechText     string
	Duration       time.Duration
}

// ImageResult is the outcome of an image verification. Score is the
// classifier confidence in [0, 1].
type ImageResult struct {
	RunID    string
	Label    string
	Score    float64
	Duration time.Duration
}

// FormattedScore renders the confidence as a percentage with two decimals.
func (r ImageResult) FormattedScore() string {
	return fmt.Sprintf("%.2f", r.Score*100)
}

// Option customises one verification call.
type Option func(*options)

type options struct {
	progress func(step string, done, total int)
}

// WithProgress reports preprocessing progress when the preprocessor supports it.
func WithProgress(fn func(step string, done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// VerifyVideo stores the uploaded video, runs the full pipeline and returns
// the verdict. Any failure is returned as a *Failure; no partial result is
// produced.
func (s *Service) VerifyVideo(ctx context.Context, upload io.Reader, filename string, opts ...Option) (*VideoResult, error) {
	if !s.VideoAvailable() {
		return nil, ErrUnavailable
	}
	o := collect(opts)

	r, err := s.begin(KindVideo)
	if err != nil {
		return nil, err
	}

	videoPath, err := r.ws.Save(workspace.UploadName("upload", filename, videoExts, ".mp4"), upload)
	if err != nil {
		return nil, r.fail(faults.New(faults.KindInvalidInput, "store upload", err))
	}

	if err := r.move(StatePreprocessing); err != nil {
		return nil, r.fail(err)
	}
	clipPath, err := s.preprocess(ctx, videoPath, r.ws.Path(roiClipName), o)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.move(StateLipReading); err != nil {
		return nil, r.fail(err)
	}
	lipText, err := s.cfg.Lips.ReadLips(ctx, clipPath)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.move(StateSpeechToText); err != nil {
		return nil, r.fail(err)
	}
	speechText, err := s.cfg.Speech.Transcribe(ctx, videoPath)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.move(StateClassifying); err != nil {
		return nil, r.fail(err)
	}
	verdict := consistency.Classify(lipText, speechText)

	if err := r.move(StateResponded); err != nil {
		return nil, r.fail(err)
	}
	r.logger.Info("video verified",
		"label", verdict.Label,
		"score", verdict.FormattedScore(),
		"duration_ms", time.Since(r.start).Milliseconds(),
	)
	return &VideoResult{
		RunID:          r.id,
		Result:         verdict,
		LipReadingText: lipText,
		SpeechText:     speechText,
		Duration:       time.Since(r.start),
	}, nil
}

// VerifyVideoFile runs VerifyVideo on a file already on disk. The file is
// copied into the run's workspace and left untouched.
func (s *Service) VerifyVideoFile(ctx context.Context, path string, opts ...Option) (*VideoResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.New(faults.KindInvalidInput, "open video", err)
	}
	defer f.Close()
	return s.VerifyVideo(ctx, f, filepath.Base(path), opts...)
}

// VerifyImage stores the uploaded image and runs the image classifier on it.
func (s *Service) VerifyImage(ctx context.Context, upload io.Reader, filename string) (*ImageResult, error) {
	if !s.ImageAvailable() {
		return nil, ErrUnavailable
	}

	r, err := s.begin(KindImage)
	if err != nil {
		return nil, err
	}

	imagePath, err := r.ws.Save(workspace.UploadName("upload", filename, imageExts, ".jpg"), upload)
	if err != nil {
		return nil, r.fail(faults.New(faults.KindInvalidInput, "store upload", err))
	}

	if err := r.move(StateClassifying); err != nil {
		return nil, r.fail(err)
	}
	label, score, err := s.cfg.Images.ClassifyImage(ctx, imagePath)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.move(StateResponded); err != nil {
		return nil, r.fail(err)
	}
	r.logger.Info("image verified", "label", label, "duration_ms", time.Since(r.start).Milliseconds())
	return &ImageResult{RunID: r.id, Label: label, Score: score, Duration: time.Since(r.start)}, nil
}

// VerifyImageFile runs VerifyImage on a file already on disk.
func (s *Service) VerifyImageFile(ctx context.Context, path string) (*ImageResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.New(faults.KindInvalidInput, "open image", err)
	}
	defer f.Close()
	return s.VerifyImage(ctx, f, filepath.Base(path))
}

func (s *Service) preprocess(ctx context.Context, videoPath, outPath string, o options) (string, error) {
	if pp, ok := s.cfg.Preprocessor.(progressPreprocessor); ok && o.progress != nil {
		return pp.PreprocessWithProgress(ctx, videoPath, outPath, o.progress)
	}
	return s.cfg.Preprocessor.Preprocess(ctx, videoPath, outPath)
}

func (s *Service) begin(kind Kind) (*run, error) {
	ws, err := s.cfg.Workspaces.New()
	if err != nil {
		return nil, &Failure{Stage: StateReceived, Kind: faults.KindInternal, Message: err.Error(), Err: err}
	}
	r := &run{
		id:     ws.ID,
		kind:   kind,
		start:  time.Now(),
		ws:     ws,
		obs:    s.cfg.Observer,
		logger: logging.WithRunID(s.cfg.Logger, ws.ID),
	}
	r.emit("", StateReceived, nil)
	return r, nil
}

// run tracks one verification. It is confined to the calling goroutine.
type run struct {
	id     string
	kind   Kind
	state  State
	start  time.Time
	ws     *workspace.Workspace
	obs    Observer
	logger *slog.Logger
}

func (r *run) move(to State) error {
	if !CanTransition(r.kind, r.state, to) {
		return faults.Newf(faults.KindInternal, "advance run", "%s -> %s not allowed", r.state, to)
	}
	from := r.state
	if to.Terminal() {
		r.release()
	}
	r.emit(from, to, nil)
	return nil
}

func (r *run) fail(err error) *Failure {
	f := newFailure(r.id, r.state, err)
	if r.state.Terminal() {
		return f
	}
	from := r.state
	r.release()
	r.logger.Warn("verification failed",
		"stage", from,
		"kind", f.Kind,
		"error", f.Message,
		"duration_ms", time.Since(r.start).Milliseconds(),
	)
	r.emit(from, StateFailed, f)
	return f
}

func (r *run) emit(from, to State, f *Failure) {
	r.state = to
	r.logger.Debug("run state", "from", from, "to", to)
	r.obs.Transition(Event{
		RunID:   r.id,
		Kind:    r.kind,
		From:    from,
		To:      to,
		At:      time.Now(),
		Elapsed: time.Since(r.start),
		Failure: f,
	})
}

func (r *run) release() {
	if first, err := r.ws.Release(); first && err != nil {
		r.logger.Warn("cannot remove workspace", "error", err)
	}
}
