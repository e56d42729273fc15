package pipelines

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/lipcheck/lipcheck/internal/faults"
)

// Output file names, written next to the model input inside the request
// workspace so they are removed with it.
const (
	lipReadOutput    = "lipread.json"
	transcribeOutput = "transcript.json"
	imageOutput      = "image.json"
)

// Models adapts a Runner to the lip reader, speech transcriber and image
// classifier used by verification. Every failure is an external model fault.
type Models struct {
	runner Runner
	logger *slog.Logger
}

// NewModels wraps runner.
func NewModels(runner Runner, logger *slog.Logger) *Models {
	if logger == nil {
		logger = slog.Default()
	}
	return &Models{runner: runner, logger: logger}
}

// ReadLips returns the lip-reading transcript of a mouth ROI clip.
func (m *Models) ReadLips(ctx context.Context, clipPath string) (string, error) {
	out := sidecar(clipPath, lipReadOutput)
	res, err := m.runner.RunLipRead(ctx, clipPath, out)
	if err := check("lip reading", res, err); err != nil {
		return "", err
	}
	return m.readText("lip reading", out)
}

// Transcribe returns the speech-to-text transcript of a video's audio track.
func (m *Models) Transcribe(ctx context.Context, videoPath string) (string, error) {
	out := sidecar(videoPath, transcribeOutput)
	res, err := m.runner.RunTranscribe(ctx, videoPath, out)
	if err := check("speech to text", res, err); err != nil {
		return "", err
	}
	return m.readText("speech to text", out)
}

// ClassifyImage returns the classifier's top label and its confidence in [0, 1].
func (m *Models) ClassifyImage(ctx context.Context, imagePath string) (string, float64, error) {
	const op = "image classification"
	out := sidecar(imagePath, imageOutput)
	res, err := m.runner.RunClassifyImage(ctx, imagePath, out)
	if err := check(op, res, err); err != nil {
		return "", 0, err
	}

	data, err := m.readOutput(op, out)
	if err != nil {
		return "", 0, err
	}
	var img ImageOutput
	if err := json.Unmarshal(data, &img); err != nil {
		return "", 0, faults.New(faults.KindExternalModel, op, err)
	}
	if img.Label == "" {
		return "", 0, faults.Newf(faults.KindExternalModel, op, "output has no label")
	}
	if img.Score < 0 || img.Score > 1 {
		return "", 0, faults.Newf(faults.KindExternalModel, op, "score %v outside [0, 1]", img.Score)
	}
	m.logger.Debug("image classified", "label", img.Label, "model_version", img.ModelVersion)
	return img.Label, img.Score, nil
}

func (m *Models) readText(op, path string) (string, error) {
	data, err := m.readOutput(op, path)
	if err != nil {
		return "", err
	}
	var text TextOutput
	if err := json.Unmarshal(data, &text); err != nil {
		return "", faults.New(faults.KindExternalModel, op, err)
	}
	m.logger.Debug("transcript read", "op", op, "chars", len(text.Text), "model_version", text.ModelVersion)
	return text.Text, nil
}

func (m *Models) readOutput(op, path string) ([]byte, error) {
	data, meta, err := ReadOutput(path)
	if err != nil {
		return nil, faults.New(faults.KindExternalModel, op, err)
	}
	m.logger.Debug("model output read", "op", op, "schema_version", meta.SchemaVersion, "pipeline_version", meta.PipelineVersion)
	return data, nil
}

func check(op string, res RunResult, err error) error {
	if err != nil {
		return faults.New(faults.KindExternalModel, op, err)
	}
	if !res.IsSuccess() {
		tail := strings.TrimSpace(truncate(res.StderrTail, 512))
		return faults.Newf(faults.KindExternalModel, op, "exited %d: %s", res.ExitCode, tail)
	}
	return nil
}

func sidecar(input, name string) string {
	return filepath.Join(filepath.Dir(input), name)
}
