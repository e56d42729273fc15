package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Runner executes Python model commands as subprocesses.
type Runner interface {
	// RunDoctor executes `python -m <module> doctor --json --out <path>` and
	// returns parsed capabilities.
	RunDoctor(ctx context.Context) (*Capabilities, error)

	// RunLipRead runs the visual speech recognition model on a mouth ROI clip.
	RunLipRead(ctx context.Context, clipPath, outPath string) (RunResult, error)

	// RunTranscribe runs speech-to-text on the audio track of a video.
	RunTranscribe(ctx context.Context, videoPath, outPath string) (RunResult, error)

	// RunClassifyImage runs the deepfake image classifier.
	RunClassifyImage(ctx context.Context, imagePath, outPath string) (RunResult, error)
}

// Config holds the runner's configuration.
type Config struct {
	PythonPath     string        // path to python binary; empty = auto-detect
	ModuleName     string        // default "lipcheck_models"
	ArtifactsBase  string        // base dir for doctor output, e.g. ~/.lipcheck/artifacts
	LipCheckpoint  string        // AV-HuBERT fine-tuned checkpoint
	LipBeam        int           // beam width for lip-reading decoding
	WhisperModel   string        // whisper model size
	ImageModel     string        // image-classification model id
	DoctorTimeout  time.Duration // timeout for doctor command
	LipReadTimeout time.Duration // timeout for lip reading
	SpeechTimeout  time.Duration // timeout for speech-to-text
	ImageTimeout   time.Duration // timeout for image classification
	Logger         *slog.Logger
	DebugPaths     bool          // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(dataDir string, logger *slog.Logger) Config {
	return Config{
		PythonPath:     "", // auto-detect
		ModuleName:     "lipcheck_models",
		ArtifactsBase:  filepath.Join(dataDir, "artifacts"),
		LipCheckpoint:  filepath.Join(dataDir, "models", "finetune-model.pt"),
		LipBeam:        20,
		WhisperModel:   "medium",
		ImageModel:     "dima806/deepfake_vs_real_image_detection",
		DoctorTimeout:  30 * time.Second,
		LipReadTimeout: 10 * time.Minute,
		SpeechTimeout:  30 * time.Minute,
		ImageTimeout:   2 * time.Minute,
		Logger:         logger,
		DebugPaths:     false,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg    Config
	python string // resolved python path
}

// NewRunner creates a SubprocessRunner, resolving the Python binary path.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	if err := os.MkdirAll(cfg.ArtifactsBase, 0755); err != nil {
		return nil, fmt.Errorf("cannot create artifacts dir: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cfg.Logger.Info("model runner initialised",
		"python", python,
		"module", cfg.ModuleName,
		"artifacts_dir", cfg.ArtifactsBase,
	)

	return &SubprocessRunner{cfg: cfg, python: python}, nil
}

// Python returns the resolved interpreter, shared with the landmark workers.
func (r *SubprocessRunner) Python() string {
	return r.python
}

// RunDoctor probes the installed model environment.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(r.cfg.ArtifactsBase, ".doctor.json")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	result := r.exec(ctx, outPath, "doctor", "--json",
		"--checkpoint", r.cfg.LipCheckpoint,
		"--out", outPath,
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, result.StderrTail)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}

	caps, err := parseCapabilities(data)
	if err != nil {
		return nil, err
	}

	r.cfg.Logger.Info("doctor probe complete",
		"lip_reading", caps.HasLipReading,
		"speech", caps.HasSpeech,
		"image", caps.HasImage,
		"landmarks", caps.HasLandmarks,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)

	return caps, nil
}

func parseCapabilities(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	caps.HasLipReading = isAvailable(caps.Dependencies, "fairseq") &&
		isAvailable(caps.Dependencies, "avhubert") &&
		isAvailable(caps.Checkpoints, "lip_reading")
	caps.HasSpeech = isAvailable(caps.Dependencies, "whisper") &&
		isAvailable(caps.Executables, "ffmpeg")
	caps.HasImage = isAvailable(caps.Dependencies, "transformers")
	caps.HasLandmarks = isAvailable(caps.Dependencies, "dlib")
	caps.ProbedAt = time.Now()
	return &caps, nil
}

// RunLipRead runs the lip-reading CLI on a mouth ROI clip.
func (r *SubprocessRunner) RunLipRead(ctx context.Context, clipPath, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LipReadTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"lipread",
		"--video", clipPath,
		"--checkpoint", r.cfg.LipCheckpoint,
		"--beam", strconv.Itoa(r.cfg.LipBeam),
		"--out", outPath,
	)
	return result, ctx.Err()
}

// RunTranscribe runs the speech-to-text CLI.
func (r *SubprocessRunner) RunTranscribe(ctx context.Context, videoPath, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SpeechTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"transcribe",
		"--video", videoPath,
		"--model", r.cfg.WhisperModel,
		"--out", outPath,
	)
	return result, ctx.Err()
}

// RunClassifyImage runs the image classifier CLI.
func (r *SubprocessRunner) RunClassifyImage(ctx context.Context, imagePath, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ImageTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"classify-image",
		"--image", imagePath,
		"--model", r.cfg.ImageModel,
		"--out", outPath,
	)
	return result, ctx.Err()
}

// ReadOutput reads a model JSON output and checks its required metadata
// fields. The raw bytes are returned for model-specific decoding.
func ReadOutput(path string) ([]byte, *PipelineOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read output file %s: %w", filepath.Base(path), err)
	}
	meta, err := validateOutput(data)
	if err != nil {
		return nil, meta, err
	}
	return data, meta, nil
}

func validateOutput(data []byte) (*PipelineOutput, error) {
	var out PipelineOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse output JSON: %w", err)
	}

	if !out.RequiredFieldsPresent() {
		missing := []string{}
		if out.SchemaVersion == "" {
			missing = append(missing, "schema_version")
		}
		if out.PipelineVersion == "" {
			missing = append(missing, "pipeline_version")
		}
		if out.ModelVersion == "" {
			missing = append(missing, "model_version")
		}
		return &out, fmt.Errorf("model output missing required fields: %s", strings.Join(missing, ", "))
	}

	return &out, nil
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard // CLI writes to --out file, not stdout

	r.cfg.Logger.Info("executing model command",
		"command", args[0],
		"output", r.safePath(outPath),
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 && stderrTail == "" && err != nil {
		stderrTail = err.Error()
	}

	if exitCode != 0 {
		r.cfg.Logger.Warn("model command failed",
			"command", args[0],
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.cfg.Logger.Info("model command succeeded",
			"command", args[0],
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
