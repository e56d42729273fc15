package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lipcheck/lipcheck/internal/config"
	"github.com/lipcheck/lipcheck/internal/db"
	"github.com/lipcheck/lipcheck/internal/landmarks"
	"github.com/lipcheck/lipcheck/internal/landmarks/dlibworker"
	"github.com/lipcheck/lipcheck/internal/landmarks/haar"
	"github.com/lipcheck/lipcheck/internal/logging"
	"github.com/lipcheck/lipcheck/internal/mouth"
	"github.com/lipcheck/lipcheck/internal/pipelines"
	"github.com/lipcheck/lipcheck/internal/preprocess"
	"github.com/lipcheck/lipcheck/internal/runs"
	"github.com/lipcheck/lipcheck/internal/stabilize"
	"github.com/lipcheck/lipcheck/internal/verify"
	"github.com/lipcheck/lipcheck/internal/workspace"
)

const pruneInterval = 24 * time.Hour

// app holds the long-lived components shared by serve, verify and image.
type app struct {
	cfg      *config.EnvConfig
	logger   *slog.Logger
	database *db.DB
	runs     *runs.SQLiteRepository
	runner   *pipelines.SubprocessRunner
	doctor   *pipelines.Monitor
	verifier *verify.Service

	closers []func() error
}

func openApp(cfg *config.EnvConfig, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		database: database,
		runs:     runs.NewRepository(database.Conn()),
		closers:  []func() error{database.Close},
	}

	workspaces, err := workspace.NewManager(cfg.WorkDir())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	if n, err := workspaces.Sweep(); err != nil {
		logger.Warn("failed to sweep stale workspaces", "error", err)
	} else if n > 0 {
		logger.Info("removed stale workspaces", "count", n)
	}

	vcfg := verify.Config{
		Workspaces: workspaces,
		Observer:   runs.NewRecorder(a.runs, logger),
		Logger:     logger,
	}

	runner, err := pipelines.NewRunner(pipelineConfig(cfg, logger))
	if err != nil {
		logger.Warn("model runner unavailable, verification disabled", "error", err)
	} else {
		a.runner = runner
		a.doctor = pipelines.NewMonitor(runner, pipelines.DefaultProbeInterval, logging.WithComponent(logger, "doctor"))

		models := pipelines.NewModels(runner, logger)
		vcfg.Lips = models
		vcfg.Speech = models
		vcfg.Images = models

		pre, err := a.buildPreprocessor(runner.Python())
		if err != nil {
			logger.Warn("preprocessing unavailable, video verification disabled", "error", err)
		} else {
			vcfg.Preprocessor = pre
		}
	}

	a.verifier, err = verify.New(vcfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func pipelineConfig(cfg *config.EnvConfig, logger *slog.Logger) pipelines.Config {
	pipeCfg := pipelines.DefaultConfig(cfg.DataDir(), logger)
	pipeCfg.PythonPath = cfg.ModelsPython()
	pipeCfg.ModuleName = cfg.ModelsModule()
	pipeCfg.LipCheckpoint = cfg.LipCheckpointPath()
	pipeCfg.WhisperModel = cfg.WhisperModel()
	pipeCfg.ImageModel = cfg.ImageModel()
	pipeCfg.DoctorTimeout = cfg.ModelsTimeoutDoctor()
	pipeCfg.LipReadTimeout = cfg.ModelsTimeoutLipRead()
	pipeCfg.SpeechTimeout = cfg.ModelsTimeoutSpeech()
	pipeCfg.ImageTimeout = cfg.ModelsTimeoutImage()
	pipeCfg.DebugPaths = logging.ParseLevel(cfg.LogLevel()) == slog.LevelDebug
	return pipeCfg
}

// buildPreprocessor loads the mean face once and starts the landmark
// backends lazily on first use.
func (a *app) buildPreprocessor(python string) (*preprocess.Preprocessor, error) {
	tun := a.cfg.Tunables()

	tmpl, err := stabilize.LoadTemplate(a.cfg.MeanFacePath())
	if err != nil {
		return nil, fmt.Errorf("load mean face: %w", err)
	}
	stab := stabilize.New(tmpl)
	stab.Anchors = tun.Preprocess.StableAnchors
	stab.WindowMargin = tun.Preprocess.WindowMargin

	if _, err := os.Stat(a.cfg.FacePredictorPath()); err != nil {
		return nil, fmt.Errorf("face predictor: %w", err)
	}
	pool := dlibworker.NewPool(a.cfg.LandmarkWorkers(), dlibworker.Config{
		Python:        python,
		Module:        a.cfg.ModelsModule(),
		PredictorPath: a.cfg.FacePredictorPath(),
		Logger:        logging.WithComponent(a.logger, "landmarks"),
	})
	a.closers = append(a.closers, pool.Close)

	var backends landmarks.Pool = pool
	if tun.Landmarks.Detector == config.DetectorHaar {
		det, err := haar.New(a.cfg.HaarCascadePath(), tun.Landmarks.HaarMinSize)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, det.Close)
		backends = landmarks.Hybrid{Faces: det, Pool: pool}
	}

	return preprocess.New(preprocess.Config{
		Backends:   backends,
		Stabilizer: stab,
		Cropper: &mouth.Cropper{
			StdSize:       tun.Preprocess.StdSize,
			CropWidth:     tun.Preprocess.CropWidth,
			CropHeight:    tun.Preprocess.CropHeight,
			BiasThreshold: tun.Preprocess.BiasThreshold,
		},
		Encoder: mouth.FFmpegEncoder{FPS: tun.Preprocess.FPS},
		Logger:  logging.WithComponent(a.logger, "preprocess"),
	})
}

// probe runs the doctor once and logs the detected capabilities.
func (a *app) probe(ctx context.Context) *pipelines.Capabilities {
	if a.doctor == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ModelsTimeoutDoctor())
	defer cancel()

	caps, err := a.doctor.Probe(ctx)
	if err != nil {
		a.logger.Warn("initial doctor probe failed", "error", err)
		return nil
	}
	a.logger.Info("model capabilities detected",
		"lip_reading", caps.HasLipReading,
		"speech", caps.HasSpeech,
		"image", caps.HasImage,
		"landmarks", caps.HasLandmarks,
		"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
	)
	return caps
}

// pruneRuns deletes finished run records older than the retention window.
func (a *app) pruneRuns(ctx context.Context) {
	cutoff := time.Now().Add(-a.cfg.RunRetention())
	n, err := a.runs.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		a.logger.Warn("failed to prune run records", "error", err)
		return
	}
	if n > 0 {
		a.logger.Info("pruned run records", "count", n, "before", cutoff.Format(time.RFC3339))
	}
}

func (a *app) pruneLoop(ctx context.Context) {
	a.pruneRuns(ctx)
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pruneRuns(ctx)
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
