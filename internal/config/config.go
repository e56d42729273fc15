// Package config provides configuration management for lipcheck.
// Configuration is loaded from environment variables (optionally seeded from
// a .env file) with sensible defaults; preprocessing tunables live in an
// optional TOML file.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort      = 5000
	DefaultBind      = "127.0.0.1"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "auto"
	DefaultDataDir   = ".lipcheck"

	// Environment variable names
	EnvPort       = "LIPCHECK_PORT"
	EnvBind       = "LIPCHECK_BIND"
	EnvLogLevel   = "LIPCHECK_LOG_LEVEL"
	EnvLogFormat  = "LIPCHECK_LOG_FORMAT"
	EnvDataDir    = "LIPCHECK_DATA_DIR"
	EnvConfigFile = "LIPCHECK_CONFIG"

	// Model asset environment variable names
	EnvFacePredictor = "LIPCHECK_FACE_PREDICTOR"
	EnvMeanFace      = "LIPCHECK_MEAN_FACE"
	EnvLipCheckpoint = "LIPCHECK_LIP_CHECKPOINT"
	EnvWhisperModel  = "LIPCHECK_WHISPER_MODEL"
	EnvImageModel    = "LIPCHECK_IMAGE_MODEL"
	EnvHaarCascade   = "LIPCHECK_HAAR_CASCADE"

	// Model runner environment variable names
	EnvModelsPython = "LIPCHECK_MODELS_PYTHON"
	EnvModelsModule = "LIPCHECK_MODELS_MODULE"

	// Limits
	EnvMaxUploadMB     = "LIPCHECK_MAX_UPLOAD_MB"
	EnvLandmarkWorkers = "LIPCHECK_LANDMARK_WORKERS"
	EnvRunRetention    = "LIPCHECK_RUN_RETENTION_DAYS"

	// Database filename
	DBFilename = "lipcheck.db"

	// Asset defaults, relative to <data>/models
	DefaultFacePredictor = "shape_predictor_68_face_landmarks.dat"
	DefaultMeanFace      = "20words_mean_face.npy"
	DefaultLipCheckpoint = "finetune-model.pt"
	DefaultWhisperModel  = "medium"
	DefaultImageModel    = "dima806/deepfake_vs_real_image_detection"

	// Model runner defaults
	DefaultModelsModule        = "lipcheck_models"
	DefaultModelsTimeoutDoctor = 30   // seconds
	DefaultModelsTimeoutLip    = 600  // 10 minutes
	DefaultModelsTimeoutSpeech = 1800 // 30 minutes
	DefaultModelsTimeoutImage  = 120  // 2 minutes

	DefaultMaxUploadMB      = 200
	DefaultLandmarkWorkers  = 2
	DefaultRunRetentionDays = 30
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	Bind() string
	Addr() string
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	WorkDir() string
	ModelsDir() string
	FacePredictorPath() string
	MeanFacePath() string
	LipCheckpointPath() string
	WhisperModel() string
	ImageModel() string
	HaarCascadePath() string
	ModelsPython() string
	ModelsModule() string
	ModelsTimeoutDoctor() time.Duration
	ModelsTimeoutLipRead() time.Duration
	ModelsTimeoutSpeech() time.Duration
	ModelsTimeoutImage() time.Duration
	MaxUploadBytes() int64
	LandmarkWorkers() int
	RunRetention() time.Duration
	Tunables() Tunables
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	bind      string
	logLevel  string
	logFormat string
	dataDir   string

	facePredictor string
	meanFace      string
	lipCheckpoint string
	whisperModel  string
	imageModel    string
	haarCascade   string

	modelsPython string
	modelsModule string

	maxUploadMB      int
	landmarkWorkers  int
	runRetentionDays int

	tunables   Tunables
	configPath string
}

// Load reads a .env file from the working directory if there is one, then
// builds the configuration. Variables already set in the environment win.
func Load() (*EnvConfig, error) {
	_ = godotenv.Load()
	return New()
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		bind:             DefaultBind,
		logLevel:         DefaultLogLevel,
		logFormat:        DefaultLogFormat,
		dataDir:          defaultDataDir(),
		whisperModel:     DefaultWhisperModel,
		imageModel:       DefaultImageModel,
		modelsModule:     DefaultModelsModule,
		maxUploadMB:      DefaultMaxUploadMB,
		landmarkWorkers:  DefaultLandmarkWorkers,
		runRetentionDays: DefaultRunRetentionDays,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if b := os.Getenv(EnvBind); b != "" {
		if net.ParseIP(b) == nil && b != "localhost" {
			return nil, fmt.Errorf("invalid %s: %q is not an IP address", EnvBind, b)
		}
		cfg.bind = b
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if lf := os.Getenv(EnvLogFormat); lf != "" {
		switch strings.ToLower(lf) {
		case "auto", "json", "text":
			cfg.logFormat = strings.ToLower(lf)
		default:
			return nil, fmt.Errorf("invalid %s: want auto, json or text", EnvLogFormat)
		}
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = expandHome(dd)
	}

	cfg.facePredictor = expandHome(os.Getenv(EnvFacePredictor))
	cfg.meanFace = expandHome(os.Getenv(EnvMeanFace))
	cfg.lipCheckpoint = expandHome(os.Getenv(EnvLipCheckpoint))
	cfg.haarCascade = expandHome(os.Getenv(EnvHaarCascade))
	if wm := os.Getenv(EnvWhisperModel); wm != "" {
		cfg.whisperModel = wm
	}
	if im := os.Getenv(EnvImageModel); im != "" {
		cfg.imageModel = im
	}

	cfg.modelsPython = os.Getenv(EnvModelsPython)
	if mm := os.Getenv(EnvModelsModule); mm != "" {
		cfg.modelsModule = mm
	}

	var err error
	if cfg.maxUploadMB, err = positiveInt(EnvMaxUploadMB, cfg.maxUploadMB); err != nil {
		return nil, err
	}
	if cfg.landmarkWorkers, err = positiveInt(EnvLandmarkWorkers, cfg.landmarkWorkers); err != nil {
		return nil, err
	}
	if cfg.runRetentionDays, err = positiveInt(EnvRunRetention, cfg.runRetentionDays); err != nil {
		return nil, err
	}

	tunables, path, err := LoadTunables(os.Getenv(EnvConfigFile))
	if err != nil {
		return nil, err
	}
	cfg.tunables = tunables
	cfg.configPath = path

	return cfg, nil
}

func positiveInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", name)
	}
	return n, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// Bind returns the address the HTTP server listens on
func (c *EnvConfig) Bind() string {
	return c.bind
}

// Addr returns host:port for the HTTP server
func (c *EnvConfig) Addr() string {
	return net.JoinHostPort(c.bind, strconv.Itoa(c.port))
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns auto, json or text
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WorkDir returns the directory holding per-request workspaces
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

// ModelsDir returns the directory holding model assets
func (c *EnvConfig) ModelsDir() string {
	return filepath.Join(c.dataDir, "models")
}

func (c *EnvConfig) FacePredictorPath() string {
	return c.orModel(c.facePredictor, DefaultFacePredictor)
}

func (c *EnvConfig) MeanFacePath() string {
	return c.orModel(c.meanFace, DefaultMeanFace)
}

func (c *EnvConfig) LipCheckpointPath() string {
	return c.orModel(c.lipCheckpoint, DefaultLipCheckpoint)
}

func (c *EnvConfig) WhisperModel() string {
	return c.whisperModel
}

func (c *EnvConfig) ImageModel() string {
	return c.imageModel
}

// HaarCascadePath is only read when the haar face detector is selected.
func (c *EnvConfig) HaarCascadePath() string {
	return c.orModel(c.haarCascade, "haarcascade_frontalface_default.xml")
}

func (c *EnvConfig) orModel(set, name string) string {
	if set != "" {
		return set
	}
	return filepath.Join(c.ModelsDir(), name)
}

func (c *EnvConfig) ModelsPython() string {
	return c.modelsPython
}

func (c *EnvConfig) ModelsModule() string {
	return c.modelsModule
}

func (c *EnvConfig) ModelsTimeoutDoctor() time.Duration {
	return time.Duration(DefaultModelsTimeoutDoctor) * time.Second
}

func (c *EnvConfig) ModelsTimeoutLipRead() time.Duration {
	return time.Duration(DefaultModelsTimeoutLip) * time.Second
}

func (c *EnvConfig) ModelsTimeoutSpeech() time.Duration {
	return time.Duration(DefaultModelsTimeoutSpeech) * time.Second
}

func (c *EnvConfig) ModelsTimeoutImage() time.Duration {
	return time.Duration(DefaultModelsTimeoutImage) * time.Second
}

// MaxUploadBytes bounds the size of one uploaded file
func (c *EnvConfig) MaxUploadBytes() int64 {
	return int64(c.maxUploadMB) << 20
}

// LandmarkWorkers is the number of dlib worker processes kept warm
func (c *EnvConfig) LandmarkWorkers() int {
	return c.landmarkWorkers
}

// RunRetention is how long finished run records are kept
func (c *EnvConfig) RunRetention() time.Duration {
	return time.Duration(c.runRetentionDays) * 24 * time.Hour
}

// Tunables returns the preprocessing parameters
func (c *EnvConfig) Tunables() Tunables {
	return c.tunables
}

// ConfigPath returns the TOML file tunables were read from, or "" for defaults
func (c *EnvConfig) ConfigPath() string {
	return c.configPath
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
