package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, "/var/lib/lipcheck")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:5000" {
		t.Errorf("Addr() = %q, want 127.0.0.1:5000", cfg.Addr())
	}
	if cfg.DBPath() != "/var/lib/lipcheck/lipcheck.db" {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.MeanFacePath() != "/var/lib/lipcheck/models/20words_mean_face.npy" {
		t.Errorf("MeanFacePath() = %q", cfg.MeanFacePath())
	}
	if cfg.FacePredictorPath() != "/var/lib/lipcheck/models/shape_predictor_68_face_landmarks.dat" {
		t.Errorf("FacePredictorPath() = %q", cfg.FacePredictorPath())
	}
	if cfg.ModelsModule() != DefaultModelsModule {
		t.Errorf("ModelsModule() = %q", cfg.ModelsModule())
	}
	if cfg.MaxUploadBytes() != 200<<20 {
		t.Errorf("MaxUploadBytes() = %d", cfg.MaxUploadBytes())
	}
	if cfg.RunRetention() != 30*24*time.Hour {
		t.Errorf("RunRetention() = %v", cfg.RunRetention())
	}
	if cfg.Tunables().Preprocess.WindowMargin != 12 {
		t.Errorf("default window margin = %d", cfg.Tunables().Preprocess.WindowMargin)
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "8080")
	t.Setenv(EnvBind, "0.0.0.0")
	t.Setenv(EnvMeanFace, "/models/mean.npy")
	t.Setenv(EnvLandmarkWorkers, "4")
	t.Setenv(EnvLogFormat, "JSON")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.MeanFacePath() != "/models/mean.npy" {
		t.Errorf("MeanFacePath() = %q", cfg.MeanFacePath())
	}
	if cfg.LandmarkWorkers() != 4 {
		t.Errorf("LandmarkWorkers() = %d", cfg.LandmarkWorkers())
	}
	if cfg.LogFormat() != "json" {
		t.Errorf("LogFormat() = %q", cfg.LogFormat())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		env, value string
	}{
		{EnvPort, "http"},
		{EnvPort, "70000"},
		{EnvBind, "not-an-ip"},
		{EnvLandmarkWorkers, "0"},
		{EnvMaxUploadMB, "-5"},
		{EnvLogFormat, "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			if _, err := New(); err == nil {
				t.Fatalf("New() error = nil for %s=%s", tt.env, tt.value)
			}
		})
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LIPCHECK_WHISPER_MODEL=small\n"), 0644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(EnvWhisperModel, "")
	os.Unsetenv(EnvWhisperModel)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WhisperModel() != "small" {
		t.Errorf("WhisperModel() = %q, want small from .env", cfg.WhisperModel())
	}
}

func TestLoadTunables_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipcheck.toml")
	doc := `
[preprocess]
window_margin = 6
crop_width = 88
crop_height = 88

[landmarks]
detector = "haar"
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	tun, got, err := LoadTunables(path)
	if err != nil {
		t.Fatalf("LoadTunables() error = %v", err)
	}
	if got != path {
		t.Errorf("resolved path = %q, want %q", got, path)
	}
	if tun.Preprocess.WindowMargin != 6 || tun.Preprocess.CropWidth != 88 {
		t.Errorf("preprocess = %+v", tun.Preprocess)
	}
	if tun.Preprocess.StdSize != 256 || tun.Preprocess.FPS != 25 {
		t.Errorf("unset keys lost their defaults: %+v", tun.Preprocess)
	}
	if tun.Landmarks.Detector != DetectorHaar {
		t.Errorf("detector = %q", tun.Landmarks.Detector)
	}
}

func TestLoadTunables_MissingFileUsesDefaults(t *testing.T) {
	tun, got, err := LoadTunables(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadTunables() error = %v", err)
	}
	if got != "" || tun.Preprocess.CropWidth != 96 {
		t.Fatalf("LoadTunables() = %+v, %q", tun, got)
	}
}

func TestLoadTunables_Invalid(t *testing.T) {
	tests := []struct {
		name, doc, want string
	}{
		{"odd crop", "[preprocess]\ncrop_width = 95\n", "even"},
		{"crop too large", "[preprocess]\ncrop_width = 300\ncrop_height = 300\n", "does not fit"},
		{"bad anchor", "[preprocess]\nstable_anchors = [33, 99]\n", "not a landmark"},
		{"bad detector", "[landmarks]\ndetector = \"mtcnn\"\n", "landmarks.detector"},
		{"unknown key", "[preprocess]\nwindow = 3\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.toml")
			os.WriteFile(path, []byte(tt.doc), 0644)
			_, _, err := LoadTunables(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadTunables() error = %v, want %q", err, tt.want)
			}
		})
	}
}
