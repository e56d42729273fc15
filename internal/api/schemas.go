package api

import (
	"time"

	"github.com/lipcheck/lipcheck/internal/runs"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State      string                  `json:"state"`
	Video      bool                    `json:"video_available"`
	Image      bool                    `json:"image_available"`
	Runs       map[string]int          `json:"runs"`
	Pipelines  *PipelineStatusResponse `json:"pipelines,omitempty"`
	ProbeError string                  `json:"probe_error,omitempty"`
}

type PipelineStatusResponse struct {
	HasLipReading bool   `json:"has_lip_reading"`
	HasSpeech     bool   `json:"has_speech"`
	HasImage      bool   `json:"has_image"`
	HasLandmarks  bool   `json:"has_landmarks"`
	CUDA          bool   `json:"cuda_available"`
	LastProbeAt   string `json:"last_probe_at,omitempty"`
	DepsAvail     int    `json:"deps_available"`
	DepsTotal     int    `json:"deps_total"`
}

// VideoResponse is what the web client renders. Score is a string with two
// decimals.
type VideoResponse struct {
	Label          string `json:"label"`
	Score          string `json:"score"`
	LipReadingText string `json:"lip_reading_text"`
	SpeechText     string `json:"speech_text"`
}

type ImageResponse struct {
	Label string `json:"label"`
	Score string `json:"score"`
}

type RunResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Stage      string `json:"stage,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *runs.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Kind:       r.Kind,
		State:      r.State,
		Stage:      r.Stage,
		ErrorKind:  r.ErrorKind,
		Error:      r.Error,
		DurationMs: r.DurationMs,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339),
	}
}
