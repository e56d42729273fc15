package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lipcheck/lipcheck/internal/faults"
	"github.com/lipcheck/lipcheck/internal/verify"
)

const (
	videoField = "video"
	imageField = "image"

	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORS())

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))

	r.Post("/predict_video", predictVideoHandler(cfg))
	r.Post("/predict_image", predictImageHandler(cfg))

	r.Get("/runs", listRunsHandler(cfg))
	r.Get("/runs/{id}", getRunHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{
			State: "unknown",
			Runs:  map[string]int{},
		}
		if cfg.Verifier != nil {
			resp.Video = cfg.Verifier.VideoAvailable()
			resp.Image = cfg.Verifier.ImageAvailable()
		}
		if cfg.Runs != nil {
			counts, err := cfg.Runs.CountByState(ctx)
			if err != nil {
				cfg.Logger.Warn("cannot count runs", "error", err)
			} else {
				resp.Runs = counts
			}
		}

		if cfg.Doctor != nil {
			if err := cfg.Doctor.LastError(); err != nil {
				resp.ProbeError = err.Error()
			}
			if caps := cfg.Doctor.Latest(); caps != nil {
				resp.State = "degraded"
				if caps.Ready() {
					resp.State = "ready"
				}
				resp.Pipelines = &PipelineStatusResponse{
					HasLipReading: caps.HasLipReading,
					HasSpeech:     caps.HasSpeech,
					HasImage:      caps.HasImage,
					HasLandmarks:  caps.HasLandmarks,
					CUDA:          caps.GPU.CUDAAvailable,
					DepsAvail:     caps.Summary.Available,
					DepsTotal:     caps.Summary.Total,
				}
				if !caps.ProbedAt.IsZero() {
					resp.Pipelines.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func predictVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Verifier == nil {
			WriteError(w, http.StatusServiceUnavailable, "verification models not loaded", "MODELS_UNAVAILABLE")
			return
		}
		part := openUpload(w, r, videoField, cfg.MaxUploadBytes)
		if part == nil {
			return
		}
		defer part.Close()

		res, err := cfg.Verifier.VerifyVideo(r.Context(), part, part.FileName())
		if err != nil {
			writeVerifyError(w, err, cfg.Logger)
			return
		}

		w.Header().Set("X-Run-ID", res.RunID)
		WriteJSON(w, http.StatusOK, VideoResponse{
			Label:          string(res.Result.Label),
			Score:          res.Result.FormattedScore(),
			LipReadingText: res.LipReadingText,
			SpeechText:     res.SpeechText,
		})
	}
}

func predictImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Verifier == nil {
			WriteError(w, http.StatusServiceUnavailable, "verification models not loaded", "MODELS_UNAVAILABLE")
			return
		}
		part := openUpload(w, r, imageField, cfg.MaxUploadBytes)
		if part == nil {
			return
		}
		defer part.Close()

		res, err := cfg.Verifier.VerifyImage(r.Context(), part, part.FileName())
		if err != nil {
			writeVerifyError(w, err, cfg.Logger)
			return
		}

		w.Header().Set("X-Run-ID", res.RunID)
		WriteJSON(w, http.StatusOK, ImageResponse{
			Label: res.Label,
			Score: res.FormattedScore(),
		})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runs == nil {
			WriteError(w, http.StatusServiceUnavailable, "run store not configured", "UNAVAILABLE")
			return
		}

		limit := defaultRunsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxRunsLimit {
				WriteError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit), "BAD_REQUEST")
				return
			}
			limit = n
		}

		list, err := cfg.Runs.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(list))}
		for i, run := range list {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runs == nil {
			WriteError(w, http.StatusServiceUnavailable, "run store not configured", "UNAVAILABLE")
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}

		run, err := cfg.Runs.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, RunToResponse(run))
	}
}

// openUpload checks that r is a multipart form and returns the file part
// named field, streaming the body rather than buffering it. On rejection it
// writes the error response and returns nil.
func openUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) *multipart.Part {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		WriteError(w, http.StatusUnsupportedMediaType, "Unsupported Media Type, please use multipart/form-data", "UNSUPPORTED_MEDIA_TYPE")
		return nil
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		WriteError(w, http.StatusBadRequest, "malformed multipart body", "BAD_REQUEST")
		return nil
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("No %s file uploaded", field), "BAD_REQUEST")
			return nil
		}
		if err != nil {
			if tooLarge(err) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload too large", "UPLOAD_TOO_LARGE")
			} else {
				WriteError(w, http.StatusBadRequest, "malformed multipart body", "BAD_REQUEST")
			}
			return nil
		}
		if part.FormName() == field && part.FileName() != "" {
			return part
		}
		part.Close()
	}
}

func writeVerifyError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case tooLarge(err):
		WriteError(w, http.StatusRequestEntityTooLarge, "upload too large", "UPLOAD_TOO_LARGE")
		return
	case errors.Is(err, verify.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "MODELS_UNAVAILABLE")
		return
	}

	kind := faults.KindOf(err)
	message := err.Error()
	var f *verify.Failure
	if errors.As(err, &f) {
		kind = f.Kind
		message = f.Message
		w.Header().Set("X-Run-ID", f.RunID)
	}

	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		logger.Error("verification failed", "kind", kind, "error", err)
	}
	WriteError(w, status, message, string(kind))
}

func statusForKind(kind faults.Kind) int {
	switch kind {
	case faults.KindNoFaceDetected, faults.KindZeroFrameInput:
		return http.StatusUnprocessableEntity
	case faults.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
