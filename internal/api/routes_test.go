package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lipcheck/lipcheck/internal/consistency"
	"github.com/lipcheck/lipcheck/internal/faults"
	"github.com/lipcheck/lipcheck/internal/pipelines"
	"github.com/lipcheck/lipcheck/internal/runs"
	"github.com/lipcheck/lipcheck/internal/verify"
)

func TestPredictVideo_Success(t *testing.T) {
	var gotName string
	var gotBody string
	cfg := testConfig(&fakeVerifier{
		videoFn: func(upload io.Reader, filename string) (*verify.VideoResult, error) {
			data, _ := io.ReadAll(upload)
			gotName, gotBody = filename, string(data)
			return &verify.VideoResult{
				RunID:          "run-1",
				Result:         consistency.Classify("THE CAT IS BLUE", "THE CAT IS BLUE"),
				LipReadingText: "THE CAT IS BLUE",
				SpeechText:     "THE CAT IS BLUE",
			}, nil
		},
	})

	rr := serve(cfg, multipartRequest(t, "/predict_video", "video", "clip.mp4", "frames"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if gotName != "clip.mp4" || gotBody != "frames" {
		t.Errorf("verifier got %q/%q", gotName, gotBody)
	}
	body := decodeJSONBody(t, rr)
	if body["label"] != "Real" || body["score"] != "100.00" {
		t.Errorf("body = %v", body)
	}
	if body["lip_reading_text"] != "THE CAT IS BLUE" || body["speech_text"] != "THE CAT IS BLUE" {
		t.Errorf("transcripts = %v", body)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("ACAO = %q, want *", got)
	}
	if got := rr.Header().Get("X-Run-ID"); got != "run-1" {
		t.Errorf("X-Run-ID = %q", got)
	}
}

func TestPredictVideo_NotMultipart(t *testing.T) {
	cfg := testConfig(&fakeVerifier{})

	req := httptest.NewRequest(http.MethodPost, "/predict_video", strings.NewReader(`{"video":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := serve(cfg, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusUnsupportedMediaType)
	}
	if body := decodeJSONBody(t, rr); body["error"] == "" {
		t.Fatal("error message missing")
	}
}

func TestPredict_ModelsNotLoaded(t *testing.T) {
	tests := []struct {
		path  string
		field string
	}{
		{"/predict_video", "video"},
		{"/predict_image", "image"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			cfg := testConfig(nil)
			cfg.Verifier = nil

			rr := serve(cfg, multipartRequest(t, tt.path, tt.field, "upload.bin", "data"))

			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusServiceUnavailable, rr.Body.String())
			}
			if body := decodeJSONBody(t, rr); body["code"] != "MODELS_UNAVAILABLE" {
				t.Fatalf("code = %v, want MODELS_UNAVAILABLE", body["code"])
			}
		})
	}
}

func TestPredictVideo_MissingField(t *testing.T) {
	called := false
	cfg := testConfig(&fakeVerifier{
		videoFn: func(io.Reader, string) (*verify.VideoResult, error) {
			called = true
			return nil, nil
		},
	})

	rr := serve(cfg, multipartRequest(t, "/predict_video", "clip", "clip.mp4", "frames"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if called {
		t.Fatal("verifier called without a video part")
	}
	if body := decodeJSONBody(t, rr); body["error"] != "No video file uploaded" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestPredictVideo_FailureStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{
			"no face",
			&verify.Failure{RunID: "r", Stage: verify.StatePreprocessing, Kind: faults.KindNoFaceDetected, Message: "no face detected in any frame"},
			http.StatusUnprocessableEntity, "NO_FACE_DETECTED",
		},
		{
			"zero frames",
			&verify.Failure{RunID: "r", Stage: verify.StatePreprocessing, Kind: faults.KindZeroFrameInput, Message: "video contains no frames"},
			http.StatusUnprocessableEntity, "ZERO_FRAME_INPUT",
		},
		{
			"model crash",
			&verify.Failure{RunID: "r", Stage: verify.StateLipReading, Kind: faults.KindExternalModel, Message: "lipread: exit 1"},
			http.StatusInternalServerError, "EXTERNAL_MODEL",
		},
		{
			"unavailable",
			verify.ErrUnavailable,
			http.StatusServiceUnavailable, "MODELS_UNAVAILABLE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(&fakeVerifier{
				videoFn: func(io.Reader, string) (*verify.VideoResult, error) { return nil, tt.err },
			})

			rr := serve(cfg, multipartRequest(t, "/predict_video", "video", "clip.mp4", "frames"))

			if rr.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", rr.Code, tt.wantCode)
			}
			body := decodeJSONBody(t, rr)
			if body["code"] != tt.wantKind {
				t.Errorf("code = %v, want %s", body["code"], tt.wantKind)
			}
			if _, ok := body["label"]; ok {
				t.Error("failed run returned a partial result")
			}
		})
	}
}

func TestPredictVideo_UploadTooLarge(t *testing.T) {
	cfg := testConfig(&fakeVerifier{
		videoFn: func(upload io.Reader, _ string) (*verify.VideoResult, error) {
			if _, err := io.Copy(io.Discard, upload); err != nil {
				return nil, faults.New(faults.KindInvalidInput, "store upload", err)
			}
			return nil, errors.New("upload should have been cut off")
		},
	})
	cfg.MaxUploadBytes = 512

	rr := serve(cfg, multipartRequest(t, "/predict_video", "video", "clip.mp4", strings.Repeat("x", 4096)))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestPredictImage_Success(t *testing.T) {
	cfg := testConfig(&fakeVerifier{
		imageFn: func(upload io.Reader, filename string) (*verify.ImageResult, error) {
			if filename != "face.png" {
				t.Errorf("filename = %q", filename)
			}
			return &verify.ImageResult{RunID: "img-1", Label: "Fake", Score: 0.97312}, nil
		},
	})

	rr := serve(cfg, multipartRequest(t, "/predict_image", "image", "face.png", "png"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["label"] != "Fake" || body["score"] != "97.31" {
		t.Errorf("body = %v", body)
	}
}

func TestPredictImage_RejectsVideoField(t *testing.T) {
	cfg := testConfig(&fakeVerifier{})

	rr := serve(cfg, multipartRequest(t, "/predict_image", "video", "face.png", "png"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestStatusHandler_NilDoctor(t *testing.T) {
	cfg := testConfig(&fakeVerifier{video: true})

	rr := httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if _, ok := body["pipelines"]; ok {
		t.Fatal("pipelines should be omitted when doctor is nil")
	}
	if body["state"] != "unknown" || body["video_available"] != true || body["image_available"] != false {
		t.Errorf("body = %v", body)
	}
	counts, _ := body["runs"].(map[string]interface{})
	if counts["responded"] != float64(3) {
		t.Errorf("runs = %v", body["runs"])
	}
}

func TestStatusHandler_WithDetectedCaps(t *testing.T) {
	cfg := testConfig(&fakeVerifier{})
	cfg.Doctor = checkedMonitor(t, &fakeProber{
		caps: &pipelines.Capabilities{
			HasLipReading: true,
			HasSpeech:     true,
			HasLandmarks:  true,
			ProbedAt:      time.Now(),
			Summary:       pipelines.SummaryInfo{Available: 5, Total: 6},
		},
	})

	rr := httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := decodeJSONBody(t, rr)
	if body["state"] != "ready" {
		t.Errorf("state = %v, want ready", body["state"])
	}
	p, ok := body["pipelines"].(map[string]interface{})
	if !ok {
		t.Fatal("pipelines missing from response")
	}
	if p["has_lip_reading"] != true || p["has_image"] != false {
		t.Errorf("pipelines = %v", p)
	}
	if _, ok := p["last_probe_at"]; !ok {
		t.Error("last_probe_at missing")
	}
	if _, ok := body["probe_error"]; ok {
		t.Error("probe_error should be omitted after a good probe")
	}
}

func TestStatusHandler_NeverRunsDoctor(t *testing.T) {
	prober := &fakeProber{}
	cfg := testConfig(&fakeVerifier{})
	cfg.Doctor = pipelines.NewMonitor(prober, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rr := httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if prober.calls != 0 {
		t.Fatalf("status request ran %d doctor probes, want 0", prober.calls)
	}
	body := decodeJSONBody(t, rr)
	if body["state"] != "unknown" {
		t.Errorf("state = %v, want unknown before the first probe", body["state"])
	}
	if _, ok := body["pipelines"]; ok {
		t.Error("pipelines should be omitted before the first probe")
	}
}

func TestStatusHandler_ReportsDoctorError(t *testing.T) {
	prober := &fakeProber{caps: &pipelines.Capabilities{HasSpeech: true}}
	mon := checkedMonitor(t, prober)
	prober.err = errors.New("python not found")
	mon.Probe(context.Background())

	cfg := testConfig(&fakeVerifier{})
	cfg.Doctor = mon

	rr := httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := decodeJSONBody(t, rr)
	if body["probe_error"] != "python not found" {
		t.Errorf("probe_error = %v", body["probe_error"])
	}
	if _, ok := body["pipelines"]; !ok {
		t.Error("pipelines from the last good probe missing")
	}
}

func TestStatusHandler_Degraded(t *testing.T) {
	cfg := testConfig(&fakeVerifier{})
	cfg.Doctor = checkedMonitor(t, &fakeProber{
		caps: &pipelines.Capabilities{HasSpeech: true},
	})

	rr := httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := decodeJSONBody(t, rr)
	if body["state"] != "degraded" {
		t.Errorf("state = %v, want degraded", body["state"])
	}
	p := body["pipelines"].(map[string]interface{})
	if _, ok := p["last_probe_at"]; ok {
		t.Fatal("last_probe_at should be omitted when ProbedAt is zero")
	}
}

func TestRunsHandlers(t *testing.T) {
	cfg := testConfig(&fakeVerifier{})

	rr := serve(cfg, httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /runs status = %d", rr.Code)
	}
	var list RunsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != "r2" {
		t.Fatalf("runs = %+v", list.Runs)
	}

	rr = serve(cfg, httptest.NewRequest(http.MethodGet, "/runs/r1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /runs/r1 status = %d", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["error_kind"] != "NO_FACE_DETECTED" {
		t.Errorf("run = %v", body)
	}

	rr = serve(cfg, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET /runs/missing status = %d, want 404", rr.Code)
	}

	rr = serve(cfg, httptest.NewRequest(http.MethodGet, "/runs?limit=0", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("GET /runs?limit=0 status = %d, want 400", rr.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	cfg := testConfig(&fakeVerifier{})
	cfg.Version = "1.2.3"

	rr := serve(cfg, httptest.NewRequest(http.MethodGet, "/health", nil))

	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Errorf("body = %v", body)
	}
	if up, _ := body["uptime_s"].(float64); up < 10 {
		t.Errorf("uptime_s = %v, want >= 10", body["uptime_s"])
	}
}

func serve(cfg ServerConfig, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, req)
	return rr
}

func multipartRequest(t *testing.T, path, field, filename, content string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func testConfig(v *fakeVerifier) ServerConfig {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return ServerConfig{
		Verifier: v,
		Runs: &fakeRuns{runs: []*runs.Run{
			{ID: "r2", Kind: "video", State: "responded", CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute)},
			{ID: "r1", Kind: "video", State: "failed", Stage: "preprocessing", ErrorKind: "NO_FACE_DETECTED", CreatedAt: base, UpdatedAt: base},
		}},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		StartTime: time.Now().Add(-10 * time.Second),
	}
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	return body
}

type fakeVerifier struct {
	video, image bool
	videoFn      func(upload io.Reader, filename string) (*verify.VideoResult, error)
	imageFn      func(upload io.Reader, filename string) (*verify.ImageResult, error)
}

func (f *fakeVerifier) VerifyVideo(ctx context.Context, upload io.Reader, filename string, opts ...verify.Option) (*verify.VideoResult, error) {
	if f.videoFn == nil {
		return nil, verify.ErrUnavailable
	}
	return f.videoFn(upload, filename)
}

func (f *fakeVerifier) VerifyImage(ctx context.Context, upload io.Reader, filename string) (*verify.ImageResult, error) {
	if f.imageFn == nil {
		return nil, verify.ErrUnavailable
	}
	return f.imageFn(upload, filename)
}

func (f *fakeVerifier) VideoAvailable() bool { return f.video }
func (f *fakeVerifier) ImageAvailable() bool { return f.image }

type fakeRuns struct {
	runs []*runs.Run
}

func (f *fakeRuns) CreateRun(ctx context.Context, run *runs.Run) error { return nil }
func (f *fakeRuns) UpdateRun(ctx context.Context, run *runs.Run) error { return nil }

func (f *fakeRuns) GetRun(ctx context.Context, id string) (*runs.Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRuns) ListRuns(ctx context.Context, limit int) ([]*runs.Run, error) {
	if limit > len(f.runs) {
		limit = len(f.runs)
	}
	return f.runs[:limit], nil
}

func (f *fakeRuns) CountByState(ctx context.Context) (map[string]int, error) {
	return map[string]int{"responded": 3, "failed": 1}, nil
}

func (f *fakeRuns) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeProber struct {
	caps  *pipelines.Capabilities
	err   error
	calls int
}

func (f *fakeProber) RunDoctor(ctx context.Context) (*pipelines.Capabilities, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.caps == nil {
		return &pipelines.Capabilities{}, nil
	}
	return f.caps, nil
}

func checkedMonitor(t *testing.T, prober *fakeProber) *pipelines.Monitor {
	t.Helper()
	mon := pipelines.NewMonitor(prober, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := mon.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	return mon
}
