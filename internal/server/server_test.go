package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pmeising/whisperd/internal/config"
	"github.com/pmeising/whisperd/internal/metrics"
	"github.com/pmeising/whisperd/internal/model"
)

// stubSession is a canned model.Session.
type stubSession struct {
	text    string
	runErr  error
	textErr error
}

func (s *stubSession) Run(samples []float32) error { return s.runErr }

func (s *stubSession) Text() (string, error) { return s.text, s.textErr }

// stubEngine is a canned model.Engine.
type stubEngine struct {
	ready   bool
	device  string
	session model.Session
	sessErr error
}

func (e *stubEngine) Ready() bool    { return e.ready }
func (e *stubEngine) Device() string { return e.device }
func (e *stubEngine) Close() error   { return nil }

func (e *stubEngine) NewSession() (model.Session, error) {
	if e.sessErr != nil {
		return nil, e.sessErr
	}
	return e.session, nil
}

func readyEngine(text string) *stubEngine {
	return &stubEngine{ready: true, device: "cpu", session: &stubSession{text: text}}
}

// newTestServer wires a Server with a stub engine and a loader that
// records every path it was handed.
func newTestServer(eng model.Engine, loadErr error) (*Server, *[]string) {
	s := New(eng, config.ServerConfig{MaxUploadMB: 100})
	var paths []string
	s.load = func(path string) ([]float32, error) {
		paths = append(paths, path)
		if loadErr != nil {
			return nil, loadErr
		}
		return make([]float32, 16000), nil
	}
	return s, &paths
}

func postUpload(t *testing.T, s *Server, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("audio_file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/transcribe/", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// decodeBody asserts the exactly-one-of transcription/error property and
// returns the parsed payload.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}

	_, hasText := body["transcription"]
	_, hasErr := body["error"]
	if hasText == hasErr {
		t.Fatalf("response must have exactly one of transcription/error, got %s", rec.Body.String())
	}
	return body
}

func errField(t *testing.T, body map[string]json.RawMessage) string {
	t.Helper()
	var msg string
	if err := json.Unmarshal(body["error"], &msg); err != nil {
		t.Fatalf("error field: %v", err)
	}
	return msg
}

func TestTranscribeModelNotReady(t *testing.T) {
	s, _ := newTestServer(&stubEngine{ready: false, device: "cpu"}, nil)

	requestsBefore := testutil.ToFloat64(metrics.TranscriptionRequests)
	errorsBefore := testutil.ToFloat64(metrics.TranscriptionErrors)

	rec := postUpload(t, s, "clip.wav", []byte("RIFF"))
	body := decodeBody(t, rec)

	if got := errField(t, body); got != "Whisper model not loaded" {
		t.Errorf("error = %q, want %q", got, "Whisper model not loaded")
	}

	// Readiness rejections count neither as requests nor as errors.
	if got := testutil.ToFloat64(metrics.TranscriptionRequests); got != requestsBefore {
		t.Errorf("request counter moved on readiness rejection: %f -> %f", requestsBefore, got)
	}
	if got := testutil.ToFloat64(metrics.TranscriptionErrors); got != errorsBefore {
		t.Errorf("error counter moved on readiness rejection: %f -> %f", errorsBefore, got)
	}
}

func TestTranscribeSuccess(t *testing.T) {
	s, paths := newTestServer(readyEngine("  hello world  "), nil)

	requestsBefore := testutil.ToFloat64(metrics.TranscriptionRequests)
	errorsBefore := testutil.ToFloat64(metrics.TranscriptionErrors)

	rec := postUpload(t, s, "clip.wav", []byte("RIFF fake audio"))
	body := decodeBody(t, rec)

	var text string
	if err := json.Unmarshal(body["transcription"], &text); err != nil {
		t.Fatal(err)
	}
	if text != "hello world" {
		t.Errorf("transcription = %q, want %q (whitespace stripped)", text, "hello world")
	}

	var m stageTimings
	if err := json.Unmarshal(body["metrics"], &m); err != nil {
		t.Fatalf("metrics field: %v", err)
	}
	if m.Device != "cpu" {
		t.Errorf("device = %q, want %q", m.Device, "cpu")
	}
	sum := m.AudioLoadTime + m.ProcessingTime + m.InferenceTime + m.DecodeTime
	if m.TotalTime < sum-0.05 {
		t.Errorf("total_time %f should cover stage sum %f", m.TotalTime, sum)
	}

	if got := testutil.ToFloat64(metrics.TranscriptionRequests); got != requestsBefore+1 {
		t.Errorf("request counter = %f, want %f", got, requestsBefore+1)
	}
	if got := testutil.ToFloat64(metrics.TranscriptionErrors); got != errorsBefore {
		t.Errorf("error counter = %f, want unchanged %f", got, errorsBefore)
	}

	// The upload copy must be gone after the response.
	if len(*paths) != 1 {
		t.Fatalf("loader called %d times, want 1", len(*paths))
	}
	if _, err := os.Stat((*paths)[0]); !os.IsNotExist(err) {
		t.Errorf("temp file %s still exists after success", (*paths)[0])
	}
}

func TestTranscribeDecodeFailure(t *testing.T) {
	s, paths := newTestServer(readyEngine("unused"), errors.New("all decoders failed"))

	errorsBefore := testutil.ToFloat64(metrics.TranscriptionErrors)

	rec := postUpload(t, s, "clip.mp3", []byte("not audio"))
	body := decodeBody(t, rec)

	got := errField(t, body)
	if !strings.HasPrefix(got, "Transcription failed: ") {
		t.Errorf("error = %q, want Transcription failed prefix", got)
	}

	if got := testutil.ToFloat64(metrics.TranscriptionErrors); got != errorsBefore+1 {
		t.Errorf("error counter = %f, want %f", got, errorsBefore+1)
	}

	// Cleanup must run on the failure path too.
	if len(*paths) != 1 {
		t.Fatalf("loader called %d times, want 1", len(*paths))
	}
	if _, err := os.Stat((*paths)[0]); !os.IsNotExist(err) {
		t.Errorf("temp file %s still exists after failure", (*paths)[0])
	}
}

func TestTranscribeInferenceFailure(t *testing.T) {
	eng := &stubEngine{
		ready:   true,
		device:  "cpu",
		session: &stubSession{runErr: errors.New("out of memory")},
	}
	s, _ := newTestServer(eng, nil)

	errorsBefore := testutil.ToFloat64(metrics.TranscriptionErrors)

	rec := postUpload(t, s, "clip.wav", []byte("RIFF"))
	body := decodeBody(t, rec)

	if got := errField(t, body); !strings.Contains(got, "out of memory") {
		t.Errorf("error = %q, want inference error surfaced", got)
	}
	if got := testutil.ToFloat64(metrics.TranscriptionErrors); got != errorsBefore+1 {
		t.Errorf("error counter = %f, want %f", got, errorsBefore+1)
	}
}

func TestTranscribeMissingFileField(t *testing.T) {
	s, _ := newTestServer(readyEngine("unused"), nil)

	req := httptest.NewRequest(http.MethodPost, "/transcribe/", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	body := decodeBody(t, rec)
	if got := errField(t, body); !strings.HasPrefix(got, "Transcription failed: ") {
		t.Errorf("error = %q, want Transcription failed prefix", got)
	}
}

func TestTranscribeRejectsOversizedUpload(t *testing.T) {
	s, paths := newTestServer(readyEngine("unused"), nil)
	s.maxUploadBytes = 8

	rec := postUpload(t, s, "clip.wav", bytes.Repeat([]byte("x"), 64))
	body := decodeBody(t, rec)

	if got := errField(t, body); !strings.Contains(got, "too large") {
		t.Errorf("error = %q, want file-too-large message", got)
	}
	if len(*paths) != 0 {
		t.Errorf("loader should not run for oversized uploads")
	}
}

func TestTempFilesUniquePerRequest(t *testing.T) {
	s, paths := newTestServer(readyEngine("ok"), nil)

	postUpload(t, s, "a.wav", []byte("first"))
	postUpload(t, s, "b.wav", []byte("second"))

	if len(*paths) != 2 {
		t.Fatalf("loader called %d times, want 2", len(*paths))
	}
	if (*paths)[0] == (*paths)[1] {
		t.Errorf("temp files shared a path: %s", (*paths)[0])
	}
}

func TestTempFileExtensionFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		wantExt  string
	}{
		{"clip.ogg", ".ogg"},
		{"clip.wav", ".wav"},
		{"CLIP.MP3", ".MP3"},
		{"noextension", ".wav"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			s, paths := newTestServer(readyEngine("ok"), nil)
			postUpload(t, s, tt.filename, []byte("data"))
			if len(*paths) != 1 {
				t.Fatalf("loader called %d times, want 1", len(*paths))
			}
			if got := (*paths)[0]; !strings.HasSuffix(got, tt.wantExt) {
				t.Errorf("temp path %q, want suffix %q", got, tt.wantExt)
			}
		})
	}
}

func TestRootEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
		want  string
	}{
		{"model loaded", true, "loaded"},
		{"model failed", false, "failed to load"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&stubEngine{ready: tt.ready, device: "cpu"}, config.ServerConfig{MaxUploadMB: 100})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}

			var body struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if !strings.Contains(body.Message, tt.want) {
				t.Errorf("message = %q, want substring %q", body.Message, tt.want)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		device     string
		wantStatus string
	}{
		{"healthy on cuda", true, "cuda", "healthy"},
		{"healthy on cpu", true, "cpu", "healthy"},
		{"unhealthy", false, "cpu", "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&stubEngine{ready: tt.ready, device: tt.device}, config.ServerConfig{MaxUploadMB: 100})

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}

			var body struct {
				Status      string `json:"status"`
				ModelLoaded bool   `json:"model_loaded"`
				Device      string `json:"device"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.ModelLoaded != tt.ready {
				t.Errorf("model_loaded = %v, want %v", body.ModelLoaded, tt.ready)
			}
			if body.Device != tt.device {
				t.Errorf("device = %q, want %q", body.Device, tt.device)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(&stubEngine{ready: true, device: "cpu"}, config.ServerConfig{MaxUploadMB: 100})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain exposition format", ct)
	}

	out := rec.Body.String()
	for _, name := range []string{
		"whisper_transcription_requests_total",
		"whisper_transcription_errors_total",
		"whisper_model_loaded",
		"whisper_inference_duration_seconds",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.2345, 1.23},
		{1.235, 1.24},
		{0, 0},
		{10.999, 11.0},
	}

	for _, tt := range tests {
		if got := round2(tt.in); got != tt.want {
			t.Errorf("round2(%f) = %f, want %f", tt.in, got, tt.want)
		}
	}
}
