package server

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pmeising/whisperd/internal/metrics"
)

// stageTimings reports per-stage wall-clock durations in seconds,
// rounded to two decimals, plus the compute device used.
type stageTimings struct {
	TotalTime      float64 `json:"total_time"`
	AudioLoadTime  float64 `json:"audio_load_time"`
	ProcessingTime float64 `json:"processing_time"`
	InferenceTime  float64 `json:"inference_time"`
	DecodeTime     float64 `json:"decode_time"`
	Device         string  `json:"device"`
}

type transcribeResponse struct {
	Transcription string       `json:"transcription"`
	Metrics       stageTimings `json:"metrics"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleTranscribe accepts a multipart audio upload and returns either a
// transcription with stage timings or an error payload. The endpoint
// always answers HTTP 200; failures are reported in the body.
func (s *Server) handleTranscribe(c *gin.Context) {
	// Readiness rejections are not counted as requests or errors.
	if !s.model.Ready() {
		c.JSON(http.StatusOK, errorResponse{Error: "Whisper model not loaded"})
		return
	}

	metrics.TranscriptionRequests.Inc()

	reqLog := log.With().Str("request_id", uuid.NewString()).Logger()
	start := time.Now()

	res, err := s.transcribe(c, start, reqLog)
	if err != nil {
		metrics.TranscriptionErrors.Inc()
		reqLog.Error().Err(err).
			Float64("elapsed_s", time.Since(start).Seconds()).
			Msg("transcription failed")
		c.JSON(http.StatusOK, errorResponse{Error: fmt.Sprintf("Transcription failed: %v", err)})
		return
	}

	c.JSON(http.StatusOK, res)
}

// transcribe runs the upload through the full pipeline. Any error it
// returns is converted into the error payload by the caller; the temp
// file is released on every path out of this function.
func (s *Server) transcribe(c *gin.Context, start time.Time, reqLog zerolog.Logger) (*transcribeResponse, error) {
	fh, err := c.FormFile("audio_file")
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if fh.Size > s.maxUploadBytes {
		return nil, fmt.Errorf("file too large: %d bytes (limit %d)", fh.Size, s.maxUploadBytes)
	}

	tmp, err := saveUpload(fh)
	if err != nil {
		return nil, err
	}
	defer tmp.Remove()

	audioStart := time.Now()
	samples, err := s.load(tmp.Path())
	if err != nil {
		return nil, err
	}
	audioLoadTime := time.Since(audioStart).Seconds()
	metrics.AudioLoadDuration.Observe(audioLoadTime)

	procStart := time.Now()
	sess, err := s.model.NewSession()
	if err != nil {
		return nil, err
	}
	processingTime := time.Since(procStart).Seconds()
	metrics.ProcessingDuration.Observe(processingTime)

	inferStart := time.Now()
	if err := sess.Run(samples); err != nil {
		return nil, err
	}
	inferenceTime := time.Since(inferStart).Seconds()
	metrics.InferenceDuration.Observe(inferenceTime)

	decodeStart := time.Now()
	text, err := sess.Text()
	if err != nil {
		return nil, err
	}
	decodeTime := time.Since(decodeStart).Seconds()
	metrics.DecodeDuration.Observe(decodeTime)

	totalTime := time.Since(start).Seconds()
	metrics.TranscriptionDuration.Observe(totalTime)

	reqLog.Info().
		Float64("total_s", totalTime).
		Float64("audio_load_s", audioLoadTime).
		Float64("processing_s", processingTime).
		Float64("inference_s", inferenceTime).
		Float64("decode_s", decodeTime).
		Msg("transcription completed")

	return &transcribeResponse{
		Transcription: strings.TrimSpace(text),
		Metrics: stageTimings{
			TotalTime:      round2(totalTime),
			AudioLoadTime:  round2(audioLoadTime),
			ProcessingTime: round2(processingTime),
			InferenceTime:  round2(inferenceTime),
			DecodeTime:     round2(decodeTime),
			Device:         s.model.Device(),
		},
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
