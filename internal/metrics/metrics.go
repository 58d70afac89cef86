// Package metrics defines the Prometheus collectors for the transcription
// service and the /metrics handler that exposes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TranscriptionRequests counts requests that passed the readiness
	// check. Rejections for an unloaded model are not counted here.
	TranscriptionRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisper_transcription_requests_total",
		Help: "Total transcription requests",
	})

	TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "whisper_transcription_duration_seconds",
		Help: "Time spent on transcription",
	})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "whisper_inference_duration_seconds",
		Help: "Time spent on model inference",
	})

	AudioLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "whisper_audio_load_duration_seconds",
		Help: "Time spent loading audio",
	})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "whisper_processing_duration_seconds",
		Help: "Time spent processing audio",
	})

	DecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "whisper_decode_duration_seconds",
		Help: "Time spent decoding results",
	})

	TranscriptionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whisper_transcription_errors_total",
		Help: "Total transcription errors",
	})

	ModelLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_model_loaded",
		Help: "Whether the model is loaded (1) or not (0)",
	})
)

// Handler returns the Prometheus text exposition handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
