// Package model owns the lifecycle of the whisper transcription model.
// The model is loaded once at startup and shared read-only by every
// request for the life of the process.
package model

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"

	"github.com/pmeising/whisperd/internal/config"
	"github.com/pmeising/whisperd/internal/metrics"
	"github.com/pmeising/whisperd/internal/models"
)

// Engine is the inference surface the request handler consumes.
type Engine interface {
	// Ready reports whether the model loaded successfully at startup.
	Ready() bool
	// Device returns the active compute device, "cuda" or "cpu".
	Device() string
	// NewSession prepares a single-use inference session with the
	// configured language, task and thread count.
	NewSession() (Session, error)
	// Close releases the model resources.
	Close() error
}

// Session runs one transcription. Sessions are single-use and not safe
// for concurrent use; the underlying model is.
type Session interface {
	// Run executes model inference over mono 16kHz float32 samples.
	Run(samples []float32) error
	// Text decodes the generated segments into the final transcript.
	Text() (string, error)
}

// Host is the process-wide model handle. Construct it with Load; the
// fields never change afterwards.
type Host struct {
	model     whisper.Model
	device    string
	loaded    bool
	language  string
	translate bool
	threads   uint
}

// Load fetches the model weights if needed and loads them. It never
// returns an error: on failure the returned Host reports Ready() ==
// false and the service runs unhealthy until an operator restarts it.
func Load(cfg config.ModelConfig) *Host {
	h := &Host{
		device:    detectDevice(),
		language:  cfg.Language,
		translate: cfg.Translate,
		threads:   uint(cfg.Threads),
	}
	if h.threads == 0 {
		h.threads = uint(runtime.NumCPU())
	}

	if err := models.Ensure(cfg.Path, cfg.DownloadURL); err != nil {
		log.Error().Err(err).Msg("model weights unavailable")
		metrics.ModelLoaded.Set(0)
		return h
	}

	log.Info().Str("path", cfg.Path).Str("device", h.device).Msg("loading whisper model")
	m, err := whisper.New(cfg.Path)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Path).Msg("error loading model")
		metrics.ModelLoaded.Set(0)
		return h
	}

	h.model = m
	h.loaded = true
	metrics.ModelLoaded.Set(1)
	log.Info().Str("device", h.device).Msg("whisper model loaded successfully")
	return h
}

// Ready reports whether the model loaded successfully.
func (h *Host) Ready() bool { return h.loaded }

// Device returns the active compute device.
func (h *Host) Device() string { return h.device }

// Close releases the whisper model resources.
func (h *Host) Close() error {
	if h.model != nil {
		return h.model.Close()
	}
	return nil
}

// NewSession creates a whisper context configured for transcription.
func (h *Host) NewSession() (Session, error) {
	if !h.loaded {
		return nil, fmt.Errorf("model: not loaded")
	}

	ctx, err := h.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("model: create context: %w", err)
	}

	ctx.SetThreads(h.threads)
	ctx.SetTranslate(h.translate)
	if err := ctx.SetLanguage(h.language); err != nil {
		return nil, fmt.Errorf("model: set language %q: %w", h.language, err)
	}

	return &session{ctx: ctx}, nil
}

type session struct {
	ctx whisper.Context
}

func (s *session) Run(samples []float32) error {
	if err := s.ctx.Process(samples, nil, nil, nil); err != nil {
		return fmt.Errorf("model: process: %w", err)
	}
	return nil
}

func (s *session) Text() (string, error) {
	var segments []string
	for {
		seg, err := s.ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("model: next segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}

	return strings.TrimSpace(strings.Join(segments, " ")), nil
}
