// Package server exposes the transcription service over HTTP: the
// transcribe endpoint, health endpoints, and Prometheus metrics.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pmeising/whisperd/internal/audio"
	"github.com/pmeising/whisperd/internal/config"
	"github.com/pmeising/whisperd/internal/metrics"
	"github.com/pmeising/whisperd/internal/model"
)

// Server holds the routed gin engine and the shared model handle.
type Server struct {
	engine         *gin.Engine
	model          model.Engine
	load           func(path string) ([]float32, error)
	maxUploadBytes int64
}

// New builds a Server around the given model handle.
func New(m model.Engine, cfg config.ServerConfig) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:         gin.New(),
		model:          m,
		load:           audio.Load,
		maxUploadBytes: cfg.MaxUploadMB * 1024 * 1024,
	}

	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.POST("/transcribe/", s.handleTranscribe)
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Handler returns the http.Handler to serve.
func (s *Server) Handler() http.Handler {
	return s.engine
}
