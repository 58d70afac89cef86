// Command whisperd serves speech-to-text transcription over HTTP using a
// whisper.cpp model loaded once at startup.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pmeising/whisperd/internal/config"
	"github.com/pmeising/whisperd/internal/model"
	"github.com/pmeising/whisperd/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: built-in defaults)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	zerolog.SetGlobalLevel(config.ParseLogLevel(cfg.LogLevel))

	// The model loads exactly once. A failed load leaves the service
	// running but unhealthy; restart the process to retry.
	host := model.Load(cfg.Model)
	defer host.Close()
	if !host.Ready() {
		log.Warn().Msg("model not loaded; /transcribe/ will report errors until restart")
	}

	srv := server.New(host, cfg.Server)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
