// Package models fetches whisper ggml model weights at startup.
package models

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Ensure makes sure a model file exists at path, downloading it from url
// when missing. An already-present non-empty file is left untouched.
func Ensure(path, url string) error {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		log.Debug().Str("path", path).Int64("bytes", info.Size()).Msg("model file already present")
		return nil
	}

	if url == "" {
		return fmt.Errorf("models: %s missing and no download URL configured", path)
	}

	return download(path, url)
}

// download fetches url into path. The file is written to a temp path in
// the same directory first and renamed into place so a partial download
// never looks like a valid model.
func download(path, url string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("models: creating models dir: %w", err)
	}

	log.Info().Str("url", url).Str("dest", path).Msg("downloading model weights")

	resp, err := http.Get(url) //nolint:gosec // URL comes from config, not request input
	if err != nil {
		return fmt.Errorf("models: downloading model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: download failed: HTTP %d", resp.StatusCode)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("models: creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer: f,
		total:  resp.ContentLength,
		label:  filepath.Base(path),
	}

	written, err := io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: writing model file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: moving model file: %w", err)
	}

	log.Info().Str("dest", path).Int64("bytes", written).Msg("model download complete")
	return nil
}

// progressWriter wraps an io.Writer and logs download progress every 10%.
type progressWriter struct {
	writer   io.Writer
	total    int64
	written  int64
	label    string
	lastMark int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		mark := pw.written * 10 / pw.total
		if mark > pw.lastMark {
			pw.lastMark = mark
			log.Info().
				Str("model", pw.label).
				Int64("pct", mark*10).
				Int64("mb", pw.written/(1024*1024)).
				Msg("download progress")
		}
	}
	return n, err
}
