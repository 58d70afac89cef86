package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// tempFile is a request-scoped copy of the upload on disk. Each request
// gets a uniquely named file, so concurrent requests never touch each
// other's uploads.
type tempFile struct {
	path string
}

// saveUpload writes the upload to a unique temp file. The extension is
// taken from the client filename so decoders can dispatch on it; ".wav"
// is assumed when the client gave none.
func saveUpload(fh *multipart.FileHeader) (*tempFile, error) {
	ext := filepath.Ext(fh.Filename)
	if ext == "" {
		ext = ".wav"
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	f, err := os.CreateTemp("", "whisperd-upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	return &tempFile{path: f.Name()}, nil
}

// Path returns the on-disk location of the upload.
func (t *tempFile) Path() string { return t.path }

// Remove deletes the file. Failures are logged and otherwise swallowed
// so cleanup can never mask the error that ended the request.
func (t *tempFile) Remove() {
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", t.path).Msg("temp file cleanup failed")
	}
}
