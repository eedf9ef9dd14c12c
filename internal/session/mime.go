package session

import (
	"log/slog"
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

const defaultMIMEType = "application/octet-stream"

// detectMIME resolves an upload's content type: by extension first, then by
// sniffing the first bytes, then the octet-stream default.
func detectMIME(fs afero.Fs, path string, logger *slog.Logger) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return mediaType(t)
	}

	f, err := fs.Open(path)
	if err != nil {
		return defaultMIMEType
	}
	defer f.Close()

	m, err := mimetype.DetectReader(f)
	if err != nil {
		logger.Debug("content sniffing failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return defaultMIMEType
	}

	return mediaType(m.String())
}

// mediaType strips parameters such as charset.
func mediaType(t string) string {
	mt, _, err := mime.ParseMediaType(t)
	if err != nil || mt == "" {
		return defaultMIMEType
	}

	return mt
}
