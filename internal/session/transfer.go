package session

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

// Progress is a download's running state. Total is -1 when the server did
// not declare a length.
type Progress struct {
	Downloaded int64
	Total      int64
}

// Percent returns Downloaded/Total as a percentage. The second value is
// false when the total is unknown or zero.
func (p Progress) Percent() (float64, bool) {
	if p.Total <= 0 {
		return 0, false
	}

	return float64(p.Downloaded) * 100 / float64(p.Total), true
}

// Upload sends a local file into folderID (the current folder when empty).
// Missing paths and non-regular files are rejected before any network call.
func (s *Session) Upload(ctx context.Context, localPath, folderID string) (*gdrive.Item, error) {
	if localPath == "" {
		return nil, &gdrive.ValidationError{Reason: "local path is empty"}
	}

	info, err := s.fs.Stat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &gdrive.ValidationError{Reason: "file not found: " + localPath}
		}

		return nil, &gdrive.LocalIOError{Op: "stat", Path: localPath, Err: err}
	}

	if !info.Mode().IsRegular() {
		return nil, &gdrive.ValidationError{Reason: "not a regular file: " + localPath}
	}

	if folderID == "" {
		folderID = s.Current().ID
	}

	mimeType := detectMIME(s.fs, localPath, s.logger)

	open := func() (io.ReadCloser, error) {
		return s.fs.Open(localPath)
	}

	item, err := s.remote.Upload(ctx, folderID, filepath.Base(localPath), mimeType, open, info.Size())
	if err != nil {
		return nil, err
	}

	s.invalidate(folderID)

	return item, nil
}

// Download streams a file's content to savePath, reporting progress after
// every chunk. The destination is created only once the server has accepted
// the request. If ctx is canceled mid-stream the partial file is removed.
func (s *Session) Download(
	ctx context.Context, fileID, savePath string, onProgress func(Progress),
) (int64, error) {
	if savePath == "" {
		return 0, &gdrive.ValidationError{Reason: "save path is empty"}
	}

	stream, err := s.remote.OpenDownload(ctx, fileID)
	if err != nil {
		return 0, err
	}
	defer stream.Body.Close()

	f, err := s.fs.OpenFile(savePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, &gdrive.LocalIOError{Op: "creating", Path: savePath, Err: err}
	}

	n, copyErr := gdrive.CopyChunks(ctx, f, stream.Body, stream.Total, func(done, total int64) {
		if onProgress != nil {
			onProgress(Progress{Downloaded: done, Total: total})
		}
	})

	closeErr := f.Close()

	if copyErr != nil {
		if ctx.Err() != nil {
			if rmErr := s.fs.Remove(savePath); rmErr != nil {
				s.logger.Warn("could not remove partial download",
					slog.String("path", savePath),
					slog.String("error", rmErr.Error()),
				)
			}
		}

		return n, copyErr
	}

	if closeErr != nil {
		return n, &gdrive.LocalIOError{Op: "closing", Path: savePath, Err: closeErr}
	}

	s.logger.Info("download complete",
		slog.String("file_id", fileID),
		slog.String("path", savePath),
		slog.Int64("bytes", n),
	)

	return n, nil
}
