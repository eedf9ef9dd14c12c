package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// DownloadChunkSize is the fixed read size for streamed downloads.
const DownloadChunkSize = 8 * 1024

// ProgressFunc is called after every chunk with the running byte count and
// the declared total (-1 when the server did not send a Content-Length).
type ProgressFunc func(downloaded, total int64)

// DownloadStream is an open download. The caller must close Body.
type DownloadStream struct {
	Body  io.ReadCloser
	Total int64 // -1 when unknown
}

// OpenDownload requests the content of a file. Status handling, including
// the retry-with-refresh protocol, completes before it returns, so a
// non-success status never yields a stream.
func (c *Client) OpenDownload(ctx context.Context, fileID string) (*DownloadStream, error) {
	c.logger.Info("downloading file", slog.String("file_id", fileID))

	dlURL := c.endpoints.APIBase + "/files/" + url.PathEscape(fileID) + "?alt=media"

	resp, err := c.do(ctx, c.transferHTTP, "download", func(ctx context.Context) (*http.Request, error) {
		return newRequest(ctx, http.MethodGet, dlURL, nil, "")
	})
	if err != nil {
		return nil, err
	}

	total := resp.ContentLength
	if total < 0 {
		total = -1
	}

	return &DownloadStream{Body: resp.Body, Total: total}, nil
}

// CopyChunks streams src to dst in DownloadChunkSize chunks, calling progress
// after each chunk. ctx is checked once per chunk; on cancellation nothing
// further is written and the returned error wraps ctx.Err(). Only a clean
// EOF ends the copy successfully, and when total is known the byte count
// must match it.
func CopyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, DownloadChunkSize)

	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("gdrive: download canceled: %w", err)
		}

		n, readErr := readChunk(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, &LocalIOError{Op: "writing download", Err: err}
			}

			written += int64(n)

			if progress != nil {
				progress(written, total)
			}
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			if total >= 0 && written != total {
				return written, &NetworkError{
					Op:  "download",
					Err: fmt.Errorf("short body: got %d of %d bytes: %w", written, total, io.ErrUnexpectedEOF),
				}
			}

			return written, nil
		case ctx.Err() != nil:
			return written, fmt.Errorf("gdrive: download canceled: %w", ctx.Err())
		default:
			return written, &NetworkError{Op: "download", Err: readErr}
		}
	}
}

// readChunk fills buf from src. Unlike io.ReadFull it returns the reader's
// own error, so a clean EOF after a short final chunk stays distinguishable
// from a body cut off before its Content-Length.
func readChunk(src io.Reader, buf []byte) (int, error) {
	n := 0

	for n < len(buf) {
		m, err := src.Read(buf[n:])
		n += m

		if err != nil {
			return n, err
		}
	}

	return n, nil
}
