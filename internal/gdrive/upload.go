package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
)

// OpenFunc opens the upload source. It is called once per attempt so a
// retried request streams the content from the beginning.
type OpenFunc func() (io.ReadCloser, error)

// Upload creates a file under parentID in a single multipart/related
// request: a JSON metadata part followed by the raw content. There is no
// chunking and no resume; a failure mid-transfer is terminal.
func (c *Client) Upload(
	ctx context.Context, parentID, name, mimeType string, open OpenFunc, size int64,
) (*Item, error) {
	c.logger.Info("uploading file",
		slog.String("parent_id", parentID),
		slog.String("name", name),
		slog.String("mime_type", mimeType),
		slog.Int64("size", size),
	)

	meta, err := json.Marshal(createFileRequest{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentID},
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: marshaling upload metadata: %w", err)
	}

	q := url.Values{}
	q.Set("uploadType", "multipart")
	q.Set("fields", itemFields)
	uploadURL := c.endpoints.UploadBase + "/files?" + q.Encode()

	resp, err := c.do(ctx, c.transferHTTP, "upload", func(ctx context.Context) (*http.Request, error) {
		body, contentType, length, buildErr := multipartBody(meta, mimeType, open, size)
		if buildErr != nil {
			return nil, buildErr
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
		if reqErr != nil {
			body.Close()
			return nil, fmt.Errorf("gdrive: creating upload request: %w", reqErr)
		}

		req.Header.Set("Content-Type", contentType)
		req.ContentLength = length

		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if err := decodeJSON(resp.Body, "upload", &fr); err != nil {
		return nil, err
	}

	item := fr.toItem(c.logger)

	c.logger.Info("upload complete",
		slog.String("item_id", item.ID),
		slog.String("name", item.Name),
	)

	return &item, nil
}

// multipartBody lays out a multipart/related body around the content stream
// without buffering the content: preamble, content, closing boundary.
func multipartBody(
	meta []byte, mimeType string, open OpenFunc, size int64,
) (io.ReadCloser, string, int64, error) {
	var pre bytes.Buffer

	mw := multipart.NewWriter(&pre)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")

	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, "", 0, fmt.Errorf("gdrive: writing metadata part: %w", err)
	}

	if _, err := part.Write(meta); err != nil {
		return nil, "", 0, fmt.Errorf("gdrive: writing metadata part: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", mimeType)

	if _, err := mw.CreatePart(mediaHeader); err != nil {
		return nil, "", 0, fmt.Errorf("gdrive: writing media part: %w", err)
	}

	// Same bytes multipart.Writer.Close would emit.
	post := []byte("\r\n--" + mw.Boundary() + "--\r\n")

	content, err := open()
	if err != nil {
		return nil, "", 0, &LocalIOError{Op: "opening upload source", Err: err}
	}

	body := &multipartReader{
		Reader:  io.MultiReader(bytes.NewReader(pre.Bytes()), content, bytes.NewReader(post)),
		content: content,
	}

	length := int64(pre.Len()) + size + int64(len(post))

	return body, "multipart/related; boundary=" + mw.Boundary(), length, nil
}

// multipartReader closes the content stream when the transport is done.
type multipartReader struct {
	io.Reader
	content io.Closer
}

func (m *multipartReader) Close() error {
	return m.content.Close()
}
