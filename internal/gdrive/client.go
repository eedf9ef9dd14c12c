package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const userAgent = "gdrive-go/0.1"

// Default Drive endpoints.
const (
	DefaultAPIBaseURL    = "https://www.googleapis.com/drive/v3"
	DefaultUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"
	DefaultUserInfoURL   = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// DefaultPageSize is the listing page size used when none is configured.
const DefaultPageSize = 100

// Credentials provides bearer tokens. Defined at the consumer per the
// "accept interfaces" convention; *Authenticator is the real implementation.
type Credentials interface {
	// AccessToken returns a usable token or ErrNotAuthenticated.
	AccessToken(ctx context.Context) (string, error)
	// Refresh renews the access token once. ErrNoRefreshToken means
	// renewal is impossible.
	Refresh(ctx context.Context) error
}

// Endpoints are the base URLs the client talks to.
type Endpoints struct {
	APIBase    string
	UploadBase string
	UserInfo   string
}

// DefaultEndpoints returns the production Google endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		APIBase:    DefaultAPIBaseURL,
		UploadBase: DefaultUploadBaseURL,
		UserInfo:   DefaultUserInfoURL,
	}
}

// Client is an HTTP client for the Drive v3 REST API. Metadata calls use
// metaHTTP (bounded timeout); uploads and downloads use transferHTTP, whose
// lifetime is governed by the caller's context alone.
type Client struct {
	endpoints    Endpoints
	metaHTTP     *http.Client
	transferHTTP *http.Client
	creds        Credentials
	pageSize     int
	logger       *slog.Logger
}

// NewClient creates a Drive API client. Nil HTTP clients fall back to
// http.DefaultClient.
func NewClient(
	endpoints Endpoints, metaHTTP, transferHTTP *http.Client,
	creds Credentials, logger *slog.Logger,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if metaHTTP == nil {
		metaHTTP = http.DefaultClient
	}

	if transferHTTP == nil {
		transferHTTP = http.DefaultClient
	}

	return &Client{
		endpoints:    endpoints,
		metaHTTP:     metaHTTP,
		transferHTTP: transferHTTP,
		creds:        creds,
		pageSize:     DefaultPageSize,
		logger:       logger,
	}
}

// SetPageSize overrides the listing page size. Values below 1 are ignored.
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// requestFunc builds a fresh request. It is called once per attempt so the
// body can be re-read after a refresh.
type requestFunc func(ctx context.Context) (*http.Request, error)

// do sends an authenticated request and implements the retry-with-refresh
// protocol: a 401 triggers exactly one refresh and exactly one re-send.
// Anything else non-2xx is terminal. Transport failures are not retried.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, hc *http.Client, op string, build requestFunc) (*http.Response, error) {
	refreshed := false

	for {
		tok, err := c.creds.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("User-Agent", userAgent)

		resp, err := hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("gdrive: %s canceled: %w", op, ctx.Err())
			}

			c.logger.Warn("request failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)

			return nil, &NetworkError{Op: op, Err: err}
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		apiErr := newAPIError(resp.StatusCode, errBody)

		if resp.StatusCode != http.StatusUnauthorized || refreshed {
			c.logger.Debug("request failed",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Bool("refreshed", refreshed),
			)

			return nil, apiErr
		}

		refreshed = true

		c.logger.Info("access token rejected, refreshing", slog.String("op", op))

		if refreshErr := c.creds.Refresh(ctx); refreshErr != nil {
			if errors.Is(refreshErr, ErrNoRefreshToken) {
				return nil, apiErr
			}

			return nil, refreshErr
		}
	}
}

// getJSON sends a metadata GET and decodes the response into v.
func (c *Client) getJSON(ctx context.Context, op, url string, v any) error {
	resp, err := c.do(ctx, c.metaHTTP, op, func(ctx context.Context) (*http.Request, error) {
		return newRequest(ctx, http.MethodGet, url, nil, "")
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeJSON(resp.Body, op, v)
}

// sendJSON sends a metadata request with a JSON body. When v is nil the
// response body is drained and discarded.
func (c *Client) sendJSON(ctx context.Context, op, method, url string, body []byte, v any) error {
	resp, err := c.do(ctx, c.metaHTTP, op, func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}

		return newRequest(ctx, method, url, r, "application/json")
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v == nil {
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return fmt.Errorf("gdrive: draining %s response body: %w", op, drainErr)
		}

		return nil
	}

	return decodeJSON(resp.Body, op, v)
}

func newRequest(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating request: %w", err)
	}

	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	req.Header.Set("Accept", "application/json")

	return req, nil
}
