//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Client wraps an HTTP client with the defaults used for release downloads.
type Client struct {
	// http is the underlying transport.
	http *http.Client
	// userAgent is sent with every request.
	userAgent string

	// callTimeout is the default timeout for individual requests.
	callTimeout time.Duration
}

// responseBody cancels the call context once the body is closed.
type responseBody struct {
	io.ReadCloser

	cancel context.CancelFunc
}

// Close closes the body and releases the call context.
func (b *responseBody) Close() error {
	defer b.cancel()

	return b.ReadCloser.Close()
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for each request.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

const (
	// defaultCallTimeout bounds a request when no timeout is configured.
	defaultCallTimeout = 5 * time.Minute

	// defaultUserAgent is sent when no user agent is configured.
	defaultUserAgent = "ij-latest"

	// downloadFileMode is the permission of downloaded files.
	downloadFileMode os.FileMode = 0o644
)

var (
	// ErrBadHTTPStatus is returned for any response other than 200 OK.
	ErrBadHTTPStatus = errors.New("unexpected http status")
	// errURLRequired is returned when a request URL is missing.
	errURLRequired = errors.New("url must be provided")
)

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		http:        new(http.Client),
		userAgent:   defaultUserAgent,
		callTimeout: defaultCallTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Open fetches url and returns its body.
// Closing the body releases the request and its call timeout.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	callCtx, cancel := c.callContext(ctx)

	response, err := c.get(callCtx, url)
	if err != nil {
		cancel()

		return nil, err
	}

	return &responseBody{ReadCloser: response.Body, cancel: cancel}, nil
}

// Download streams url into the file at dest, replacing it, and returns the number of bytes written.
func (c *Client) Download(ctx context.Context, url, dest string) (int64, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.get(callCtx, url)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	outputFile, err := os.OpenFile(filepath.Clean(dest), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, downloadFileMode)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	written, err := io.Copy(outputFile, response.Body)
	if err != nil {
		_ = outputFile.Close()

		return written, fmt.Errorf("download %s: %w", url, err)
	}

	if err = outputFile.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", dest, err)
	}

	return written, nil
}

// get issues a GET request and checks the response status.
// On success the caller owns the response body.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	if url == "" {
		return nil, errURLRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	response, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", url, response.Status, ErrBadHTTPStatus)
	}

	return response, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
