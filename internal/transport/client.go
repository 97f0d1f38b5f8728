package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 4 << 20

// Doer is the subset of *http.Client used by Client; it is easy to fake in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues requests against one backend base URL. Every call is bounded
// by the context it receives; cancelling the context aborts the request and
// releases its connection.
type Client struct {
	baseURL string
	http    Doer
}

// NewClient creates a Client rooted at baseURL. A nil doer uses a fresh
// *http.Client without its own timeout so callers' deadlines govern.
func NewClient(baseURL string, doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
	}
}

// BaseURL returns the root every path is resolved against.
func (c *Client) BaseURL() string { return c.baseURL }

// Get performs a GET request for path.
func (c *Client) Get(ctx context.Context, path string) Outcome {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

// Post performs a POST request for path with the given content type and body.
func (c *Client) Post(ctx context.Context, path, contentType string, body []byte) Outcome {
	return c.do(ctx, http.MethodPost, path, contentType, body)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) Outcome {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return NetworkError(fmt.Errorf("build request: %w", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Classify(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return HTTPError(resp.StatusCode, data, nil)
	}
	return Success(resp.StatusCode, data)
}
