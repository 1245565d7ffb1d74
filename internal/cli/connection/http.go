package connection

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient talks to one beacond node's open-API gateway.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting server (host:port, with or
// without a scheme — http:// is assumed).
func NewHTTPClient(server string) *HTTPClient {
	baseURL := server
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Get issues a GET request with query parameters and returns the raw
// response body.
func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

// PostForm issues a POST request with a form-encoded body, the
// encoding the open-API gateway expects for mutating calls.
func (c *HTTPClient) PostForm(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	return c.sendForm(ctx, http.MethodPost, path, form)
}

// DeleteForm issues a DELETE request with a form-encoded body.
func (c *HTTPClient) DeleteForm(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	return c.sendForm(ctx, http.MethodDelete, path, form)
}

func (c *HTTPClient) sendForm(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}
