package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

// Client talks to a Server over HTTP/2 cleartext with prior knowledge
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for a server at baseURL (e.g. http://127.0.0.1:10001)
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}
}

// Values reads the given variables, or all of them when names is empty
func (c *Client) Values(ctx context.Context, names ...string) (ValuesJSON, error) {
	path := "/v1/values"
	if len(names) > 0 {
		path += "?names=" + url.QueryEscape(strings.Join(names, ","))
	}

	var out ValuesJSON
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Write sets a configuration variable
func (c *Client) Write(ctx context.Context, name string, value any) (ValueJSON, error) {
	body, err := json.Marshal(WriteRequest{Value: value})
	if err != nil {
		return ValueJSON{}, fmt.Errorf("api: encode request: %w", err)
	}

	var out ValueJSON
	err = c.do(ctx, http.MethodPut, "/v1/values/"+url.PathEscape(name), body, &out)
	return out, err
}

// Health fetches the readiness report. An unhealthy service (HTTP 503) is
// reported through the returned status, not as an error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	err := c.do(ctx, http.MethodGet, "/readiness", nil, &out, http.StatusServiceUnavailable)
	return out, err
}

// do sends a request and decodes the JSON response into out. Status codes
// >= 300 are errors unless listed in accept.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any, accept ...int) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s response (HTTP %d): %w", path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 && !slices.Contains(accept, resp.StatusCode) {
		return fmt.Errorf("api: %s %s: HTTP %d", method, path, resp.StatusCode)
	}
	return nil
}
