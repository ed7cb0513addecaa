// Package httpclient is the real net/http-backed implementation of the
// engine's outbound HTTPClient contract, grounded in the teacher's
// internal/ap/client.go transport (a shared *http.Client with a fixed
// timeout and User-Agent). The engine package never imports this package
// directly — only cmd's bootstrap wires it in.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klppl/fedblog/internal/engine"
)

// Client adapts *http.Client to engine.HTTPClient, capping every response
// body read at engine.BodyLimit (spec.md §5/§9's 64 KiB resource bound).
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// New builds a Client with the given per-request timeout.
func New(timeout time.Duration, userAgent string) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// Do implements engine.HTTPClient.
func (c *Client) Do(ctx context.Context, req *engine.OutboundRequest) (*engine.HTTPResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	if c.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, engine.BodyLimit+1))
	if err != nil {
		return nil, fmt.Errorf("httpclient: read response body: %w", err)
	}
	if len(data) > engine.BodyLimit {
		return nil, fmt.Errorf("httpclient: response body exceeds %d byte limit", engine.BodyLimit)
	}

	return &engine.HTTPResponse{
		StatusCode: resp.StatusCode,
		Header:     map[string][]string(resp.Header),
		Body:       data,
	}, nil
}
