// Package transport issues the HTTP half of AppRTC signaling. It is a
// thin helper: no retries, no response interpretation beyond reading the
// body. Retry policy and envelope parsing belong to the caller.
package transport

import (
	"context"
	"io"
	"net/http"

	"apprtc/native/internal/domain"
)

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client wraps an http.Client. The zero value is not usable; call New.
type Client struct {
	http *http.Client
}

// New creates a transport client backed by the given http.Client, or
// http.DefaultClient when nil.
func New(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc}
}

// Do performs the request and reads the full body. Network failures are
// reported as *domain.TransportError; any HTTP status is returned as-is
// for the caller to judge.
func (c *Client) Do(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Description: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Description: err.Error()}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Get is a convenience wrapper around Do for header-carrying GETs.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.TransportError{Description: err.Error()}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(req)
}
