// Package httpclient is the small JSON-over-HTTP GET client shared by the
// price source and the bitcoin explorers.
package httpclient

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	apperrors "github.com/portfolio-aggregator/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client issues GET requests and decodes JSON bodies
type Client struct {
	client    *fasthttp.Client
	timeout   time.Duration
	userAgent string
}

// New creates a client whose requests are bounded by timeout unless the
// context carries an earlier deadline.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 90 * time.Second,
		},
		timeout:   timeout,
		userAgent: "portfolio-aggregator/1.0",
	}
}

// GetJSON fetches url and decodes the body into out. Transport failures and
// non-200 replies are connectivity errors; undecodable bodies are data errors.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	req.Header.SetUserAgent(c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return apperrors.NewConnectivityError(url, err)
	}

	status := resp.StatusCode()
	if status == fasthttp.StatusTooManyRequests {
		return apperrors.NewRateLimitError(1)
	}
	if status != fasthttp.StatusOK {
		return apperrors.NewUpstreamStatusError(url, status)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperrors.NewDataError(url, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
