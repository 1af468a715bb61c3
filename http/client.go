// Package http provides the HTTP client used for YouTube resumable upload
// traffic, with retry, per-endpoint rate limiting and circuit breaking.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ytupload/internal/retry"
)

// Client wraps an HTTP client with retry logic and rate limit handling.
type Client struct {
	base           *http.Client
	config         *Config
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
}

// Config holds HTTP client configuration.
type Config struct {
	// Timeout for individual HTTP requests. A chunk upload must finish
	// within this window.
	Timeout time.Duration

	// Retry configuration used by Do
	Retry retry.Config

	// User agent for HTTP requests
	UserAgent string

	// Rate limiter configuration
	RateLimiter RateLimiterConfig

	// Circuit breaker configuration
	CircuitBreaker CircuitBreakerConfig
}

// DefaultConfig returns defaults for upload traffic.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        2 * time.Minute,
		Retry:          retry.DefaultConfig(),
		UserAgent:      "ytupload/1.0",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sends requests through base, typically an OAuth2
// authenticated client. The config timeout applies when base has none.
func WithHTTPClient(base *http.Client) Option {
	return func(c *Client) {
		if base == nil {
			return
		}
		cp := *base
		if cp.Timeout == 0 {
			cp.Timeout = c.config.Timeout
		}
		c.base = &cp
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Client{
		base: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		config:         cfg,
		rateLimiter:    NewRateLimiter(cfg.RateLimiter),
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request describes one HTTP exchange. Body is held in memory so that
// retries can resend it.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
	// Accept lists non-2xx statuses that are returned as a Response rather
	// than an error, such as 308 from a resumable upload session.
	Accept []int
}

// Response represents an HTTP response with status code and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs a GET request with retry logic.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: url})
}

// Do performs req, retrying transient failures with exponential backoff.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	err := retry.Do(ctx, c.config.Retry, c.isRetryableHTTPError, func(ctx context.Context) error {
		var err error
		resp, err = c.DoOnce(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoOnce performs a single attempt of req through the rate limiter and
// circuit breaker. Callers that need custom recovery between attempts,
// such as re-syncing an upload offset, wrap it in their own retry loop.
func (c *Client) DoOnce(ctx context.Context, req *Request) (*Response, error) {
	endpoint := EndpointKey(req.URL)

	if err := c.circuitBreaker.Allow(endpoint); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.WaitForBackoff(ctx, req.URL); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, req.URL); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		c.circuitBreaker.RecordFailure(endpoint, err)
		return nil, err
	}

	c.rateLimiter.RecordSuccess(req.URL)
	c.circuitBreaker.RecordSuccess(endpoint)
	return resp, nil
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Body != nil {
		httpReq.ContentLength = int64(len(req.Body))
	}

	httpResp, err := c.base.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests ||
		httpResp.StatusCode == http.StatusServiceUnavailable {
		retryAfter := parseRetryAfter(httpResp.Header)
		if recommended := c.rateLimiter.RecordRateLimitError(req.URL, retryAfter); recommended > retryAfter {
			retryAfter = recommended
		}
		return nil, &RateLimitError{StatusCode: httpResp.StatusCode, RetryAfter: retryAfter}
	}

	accepted := httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
	for _, code := range req.Accept {
		if httpResp.StatusCode == code {
			accepted = true
		}
	}
	if !accepted {
		return nil, &HTTPError{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// isRetryableHTTPError determines if an HTTP error is retryable.
func (c *Client) isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return IsTransientHTTPError(err)
}

// parseRetryAfter extracts the Retry-After header value, or 0.
func parseRetryAfter(header http.Header) time.Duration {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}
	return 0
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}
