// Package transport is the SDK's HTTP layer.
//
// It wraps resty with the retry transport from retryablehttp, a shared
// rate limiter, bearer authentication, and transparent gzip of large
// request bodies. Callers above it deal in paths and byte payloads;
// everything connection-shaped stays here.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// gzipMin is the smallest body worth compressing. Batched span records
// clear it easily; login and register payloads do not.
const gzipMin = 1024

// Config carries the connection settings for one API client.
type Config struct {
	// BaseURL is the API root, such as https://api.weftline.dev.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// UserAgent identifies the SDK build.
	UserAgent string

	// Timeout bounds each attempt. Defaults to 30s.
	Timeout time.Duration

	// Retries is the per-request retry count for transient transport
	// failures. Defaults to 4.
	Retries int

	// RetryWaitMin and RetryWaitMax bound the retry backoff.
	// Default to 500ms and 10s.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RPS rate-limits outgoing requests. Zero or below means unlimited.
	RPS float64

	// Logger receives diagnostics. Nil discards them.
	Logger *zap.Logger
}

// Client is a connection to the API. Safe for concurrent use.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// New builds a client from cfg, filling in defaults for unset fields.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 4
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "weftline-go"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWaitMin).
		SetRetryMaxWaitTime(cfg.RetryWaitMax).
		SetHeader("User-Agent", cfg.UserAgent)
	if cfg.APIKey != "" {
		restyClient.SetAuthToken(cfg.APIKey)
	}
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		log:     cfg.Logger,
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api %s: status %d", e.Path, e.Status)
	}
	return fmt.Sprintf("api %s: status %d: %s", e.Path, e.Status, e.Body)
}

// Post sends raw JSON bytes to path and returns the response body.
// Bodies past the compression threshold are gzipped.
func (c *Client) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req := c.resty.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")

	payload := body
	if len(body) >= gzipMin {
		if packed, ok := gzipBody(body); ok {
			payload = packed
			req.SetHeader("Content-Encoding", "gzip")
		}
	}
	req.SetBody(payload)

	resp, err := req.Post(path)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Path: path, Body: excerpt(resp.Body())}
	}
	return resp.Body(), nil
}

// PostJSON marshals in, posts it to path, and decodes the response into
// out. A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := sonic.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	raw, err := c.Post(ctx, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Get issues a GET with query parameters and returns the response body.
func (c *Client) Get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Path: path, Body: excerpt(resp.Body())}
	}
	return resp.Body(), nil
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query map[string]string, out any) error {
	raw, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func gzipBody(body []byte) ([]byte, bool) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, werr := zw.Write(body)
	cerr := zw.Close()
	if werr != nil || cerr != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// excerpt trims a response body down to something loggable.
func excerpt(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
