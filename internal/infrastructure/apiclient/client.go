package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultCooldown   = time.Second
	defaultMaxRetries = 3
	maxBodyBytes      = 8 << 20
	errorSnippetBytes = 512
)

// Config controls retry behaviour shared by every external call.
type Config struct {
	MaxRetries int
	Cooldown   time.Duration
	Timeout    time.Duration
}

// Request describes one logical external call.
type Request struct {
	// Name labels the call in logs and errors (e.g. "ocr.recognize").
	Name    string
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
	// Check inspects a 2xx response; a non-nil error marks the attempt as
	// an upstream failure and it is retried like any other.
	Check func(Response) error
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client wraps an http.Client with timeout, bounded retry and a fixed
// cooldown between attempts.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the transport client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger attaches a logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleeper overrides how cooldowns are waited out (useful for tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New builds a client; zero config values fall back to defaults.
func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = defaultCooldown
	}
	c := &Client{
		http:  &http.Client{},
		cfg:   cfg,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs req up to MaxRetries times. It returns the first successful
// response or a *CallError wrapping the last failure.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	attempts := c.cfg.MaxRetries
	var lastErr error
	made := 0

	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		c.debug("external call failed", "call", req.Name, "attempt", attempt, "of", attempts, "error", err)
		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, c.cfg.Cooldown); err != nil {
			break
		}
	}

	return Response{}, &CallError{Name: req.Name, Attempts: made, LastCause: lastErr}
}

func (c *Client) attempt(ctx context.Context, req Request) (Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return Response{}, &TransportError{Err: fmt.Errorf("new request: %w", err)}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}

	resp := Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: payload}
	if httpResp.StatusCode >= http.StatusMultipleChoices {
		return Response{}, &UpstreamError{StatusCode: httpResp.StatusCode, Body: snippet(payload)}
	}
	if req.Check != nil {
		if err := req.Check(resp); err != nil {
			return Response{}, &UpstreamError{StatusCode: httpResp.StatusCode, Body: snippet(payload), Err: err}
		}
	}
	return resp, nil
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func snippet(body []byte) string {
	if len(body) > errorSnippetBytes {
		body = body[:errorSnippetBytes]
	}
	return string(bytes.TrimSpace(body))
}
