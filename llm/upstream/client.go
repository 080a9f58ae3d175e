// =============================================================================
// Upstream chat completions client
// =============================================================================
// OpenAI-compatible HTTP client used by the gateway for the primary stream,
// the one-shot summary calls and the upstream health probe.
// =============================================================================

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/internal/tlsutil"
	"github.com/syranol/inference-gateway/llm/retry"
	"github.com/syranol/inference-gateway/types"
)

// ProviderName tags errors and spans produced by this client.
const ProviderName = "upstream"

// Call kinds reported to Config.OnCall.
const (
	CallComplete = "complete"
	CallStream   = "stream"
	CallPing     = "ping"
)

// Config holds the upstream connection settings.
type Config struct {
	// BaseURL is the upstream root, e.g. "http://localhost:8001".
	BaseURL string

	// Path is the chat completions path. Defaults to "/chat/completions".
	Path string

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string

	// RequestTimeout bounds one non-streaming call and the wait for stream
	// response headers. Defaults to 60s.
	RequestTimeout time.Duration

	// PingTimeout bounds the health probe. Defaults to 10s.
	PingTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles each time.
	RetryBackoff time.Duration

	// OnCall, when set, is invoked once per HTTP attempt.
	OnCall func(kind string, statusCode int, latency time.Duration)
}

// Client talks to an OpenAI-compatible chat completions endpoint. It is safe
// for concurrent use; the underlying transport is pooled.
type Client struct {
	cfg     Config
	http    *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// New creates a client. The transport is instrumented with otelhttp so every
// upstream attempt becomes a client span.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = "/chat/completions"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	logger = logger.With(zap.String("component", "upstream_client"))

	transport := otelhttp.NewTransport(tlsutil.StreamingTransport(cfg.RequestTimeout),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "upstream " + r.Method + " " + r.URL.Path
		}),
	)

	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport},
		retryer: retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.RetryBackoff,
			MaxDelay:     cfg.RetryBackoff << 6,
			Multiplier:   2.0,
			ShouldRetry:  types.IsRetryable,
		}, logger),
		logger: logger,
	}
}

// endpoint builds the full chat completions URL.
func (c *Client) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.Path
}

func (c *Client) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func (c *Client) observe(kind string, status int, start time.Time) {
	if c.cfg.OnCall != nil {
		c.cfg.OnCall(kind, status, time.Since(start))
	}
}

// Complete sends a non-streaming request and returns choices[0].message.content.
// Transient failures are retried with exponential backoff.
func (c *Client) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := retry.DoWithResultTyped[*completionResponse](c.retryer, ctx, func() (*completionResponse, error) {
		return c.completeOnce(ctx, body)
	})
	if err != nil {
		return "", types.WrapContextError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return "", types.NewMalformedResponseError(ProviderName, errors.New("missing choices[0].message.content"))
	}
	return *resp.Choices[0].Message.Content, nil
}

func (c *Client) completeOnce(ctx context.Context, body []byte) (*completionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(CallComplete, 0, start)
		return nil, types.NewTransportError(ProviderName, err)
	}
	defer resp.Body.Close()
	c.observe(CallComplete, resp.StatusCode, start)

	if resp.StatusCode >= 400 {
		return nil, MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), ProviderName)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewMalformedResponseError(ProviderName, err)
	}
	return &out, nil
}

// StreamDeltas opens a streaming request and returns its deltas. Opening the
// stream is retried like Complete; once the body is being read nothing is
// retried. The channel is closed after the [DONE] sentinel, at end of body,
// after an item carrying Err, or when ctx is cancelled.
func (c *Client) StreamDeltas(ctx context.Context, req *ChatRequest) (<-chan Delta, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := retry.DoWithResultTyped[*http.Response](c.retryer, ctx, func() (*http.Response, error) {
		return c.openStream(ctx, body)
	})
	if err != nil {
		return nil, types.WrapContextError(err)
	}

	return readDeltas(ctx, resp.Body, c.logger), nil
}

func (c *Client) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(CallStream, 0, start)
		return nil, types.NewTransportError(ProviderName, err)
	}
	c.observe(CallStream, resp.StatusCode, start)

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), ProviderName)
	}
	return resp, nil
}

// Ping reports whether the upstream root answers with a status below 500.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+"/", nil)
	if err != nil {
		return false
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(CallPing, 0, start)
		c.logger.Debug("upstream ping failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	c.observe(CallPing, resp.StatusCode, start)

	return resp.StatusCode < http.StatusInternalServerError
}

// Name returns the provider name used in errors.
func (c *Client) Name() string { return ProviderName }
