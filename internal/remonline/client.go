package remonline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"repairsync/internal/metrics"
)

// Client talks to the RemOnline REST API. Every call passes through the
// rate limiter, the circuit breaker and the retry policy.
type Client struct {
	cfg     Config
	http    *http.Client
	retry   RetryPolicy
	limiter *RateLimiter
	breaker CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	token cachedToken
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		retry: RetryPolicy{
			MaxRetries: cfg.RetryCount,
			BaseDelay:  cfg.RetryDelay,
		},
		limiter: NewRateLimiter(cfg.RateLimitRPM, cfg.RateBurst),
		breaker: NewCircuitBreaker(cfg),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Enabled() bool { return c.cfg.Enabled() }

// call runs one logical request with limiter, breaker and retries and
// records the outcome under endpoint.
func (c *Client) call(ctx context.Context, endpoint string, safe bool, fn func() error) error {
	err := c.retry.Do(ctx, safe, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(fn)
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.logger.Warn("remonline_request_failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
	c.metrics.RemOnline(endpoint, outcome)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, form url.Values, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// authorized runs fn with a valid token. A 401/403 drops the cached
// token and retries once with a fresh one.
func (c *Client) authorized(ctx context.Context, fn func(token string) error) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	err = fn(token)
	if !isAuthError(err) {
		return err
	}
	c.invalidateToken()
	if token, err = c.Token(ctx); err != nil {
		return err
	}
	return fn(token)
}
