// Package remote talks to the upstream automation platform that hosts the
// live workflow definitions.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowvault/flowvault/internal/platform/config"
	"github.com/flowvault/flowvault/internal/platform/metrics"
)

// Definition is the full remote representation of a workflow plus the little
// metadata the platform exposes. The payload is opaque to this service.
type Definition struct {
	RemoteID  string          `json:"id"`
	Name      string          `json:"name"`
	Active    bool            `json:"active"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
	Payload   json.RawMessage `json:"-"`
}

// Client is the automation platform API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMetrics enables remote call metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new automation platform client
func NewClient(cfg config.RemoteConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch retrieves the current definition of a remote workflow. No side effects.
func (c *Client) Fetch(ctx context.Context, apiKey, remoteID string) (*Definition, error) {
	return c.do(ctx, "fetch", http.MethodGet, "/api/v1/workflows/"+url.PathEscape(remoteID), apiKey, nil)
}

// Update replaces the live definition in place (rollback overwrite mode).
// The returned definition is what the platform stored, which is authoritative.
func (c *Client) Update(ctx context.Context, apiKey, remoteID string, payload json.RawMessage) (*Definition, error) {
	return c.do(ctx, "update", http.MethodPut, "/api/v1/workflows/"+url.PathEscape(remoteID), apiKey, payload)
}

// CreateInactive creates a new remote workflow seeded from payload, left
// disabled (rollback create-new-inactive mode).
func (c *Client) CreateInactive(ctx context.Context, apiKey, name string, payload json.RawMessage) (*Definition, error) {
	body, err := seedInactive(name, payload)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "create", Err: err}
	}
	return c.do(ctx, "create", http.MethodPost, "/api/v1/workflows", apiKey, body)
}

func (c *Client) do(ctx context.Context, op, method, path, apiKey string, body json.RawMessage) (*Definition, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: err}
	}
	req.Header.Set("X-API-KEY", apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts are treated the same as any transient failure
		c.observe(op, "error", start)
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.observe(op, strconv.Itoa(resp.StatusCode), start)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuthExpired, Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data))}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data))}
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	def.Payload = json.RawMessage(data)

	return &def, nil
}

// seedInactive rewrites a stored payload so the platform creates it as a new
// disabled workflow rather than colliding with the live one.
func seedInactive(name string, payload json.RawMessage) (json.RawMessage, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	delete(body, "id")
	body["name"] = name
	body["active"] = false

	return json.Marshal(body)
}

func (c *Client) observe(op, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RemoteCallsTotal.WithLabelValues(op, status).Inc()
	c.metrics.RemoteCallLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func truncate(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
