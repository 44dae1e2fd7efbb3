// Package tms is the HTTP transport to a transaction monitoring service's
// evaluation and confirmation endpoints.
package tms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/metrics"
)

// EvaluatePath is the route prefix of the evaluation endpoint.
const EvaluatePath = "/v1/evaluate/iso20022/"

// Response is what the engine answered.
type Response struct {
	StatusCode int
	Latency    time.Duration
	Body       map[string]any
}

// OK reports an HTTP 200 answer.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// LatencyMs returns the latency in whole milliseconds.
func (r Response) LatencyMs() int64 {
	return r.Latency.Milliseconds()
}

// Client sends ISO 20022 messages to the engine.
type Client struct {
	baseURL  string
	tenantID string
	currency string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client. Every request is bounded by cfg.RequestTimeout.
func NewClient(cfg domain.TMSConfig, opts ...Option) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tenantID: cfg.TenantID,
		currency: cfg.Currency,
		http:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TenantID returns the tenant stamped on outgoing envelopes.
func (c *Client) TenantID() string { return c.tenantID }

// Currency returns the settlement currency.
func (c *Client) Currency() string { return c.currency }

// BaseURL returns the engine's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Send posts payload to the evaluation endpoint for messageType.
// A timeout or connection failure returns an error wrapping
// domain.ErrTransport; any HTTP answer, including non-200, returns nil error.
func (c *Client) Send(ctx context.Context, messageType string, payload any) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode %s: %w", messageType, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EvaluatePath+messageType, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.RecordTransport(messageType, 0, latency)
		slog.Warn("tms request failed", "message_type", messageType, "error", err, "duration_ms", latency.Milliseconds())
		return Response{Latency: latency}, fmt.Errorf("%w: %s: %v", domain.ErrTransport, messageType, err)
	}
	defer resp.Body.Close()

	out := Response{StatusCode: resp.StatusCode, Latency: latency, Body: decodeBody(resp.Body)}
	metrics.RecordTransport(messageType, resp.StatusCode, latency)
	slog.Debug("tms request completed",
		"message_type", messageType,
		"status", resp.StatusCode,
		"duration_ms", latency.Milliseconds(),
	)
	return out, nil
}

// Health checks the engine's root endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", domain.ErrTransport, resp.StatusCode)
	}
	return nil
}

// decodeBody reads a JSON object, keeping non-JSON bodies under "raw".
func decodeBody(r io.Reader) map[string]any {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"raw": string(data)}
	}
	return m
}
