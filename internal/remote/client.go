// Package remote talks to the print-shop API that owns users, merchants,
// orders and payment verification.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/obs"
	"github.com/noah-isme/printdesk/internal/resilience"
)

const serviceName = "print-api"

// Config configures the upstream client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Breaker     *resilience.Breaker
	Transport   http.RoundTripper
}

// Client is a JSON client for the upstream print-shop API. Every call carries
// the caller's bearer token; the client itself is stateless.
type Client struct {
	baseURL string
	http    resilience.HTTPClient
}

// New constructs a Client.
func New(cfg Config) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker:     cfg.Breaker,
			BaseBackoff: cfg.Backoff,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.Timeout,
			Observe: func(result string, elapsed time.Duration) {
				if obs.UpstreamCallLatency != nil {
					obs.UpstreamCallLatency.WithLabelValues(serviceName, result).Observe(obs.DurationMillis(elapsed))
				}
			},
		},
	}
}

// errorBody matches the upstream error shapes: {"message": ...} or {"error": ...}.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return mapTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return mapStatus(resp.StatusCode, data)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.ExternalServiceError(serviceName, fmt.Errorf("read %s %s: %w", method, path, err))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return common.ExternalServiceError(serviceName, fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		return mapStatus(statusErr.StatusCode, statusErr.Body)
	}
	return common.ExternalServiceError(serviceName, err)
}

// mapStatus turns an upstream failure status into the error taxonomy.
func mapStatus(status int, body []byte) error {
	msg := upstreamMessage(body)
	switch {
	case status == http.StatusUnauthorized:
		if msg == "" {
			msg = "session expired"
		}
		return common.UnauthorizedError(msg, fmt.Errorf("upstream status %d", status))
	case status == http.StatusNotFound:
		if msg == "" {
			msg = "not found"
		}
		return common.NotFoundError(msg)
	case status >= 500:
		return common.ExternalServiceError(serviceName, fmt.Errorf("upstream status %d: %s", status, msg))
	default:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return common.ValidationError(msg, map[string]any{"upstreamStatus": status})
	}
}

func upstreamMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if m := strings.TrimSpace(eb.Message); m != "" {
			return m
		}
		if m := strings.TrimSpace(eb.Error); m != "" {
			return m
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}
