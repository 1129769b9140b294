package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/resilience"
)

const userAgent = "printdesk-webhooks/1.0"

// ErrReplaySuppressed is returned when the event was already delivered.
var ErrReplaySuppressed = errors.New("notify: delivery already sent")

// Sender posts signed event payloads to a single webhook endpoint.
type Sender struct {
	URL    string
	Secret string
	HTTP   resilience.HTTPClient
	Replay ReplayProtector
	// ReplayTTL bounds how long a delivered event is remembered.
	ReplayTTL time.Duration
	Now       func() time.Time
}

type deliveryPayload struct {
	EventID     string          `json:"eventId"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Data        json.RawMessage `json:"data"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Deliver posts ev to the endpoint and returns the response status. Responses
// outside 2xx are returned as *resilience.StatusError.
func (s *Sender) Deliver(ctx context.Context, ev events.Event) (int, error) {
	ctx, span := otel.Tracer("notify.Sender").Start(ctx, "Sender.Deliver")
	defer span.End()
	eventID := ev.ID.String()
	span.SetAttributes(
		attribute.String("webhook.event_id", eventID),
		attribute.String("webhook.topic", ev.Topic),
	)
	if err := validateURL(s.URL); err != nil {
		span.RecordError(err)
		return 0, err
	}
	data := ev.Payload
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	body, err := json.Marshal(deliveryPayload{
		EventID:     eventID,
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Data:        data,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return 0, fmt.Errorf("notify: encode payload: %w", err)
	}

	key := replayKey(eventID)
	if s.Replay != nil && s.ReplayTTL > 0 {
		ok, err := s.Replay.Acquire(ctx, key, s.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, ErrReplaySuppressed
		}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		s.release(ctx, key)
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", eventID)
	req.Header.Set("X-Signature", ComputeSignature(s.Secret, ts, eventID, body))

	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		s.release(ctx, key)
		span.RecordError(err)
		var statusErr *resilience.StatusError
		if errors.As(err, &statusErr) {
			return statusErr.StatusCode, err
		}
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.release(ctx, key)
		return resp.StatusCode, &resilience.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: respBody}
	}
	return resp.StatusCode, nil
}

func (s *Sender) release(ctx context.Context, key string) {
	if s.Replay != nil && s.ReplayTTL > 0 {
		_ = s.Replay.Release(context.WithoutCancel(ctx), key)
	}
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload. The
// format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns an HTTP client configured for webhook delivery.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

func replayKey(eventID string) string {
	return "wh:" + eventID
}
