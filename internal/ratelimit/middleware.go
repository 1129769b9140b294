package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/common"
)

// Allower decides whether one more event for key fits in the window.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces one limit (login attempts, upload batches) in front of a route.
type Handler struct {
	Limiter Allower
	Config  Config
	// OnError observes limiter failures. The request proceeds regardless.
	OnError func(error)
}

// Middleware rejects requests over the limit with 429 RATE_LIMITED and a
// Retry-After header; the X-RateLimit-* headers are set on every response.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Config.Key == nil || h.Config.Max <= 0 {
		return next
	}
	limit := strconv.Itoa(h.Config.Max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.Config.Key(r)
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", limit)
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(time.Until(resetAt).Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		headers.Set("Retry-After", strconv.Itoa(retryAfter))
		zerolog.Ctx(r.Context()).Warn().Str("key", key).Int("retry_after_s", retryAfter).Msg("rate_limited")

		appErr := common.NewAppError(common.CodeRateLimited, "too many requests, try again shortly", http.StatusTooManyRequests, nil)
		appErr.Details = map[string]any{"retryAfterSeconds": retryAfter}
		common.WriteError(w, appErr)
	})
}
