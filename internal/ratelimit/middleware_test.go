package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubAllower struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubAllower) Allow(_ context.Context, key string, _ time.Duration, max int) (bool, int, time.Time, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return false, 0, time.Time{}, s.err
	}
	remaining := max - len(s.keys)
	if remaining < 0 {
		remaining = 0
	}
	return s.allowed, remaining, time.Now().Add(30 * time.Second), nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	sw, _ := newSlidingWindow(t)
	handler := Handler{
		Limiter: sw,
		Config:  Config{Key: func(*http.Request) string { return "upload:session:s1" }, Window: time.Minute, Max: 1},
	}.Middleware(okHandler())

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, httptest.NewRequest(http.MethodPost, "/api/v1/session/documents", nil))
	require.Equal(t, http.StatusCreated, rr1.Code)
	require.Equal(t, "1", rr1.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr1.Header().Get("X-RateLimit-Remaining"))

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, httptest.NewRequest(http.MethodPost, "/api/v1/session/documents", nil))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &body))
	require.Equal(t, "RATE_LIMITED", body.Error.Code)
	require.Contains(t, body.Error.Details, "retryAfterSeconds")
}

func TestHandlerMiddlewareFailsOpen(t *testing.T) {
	stub := &stubAllower{err: errors.New("redis down")}
	var observed error
	handler := Handler{
		Limiter: stub,
		Config:  Config{Key: ByIP("login"), Window: time.Second, Max: 1},
		OnError: func(err error) { observed = err },
	}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.EqualError(t, observed, "redis down")
	require.Equal(t, []string{"login:ip:10.0.0.7"}, stub.keys)
	require.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestHandlerMiddlewareDisabledWithoutMax(t *testing.T) {
	stub := &stubAllower{}
	handler := Handler{Limiter: stub, Config: Config{Key: ByIP("login")}}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Empty(t, stub.keys)
}
