package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/noah-isme/printdesk/internal/common"
)

// ClientIP attempts to determine the real client IP address from the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); ip != "" {
		if first := strings.TrimSpace(strings.Split(ip, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// ByIP keys requests by client address under scope.
func ByIP(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		return scope + ":ip:" + ClientIP(r)
	}
}

// BySession keys requests by session id, falling back to the client address for
// requests that have not been authenticated yet.
func BySession(scope string) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := common.SessionID(r.Context()); ok {
			return scope + ":session:" + id
		}
		return scope + ":ip:" + ClientIP(r)
	}
}
