package auth

import (
	"net/http"
	"strings"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/obs"
)

// Middleware resolves the session token on incoming requests.
type Middleware struct {
	Service *Service
	Cookie  string
}

// RequireSession rejects requests without a valid session token and puts the
// session id on the request context and logger.
func (m Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Service == nil {
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "auth service not configured", nil)
			return
		}
		sessionID, err := m.Service.Parse(m.extractToken(r))
		if err != nil {
			common.WriteError(w, err)
			return
		}
		ctx := common.WithSessionID(r.Context(), sessionID)
		obs.AnnotateSession(ctx, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if m.Cookie != "" {
		if cookie, err := r.Cookie(m.Cookie); err == nil {
			if value := strings.TrimSpace(cookie.Value); value != "" {
				return value
			}
		}
	}
	return ""
}
