package obs

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests that never matched a route, so stray paths
// do not create new metric series.
const unmatchedRoute = "unmatched"

type routeKey struct{}

// WithRoutePattern pins the route label for a request. It takes precedence over
// the pattern chi resolves while routing.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routeKey{}, pattern)
}

// RouteLabel resolves the label used for a request in metrics, spans and access
// logs. It must be called after the router has served the request.
func RouteLabel(r *http.Request) string {
	ctx := r.Context()
	if pinned, ok := ctx.Value(routeKey{}).(string); ok && pinned != "" {
		return pinned
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return unmatchedRoute
}
