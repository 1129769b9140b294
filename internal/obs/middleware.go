package obs

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "printdesk/http"

// responseRecorder captures the status and size of a response. Outer middleware
// reuses the recorder installed by inner middleware instead of wrapping twice.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func recordResponse(w http.ResponseWriter) *responseRecorder {
	if rec, ok := w.(*responseRecorder); ok {
		return rec
	}
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *responseRecorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.status = code
	rec.wroteHeader = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *responseRecorder) Write(p []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	n, err := rec.ResponseWriter.Write(p)
	rec.written += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rec *responseRecorder) Unwrap() http.ResponseWriter { return rec.ResponseWriter }

// Instrument records request metrics and, when Tracing is set, one server span
// per request continuing any propagated trace.
type Instrument struct {
	Metrics    *HTTPMetrics
	Tracing    bool
	TracerName string
}

// Middleware wraps next with the configured instrumentation.
func (in Instrument) Middleware(next http.Handler) http.Handler {
	if in.Metrics == nil && !in.Tracing {
		return next
	}
	name := in.TracerName
	if name == "" {
		name = defaultTracerName
	}
	tracer := otel.Tracer(name)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordResponse(w)
		ctx := r.Context()
		var span trace.Span
		if in.Tracing {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
			ctx, span = tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
			r = r.WithContext(ctx)
		}
		if in.Metrics != nil {
			in.Metrics.InFlight.Inc()
		}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := RouteLabel(r)
		if in.Metrics != nil {
			in.Metrics.InFlight.Dec()
			in.Metrics.ReqTotal.WithLabelValues(r.Method, route, StatusClass(rec.status)).Inc()
			in.Metrics.ReqDur.WithLabelValues(r.Method, route).Observe(DurationMillis(time.Since(start)))
		}
		if span != nil {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(route),
				semconv.URLPath(r.URL.Path),
				semconv.HTTPResponseStatusCode(rec.status),
			)
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			span.End()
		}
	})
}

// StatusClass folds a status code into its class label ("2xx", "4xx", ...).
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
