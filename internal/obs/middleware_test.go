package obs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/noah-isme/printdesk/internal/obs"
)

func TestInstrumentLabelsByRouteAndStatusClass(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("printdesk", []float64{1, 10}, registry)
	r := chi.NewRouter()
	r.Use(obs.Instrument{Metrics: metrics}.Middleware)
	r.Get("/api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/api/v1/orders/PD-1", "/api/v1/orders/PD-2", "/nowhere"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rr.Code)
	}

	require.Equal(t, float64(2), testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/orders/{id}", "4xx")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "4xx")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("printdesk", nil, registry)
	second := obs.NewHTTPMetrics("printdesk", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 50, 500}, obs.ParseBucketsCSV(" 500,5,x,-1,50,5 "))
	require.Nil(t, obs.ParseBucketsCSV(""))
	require.Nil(t, obs.ParseBucketsCSV("0,nope"))
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", obs.StatusClass(http.StatusNoContent))
	require.Equal(t, "5xx", obs.StatusClass(http.StatusBadGateway))
	require.Equal(t, "other", obs.StatusClass(0))
}

func TestRequestLoggerCarriesSessionID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := obs.RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		obs.AnnotateSession(r.Context(), "sess-1")
		zerolog.Ctx(r.Context()).Debug().Msg("inside")
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/price", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/session/price"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	last := map[string]any{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &last))
	require.Equal(t, "http_request", last["message"])
	require.Equal(t, "info", last["level"])
	require.Equal(t, "sess-1", last["session_id"])
	require.Equal(t, float64(http.StatusAccepted), last["status"])
	require.Equal(t, "/api/v1/session/price", last["route"])
}

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("printdesk", registry)
	obs.MustRegisterDomainMetrics("printdesk", registry)

	obs.CountVec(obs.CheckoutTransitionTotal, "draft", "order_created")
	require.Equal(t, float64(1), testutil.ToFloat64(obs.CheckoutTransitionTotal.WithLabelValues("draft", "order_created")))
	obs.CountVec(nil, "ignored")
}

func TestRequestLoggerWarnsOnClientErrors(t *testing.T) {
	var buf bytes.Buffer
	handler := obs.RequestLogger{Logger: zerolog.New(&buf)}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil))

	entry := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "unmatched", entry["route"])
}

func TestInstrumentRecordsServerSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := chi.NewRouter()
	r.Use(obs.Instrument{Tracing: true}.Middleware)
	r.Get("/api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		obs.AnnotateSession(r.Context(), "sess-9")
		w.WriteHeader(http.StatusBadGateway)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/PD-7", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "GET /api/v1/orders/{id}", span.Name)
	require.Equal(t, codes.Error, span.Status.Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes {
		attrs[kv.Key] = kv.Value
	}
	require.Equal(t, int64(http.StatusBadGateway), attrs["http.response.status_code"].AsInt64())
	require.Equal(t, "/api/v1/orders/{id}", attrs["http.route"].AsString())
	require.Equal(t, "sess-9", attrs["printdesk.session_id"].AsString())
}

func TestInitTracerWithoutExporter(t *testing.T) {
	shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{ServiceName: "printdesk-test", Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = obs.InitTracer(context.Background(), obs.TracingConfig{Exporter: "zipkin"})
	require.Error(t, err)
}
