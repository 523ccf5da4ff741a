package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func tracedRouter(t *testing.T) (*chi.Mux, *sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	obs := NewObservability(ObservabilityConfig{Enabled: true, MetricsPrefix: "trace_test"}, quietLogger())
	obs.tracer = tp.Tracer("test")
	router := chi.NewRouter()
	router.Use(obs.Middleware)
	router.Get("/blocks/{position}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return router, tp, spans
}

func TestObservabilityStartsSpanWhenUnwrapped(t *testing.T) {
	router, _, spans := tracedRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/blocks/3", nil))

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	if ended[0].Name() != "GET /blocks/{position}" {
		t.Fatalf("unexpected span name %q", ended[0].Name())
	}
}

func TestObservabilityReusesOuterServerSpan(t *testing.T) {
	router, tp, spans := tracedRouter(t)
	handler := otelhttp.NewHandler(router, "votechaind", otelhttp.WithTracerProvider(tp))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/blocks/3", nil))

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected a single server span, got %d", len(ended))
	}
	if ended[0].Name() != "GET /blocks/{position}" {
		t.Fatalf("outer span was not annotated with the route: %q", ended[0].Name())
	}
}
