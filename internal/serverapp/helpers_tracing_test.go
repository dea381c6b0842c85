package serverapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"crudsql/internal/config"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installSpanRecorder swaps in a recording tracer provider for the duration
// of the test and returns the recorder.
func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return recorder
}

func TestWrapHTTPHandler_RootSpanNamedAfterRoute(t *testing.T) {
	recorder := installSpanRecorder(t)

	cfg := &config.Config{
		Observability: config.ObservabilityConfig{TracingEnabled: true},
	}
	handler := wrapHTTPHandler(cfg, testLogger(), nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}

	for _, span := range recorder.Ended() {
		if span.Name() == "GET /health" {
			return
		}
	}
	t.Fatalf("no span named %q among %d ended spans", "GET /health", len(recorder.Ended()))
}

func TestNormalizeHTTPSpanRoute(t *testing.T) {
	cases := map[string]string{
		"/graphql":          "/graphql",
		"/health":           "/health",
		"/metrics":          "/metrics",
		"/admin/stats":      "/admin/stats",
		"/":                 "/",
		"/users":            "/users",
		"/users/123":        "/users/*",
		"/users/123/extras": "/users/*",
		"/users/":           "/users",
		"":                  "/*",
	}

	for input, want := range cases {
		if got := normalizeHTTPSpanRoute(input); got != want {
			t.Errorf("normalizeHTTPSpanRoute(%q) = %q, want %q", input, got, want)
		}
	}
}
