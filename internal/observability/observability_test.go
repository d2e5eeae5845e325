package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledTracerIsUsable(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	ctx, span := StartSpan(context.Background(), "resolve", AttrFunction.String("mathx.plus"))
	SetSpanError(span, errors.New("boom"))
	span.End()

	traceID, spanID := IDs(ctx)
	if traceID != "" || spanID != "" {
		t.Fatalf("noop span should carry no ids, got %q/%q", traceID, spanID)
	}
	if tc := ExtractTraceContext(ctx); tc.TraceParent != "" {
		t.Fatalf("disabled tracing should not propagate, got %+v", tc)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: true, Exporter: "none", SampleRate: 1}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		Shutdown(context.Background())
		Init(context.Background(), Config{})
	})

	ctx, span := StartSpan(context.Background(), "eval")
	defer span.End()
	tc := ExtractTraceContext(ctx)
	if tc.TraceParent == "" {
		t.Fatal("expected traceparent")
	}

	remote := ContextWithTrace(context.Background(), tc)
	_, child := StartServerSpan(remote, "agent.eval")
	defer child.End()

	wantTrace, _ := IDs(ctx)
	if got := child.SpanContext().TraceID().String(); got != wantTrace {
		t.Fatalf("child trace = %s, want %s", got, wantTrace)
	}
}

func TestUnknownExporter(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error")
	}
	Init(context.Background(), Config{})
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHTTPMiddlewareTracesRoutes(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: true, Exporter: "none", SampleRate: 1}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		Shutdown(context.Background())
		Init(context.Background(), Config{})
	})

	var traced, scraped string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /handles", func(w http.ResponseWriter, r *http.Request) {
		traced, _ = IDs(r.Context())
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		scraped, _ = IDs(r.Context())
	})
	h := HTTPMiddleware(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/handles", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if traced == "" {
		t.Fatal("expected /handles to run inside a span")
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))
	if scraped != "" {
		t.Fatalf("/metrics should not be traced, got trace %s", scraped)
	}
}
