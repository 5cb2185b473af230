package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// fakeTelemetry counts recorder calls without an exporter behind them.
type fakeTelemetry struct {
	spans     []string
	requests  int
	errors    int
	durations int
	imports   []string
	finished  []error
}

func (f *fakeTelemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	f.spans = append(f.spans, name)
	return ctx, trace.SpanFromContext(ctx)
}

func (f *fakeTelemetry) RecordRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	f.requests++
}

func (f *fakeTelemetry) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	f.errors++
}

func (f *fakeTelemetry) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	f.durations++
}

func (f *fakeTelemetry) TrackImport(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	f.imports = append(f.imports, name)
	return ctx, func(err error) { f.finished = append(f.finished, err) }
}

func TestTelemetryMiddleware(t *testing.T) {
	tel := &fakeTelemetry{}
	handler := TelemetryMiddleware(tel)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/findings", nil))

	assert.Equal(t, []string{"GET /api/findings"}, tel.spans)
	assert.Equal(t, 1, tel.requests)
	assert.Equal(t, 1, tel.durations)
	assert.Equal(t, 0, tel.errors, "a 200 is not an error sample")

	failing := TelemetryMiddleware(tel)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	failing.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/findings/1", nil))
	assert.Equal(t, 1, tel.errors)
	assert.Equal(t, 2, tel.requests)
}

func TestTelemetryMiddlewareNilProvider(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	TelemetryMiddleware(nil)(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	// 1 req/sec, burst 2, all from the same client IP.
	limiter := NewRateLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() int {
		req := httptest.NewRequest("GET", "/api/findings", nil)
		req.RemoteAddr = "192.0.2.1:54321"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	// Burst of 2 allowed immediately.
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusOK, do())

	// Third request exceeds the burst before any token refills.
	assert.Equal(t, http.StatusTooManyRequests, do())

	// Wait for a token refill.
	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, http.StatusOK, do())
}

func TestRateLimitIsPerClient(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest("GET", "/api/findings", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("192.0.2.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, do("192.0.2.1:2000"), "same IP, different port shares a bucket")
	assert.Equal(t, http.StatusOK, do("192.0.2.2:1000"), "different IP gets its own bucket")
}

func TestRateLimiterStop(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	limiter.Stop()
	limiter.Stop()

	// Stopping the sweeper does not stop the limiter itself.
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/api/findings", nil)
	req.RemoteAddr = "192.0.2.9:1000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}
