package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/tracing"
)

func newEngine(mw ...relay.HandlerFunc) *relay.Engine {
	e := relay.New(relay.WithMode(gin.TestMode), relay.WithBanner(false))
	e.Use(mw...)
	e.RouterGroup().GET("/api/rooms", func(c *relay.Context) {
		c.Success(relay.GetContextTraceID(c))
	})
	return e
}

func serve(e *relay.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/rooms", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"http://localhost:3000", "https://*.example.com"}
	cfg.AllowCredentials = true
	e := newEngine(CORS(cfg))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{name: "no origin", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "exact", method: http.MethodGet, origin: "http://localhost:3000", wantStatus: http.StatusOK, wantAllow: "http://localhost:3000"},
		{name: "wildcard", method: http.MethodGet, origin: "https://chat.example.com", wantStatus: http.StatusOK, wantAllow: "https://chat.example.com"},
		{name: "empty wildcard part", method: http.MethodGet, origin: "https://.example.com", wantStatus: http.StatusOK},
		{name: "not allowed", method: http.MethodGet, origin: "https://evil.com", wantStatus: http.StatusOK},
		{name: "preflight", method: http.MethodOptions, origin: "http://localhost:3000", wantStatus: http.StatusNoContent, wantAllow: "http://localhost:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.method, tt.origin)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantAllow != "" {
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestCORSCredentialsWithAnyOriginPanics(t *testing.T) {
	assert.Panics(t, func() {
		CORS(&CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true})
	})
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := newEngine(RateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             2,
		now:               func() time.Time { return now },
	}))

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "").Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(e, http.MethodGet, "").Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "").Code)
}

func TestLimiterEvictsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := &limiter{rate: 1, burst: 1, expiry: time.Minute, buckets: make(map[string]*tokenBucket), lastCleanup: now}

	assert.True(t, l.allow("a", now))
	assert.False(t, l.allow("a", now))
	assert.True(t, l.allow("b", now.Add(2*time.Minute)))
	assert.Len(t, l.buckets, 1)
}

func TestTracing(t *testing.T) {
	cfg := tracing.DefaultConfig()
	cfg.Enabled = true
	cfg.ExporterType = tracing.ExporterStdout
	cfg.SamplingType = "always"
	p, err := tracing.New(context.Background(), cfg, tracing.WithWriter(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	e := newEngine(Tracing())
	rec := serve(e, http.MethodGet, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp relay.Response
	require.NoError(t, jsonDecode(rec, &resp))
	traceID, _ := resp.Data.(string)
	assert.Len(t, traceID, 32)
	assert.Equal(t, traceID, resp.TraceID)
	assert.Contains(t, rec.Header().Get("traceparent"), traceID)
}

func jsonDecode(rec *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}
